package agentloop

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/governed-swarm/swarmrt/pkg/activation"
	"github.com/governed-swarm/swarmrt/pkg/authz"
	"github.com/governed-swarm/swarmrt/pkg/config"
	"github.com/governed-swarm/swarmrt/pkg/events"
	"github.com/governed-swarm/swarmrt/pkg/roles"
	"github.com/governed-swarm/swarmrt/pkg/stategraph"
)

type fakeStateReader struct{ state *stategraph.State }

func (f *fakeStateReader) LoadState(context.Context, string) (*stategraph.State, error) {
	return f.state, nil
}

type fakeActivationStore struct {
	cfg     *activation.FilterConfig
	mem     *activation.Memory
	updated []activation.MemoryUpdate
}

func (f *fakeActivationStore) LoadFilterConfig(context.Context, string) (*activation.FilterConfig, error) {
	return f.cfg, nil
}
func (f *fakeActivationStore) LoadMemory(context.Context, string, string) (*activation.Memory, error) {
	return f.mem, nil
}
func (f *fakeActivationStore) UpdateMemory(_ context.Context, _, _ string, upd activation.MemoryUpdate) error {
	f.updated = append(f.updated, upd)
	return nil
}

type fakeProcessedStore struct {
	seen   map[string]bool
	marked []string
}

func (f *fakeProcessedStore) AlreadyProcessed(_ context.Context, _, msgID string) (bool, error) {
	return f.seen[msgID], nil
}
func (f *fakeProcessedStore) MarkProcessed(_ context.Context, _, msgID string) error {
	f.marked = append(f.marked, msgID)
	return nil
}

type fakeWALReader struct{ tail []events.Envelope }

func (f *fakeWALReader) TailEvents(context.Context, string, int) ([]events.Envelope, error) {
	return f.tail, nil
}

type fakeResultPublisher struct{ published []events.Envelope }

func (f *fakeResultPublisher) Publish(_ context.Context, env events.Envelope) error {
	f.published = append(f.published, env)
	return nil
}

type fakeBusPublisher struct {
	subjects []string
}

func (f *fakeBusPublisher) Publish(_ context.Context, subject string, _ []byte) (uint64, error) {
	f.subjects = append(f.subjects, subject)
	return 1, nil
}

type fakeRunner struct{ out roles.Output }

func (f *fakeRunner) Run(context.Context, roles.Input) (roles.Output, error) {
	return f.out, nil
}

func envelopeBytes(t *testing.T, seq int64, scopeID string) []byte {
	t.Helper()
	env := events.Envelope{
		Type:    events.TypeFactsExtracted,
		TS:      time.Now().UTC(),
		Source:  "test",
		Payload: map[string]any{"scope_id": scopeID},
		Seq:     seq,
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}

func newTestLoop(activationStore *fakeActivationStore, processed *fakeProcessedStore, publisher *fakeResultPublisher, busPub *fakeBusPublisher, runner *fakeRunner, state *stategraph.State, tail []events.Envelope) *Loop {
	spec := roles.Registry[roles.Facts]
	checker := authz.NewStaticChecker([]authz.Tuple{{Principal: spec.Role, Relation: authz.Writer, Object: "*"}})
	deps := Dependencies{
		BusPublisher: busPub,
		Activation:   activationStore,
		StateGraph:   &fakeStateReader{state: state},
		Authz:        checker,
		Publisher:    publisher,
		WAL:          &fakeWALReader{tail: tail},
		Processed:    processed,
		Runner:       runner,
	}
	return New(spec, deps, *config.DefaultAgentLoopConfig())
}

func TestHandle_HappyPathPublishesAndProposes(t *testing.T) {
	state := &stategraph.State{ScopeID: "s1", RunID: "run1", LastNode: stategraph.NodeContextIngested, Epoch: 3}
	tail := []events.Envelope{{Seq: 10, Payload: map[string]any{"scope_id": "s1"}}}
	activationStore := &fakeActivationStore{cfg: &activation.FilterConfig{Role: roles.Facts}}
	processed := &fakeProcessedStore{seen: map[string]bool{}}
	publisher := &fakeResultPublisher{}
	busPub := &fakeBusPublisher{}
	runner := &fakeRunner{out: roles.Output{Payload: events.FactsExtractedPayload{ScopeID: "s1"}}}

	loop := newTestLoop(activationStore, processed, publisher, busPub, runner, state, tail)

	err := loop.handle(context.Background(), envelopeBytes(t, 10, "s1"))
	require.NoError(t, err)

	assert.Len(t, publisher.published, 1)
	assert.Equal(t, []string{"10"}, processed.marked)
	assert.Equal(t, []string{"swarm.proposals.extract_facts"}, busPub.subjects)
	require.Len(t, activationStore.updated, 1)
	assert.Equal(t, int64(10), activationStore.updated[0].ProcessedSeq)
}

func TestHandle_AlreadyProcessedSkipsWork(t *testing.T) {
	state := &stategraph.State{ScopeID: "s1", LastNode: stategraph.NodeContextIngested, Epoch: 1}
	activationStore := &fakeActivationStore{cfg: &activation.FilterConfig{Role: roles.Facts}}
	processed := &fakeProcessedStore{seen: map[string]bool{"10": true}}
	publisher := &fakeResultPublisher{}
	busPub := &fakeBusPublisher{}
	runner := &fakeRunner{}

	loop := newTestLoop(activationStore, processed, publisher, busPub, runner, state, nil)

	err := loop.handle(context.Background(), envelopeBytes(t, 10, "s1"))
	require.NoError(t, err)
	assert.Empty(t, publisher.published)
}

func TestHandle_CooldownReturnsErrorForNak(t *testing.T) {
	state := &stategraph.State{ScopeID: "s1", LastNode: stategraph.NodeContextIngested, Epoch: 1}
	lastActivated := time.Now().Add(-1 * time.Second)
	activationStore := &fakeActivationStore{
		cfg: &activation.FilterConfig{Role: roles.Facts, CooldownMs: 60_000},
		mem: &activation.Memory{LastActivatedAt: &lastActivated, LastProcessedSeq: 1},
	}
	processed := &fakeProcessedStore{seen: map[string]bool{}}
	publisher := &fakeResultPublisher{}
	busPub := &fakeBusPublisher{}
	runner := &fakeRunner{}

	loop := newTestLoop(activationStore, processed, publisher, busPub, runner, state, nil)

	err := loop.handle(context.Background(), envelopeBytes(t, 10, "s1"))
	assert.Error(t, err)
	assert.Empty(t, publisher.published)
}

func TestHandle_MalformedEnvelopeAcksWithoutError(t *testing.T) {
	loop := newTestLoop(&fakeActivationStore{}, &fakeProcessedStore{seen: map[string]bool{}}, &fakeResultPublisher{}, &fakeBusPublisher{}, &fakeRunner{}, nil, nil)
	err := loop.handle(context.Background(), []byte("not json"))
	assert.NoError(t, err)
}

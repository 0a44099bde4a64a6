package executor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/governed-swarm/swarmrt/pkg/config"
	"github.com/governed-swarm/swarmrt/pkg/events"
	"github.com/governed-swarm/swarmrt/pkg/objectstore"
	"github.com/governed-swarm/swarmrt/pkg/stategraph"
)

type fakeStateAdvancer struct {
	updated *stategraph.State
	err     error

	calledWithGate bool
}

func (f *fakeStateAdvancer) AdvanceState(_ context.Context, _ string, _ int64, gate stategraph.TransitionGate, _ any) (*stategraph.State, error) {
	f.calledWithGate = gate != nil
	return f.updated, f.err
}

type fakeDriftLoader struct {
	payload events.DriftAnalyzedPayload
	found   bool
}

func (f *fakeDriftLoader) GetLatestDrift(_ context.Context, v any) error {
	if !f.found {
		return objectstore.ErrNotFound
	}
	*v.(*events.DriftAnalyzedPayload) = f.payload
	return nil
}

type fakeGate struct{}

func (fakeGate) CanTransition(context.Context, string, stategraph.Node, stategraph.Node, any) (bool, string, error) {
	return true, "", nil
}

type fakeBusPublisher struct {
	subjects []string
	payloads [][]byte
}

func (f *fakeBusPublisher) Publish(_ context.Context, subject string, payload []byte) (uint64, error) {
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, payload)
	return 1, nil
}

type fakeResultPublisher struct{ published []events.Envelope }

func (f *fakeResultPublisher) Publish(_ context.Context, env events.Envelope) error {
	f.published = append(f.published, env)
	return nil
}

type fakeFinalityRecorder struct {
	scopeID string
	option  string
	days    *int
}

func (f *fakeFinalityRecorder) RecordDecision(_ context.Context, scopeID, option string, days *int) error {
	f.scopeID, f.option, f.days = scopeID, option, days
	return nil
}

func actionBytes(t *testing.T, a action) []byte {
	t.Helper()
	raw, err := json.Marshal(a)
	require.NoError(t, err)
	return raw
}

func TestHandleAdvanceState_YOLOPathReloadsDriftAndUsesGate(t *testing.T) {
	advancer := &fakeStateAdvancer{updated: &stategraph.State{
		ScopeID: "s1", RunID: "run1", LastNode: stategraph.NodeFactsExtracted, Epoch: 2,
	}}
	busPub := &fakeBusPublisher{}
	resultPub := &fakeResultPublisher{}

	e := New(Dependencies{
		StateGraph: advancer,
		Drift:      &fakeDriftLoader{},
		Gate:       fakeGate{},
		Publisher:  resultPub,
		BusPublisher: busPub,
	}, *config.DefaultAgentLoopConfig())

	err := e.handle(context.Background(), actionBytes(t, action{
		ActionType: "advance_state", ApprovedBy: "governance",
		ScopeID: "s1", RunID: "run1", ExpectedEpoch: 1,
		From: "ContextIngested", To: "FactsExtracted",
	}))
	require.NoError(t, err)

	assert.True(t, advancer.calledWithGate)
	require.Len(t, busPub.subjects, 1)
	assert.Equal(t, "swarm.jobs.check_drift", busPub.subjects[0])

	require.Len(t, resultPub.published, 1)
	assert.Equal(t, events.TypeStateTransition, resultPub.published[0].Type)
}

func TestHandleAdvanceState_HumanApprovedSkipsGate(t *testing.T) {
	advancer := &fakeStateAdvancer{updated: &stategraph.State{
		ScopeID: "s1", RunID: "run1", LastNode: stategraph.NodeDriftChecked, Epoch: 3,
	}}
	busPub := &fakeBusPublisher{}
	resultPub := &fakeResultPublisher{}

	e := New(Dependencies{
		StateGraph:   advancer,
		Drift:        &fakeDriftLoader{}, // never consulted
		Gate:         fakeGate{},
		Publisher:    resultPub,
		BusPublisher: busPub,
	}, *config.DefaultAgentLoopConfig())

	err := e.handle(context.Background(), actionBytes(t, action{
		ActionType: "advance_state", ApprovedBy: "human",
		ScopeID: "s1", RunID: "run1", ExpectedEpoch: 2,
		From: "FactsExtracted", To: "DriftChecked",
	}))
	require.NoError(t, err)

	assert.False(t, advancer.calledWithGate)
	require.Len(t, busPub.subjects, 1)
	assert.Equal(t, "swarm.jobs.plan_actions", busPub.subjects[0])
}

func TestHandleAdvanceState_StaleEpochSucceedsSilently(t *testing.T) {
	advancer := &fakeStateAdvancer{err: stategraph.ErrStaleEpoch}
	busPub := &fakeBusPublisher{}
	resultPub := &fakeResultPublisher{}

	e := New(Dependencies{
		StateGraph:   advancer,
		Drift:        &fakeDriftLoader{},
		Gate:         fakeGate{},
		Publisher:    resultPub,
		BusPublisher: busPub,
	}, *config.DefaultAgentLoopConfig())

	err := e.handle(context.Background(), actionBytes(t, action{
		ActionType: "advance_state", ApprovedBy: "governance",
		ScopeID: "s1", RunID: "run1", ExpectedEpoch: 1,
	}))
	require.NoError(t, err)
	assert.Empty(t, busPub.subjects)
	assert.Empty(t, resultPub.published)
}

func TestHandleAdvanceState_TransitionDeniedOnRecheckSucceedsSilently(t *testing.T) {
	advancer := &fakeStateAdvancer{err: &stategraph.ErrTransitionDenied{Reason: "drift_too_high"}}
	busPub := &fakeBusPublisher{}
	resultPub := &fakeResultPublisher{}

	e := New(Dependencies{
		StateGraph:   advancer,
		Drift:        &fakeDriftLoader{},
		Gate:         fakeGate{},
		Publisher:    resultPub,
		BusPublisher: busPub,
	}, *config.DefaultAgentLoopConfig())

	err := e.handle(context.Background(), actionBytes(t, action{
		ActionType: "advance_state", ApprovedBy: "governance",
		ScopeID: "s1", RunID: "run1", ExpectedEpoch: 1,
	}))
	require.NoError(t, err)
	assert.Empty(t, busPub.subjects)
	assert.Empty(t, resultPub.published)
}

func TestHandleFinality_RecordsDecision(t *testing.T) {
	finality := &fakeFinalityRecorder{}
	e := New(Dependencies{Finality: finality}, *config.DefaultAgentLoopConfig())

	days := 3
	err := e.handle(context.Background(), actionBytes(t, action{
		ActionType: "finality", ScopeID: "s1", Option: "defer", Days: &days,
	}))
	require.NoError(t, err)

	assert.Equal(t, "s1", finality.scopeID)
	assert.Equal(t, "defer", finality.option)
	require.NotNil(t, finality.days)
	assert.Equal(t, 3, *finality.days)
}

func TestHandle_UnknownActionTypeIsDropped(t *testing.T) {
	busPub := &fakeBusPublisher{}
	e := New(Dependencies{BusPublisher: busPub}, *config.DefaultAgentLoopConfig())

	err := e.handle(context.Background(), actionBytes(t, action{ActionType: "something_else", ScopeID: "s1"}))
	require.NoError(t, err)
	assert.Empty(t, busPub.subjects)
}

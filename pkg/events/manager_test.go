package events

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestScopeChannelRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		want    string
	}{
		{name: "scope channel", channel: ScopeChannel("case-42"), want: "case-42"},
		{name: "global channel has no scope", channel: GlobalChannel, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scopeFromChannel(tt.channel); got != tt.want {
				t.Errorf("scopeFromChannel(%q) = %q, want %q", tt.channel, got, tt.want)
			}
		})
	}
}

type fakeCatchupQuerier struct {
	events []CatchupEvent
}

func (f *fakeCatchupQuerier) GetCatchupEvents(ctx context.Context, channel string, sinceSeq int64, limit int) ([]CatchupEvent, error) {
	var out []CatchupEvent
	for _, e := range f.events {
		if e.Seq > sinceSeq {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func TestConnectionManagerBroadcastDeliversToSubscribers(t *testing.T) {
	m := NewConnectionManager(nil, time.Second)

	rec := httptest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		_ = m.HandleConnection(ctx, rec, ScopeChannel("case-1"), 0)
		close(done)
	}()

	for i := 0; i < 100 && m.subscriberCount(ScopeChannel("case-1")) == 0; i++ {
		time.Sleep(time.Millisecond)
	}
	if m.subscriberCount(ScopeChannel("case-1")) != 1 {
		t.Fatalf("expected 1 subscriber on scope channel, got %d", m.subscriberCount(ScopeChannel("case-1")))
	}

	m.Broadcast(ScopeChannel("case-1"), []byte(`{"type":"drift_analyzed"}`))
	m.Broadcast(GlobalChannel, []byte(`{"type":"bootstrap"}`)) // not subscribed, should be a no-op

	cancel()
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, `"type":"drift_analyzed"`) {
		t.Errorf("expected scope-channel broadcast in body, got %q", body)
	}
	if strings.Contains(body, `"type":"bootstrap"`) {
		t.Errorf("unexpected global-channel event delivered to scope subscriber: %q", body)
	}
}

func TestConnectionManagerCatchupReplaysMissedEvents(t *testing.T) {
	querier := &fakeCatchupQuerier{events: []CatchupEvent{
		{Seq: 1, Envelope: Envelope{Type: TypeContextDoc}},
		{Seq: 2, Envelope: Envelope{Type: TypeFactsExtracted}},
		{Seq: 3, Envelope: Envelope{Type: TypeDriftAnalyzed}},
	}}
	m := NewConnectionManager(querier, time.Second)

	rec := httptest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		_ = m.HandleConnection(ctx, rec, ScopeChannel("case-1"), 1)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if strings.Contains(body, string(TypeContextDoc)) {
		t.Errorf("catchup replayed an event at or before lastSeq: %q", body)
	}
	if !strings.Contains(body, string(TypeFactsExtracted)) || !strings.Contains(body, string(TypeDriftAnalyzed)) {
		t.Errorf("catchup did not replay all events after lastSeq: %q", body)
	}
}

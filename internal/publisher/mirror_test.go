package publisher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sweeney/asterisk-dashboard/internal/correlator"
	"github.com/sweeney/asterisk-dashboard/internal/state"
)

var fixedTime = time.Date(2026, 2, 12, 9, 28, 29, 0, time.UTC)

func newTestMirror(pub Publisher) *Mirror {
	return NewMirror(pub, "asterisk/", WithMirrorClock(func() time.Time { return fixedTime }))
}

func runMirror(t *testing.T, m *Mirror, pub *MockPublisher, want int) []Message {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(pub.Messages()) < want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d messages, got %d", want, len(pub.Messages()))
		}
		time.Sleep(5 * time.Millisecond)
	}
	return pub.Messages()
}

func TestMirrorTopics(t *testing.T) {
	pub := NewMockPublisher()
	m := newTestMirror(pub)

	m.Broadcast(correlator.EventConnectionStatus, state.ConnectionState{Connected: true})
	m.Broadcast(correlator.EventCallDelta, correlator.CallDelta{
		DeltaKind:  correlator.DeltaStart,
		CallRecord: state.CallRecord{ID: "1770888509.40", CallerID: "1986"},
	})
	m.Broadcast(correlator.EventPeerUpdate, state.PeerRecord{ID: "PJSIP/21", StatusLabel: "Reachable"})
	m.Broadcast(correlator.EventDeviceState, correlator.DeviceState{Device: "PJSIP/21", State: "INUSE"})
	m.Broadcast(correlator.EventInitialState, correlator.InitialState{})
	m.Broadcast(correlator.EventDiagnostic, map[string]any{"Event": "Newchannel"})

	msgs := runMirror(t, m, pub, 4)
	time.Sleep(20 * time.Millisecond)

	want := []string{
		"asterisk/status",
		"asterisk/call/1770888509.40/start",
		"asterisk/peer/PJSIP/21",
		"asterisk/device/PJSIP/21",
	}
	got := pub.Topics()
	if len(got) != len(want) {
		t.Fatalf("expected topics %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("topic %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	if !msgs[0].Retain {
		t.Error("status topic should be retained")
	}
	if msgs[1].Retain {
		t.Error("call topic should not be retained")
	}
}

func TestMirrorCallPayload(t *testing.T) {
	pub := NewMockPublisher()
	m := newTestMirror(pub)

	m.Broadcast(correlator.EventCallDelta, correlator.CallDelta{
		DeltaKind:  correlator.DeltaEnd,
		CallRecord: state.CallRecord{ID: "1.1", ChannelName: "PJSIP/21-00000019"},
		Cause:      "Normal Clearing",
	})
	msgs := runMirror(t, m, pub, 1)

	var payload struct {
		Event       string         `json:"event"`
		Description string         `json:"description"`
		Timestamp   string         `json:"timestamp"`
		Data        map[string]any `json:"data"`
	}
	if err := json.Unmarshal(msgs[0].Payload, &payload); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if payload.Event != "end" {
		t.Errorf("expected event=end, got %s", payload.Event)
	}
	if payload.Description != "A call leg has hung up" {
		t.Errorf("unexpected description %q", payload.Description)
	}
	if payload.Timestamp != "2026-02-12T09:28:29Z" {
		t.Errorf("unexpected timestamp %s", payload.Timestamp)
	}
	if payload.Data["cause"] != "Normal Clearing" {
		t.Errorf("expected cause in data, got %v", payload.Data)
	}
	if payload.Data["channelName"] != "PJSIP/21-00000019" {
		t.Errorf("expected channelName in data, got %v", payload.Data)
	}
}

func TestOfflineStatus(t *testing.T) {
	msg := OfflineStatus("pbx/")
	if msg.Topic != "pbx/status" || !msg.Retain {
		t.Fatalf("unexpected will message: %+v", msg)
	}
	var payload struct {
		Event string                `json:"event"`
		Data  state.ConnectionState `json:"data"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if payload.Event != correlator.EventConnectionStatus || payload.Data.Connected {
		t.Errorf("unexpected will payload: %s", msg.Payload)
	}
}

func TestMirrorEscapesWildcards(t *testing.T) {
	if got := topicSegment("weird+id#1"); got != "weird_id_1" {
		t.Errorf("expected wildcards replaced, got %s", got)
	}
}

func TestMirrorDropsWhenQueueFull(t *testing.T) {
	pub := NewMockPublisher()
	m := NewMirror(pub, "asterisk", WithQueueDepth(1))

	m.Broadcast(correlator.EventPeerUpdate, state.PeerRecord{ID: "1"})
	m.Broadcast(correlator.EventPeerUpdate, state.PeerRecord{ID: "2"})

	if len(m.queue) != 1 {
		t.Fatalf("expected 1 queued message, got %d", len(m.queue))
	}
}

// failFirst fails its first publish and records the rest.
type failFirst struct {
	*MockPublisher
	failed bool
}

func (f *failFirst) Publish(ctx context.Context, msg Message) error {
	if !f.failed {
		f.failed = true
		return context.DeadlineExceeded
	}
	return f.MockPublisher.Publish(ctx, msg)
}

func TestMirrorKeepsRunningAfterPublishError(t *testing.T) {
	mock := NewMockPublisher()
	m := newTestMirror(&failFirst{MockPublisher: mock})

	m.Broadcast(correlator.EventPeerUpdate, state.PeerRecord{ID: "1"})
	m.Broadcast(correlator.EventPeerUpdate, state.PeerRecord{ID: "2"})

	runMirror(t, m, mock, 1)

	if got := mock.Topics(); len(got) != 1 || got[0] != "asterisk/peer/2" {
		t.Errorf("expected only the second publish, got %v", got)
	}
}

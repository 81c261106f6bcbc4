package session

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/signalhouse/calltrace/domain/signalling"
	"github.com/signalhouse/calltrace/internal/config"
	"github.com/signalhouse/calltrace/internal/testutil"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestManager(t *testing.T) (*Manager, *tracetest.InMemoryExporter) {
	t.Helper()

	ex := testutil.NewSpanRecorder(t)
	cfg := &config.Config{
		Session: config.SessionConfig{
			ConferenceID: "conf-1",
			UserID:       "@alice:example.org",
			DeviceID:     "ALICEDEV",
			DisplayName:  "Alice",
		},
	}
	return NewManager(cfg, newTestLogger()), ex
}

// spansNamed filters ended spans by span name.
func spansNamed(ex *tracetest.InMemoryExporter, name string) []tracetest.SpanStub {
	var out []tracetest.SpanStub
	for _, s := range ex.GetSpans() {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// eventNames lists the names of a span stub's events.
func eventNames(s tracetest.SpanStub) []string {
	names := make([]string, 0, len(s.Events))
	for _, e := range s.Events {
		names = append(names, e.Name)
	}
	return names
}

func call(id, user, device string) *signalling.Call {
	return &signalling.Call{
		ID:       signalling.CallID(id),
		UserID:   signalling.MemberID(user),
		DeviceID: signalling.DeviceID(device),
	}
}

func callMap(calls ...*signalling.Call) signalling.CallMap {
	m := make(signalling.CallMap)
	for _, c := range calls {
		if m[c.UserID] == nil {
			m[c.UserID] = make(map[signalling.DeviceID]*signalling.Call)
		}
		m[c.UserID][c.DeviceID] = c
	}
	return m
}

func TestJoinLeave_SingleMembershipSpan(t *testing.T) {
	mgr, ex := newTestManager(t)

	mgr.OnJoin()
	assert.Empty(t, ex.GetSpans(), "membership span must stay open until leave")
	assert.True(t, mgr.Snapshot().Joined)

	mgr.OnLeave()

	spans := spansNamed(ex, SpanMembership)
	require.Len(t, spans, 1)
	assert.Equal(t, []string{EventJoined, EventLeft}, eventNames(spans[0]))

	attrs := spans[0].Attributes
	found := false
	for _, a := range attrs {
		if string(a.Key) == AttrConfID {
			found = true
			assert.Equal(t, "conf-1", a.Value.AsString())
		}
	}
	assert.True(t, found, "membership span must carry the conference identifier")

	// A second leave must not end anything twice.
	mgr.OnLeave()
	assert.Len(t, ex.GetSpans(), 1)
	assert.False(t, mgr.Snapshot().Joined)
}

func TestLeaveWithoutJoin_NoSpanOperations(t *testing.T) {
	mgr, ex := newTestManager(t)

	mgr.OnLeave()

	assert.Empty(t, ex.GetSpans())
	assert.False(t, mgr.Snapshot().Joined)
}

func TestJoinWhileJoined_ReplacesMembershipSpan(t *testing.T) {
	mgr, ex := newTestManager(t)

	mgr.OnJoin()
	mgr.OnJoin()

	// The stale membership interval was closed by the second join.
	require.Len(t, spansNamed(ex, SpanMembership), 1)
	assert.True(t, mgr.Snapshot().Joined)

	mgr.OnLeave()
	assert.Len(t, spansNamed(ex, SpanMembership), 2)
}

func TestLeave_ForceClosesAllChildSpans(t *testing.T) {
	mgr, ex := newTestManager(t)

	mgr.OnJoin()
	mgr.OnCallsChanged(callMap(call("call-x", "@bob:example.org", "BOBDEV")))
	mgr.OnSpeakingChanged("@bob:example.org", "BOBDEV", true)
	mgr.OnReport(signalling.ReportConnection, map[string]any{"rtt_ms": 20})

	assert.Empty(t, ex.GetSpans(), "all spans still open before leave")

	mgr.OnLeave()

	assert.Len(t, spansNamed(ex, SpanCall), 1)
	assert.Len(t, spansNamed(ex, SpanSpeaking), 1)
	assert.Len(t, spansNamed(ex, SpanStats), 1)
	assert.Len(t, spansNamed(ex, SpanMembership), 1)

	snap := mgr.Snapshot()
	assert.Empty(t, snap.TrackedCalls)
	assert.Empty(t, snap.Speaking)
	assert.False(t, snap.StatsBatchOpen)
}

func TestGroupCallError_RecordedOnMembership(t *testing.T) {
	mgr, ex := newTestManager(t)

	mgr.OnJoin()
	mgr.OnGroupCallError("ice gathering failed")
	mgr.OnLeave()

	spans := spansNamed(ex, SpanMembership)
	require.Len(t, spans, 1)
	assert.Contains(t, eventNames(spans[0]), "exception")
}

func TestGroupCallError_NotJoined_Dropped(t *testing.T) {
	mgr, ex := newTestManager(t)

	mgr.OnGroupCallError("ice gathering failed")

	assert.Empty(t, ex.GetSpans())
}

func TestUndecryptable_RecordedOnMembership(t *testing.T) {
	mgr, ex := newTestManager(t)

	mgr.OnJoin()
	mgr.OnUndecryptable("@mallory:example.org", "m.call.invite")
	mgr.OnLeave()

	spans := spansNamed(ex, SpanMembership)
	require.Len(t, spans, 1)
	assert.Contains(t, eventNames(spans[0]), EventUndecryptable)
}

func TestToggle_RecordedOnMembership(t *testing.T) {
	mgr, ex := newTestManager(t)

	mgr.OnJoin()
	mgr.OnToggle(signalling.ControlMute, true)
	mgr.OnToggle(signalling.ControlScreenshare, false)
	mgr.OnLeave()

	spans := spansNamed(ex, SpanMembership)
	require.Len(t, spans, 1)
	names := eventNames(spans[0])
	assert.Contains(t, names, "mute")
	assert.Contains(t, names, "screenshare")
}

func TestRoomState_FiltersNonCallTypes(t *testing.T) {
	mgr, ex := newTestManager(t)

	mgr.OnJoin()
	mgr.OnRoomState(signalling.RoomState{
		Type:    "m.room.topic",
		Sender:  "@bob:example.org",
		Content: map[string]any{"topic": "hello"},
	})
	mgr.OnRoomState(signalling.RoomState{
		Type:    "m.call.member",
		Sender:  "@bob:example.org",
		Content: map[string]any{"membership": map[string]any{"device_id": "BOBDEV"}},
	})
	mgr.OnLeave()

	spans := spansNamed(ex, SpanMembership)
	require.Len(t, spans, 1)
	names := eventNames(spans[0])
	assert.Contains(t, names, "room.state:m.call.member")
	assert.NotContains(t, names, "room.state:m.room.topic")
}

func TestInboundEvent_RoutedToCallSpan(t *testing.T) {
	mgr, ex := newTestManager(t)

	mgr.OnJoin()
	mgr.OnCallsChanged(callMap(call("call-x", "@bob:example.org", "BOBDEV")))
	mgr.OnInboundEvent(signalling.VoIPReceived{
		Sender:  "@bob:example.org",
		Content: map[string]any{"call_id": "call-x", "candidates": map[string]any{"count": 2}},
	})
	mgr.OnLeave()

	calls := spansNamed(ex, SpanCall)
	require.Len(t, calls, 1)
	assert.Contains(t, eventNames(calls[0]), EventVoIPReceived)

	// The membership span must not have received the marker fallback.
	membership := spansNamed(ex, SpanMembership)
	require.Len(t, membership, 1)
	assert.NotContains(t, eventNames(membership[0]), EventVoIPReceived)
}

func TestInboundEvent_UnknownCall_MarkerOnMembership(t *testing.T) {
	mgr, ex := newTestManager(t)

	mgr.OnJoin()
	mgr.OnInboundEvent(signalling.VoIPReceived{
		Sender:  "@bob:example.org",
		Content: map[string]any{"call_id": "nope"},
	})
	mgr.OnInboundEvent(signalling.VoIPReceived{
		Sender:  "@carol:example.org",
		Content: map[string]any{"sdp": "v=0"},
	})
	mgr.OnLeave()

	spans := spansNamed(ex, SpanMembership)
	require.Len(t, spans, 1)

	markers := 0
	for _, name := range eventNames(spans[0]) {
		if name == EventVoIPReceived {
			markers++
		}
	}
	assert.Equal(t, 2, markers, "both unroutable events must surface as markers")
}

func TestAttachDispose_BusWiring(t *testing.T) {
	mgr, ex := newTestManager(t)
	bus := signalling.NewBus(newTestLogger())

	mgr.Attach(bus)
	bus.Publish(signalling.Joined{})
	bus.Publish(signalling.SpeakingChanged{UserID: "@bob:example.org", DeviceID: "BOBDEV", Speaking: true})
	bus.Publish(signalling.SpeakingChanged{UserID: "@bob:example.org", DeviceID: "BOBDEV", Speaking: false})

	assert.Len(t, spansNamed(ex, SpanSpeaking), 1)

	// Dispose only detaches; it closes no spans.
	mgr.Dispose()
	assert.Equal(t, 0, bus.SubscriberCount())
	assert.True(t, mgr.Snapshot().Joined)

	bus.Publish(signalling.Left{})
	assert.True(t, mgr.Snapshot().Joined, "events after dispose must not reach the manager")

	mgr.OnLeave()
	assert.Len(t, spansNamed(ex, SpanMembership), 1)
}

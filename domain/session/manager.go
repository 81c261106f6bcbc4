package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalhouse/calltrace/domain/signalling"
	"github.com/signalhouse/calltrace/internal/config"
	"github.com/signalhouse/calltrace/pkg/flatten"
	"github.com/signalhouse/calltrace/pkg/logger"
	"github.com/signalhouse/calltrace/pkg/tracing"
)

// membership bundles the root span with the context that parents all child
// spans. A nil *membership on the Manager means "not joined"; every emission
// path goes through joinedContext so the check lives in one place and no
// child span is ever created under an ended root.
type membership struct {
	span trace.Span
	ctx  context.Context
}

// Manager reconciles the externally-driven call set against its span tree and
// guarantees every span it opens is closed exactly once.
//
// All event handlers run to completion under one mutex, so handlers observe a
// consistent view and never interleave, whichever goroutine delivers the
// event.
type Manager struct {
	log      *slog.Logger
	identity config.SessionConfig

	mu         sync.Mutex
	membership *membership
	calls      map[signalling.CallID]*trackedCall
	stats      *statsBatch
	speaking   map[signalling.MemberID]map[signalling.DeviceID]trace.Span

	unsubscribe func()
}

// NewManager creates a manager for the configured local participant. It does
// not receive events until Attach is called.
func NewManager(cfg *config.Config, log *slog.Logger) *Manager {
	return &Manager{
		log:      log.With(logger.Scope("session.manager")),
		identity: cfg.Session,
		calls:    make(map[signalling.CallID]*trackedCall),
		speaking: make(map[signalling.MemberID]map[signalling.DeviceID]trace.Span),
	}
}

// Attach subscribes the manager to the signalling bus. Call Dispose to detach.
func (m *Manager) Attach(bus *signalling.Bus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsubscribe != nil {
		return
	}
	m.unsubscribe = bus.Subscribe(m.handleEvent)
}

// Dispose detaches the manager from the bus. It does not close open spans;
// that is OnLeave's job, so the correct teardown order is OnLeave, then
// Dispose. Idempotent.
func (m *Manager) Dispose() {
	m.mu.Lock()
	unsub := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// handleEvent routes one bus event to its handler.
func (m *Manager) handleEvent(ev signalling.Event) {
	switch e := ev.(type) {
	case signalling.Joined:
		m.OnJoin()
	case signalling.Left:
		m.OnLeave()
	case signalling.RoomState:
		m.OnRoomState(e)
	case signalling.CallsChanged:
		m.OnCallsChanged(e.Calls)
	case signalling.CallStateChanged:
		m.OnCallStateChanged(e.CallID, e.State)
	case signalling.OutboundSent:
		m.OnOutboundEvent(e)
	case signalling.VoIPReceived:
		m.OnInboundEvent(e)
	case signalling.ToggleChanged:
		m.OnToggle(e.Control, e.Enabled)
	case signalling.StatsReport:
		m.OnReport(e.ReportKind, e.Report)
	case signalling.SpeakingChanged:
		m.OnSpeakingChanged(e.UserID, e.DeviceID, e.Speaking)
	case signalling.CallError:
		m.OnCallError(e.CallID, e.Message)
	case signalling.GroupCallError:
		m.OnGroupCallError(e.Message)
	case signalling.Undecryptable:
		m.OnUndecryptable(e.Sender, e.EventType)
	default:
		m.log.Debug("ignoring unhandled event", slog.String("kind", ev.EventKind()))
	}
}

// OnJoin opens the membership span bracketing the whole joined interval.
// Joining while already joined overwrites: the stale span is closed with a
// warning and a fresh interval starts. (The alternative, failing hard, would
// turn a missed leave notification into a permanently broken session.)
func (m *Manager) OnJoin() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.membership != nil {
		m.log.Warn("join while already joined, replacing membership span",
			slog.String("conf_id", m.identity.ConferenceID),
		)
		m.closeChildrenLocked()
		m.membership.span.End()
		spansClosed.WithLabelValues("membership").Inc()
		m.membership = nil
	}

	ctx, span := tracing.Start(context.Background(), SpanMembership,
		attribute.String(AttrConfID, m.identity.ConferenceID),
		attribute.String(AttrUserID, m.identity.UserID),
		attribute.String(AttrDeviceID, m.identity.DeviceID),
		attribute.String(AttrDisplayName, m.identity.DisplayName),
	)
	span.AddEvent(EventJoined)
	m.membership = &membership{span: span, ctx: ctx}
	spansOpened.WithLabelValues("membership").Inc()

	m.log.Info("joined group call", slog.String("conf_id", m.identity.ConferenceID))
}

// OnLeave closes every open child span, records the "left" marker and ends
// the membership span. Leaving while not joined is a no-op.
func (m *Manager) OnLeave() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.membership == nil {
		m.log.Debug("leave while not joined, ignoring")
		return
	}

	m.closeChildrenLocked()

	m.membership.span.AddEvent(EventLeft)
	m.membership.span.End()
	spansClosed.WithLabelValues("membership").Inc()
	m.membership = nil

	m.log.Info("left group call", slog.String("conf_id", m.identity.ConferenceID))
}

// closeChildrenLocked force-closes all call, stats and speaking spans. Called
// on leave (and on join-overwrite) so no child span survives its parent.
func (m *Manager) closeChildrenLocked() {
	for id, tc := range m.calls {
		tc.span.End()
		spansClosed.WithLabelValues("call").Inc()
		delete(m.calls, id)
	}
	trackedCalls.Set(0)

	if m.stats != nil {
		m.stats.span.End()
		spansClosed.WithLabelValues("stats").Inc()
		m.stats = nil
	}

	for member, devices := range m.speaking {
		for device, span := range devices {
			span.End()
			spansClosed.WithLabelValues("speaking").Inc()
			delete(devices, device)
		}
		delete(m.speaking, member)
	}
	speakingActive.Set(0)
}

// joinedContext returns the parent context for child spans, or false when not
// joined. Callers that require a live membership suppress emission on false.
func (m *Manager) joinedContext() (context.Context, bool) {
	if m.membership == nil {
		return nil, false
	}
	return m.membership.ctx, true
}

// identityAttrs returns the local participant attributes shared by the
// membership and stats spans.
func (m *Manager) identityAttrs() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrConfID, m.identity.ConferenceID),
		attribute.String(AttrUserID, m.identity.UserID),
		attribute.String(AttrDeviceID, m.identity.DeviceID),
	}
}

// OnRoomState records call-related room state updates as events on the
// membership span. Non-call types and updates outside a joined interval are
// ignored.
func (m *Manager) OnRoomState(ev signalling.RoomState) {
	if !isCallEventType(ev.Type) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.membership == nil {
		eventsDropped.WithLabelValues("not_joined").Inc()
		return
	}

	flat, err := flatten.Flatten("room.state", ev.Content)
	if err != nil {
		m.logFlattenError("room state", err)
		return
	}

	attrs := flatten.Attributes(flat)
	attrs = append(attrs, attribute.String(AttrSender, ev.Sender))
	m.membership.span.AddEvent(eventRoomStatePrefix+ev.Type, trace.WithAttributes(attrs...))
}

// OnToggle records a local media toggle flip on the membership span.
func (m *Manager) OnToggle(control signalling.Control, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.membership == nil {
		eventsDropped.WithLabelValues("not_joined").Inc()
		return
	}

	m.membership.span.AddEvent(string(control),
		trace.WithAttributes(attribute.Bool(AttrEnabled, enabled)),
	)
}

// OnInboundEvent routes an inbound VoIP event to its call span. Events with
// no call identifier, or with one the table does not know, degrade to a
// marker event on the membership span carrying the sender identity so the
// event stream stays visible.
func (m *Manager) OnInboundEvent(ev signalling.VoIPReceived) {
	m.mu.Lock()
	defer m.mu.Unlock()

	flat, err := flatten.Flatten("voip", ev.Content)
	if err != nil {
		m.logFlattenError("inbound voip event", err)
		return
	}

	callID, _ := ev.Content["call_id"].(string)
	if callID != "" {
		if tc, ok := m.calls[signalling.CallID(callID)]; ok {
			tc.span.AddEvent(EventVoIPReceived,
				trace.WithAttributes(flatten.Attributes(flat)...),
			)
			return
		}
	}

	if m.membership == nil {
		eventsDropped.WithLabelValues("not_joined").Inc()
		return
	}

	m.log.Debug("inbound voip event without tracked call",
		slog.String("sender", ev.Sender),
		slog.String("call_id", callID),
	)
	m.membership.span.AddEvent(EventVoIPReceived,
		trace.WithAttributes(attribute.String(AttrSender, ev.Sender)),
	)
}

// OnCallError records an error on the call it is attributed to, or drops it
// with a diagnostic when the call is unknown.
func (m *Manager) OnCallError(id signalling.CallID, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tc, ok := m.calls[id]
	if !ok {
		m.log.Warn("error for untracked call",
			slog.String("call_id", string(id)),
			slog.String("message", message),
		)
		eventsDropped.WithLabelValues("unknown_call").Inc()
		return
	}

	err := errors.New(message)
	tc.span.RecordError(err)
	tc.span.SetStatus(codes.Error, message)
}

// OnGroupCallError records an error attributed to the whole group call on the
// membership span.
func (m *Manager) OnGroupCallError(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.membership == nil {
		m.log.Warn("group call error while not joined", slog.String("message", message))
		eventsDropped.WithLabelValues("not_joined").Inc()
		return
	}

	m.membership.span.RecordError(errors.New(message))
}

// OnUndecryptable records an undecryptable inbound event on the membership
// span.
func (m *Manager) OnUndecryptable(sender, eventType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.membership == nil {
		eventsDropped.WithLabelValues("not_joined").Inc()
		return
	}

	m.membership.span.AddEvent(EventUndecryptable, trace.WithAttributes(
		attribute.String(AttrSender, sender),
		attribute.String(AttrEventType, eventType),
	))
}

// Snapshot returns the manager's current state for the admin surface.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Joined:         m.membership != nil,
		ConferenceID:   m.identity.ConferenceID,
		TrackedCalls:   make([]CallSnapshot, 0, len(m.calls)),
		Speaking:       make([]SpeakingSnapshot, 0),
		StatsBatchOpen: m.stats != nil,
	}

	for id, tc := range m.calls {
		snap.TrackedCalls = append(snap.TrackedCalls, CallSnapshot{
			CallID:      string(id),
			UserID:      string(tc.userID),
			DeviceID:    string(tc.deviceID),
			DisplayName: tc.displayName,
		})
	}
	sort.Slice(snap.TrackedCalls, func(i, j int) bool {
		return snap.TrackedCalls[i].CallID < snap.TrackedCalls[j].CallID
	})

	for member, devices := range m.speaking {
		for device := range devices {
			snap.Speaking = append(snap.Speaking, SpeakingSnapshot{
				UserID:   string(member),
				DeviceID: string(device),
			})
		}
	}
	sort.Slice(snap.Speaking, func(i, j int) bool {
		if snap.Speaking[i].UserID != snap.Speaking[j].UserID {
			return snap.Speaking[i].UserID < snap.Speaking[j].UserID
		}
		return snap.Speaking[i].DeviceID < snap.Speaking[j].DeviceID
	})

	return snap
}

// logFlattenError reports a malformed payload. The event is skipped; the
// session keeps running (a depth overflow is a signalling-layer defect, not a
// reason to crash).
func (m *Manager) logFlattenError(what string, err error) {
	var depthErr *flatten.DepthError
	if errors.As(err, &depthErr) {
		m.log.Error("payload exceeds flatten depth, skipping event",
			slog.String("event", what),
			slog.String("prefix", depthErr.Prefix),
		)
	} else {
		m.log.Error("failed to flatten payload, skipping event",
			slog.String("event", what),
			logger.Error(err),
		)
	}
	eventsDropped.WithLabelValues("malformed_payload").Inc()
}

func isCallEventType(t string) bool {
	return strings.HasPrefix(t, callEventTypePrefix)
}

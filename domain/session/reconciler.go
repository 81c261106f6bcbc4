package session

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalhouse/calltrace/domain/signalling"
	"github.com/signalhouse/calltrace/pkg/flatten"
	"github.com/signalhouse/calltrace/pkg/tracing"
)

// trackedCall is one entry of the call tracking table. It exclusively owns
// its span: the span ends exactly when the entry is removed.
type trackedCall struct {
	userID      signalling.MemberID
	deviceID    signalling.DeviceID
	displayName string
	call        *signalling.Call
	span        trace.Span
}

// OnCallsChanged reconciles the delivered call set against the tracking
// table: spans open for calls that appeared and close for calls that
// disappeared. The set is keyed exclusively by call identifier, so a stable
// identifier migrating to another (user, device) pair is treated as the same
// call. Redelivery of an unchanged set is a no-op.
func (m *Manager) OnCallsChanged(calls signalling.CallMap) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Add pass: open spans for calls not yet tracked.
	current := make(map[signalling.CallID]struct{})
	for user, devices := range calls {
		for device, call := range devices {
			if call == nil {
				continue
			}
			current[call.ID] = struct{}{}
			if _, ok := m.calls[call.ID]; ok {
				continue
			}
			m.calls[call.ID] = m.openCallSpanLocked(user, device, call)
		}
	}

	// Prune pass: close spans for identifiers that disappeared.
	for id, tc := range m.calls {
		if _, ok := current[id]; ok {
			continue
		}
		tc.span.End()
		spansClosed.WithLabelValues("call").Inc()
		delete(m.calls, id)
		m.log.Debug("call ended",
			slog.String("call_id", string(id)),
			slog.String("user_id", string(tc.userID)),
		)
	}

	trackedCalls.Set(float64(len(m.calls)))
}

// openCallSpanLocked creates the span for a newly observed call. The span is
// a child of the membership context when joined, otherwise a root span; the
// call set is externally driven and can outrun the join notification.
func (m *Manager) openCallSpanLocked(user signalling.MemberID, device signalling.DeviceID, call *signalling.Call) *trackedCall {
	attrs := []attribute.KeyValue{
		attribute.String(AttrCallID, string(call.ID)),
		attribute.String(AttrTargetUserID, string(user)),
		attribute.String(AttrTargetDeviceID, string(device)),
	}
	if call.DisplayName != "" {
		attrs = append(attrs, attribute.String(AttrTargetDisplayName, call.DisplayName))
	}

	parent, ok := m.joinedContext()
	if !ok {
		parent = context.Background()
	}

	_, span := tracing.Start(parent, SpanCall, attrs...)
	spansOpened.WithLabelValues("call").Inc()

	m.log.Debug("call tracked",
		slog.String("call_id", string(call.ID)),
		slog.String("user_id", string(user)),
		slog.String("device_id", string(device)),
	)

	return &trackedCall{
		userID:      user,
		deviceID:    device,
		displayName: call.DisplayName,
		call:        call,
		span:        span,
	}
}

// OnCallStateChanged records a state transition on the call's span. State
// changes for untracked calls are dropped with a diagnostic.
func (m *Manager) OnCallStateChanged(id signalling.CallID, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tc, ok := m.calls[id]
	if !ok {
		m.log.Debug("state change for untracked call",
			slog.String("call_id", string(id)),
			slog.String("state", state),
		)
		eventsDropped.WithLabelValues("unknown_call").Inc()
		return
	}

	tc.span.AddEvent(eventCallStatePrefix + state)
}

// OnOutboundEvent records an outbound signalling event on its call span,
// named by delivery channel. Only call signalling types are recorded.
func (m *Manager) OnOutboundEvent(ev signalling.OutboundSent) {
	if !isCallEventType(ev.Type) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tc, ok := m.calls[ev.CallID]
	if !ok {
		m.log.Debug("outbound event for untracked call",
			slog.String("call_id", string(ev.CallID)),
			slog.String("type", ev.Type),
		)
		eventsDropped.WithLabelValues("unknown_call").Inc()
		return
	}

	flat, err := flatten.Flatten("call.event", ev.Content)
	if err != nil {
		m.logFlattenError("outbound event", err)
		return
	}

	name := eventCallDirectPrefix + ev.Type
	if ev.Channel == signalling.ChannelBroadcast {
		name = eventCallBroadcastPrefix + ev.Type
	}
	tc.span.AddEvent(name, trace.WithAttributes(flatten.Attributes(flat)...))
}

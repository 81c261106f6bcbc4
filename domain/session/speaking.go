package session

import (
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalhouse/calltrace/domain/signalling"
	"github.com/signalhouse/calltrace/pkg/tracing"
)

// OnSpeakingChanged opens a span when a (member, device) pair starts speaking
// and ends it when the pair stops. Both directions are idempotent: a repeated
// start keeps the existing span, a stop without a span is a no-op. At most
// one span is open per pair.
func (m *Manager) OnSpeakingChanged(member signalling.MemberID, device signalling.DeviceID, speaking bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if speaking {
		if _, ok := m.speaking[member][device]; ok {
			return
		}

		parent, joined := m.joinedContext()
		if !joined {
			eventsDropped.WithLabelValues("not_joined").Inc()
			return
		}

		_, span := tracing.Start(parent, SpanSpeaking,
			attribute.String(AttrMemberUserID, string(member)),
			attribute.String(AttrMemberDeviceID, string(device)),
		)
		spansOpened.WithLabelValues("speaking").Inc()

		if m.speaking[member] == nil {
			m.speaking[member] = make(map[signalling.DeviceID]trace.Span)
		}
		m.speaking[member][device] = span
		speakingActive.Inc()
		return
	}

	span, ok := m.speaking[member][device]
	if !ok {
		m.log.Debug("speaking stop without open interval",
			slog.String("user_id", string(member)),
			slog.String("device_id", string(device)),
		)
		return
	}

	span.End()
	spansClosed.WithLabelValues("speaking").Inc()
	speakingActive.Dec()

	delete(m.speaking[member], device)
	if len(m.speaking[member]) == 0 {
		delete(m.speaking, member)
	}
}

package session

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/signalhouse/calltrace/domain/signalling"
	"github.com/signalhouse/calltrace/pkg/flatten"
	"github.com/signalhouse/calltrace/pkg/tracing"
)

// statsBatch is the at-most-one in-flight pairing of complementary stats
// reports. The span ends when both kinds have been recorded.
type statsBatch struct {
	span  trace.Span
	kinds map[signalling.ReportKind]bool
}

// OnReport accumulates one stats snapshot into the current batch.
//
// Pairing policy: the first report opens the batch span; the batch closes
// only once it has seen both report kinds. A repeated report of the pending
// kind is appended as a further event and leaves the batch open, so a batch
// always ends with at least one report of each kind. A batch whose
// complementary kind never arrives stays open until leave; there is no
// timeout flush.
//
// Reports outside a joined interval are suppressed entirely.
func (m *Manager) OnReport(kind signalling.ReportKind, report map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, joined := m.joinedContext()
	if !joined {
		eventsDropped.WithLabelValues("not_joined").Inc()
		return
	}

	flat, err := flatten.Flatten(eventReportPrefix+string(kind), report)
	if err != nil {
		m.logFlattenError("stats report", err)
		return
	}
	attrs := flatten.Attributes(flat)

	if m.stats == nil {
		_, span := tracing.Start(parent, SpanStats, m.identityAttrs()...)
		spansOpened.WithLabelValues("stats").Inc()
		m.stats = &statsBatch{
			span:  span,
			kinds: make(map[signalling.ReportKind]bool, 2),
		}
	}

	m.stats.span.AddEvent(eventReportPrefix+string(kind), trace.WithAttributes(attrs...))
	m.stats.kinds[kind] = true

	if len(m.stats.kinds) == 2 {
		m.stats.span.End()
		spansClosed.WithLabelValues("stats").Inc()
		m.stats = nil
		return
	}

	m.log.Debug("stats batch open, awaiting complementary report",
		slog.String("kind", string(kind)),
	)
}

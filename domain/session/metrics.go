package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	spansOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calltrace_spans_opened_total",
		Help: "Spans opened by the session manager, by span kind",
	}, []string{"kind"})

	spansClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calltrace_spans_closed_total",
		Help: "Spans closed by the session manager, by span kind",
	}, []string{"kind"})

	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calltrace_events_dropped_total",
		Help: "Signalling events dropped without span mutation, by reason",
	}, []string{"reason"})

	trackedCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calltrace_tracked_calls",
		Help: "Calls currently tracked by the reconciler",
	})

	speakingActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calltrace_speaking_active",
		Help: "Currently open speaking intervals",
	})
)

// Package metrics exposes the gateway's observability counters. The sink is
// advisory only; nothing here is required for request correctness.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Dispatches counts completed dispatches by wire kind and outcome.
	Dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelgate",
			Name:      "dispatches_total",
			Help:      "Completed dispatches by backend kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// MalformedChunks counts wire chunks skipped by stream decoders.
	MalformedChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelgate",
			Name:      "malformed_chunks_total",
			Help:      "Wire chunks skipped because they failed to parse.",
		},
		[]string{"kind"},
	)

	// RelayTransitions counts stream relay state transitions.
	RelayTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelgate",
			Name:      "relay_transitions_total",
			Help:      "Stream relay state machine transitions.",
		},
		[]string{"from", "to"},
	)

	// UsageRecords counts usage records handed to the recorder.
	UsageRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modelgate",
			Name:      "usage_records_total",
			Help:      "Usage records produced by completed dispatches.",
		},
	)
)

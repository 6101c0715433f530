// Package metrics defines the prometheus collectors exported by the
// pipeline and the verification server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "curbwatch",
		Name:      "build_info",
		Help:      "Build information, value is always 1.",
	}, []string{"version", "commit", "date"})

	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "curbwatch",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of pipeline stages.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"stage"})

	AddressesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "curbwatch",
		Name:      "addresses_processed_total",
		Help:      "Addresses run through the correlator.",
	})

	MatchesFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "curbwatch",
		Name:      "matches_found_total",
		Help:      "Matches within the cutoff, by layer.",
	}, []string{"layer"})

	RecordsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "curbwatch",
		Name:      "records_rejected_total",
		Help:      "Restriction records rejected, by reason.",
	}, []string{"reason"})
)

package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	cooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "piskel2houdini",
			Subsystem: "cook",
			Name:      "jobs_total",
			Help:      "Number of dispatched cook jobs by kind and outcome.",
		}, []string{"kind", "outcome"},
	)
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "piskel2houdini",
			Subsystem: "cook",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration per stage (primary cook, post conversion).",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"kind", "stage"},
	)
	stageTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "piskel2houdini",
			Subsystem: "cook",
			Name:      "stage_timeouts_total",
			Help:      "Number of stage invocations killed at their deadline.",
		}, []string{"kind", "stage"},
	)
	postDegraded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "piskel2houdini",
			Subsystem: "cook",
			Name:      "post_degraded_total",
			Help:      "Successful jobs whose post-process stage failed or timed out.",
		}, []string{"kind"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{cooksTotal, stageDuration, stageTimeouts, postDegraded}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncCook(kind, outcome string) {
	if regOK.Load() {
		cooksTotal.WithLabelValues(kind, outcome).Inc()
	}
}

func ObserveStage(kind, stage string, seconds float64) {
	if regOK.Load() {
		stageDuration.WithLabelValues(kind, stage).Observe(seconds)
	}
}

func IncStageTimeout(kind, stage string) {
	if regOK.Load() {
		stageTimeouts.WithLabelValues(kind, stage).Inc()
	}
}

func IncPostDegraded(kind string) {
	if regOK.Load() {
		postDegraded.WithLabelValues(kind).Inc()
	}
}

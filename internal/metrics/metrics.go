package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes used as the "outcome" label of runs_total.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeTimeout     = "timeout"
	OutcomeSpawnFailed = "spawn_failed"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	runTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskexec",
			Name:      "run_total",
			Help:      "Number of supervised runs by outcome.",
		}, []string{"name", "outcome"},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taskexec",
			Name:      "run_duration_seconds",
			Help:      "Wall time from spawn until the run completed.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"},
	)
	runTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskexec",
			Name:      "run_timeouts_total",
			Help:      "Number of runs killed by the watchdog.",
		}, []string{"name"},
	)
	spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskexec",
			Name:      "spawn_failures_total",
			Help:      "Number of processes that could not be launched.",
		}, []string{"name"},
	)
	liveProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taskexec",
			Name:      "live_processes",
			Help:      "Processes currently tracked for shutdown.",
		},
	)
	peakRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "taskexec",
			Name:      "run_peak_rss_bytes",
			Help:      "Peak resident memory observed during the last run.",
		}, []string{"name"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{runTotal, runDuration, runTimeouts, spawnFailures, liveProcesses, peakRSS}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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

// Registered reports whether Register has succeeded.
func Registered() bool { return regOK.Load() }

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func RecordRun(name, outcome string, seconds float64) {
	if regOK.Load() {
		runTotal.WithLabelValues(name, outcome).Inc()
		runDuration.WithLabelValues(name).Observe(seconds)
	}
}

func IncTimeout(name string) {
	if regOK.Load() {
		runTimeouts.WithLabelValues(name).Inc()
	}
}

func IncSpawnFailure(name string) {
	if regOK.Load() {
		spawnFailures.WithLabelValues(name).Inc()
		runTotal.WithLabelValues(name, OutcomeSpawnFailed).Inc()
	}
}

func SetLiveProcesses(n int) {
	if regOK.Load() {
		liveProcesses.Set(float64(n))
	}
}

func SetPeakRSS(name string, bytes uint64) {
	if regOK.Load() {
		peakRSS.WithLabelValues(name).Set(float64(bytes))
	}
}

// Package metrics exports kube-janitor run counters to Prometheus. The run
// Counter stays the engine's sole structured output; this package only
// mirrors it into process-lifetime metrics after each run.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vfabi/kube-janitor/internal/janitor"
)

var (
	runsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kube_janitor_runs_total",
		Help: "Total number of completed clean-up runs.",
	})
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kube_janitor_run_duration_seconds",
		Help:    "Duration of clean-up runs.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300},
	})
	resourcesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kube_janitor_resources_processed_total",
		Help: "Total number of objects evaluated across all runs.",
	})
	resourcesWithTTL = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kube_janitor_resources_with_ttl_total",
		Help: "Objects seen carrying an applicable TTL, by resource endpoint.",
	}, []string{"resource"})
	resourcesWithExpiry = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kube_janitor_resources_with_expiry_total",
		Help: "Objects seen carrying a valid expiry annotation, by resource endpoint.",
	}, []string{"resource"})
	resourcesDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kube_janitor_resources_deleted_total",
		Help: "Objects deleted (or that would be deleted in dry-run), by resource endpoint.",
	}, []string{"resource"})
	ruleMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kube_janitor_rule_matches_total",
		Help: "Rule matches, by rule id.",
	}, []string{"rule"})
)

// Report exports one run's counters.
func Report(counter janitor.Counter, duration time.Duration) {
	runsTotal.Inc()
	runDuration.Observe(duration.Seconds())

	for label, n := range counter {
		value := float64(n)
		switch {
		case label == "resources-processed":
			resourcesProcessed.Add(value)
		case strings.HasPrefix(label, "rule-") && strings.HasSuffix(label, "-matches"):
			rule := strings.TrimSuffix(strings.TrimPrefix(label, "rule-"), "-matches")
			ruleMatches.WithLabelValues(rule).Add(value)
		case strings.HasSuffix(label, "-with-ttl"):
			resourcesWithTTL.WithLabelValues(strings.TrimSuffix(label, "-with-ttl")).Add(value)
		case strings.HasSuffix(label, "-with-expiry"):
			resourcesWithExpiry.WithLabelValues(strings.TrimSuffix(label, "-with-expiry")).Add(value)
		case strings.HasSuffix(label, "-deleted"):
			resourcesDeleted.WithLabelValues(strings.TrimSuffix(label, "-deleted")).Add(value)
		}
	}
}

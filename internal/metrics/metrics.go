// Package metrics holds the counters and gauges describing one collection run.
// Each run gets its own registry; the values can be pushed to a Prometheus
// Pushgateway when the run ends since the process does not live long enough
// to be scraped.
package metrics

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics is the per-run metric set.
type Metrics struct {
	Registry *prometheus.Registry

	PagesFetched         prometheus.Counter
	EventsEmitted        prometheus.Counter
	EventsSkipped        *prometheus.CounterVec
	UnresolvedReferences *prometheus.CounterVec
	RateLimitRemaining   prometheus.Gauge
	RunDuration          prometheus.Gauge
	RunsTotal            *prometheus.CounterVec
	LastSuccess          prometheus.Gauge
}

// New registers a fresh metric set on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		PagesFetched: f.NewCounter(prometheus.CounterOpts{
			Name: "asa_audit_pages_fetched_total",
			Help: "Number of auditsV2 pages fetched",
		}),
		EventsEmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "asa_audit_events_emitted_total",
			Help: "Number of audit events written to the outputs",
		}),
		EventsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "asa_audit_events_skipped_total",
			Help: "Number of audit events not emitted",
		}, []string{"reason"}),
		UnresolvedReferences: f.NewCounterVec(prometheus.CounterOpts{
			Name: "asa_audit_unresolved_references_total",
			Help: "Number of detail references missing from related_objects",
		}, []string{"field"}),
		RateLimitRemaining: f.NewGauge(prometheus.GaugeOpts{
			Name: "asa_audit_ratelimit_remaining",
			Help: "Last x-ratelimit-remaining value reported by the API",
		}),
		RunDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "asa_audit_run_duration_seconds",
			Help: "Wall-clock duration of the run",
		}),
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "asa_audit_runs_total",
			Help: "Completed runs by outcome",
		}, []string{"status"}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "asa_audit_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run",
		}),
	}
}

// SetRateLimit records the remaining budget. Non-numeric values are ignored.
func (m *Metrics) SetRateLimit(remaining string) {
	if v, err := strconv.ParseFloat(remaining, 64); err == nil {
		m.RateLimitRemaining.Set(v)
	}
}

// Push sends the registry to a Pushgateway under the given job, replacing the
// job's previous values.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(m.Registry).PushContext(ctx); err != nil {
		return fmt.Errorf("metrics push: %w", err)
	}
	return nil
}

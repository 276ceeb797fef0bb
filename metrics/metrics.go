// Package metrics provides optional Prometheus instrumentation for the SMP
// client engine and firmware upgrade orchestrator. Attaching a Collector is
// opt-in (smp.WithMetrics / upgrade.WithMetrics); without it the engine and
// orchestrator run with zero observability overhead.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector groups the counters/histograms the engine and upgrade
// orchestrator update. Construct with NewCollector and register it with a
// prometheus.Registerer of your choosing.
type Collector struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	TimeoutsTotal    *prometheus.CounterVec
	ValidationErrors *prometheus.CounterVec

	UploadBytesTotal   prometheus.Counter
	UploadRetriesTotal prometheus.Counter
	UpgradePhase       *prometheus.GaugeVec
}

// NewCollector builds a Collector with the given metric name prefix (e.g.
// "smp"). Callers register the returned Collector's metrics with
// reg.MustRegister(c.RequestsTotal, ...) or via prometheus.Registerer.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "SMP requests issued, labeled by group and command.",
		}, []string{"group", "command"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from request issuance to a matched, validated response.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"group", "command"}),
		TimeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_timeouts_total",
			Help:      "Requests that hit their timeout without a matched response.",
		}, []string{"group", "command"}),
		ValidationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_validation_errors_total",
			Help:      "Responses rejected by sequence/group/command/op/rc validation.",
		}, []string{"reason"}),
		UploadBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Cumulative firmware bytes acknowledged by the device during upload.",
		}),
		UploadRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_retries_total",
			Help:      "Chunk retries during firmware upload (chunk-too-large or transient transport errors).",
		}),
		UpgradePhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upgrade_phase",
			Help:      "1 for the upgrade orchestrator's current phase, 0 otherwise.",
		}, []string{"phase"}),
	}

	return c
}

// Collectors returns every metric for bulk registration, e.g.
// reg.MustRegister(c.Collectors()...).
func (c *Collector) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.RequestsTotal,
		c.RequestDuration,
		c.TimeoutsTotal,
		c.ValidationErrors,
		c.UploadBytesTotal,
		c.UploadRetriesTotal,
		c.UpgradePhase,
	}
}

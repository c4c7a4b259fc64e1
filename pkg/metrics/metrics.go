package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	RecordsCreatedTotal prometheus.Counter
	DraftSavesTotal     *prometheus.CounterVec
	FinalizationsTotal  prometheus.Counter
	AmendmentsTotal     prometheus.Counter
	RecordsPurgedTotal  prometheus.Counter
	SnapshotsTotal      prometheus.Counter

	LimiterFailOpenTotal prometheus.Counter

	DBConnections prometheus.Gauge

	AuditEntriesTotal  prometheus.Counter
	AuditBufferDropped prometheus.Counter
}

func NewCollector(serviceName string) *Collector {
	return &Collector{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "path", "status"}),

		InFlightGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		RecordsCreatedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "records",
			Name:      "created_total",
			Help:      "Total session records created.",
		}),

		DraftSavesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "records",
			Name:      "draft_saves_total",
			Help:      "Draft autosave outcomes: applied, conflict, or limited.",
		}, []string{"status"}),

		FinalizationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "records",
			Name:      "finalizations_total",
			Help:      "Total records finalized.",
		}),

		AmendmentsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "records",
			Name:      "amendments_total",
			Help:      "Total post-finalization amendments.",
		}),

		RecordsPurgedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "records",
			Name:      "purged_total",
			Help:      "Total records permanently erased by the purge sweep.",
		}),

		SnapshotsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "records",
			Name:      "version_snapshots_total",
			Help:      "Total version snapshots written.",
		}),

		LimiterFailOpenTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "ratelimit",
			Name:      "fail_open_total",
			Help:      "Autosave limiter decisions taken without the counter store. Alert if non-zero.",
		}),

		DBConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "db",
			Name:      "open_connections",
			Help:      "Current number of open database connections.",
		}),

		AuditEntriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "audit",
			Name:      "entries_total",
			Help:      "Total audit events written.",
		}),

		AuditBufferDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "audit",
			Name:      "buffer_dropped_total",
			Help:      "Read audit events dropped due to full buffer. Alert if non-zero.",
		}),
	}
}

// The helper methods below are nil-safe so services under test can run
// without a registered collector.

func (c *Collector) RecordCreated() {
	if c != nil {
		c.RecordsCreatedTotal.Inc()
	}
}

func (c *Collector) DraftSaved(status string) {
	if c != nil {
		c.DraftSavesTotal.WithLabelValues(status).Inc()
	}
}

func (c *Collector) RecordFinalized() {
	if c != nil {
		c.FinalizationsTotal.Inc()
	}
}

func (c *Collector) RecordAmended() {
	if c != nil {
		c.AmendmentsTotal.Inc()
	}
}

func (c *Collector) RecordsPurged(n int) {
	if c != nil {
		c.RecordsPurgedTotal.Add(float64(n))
	}
}

func (c *Collector) SnapshotWritten() {
	if c != nil {
		c.SnapshotsTotal.Inc()
	}
}

func (c *Collector) LimiterFailedOpen() {
	if c != nil {
		c.LimiterFailOpenTotal.Inc()
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

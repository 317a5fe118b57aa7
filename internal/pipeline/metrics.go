package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	items         *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	nonFatal      *prometheus.CounterVec
	batchSize     prometheus.Histogram
	activeItems   prometheus.Gauge
}

// NewMetrics registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		items: f.NewCounterVec(prometheus.CounterOpts{
			Name: "videobatch_items_total",
			Help: "Processed rows by outcome and failed stage",
		}, []string{"outcome", "stage"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "videobatch_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"stage"}),
		nonFatal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "videobatch_nonfatal_failures_total",
			Help: "Logged-only failures of successful rows",
		}, []string{"stage"}),
		batchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "videobatch_batch_rows",
			Help:    "Rows per batch request",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		activeItems: f.NewGauge(prometheus.GaugeOpts{
			Name: "videobatch_active_items",
			Help: "Rows currently being processed on this node",
		}),
	}
}

func (m *Metrics) observeStage(stage Stage, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
}

func (m *Metrics) observeOutcome(o Outcome) {
	if m == nil {
		return
	}
	if o.Succeeded() {
		m.items.WithLabelValues("success", "").Inc()
		return
	}
	m.items.WithLabelValues("failure", string(o.Stage)).Inc()
}

func (m *Metrics) observeNonFatal(stage Stage) {
	if m == nil {
		return
	}
	m.nonFatal.WithLabelValues(string(stage)).Inc()
}

func (m *Metrics) observeBatch(rows int) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(rows))
}

func (m *Metrics) itemStarted() {
	if m == nil {
		return
	}
	m.activeItems.Inc()
}

func (m *Metrics) itemFinished() {
	if m == nil {
		return
	}
	m.activeItems.Dec()
}

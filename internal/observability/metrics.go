package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the relay.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Ticks             *prometheus.CounterVec
	Records           *prometheus.CounterVec
	Parts             *prometheus.CounterVec
	PolicyOutcomes    *prometheus.CounterVec
	PersistenceErrors prometheus.Counter
	Cursor            prometheus.Gauge
	QueueDepth        prometheus.Gauge
	CycleDuration     prometheus.Histogram
	PartsPerReply     prometheus.Histogram
	StageLatency      *prometheus.HistogramVec

	stages *StageWindow
}

// NewMetrics registers the instruments on the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the instruments on reg; tests pass a fresh registry.
func NewMetricsWith(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Ticks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_total",
			Help:      "Poll ticks by outcome.",
		}, []string{"outcome"}),
		Records: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Transcript records by outcome.",
		}, []string{"outcome"}),
		Parts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reply_parts_total",
			Help:      "Outbound reply parts by outcome.",
		}, []string{"outcome"}),
		PolicyOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_outcomes_total",
			Help:      "Response policy results by outcome.",
		}, []string{"outcome"}),
		PersistenceErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cursor_persist_errors_total",
			Help:      "Failed cursor writes.",
		}),
		Cursor: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cursor_id",
			Help:      "Highest processed transcript record id.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Reply parts waiting to be sent.",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_ms",
			Help:      "Duration of a fetch-through-dispatch cycle in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}),
		PartsPerReply: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "parts_per_reply",
			Help:      "Number of parts a reply was split into.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12},
		}),
		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Latency of pipeline stages in milliseconds.",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 15000, 30000},
		}, []string{"stage"}),
		stages: NewStageWindow(256),
	}
}

func (m *Metrics) Tick(outcome string) {
	if m == nil {
		return
	}
	m.Ticks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Record(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Records.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) Part(outcome string) {
	if m == nil {
		return
	}
	m.Parts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Policy(outcome string) {
	if m == nil {
		return
	}
	m.PolicyOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.PersistenceErrors.Inc()
}

func (m *Metrics) SetCursor(id int64) {
	if m == nil {
		return
	}
	m.Cursor.Set(float64(id))
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.CycleDuration.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveParts(n int) {
	if m == nil {
		return
	}
	m.PartsPerReply.Observe(float64(n))
}

// ObserveStage records a stage latency in both the histogram and the
// rolling window served on the status endpoint.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.StageLatency.WithLabelValues(stage).Observe(ms)
	m.stages.Observe(stage, ms)
}

func (m *Metrics) StageSnapshot() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

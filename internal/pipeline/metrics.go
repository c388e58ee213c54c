package pipeline

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for render pipeline activity.
type Metrics struct {
	tasks           *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	generation      *prometheus.HistogramVec
	repairs         prometheus.Counter
	active          prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns collectors registered once with the global registry.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics registers the pipeline collectors with reg, reusing
// collectors that are already registered and panicking on any other error.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	tasks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visdom",
		Subsystem: "pipeline",
		Name:      "tasks_total",
		Help:      "Render tasks by terminal outcome.",
	}, []string{"outcome"})
	attemptDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "visdom",
		Subsystem: "pipeline",
		Name:      "render_duration_seconds",
		Help:      "Renderer wall-clock time per attempt.",
		Buckets:   []float64{1, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"attempt", "status"})
	generation := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "visdom",
		Subsystem: "pipeline",
		Name:      "generation_duration_seconds",
		Help:      "Code generation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider", "status"})
	repairs := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "visdom",
		Subsystem: "pipeline",
		Name:      "repairs_total",
		Help:      "Repair generations requested after a failed first render.",
	})
	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "visdom",
		Subsystem: "pipeline",
		Name:      "tasks_active",
		Help:      "Tasks currently in flight.",
	})

	collectors := []prometheus.Collector{tasks, attemptDuration, generation, repairs, active}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			already, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				panic(err)
			}
			switch collector {
			case tasks:
				tasks = already.ExistingCollector.(*prometheus.CounterVec)
			case attemptDuration:
				attemptDuration = already.ExistingCollector.(*prometheus.HistogramVec)
			case generation:
				generation = already.ExistingCollector.(*prometheus.HistogramVec)
			case repairs:
				repairs = already.ExistingCollector.(prometheus.Counter)
			case active:
				active = already.ExistingCollector.(prometheus.Gauge)
			}
		}
	}
	return &Metrics{
		tasks:           tasks,
		attemptDuration: attemptDuration,
		generation:      generation,
		repairs:         repairs,
		active:          active,
	}
}

func (m *Metrics) taskFinished(outcome string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeRender(attempt, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.attemptDuration.WithLabelValues(attempt, status).Observe(d.Seconds())
}

func (m *Metrics) observeGeneration(provider, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.generation.WithLabelValues(provider, status).Observe(d.Seconds())
}

func (m *Metrics) repairRequested() {
	if m == nil {
		return
	}
	m.repairs.Inc()
}

func (m *Metrics) trackActive() func() {
	if m == nil {
		return func() {}
	}
	m.active.Inc()
	return m.active.Dec
}

package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/khtad/hello-openice/metric"
)

// Metrics holds the dispatch loop collectors. Create once per registry and
// share between loops rebuilt over the life of the process.
type Metrics struct {
	waits            *prometheus.CounterVec
	spuriousWakes    *prometheus.CounterVec
	drains           *prometheus.CounterVec
	records          *prometheus.CounterVec
	consumerFaults   *prometheus.CounterVec
	loansOutstanding *prometheus.GaugeVec
	drainDuration    *prometheus.HistogramVec
}

// NewMetrics creates and registers the dispatch collectors
func NewMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	m := &Metrics{
		waits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "dispatch",
			Name:      "waits_total",
			Help:      "Wait calls by result (triggered, timeout)",
		}, []string{"result"}),
		spuriousWakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "dispatch",
			Name:      "spurious_wakes_total",
			Help:      "Triggered conditions without DATA_AVAILABLE set",
		}, []string{"topic"}),
		drains: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "dispatch",
			Name:      "drains_total",
			Help:      "Drain calls by result (data, no_data, error)",
		}, []string{"topic", "result"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "dispatch",
			Name:      "records_total",
			Help:      "Drained records by validity",
		}, []string{"topic", "validity"}),
		consumerFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "dispatch",
			Name:      "consumer_faults_total",
			Help:      "Consumer callback failures recovered by the loop",
		}, []string{"topic"}),
		loansOutstanding: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "dispatch",
			Name:      "loans_outstanding",
			Help:      "Batches drained and not yet returned",
		}, []string{"topic"}),
		drainDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "dispatch",
			Name:      "drain_duration_seconds",
			Help:      "Time from drain to loan return",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"topic"}),
	}

	if registry == nil {
		return m, nil
	}

	counters := map[string]*prometheus.CounterVec{
		"waits":           m.waits,
		"spurious_wakes":  m.spuriousWakes,
		"drains":          m.drains,
		"records":         m.records,
		"consumer_faults": m.consumerFaults,
	}
	for name, vec := range counters {
		if err := registry.RegisterCounterVec("dispatch", name, vec); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGaugeVec("dispatch", "loans_outstanding", m.loansOutstanding); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("dispatch", "drain_duration", m.drainDuration); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) wait(result string) {
	if m == nil {
		return
	}
	m.waits.WithLabelValues(result).Inc()
}

func (m *Metrics) spurious(topic string) {
	if m == nil {
		return
	}
	m.spuriousWakes.WithLabelValues(topic).Inc()
}

func (m *Metrics) drain(topic, result string) {
	if m == nil {
		return
	}
	m.drains.WithLabelValues(topic, result).Inc()
}

func (m *Metrics) record(topic string, valid bool) {
	if m == nil {
		return
	}
	validity := "invalid"
	if valid {
		validity = "valid"
	}
	m.records.WithLabelValues(topic, validity).Inc()
}

func (m *Metrics) fault(topic string) {
	if m == nil {
		return
	}
	m.consumerFaults.WithLabelValues(topic).Inc()
}

func (m *Metrics) loanAcquired(topic string) {
	if m == nil {
		return
	}
	m.loansOutstanding.WithLabelValues(topic).Inc()
}

func (m *Metrics) loanReturned(topic string, since time.Time) {
	if m == nil {
		return
	}
	m.loansOutstanding.WithLabelValues(topic).Dec()
	m.drainDuration.WithLabelValues(topic).Observe(time.Since(since).Seconds())
}

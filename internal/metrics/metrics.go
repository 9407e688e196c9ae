package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome label values for ObserveReschedule.
const (
	OutcomeCommitted = "committed"
	OutcomeDeclined  = "declined"
	OutcomeFailed    = "failed"
)

// CalendarMetrics exposes counters/histograms for refreshes and drags.
type CalendarMetrics struct {
	rescheduleTotal *prometheus.CounterVec
	persistLatency  prometheus.Histogram
	refreshTotal    *prometheus.CounterVec
	refreshLatency  prometheus.Histogram
	events          prometheus.Gauge
	pendingDrags    prometheus.Gauge
}

func NewCalendarMetrics(reg prometheus.Registerer) *CalendarMetrics {
	m := &CalendarMetrics{
		rescheduleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldcal",
			Subsystem: "reschedule",
			Name:      "outcomes_total",
			Help:      "Drag reschedules by final outcome",
		}, []string{"outcome"}),
		persistLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fieldcal",
			Subsystem: "reschedule",
			Name:      "persist_seconds",
			Help:      "Latency of the persist call for confirmed reschedules",
			Buckets:   prometheus.DefBuckets,
		}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldcal",
			Subsystem: "refresh",
			Name:      "runs_total",
			Help:      "Appointment refresh runs by result",
		}, []string{"result"}),
		refreshLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fieldcal",
			Subsystem: "refresh",
			Name:      "duration_seconds",
			Help:      "Duration of fetch + project + rebuild",
			Buckets:   prometheus.DefBuckets,
		}),
		events: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fieldcal",
			Subsystem: "store",
			Name:      "events",
			Help:      "Calendar events currently held by the store",
		}),
		pendingDrags: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fieldcal",
			Subsystem: "reschedule",
			Name:      "pending",
			Help:      "Drags awaiting a confirmation decision or persist",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.rescheduleTotal, m.persistLatency, m.refreshTotal, m.refreshLatency, m.events, m.pendingDrags)
	return m
}

func (m *CalendarMetrics) ObserveReschedule(outcome string) {
	if m == nil {
		return
	}
	m.rescheduleTotal.WithLabelValues(outcome).Inc()
}

func (m *CalendarMetrics) ObservePersistLatency(seconds float64) {
	if m == nil {
		return
	}
	m.persistLatency.Observe(seconds)
}

func (m *CalendarMetrics) ObserveRefresh(ok bool, seconds float64) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.refreshTotal.WithLabelValues(result).Inc()
	m.refreshLatency.Observe(seconds)
}

func (m *CalendarMetrics) SetEvents(n int) {
	if m == nil {
		return
	}
	m.events.Set(float64(n))
}

func (m *CalendarMetrics) SetPendingDrags(n int) {
	if m == nil {
		return
	}
	m.pendingDrags.Set(float64(n))
}

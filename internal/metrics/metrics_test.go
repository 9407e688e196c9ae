package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gathered(t *testing.T, reg *prometheus.Registry, name string) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			key := ""
			for _, lp := range m.GetLabel() {
				key += lp.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestCalendarMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCalendarMetrics(reg)

	m.ObserveReschedule(OutcomeCommitted)
	m.ObserveReschedule(OutcomeCommitted)
	m.ObserveReschedule(OutcomeFailed)
	m.ObservePersistLatency(0.02)
	m.ObserveRefresh(true, 0.1)
	m.ObserveRefresh(false, 0.3)
	m.SetEvents(42)
	m.SetPendingDrags(1)

	outcomes := gathered(t, reg, "fieldcal_reschedule_outcomes_total")
	assert.Equal(t, 2.0, outcomes[OutcomeCommitted])
	assert.Equal(t, 1.0, outcomes[OutcomeFailed])

	runs := gathered(t, reg, "fieldcal_refresh_runs_total")
	assert.Equal(t, 1.0, runs["ok"])
	assert.Equal(t, 1.0, runs["error"])
	assert.Equal(t, 2.0, gathered(t, reg, "fieldcal_refresh_duration_seconds")[""])

	assert.Equal(t, 42.0, gathered(t, reg, "fieldcal_store_events")[""])
	assert.Equal(t, 1.0, gathered(t, reg, "fieldcal_reschedule_pending")[""])
}

func TestCalendarMetricsNilSafe(t *testing.T) {
	var m *CalendarMetrics
	m.ObserveReschedule(OutcomeDeclined)
	m.ObservePersistLatency(0.1)
	m.ObserveRefresh(true, 0.1)
	m.SetEvents(1)
	m.SetPendingDrags(0)
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterSum adds up every series of the named counter family.
func counterSum(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var sum float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}

func TestRecorder_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWithRegistry(reg)

	r.RecordOutcome("accepted")
	r.RecordOutcome("accepted")
	r.RecordOutcome("duplicate")
	r.RecordCacheLookup(true)
	r.RecordCacheLookup(false)
	r.RecordPrediction("ensemble", 0.42)
	r.RecordEvaluation("group_red", true)
	r.RecordTraining("success", 1.5)

	assert.Equal(t, 3.0, counterSum(t, reg, "spincast_outcomes_total"))
	assert.Equal(t, 2.0, counterSum(t, reg, "spincast_prediction_cache_lookups_total"))
	assert.Equal(t, 1.0, counterSum(t, reg, "spincast_predictions_total"))
	assert.Equal(t, 1.0, counterSum(t, reg, "spincast_group_evaluations_total"))
	assert.Equal(t, 1.0, counterSum(t, reg, "spincast_training_runs_total"))
}

func TestNewWithRegistry_Isolated(t *testing.T) {
	require.NotPanics(t, func() {
		NewWithRegistry(prometheus.NewRegistry())
		NewWithRegistry(prometheus.NewRegistry())
	})
}

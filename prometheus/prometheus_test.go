package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ParikhKadam/eventsourcing"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	require.NotNil(t, c)

	labels := map[string]string{"operation": "append"}

	c.RecordDuration(eventsourcing.MetricOperationDuration, 5*time.Millisecond, labels)
	c.RecordDuration(eventsourcing.MetricOperationDuration, 10*time.Millisecond, labels)

	c.IncrementCounter(eventsourcing.MetricOperationsTotal, labels)
	c.IncrementCounter(eventsourcing.MetricConcurrencyConflict, labels)

	c.AddCounter(eventsourcing.MetricEventsAppended, 3, nil)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}

	assert.True(t, names[eventsourcing.MetricOperationDuration])
	assert.True(t, names[eventsourcing.MetricOperationsTotal])
	assert.True(t, names[eventsourcing.MetricConcurrencyConflict])
	assert.True(t, names[eventsourcing.MetricEventsAppended])
}

func TestCollector_ReusesVectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg, WithBuckets([]float64{.01, .1, 1}))

	// registering the same metric twice would panic via MustRegister
	c.IncrementCounter("my_counter_total", map[string]string{"operation": "a"})
	c.IncrementCounter("my_counter_total", map[string]string{"operation": "b"})

	c.RecordDuration("my_duration_seconds", time.Millisecond, nil)
	c.RecordDuration("my_duration_seconds", time.Millisecond, nil)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, mfs, 2)
}

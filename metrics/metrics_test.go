package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	// a second set on the same registry collides but is tolerated
	other := New(reg)
	require.NoError(t, other.Register())
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NoError(t, m.Register())

	m.Scheduled(3)
	m.Scheduled(4)
	m.BatchExecuted(2)
	m.WorkerParked()
	m.EventDispatched("ping")
	m.EventDispatched("ping")
	m.EventDropped("pong")
	m.FaultRaised("ping", "escalate")
	m.StateChanged("active")
	m.ComponentCreated()
	m.ComponentCreated()
	m.ComponentDestroyed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.scheduled))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batches))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.readyDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.parks))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("ping")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues("pong")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.faults.WithLabelValues("ping", "escalate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.live))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NoError(t, m.Register())
	assert.NotPanics(t, func() {
		m.Scheduled(1)
		m.BatchExecuted(1)
		m.WorkerParked()
		m.EventDispatched("x")
		m.EventDropped("x")
		m.FaultRaised("x", "ignore")
		m.StateChanged("passive")
		m.ComponentCreated()
		m.ComponentDestroyed()
	})
}

// Package metrics exposes Prometheus collectors for the scheduler and the
// component runtime.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kompics"

// Metrics holds the runtime's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	mu sync.Mutex

	// scheduler
	scheduled  prometheus.Counter
	batches    prometheus.Counter
	parks      prometheus.Counter
	readyDepth prometheus.Gauge

	// components
	events      *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	faults      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	live        prometheus.Gauge

	registerer prometheus.Registerer
	registered bool
}

func newCounter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newGauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// New creates the collectors. They are not registered until Register is
// called. A nil registerer means prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer:  registerer,
		scheduled:   newCounter("scheduler", "scheduled_total", "Components placed on the ready queue"),
		batches:     newCounter("scheduler", "batches_total", "Event batches executed by workers"),
		parks:       newCounter("scheduler", "parks_total", "Times a worker parked on an empty ready queue"),
		readyDepth:  newGauge("scheduler", "ready_queue_depth", "Components waiting on the ready queue"),
		events:      newCounterVec("component", "events_total", "Events dispatched to component handlers", []string{"component"}),
		dropped:     newCounterVec("component", "dropped_total", "Events dropped because the component was destroyed", []string{"component"}),
		faults:      newCounterVec("component", "faults_total", "Handler faults by local resolution", []string{"component", "resolution"}),
		transitions: newCounterVec("component", "transitions_total", "Lifecycle state transitions", []string{"state"}),
		live:        newGauge("component", "live", "Components that have not been destroyed"),
	}
}

// Register registers every collector. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.scheduled,
		m.batches,
		m.parks,
		m.readyDepth,
		m.events,
		m.dropped,
		m.faults,
		m.transitions,
		m.live,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// Scheduled records a component placed on the ready queue.
func (m *Metrics) Scheduled(depth int) {
	if m == nil {
		return
	}
	m.scheduled.Inc()
	m.readyDepth.Set(float64(depth))
}

// BatchExecuted records a batch handed to a component.
func (m *Metrics) BatchExecuted(depth int) {
	if m == nil {
		return
	}
	m.batches.Inc()
	m.readyDepth.Set(float64(depth))
}

// WorkerParked records an idle worker.
func (m *Metrics) WorkerParked() {
	if m == nil {
		return
	}
	m.parks.Inc()
}

// EventDispatched records one event executed by a component.
func (m *Metrics) EventDispatched(component string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(component).Inc()
}

// EventDropped records an event discarded at a destroyed component.
func (m *Metrics) EventDropped(component string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(component).Inc()
}

// FaultRaised records a handler fault and how it was resolved locally.
func (m *Metrics) FaultRaised(component, resolution string) {
	if m == nil {
		return
	}
	m.faults.WithLabelValues(component, resolution).Inc()
}

// StateChanged records a lifecycle transition into state.
func (m *Metrics) StateChanged(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

// ComponentCreated increments the live component gauge.
func (m *Metrics) ComponentCreated() {
	if m == nil {
		return
	}
	m.live.Inc()
}

// ComponentDestroyed decrements the live component gauge.
func (m *Metrics) ComponentDestroyed() {
	if m == nil {
		return
	}
	m.live.Dec()
}

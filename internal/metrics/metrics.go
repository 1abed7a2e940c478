// Package metrics exposes Prometheus collectors for the session loop.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "presence_bridge"

type Metrics struct {
	connectAttempts *prometheus.CounterVec
	frames          *prometheus.CounterVec
	updates         *prometheus.CounterVec
	transportErrors *prometheus.CounterVec
	resolveMisses   prometheus.Counter
	phase           *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connect_attempts_total",
				Help:      "Device connection attempts by result",
			},
			[]string{"result"},
		),
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_total",
				Help:      "Frames received from the device by kind",
			},
			[]string{"kind"},
		),
		updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "presence_updates_total",
				Help:      "Presence publish and clear calls by result",
			},
			[]string{"action", "result"},
		),
		transportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_errors_total",
				Help:      "Device transport failures by reason",
			},
			[]string{"reason"},
		),
		resolveMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_misses_total",
			Help:      "Hardware address lookups that found no neighbour entry",
		}),
		phase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_phase",
				Help:      "1 for the current session phase, 0 otherwise",
			},
			[]string{"phase"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.connectAttempts, m.frames, m.updates, m.transportErrors, m.resolveMisses, m.phase)
	}
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ConnectAttempt(err error) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) Frame(kind string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(kind).Inc()
}

func (m *Metrics) Update(action string, err error) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(action, result(err)).Inc()
}

func (m *Metrics) TransportError(reason string) {
	if m == nil {
		return
	}
	m.transportErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) ResolveMiss() {
	if m == nil {
		return
	}
	m.resolveMisses.Inc()
}

// SetPhase marks phase as current. all lists every phase name so stale ones
// drop to zero.
func (m *Metrics) SetPhase(phase string, all []string) {
	if m == nil {
		return
	}
	for _, p := range all {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.phase.WithLabelValues(p).Set(v)
	}
}

// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for connection, request and upgrade telemetry.
// A nil *Metrics is valid and records nothing.

package control

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the server's collectors.
type Metrics struct {
	Connections  prometheus.Gauge
	Requests     *prometheus.CounterVec
	Upgrades     *prometheus.CounterVec
	Sessions     prometheus.Gauge
	Frames       *prometheus.CounterVec
	Crashes      *prometheus.CounterVec
	Terminations *prometheus.CounterVec
	Hibernations prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cowboy", Name: "connections_active",
			Help: "Open client connections.",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cowboy", Name: "requests_total",
			Help: "Responses sent, by status code.",
		}, []string{"status"}),
		Upgrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cowboy", Name: "upgrades_total",
			Help: "Protocol switches, by protocol and outcome.",
		}, []string{"protocol", "outcome"}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cowboy", Name: "sessions_active",
			Help: "Upgraded sessions currently open.",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cowboy", Name: "frames_total",
			Help: "Frames read and written, by direction and opcode.",
		}, []string{"direction", "opcode"}),
		Crashes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cowboy", Name: "handler_crashes_total",
			Help: "Handler crashes, by phase and class.",
		}, []string{"phase", "class"}),
		Terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cowboy", Name: "terminations_total",
			Help: "Terminate callbacks, by reason.",
		}, []string{"reason"}),
		Hibernations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cowboy", Name: "hibernations_total",
			Help: "Times an upgraded session released its scratch memory.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.Requests, m.Upgrades, m.Sessions,
			m.Frames, m.Crashes, m.Terminations, m.Hibernations)
	}
	return m
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

// Response counts one emitted response.
func (m *Metrics) Response(status int) {
	if m != nil {
		m.Requests.WithLabelValues(strconv.Itoa(status)).Inc()
	}
}

// Upgrade counts a switch to proto; ok is false for rejected handshakes.
func (m *Metrics) Upgrade(proto string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "rejected"
	}
	m.Upgrades.WithLabelValues(proto, outcome).Inc()
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.Sessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.Sessions.Dec()
	}
}

// Frame counts a frame in direction "in" or "out".
func (m *Metrics) Frame(direction, opcode string) {
	if m != nil {
		m.Frames.WithLabelValues(direction, opcode).Inc()
	}
}

// Crash counts a handler failure in phase ("init", "frame", "info", "terminate").
func (m *Metrics) Crash(phase, class string) {
	if m != nil {
		m.Crashes.WithLabelValues(phase, class).Inc()
	}
}

func (m *Metrics) Terminated(reason string) {
	if m != nil {
		m.Terminations.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Hibernated() {
	if m != nil {
		m.Hibernations.Inc()
	}
}

// Package metrics exposes Prometheus collectors for the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "boardsync"

// Source reports live counts sampled at scrape time.
type Source interface {
	Len() int
	ConnectionCount() int
}

// Metrics holds the relay's collectors on a private registry, so tests can
// build as many as they like.
type Metrics struct {
	reg *prometheus.Registry

	FramesReceived   *prometheus.CounterVec
	FramesDropped    *prometheus.CounterVec
	DeliveryFailures prometheus.Counter
	AdminActions     *prometheus.CounterVec
	Handshakes       *prometheus.CounterVec
}

// New registers the collectors, with gauges that read from src.
func New(src Source) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound WebSocket frames by message type.",
		}, []string{"type"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames discarded without being relayed.",
		}, []string{"reason"}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Outbound frames that could not be queued for a recipient.",
		}),
		AdminActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_actions_total",
			Help:      "Admin control plane calls by action and result.",
		}, []string{"action", "result"}),
		Handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "WebSocket join handshakes by result.",
		}, []string{"result"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Rooms currently held in memory.",
		}, func() float64 { return float64(src.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Connections currently attached to a room.",
		}, func() float64 { return float64(src.ConnectionCount()) }),
		m.FramesReceived,
		m.FramesDropped,
		m.DeliveryFailures,
		m.AdminActions,
		m.Handshakes,
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the exposition format for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// AdminAction counts one admin call.
func (m *Metrics) AdminAction(action, result string) {
	m.AdminActions.WithLabelValues(action, result).Inc()
}

// FrameReceived counts one inbound frame.
func (m *Metrics) FrameReceived(kind string) {
	m.FramesReceived.WithLabelValues(kind).Inc()
}

// FrameDropped counts one discarded frame.
func (m *Metrics) FrameDropped(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// Handshake counts one join handshake outcome.
func (m *Metrics) Handshake(result string) {
	m.Handshakes.WithLabelValues(result).Inc()
}

// Delivered records the failures from one fan-out.
func (m *Metrics) Delivered(failed int) {
	if failed > 0 {
		m.DeliveryFailures.Add(float64(failed))
	}
}

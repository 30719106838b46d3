// Package metrics exposes engine telemetry as Prometheus collectors served
// over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// Metrics implements the engine's telemetry observer on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	iterations   *prometheus.CounterVec
	roundTrips   *prometheus.CounterVec
	gainFiat     *prometheus.CounterVec
	realizedGain prometheus.Gauge
}

// New creates a Metrics with all collectors registered, including the
// standard Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbot",
			Name:      "iterations_total",
			Help:      "Engine iterations by outcome.",
		}, []string{"outcome"}),
		roundTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbot",
			Name:      "round_trips_total",
			Help:      "Completed round trips by direction.",
		}, []string{"direction"}),
		gainFiat: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbot",
			Name:      "round_trip_gain_fiat_total",
			Help:      "Cumulative realized fiat gain from round trips by direction.",
		}, []string{"direction"}),
		realizedGain: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arbot",
			Name:      "realized_gain_fiat",
			Help:      "Total fiat balance change since process start.",
		}),
	}

	reg.MustRegister(
		m.iterations,
		m.roundTrips,
		m.gainFiat,
		m.realizedGain,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveIteration counts one finished iteration by outcome.
func (m *Metrics) ObserveIteration(outcome string) {
	m.iterations.WithLabelValues(outcome).Inc()
}

// ObserveRoundTrip records a completed round trip.
func (m *Metrics) ObserveRoundTrip(rt domain.RoundTrip) {
	m.roundTrips.WithLabelValues(string(rt.Direction)).Inc()
	m.gainFiat.WithLabelValues(string(rt.Direction)).Add(rt.GainFiat)
}

// ObserveRealizedGain updates the realized gain gauge.
func (m *Metrics) ObserveRealizedGain(total float64) {
	m.realizedGain.Set(total)
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Package metrics defines the Prometheus collectors exported by the light.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	EndpointWrites *prometheus.CounterVec
	AnimationSteps *prometheus.CounterVec
	PersistFlushes *prometheus.CounterVec
	BatteryPercent prometheus.Gauge
	BatteryRaw     prometheus.Gauge
	Provisioning   prometheus.Gauge
}

// New creates the collectors on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		EndpointWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "light_endpoint_writes_total",
			Help: "Control endpoint writes by endpoint and result.",
		}, []string{"endpoint", "result"}),
		AnimationSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "light_animation_steps_total",
			Help: "Animation steps that changed the output, by mode.",
		}, []string{"mode"}),
		PersistFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "light_persist_flushes_total",
			Help: "State flushes to non-volatile storage by result.",
		}, []string{"result"}),
		BatteryPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "light_battery_percent",
			Help: "Last reported battery level.",
		}),
		BatteryRaw: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "light_battery_raw",
			Help: "Last raw ADC battery sample.",
		}),
		Provisioning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "light_provisioning_active",
			Help: "1 while the firmware update transport is engaged.",
		}),
	}
	reg.MustRegister(
		m.EndpointWrites,
		m.AnimationSteps,
		m.PersistFlushes,
		m.BatteryPercent,
		m.BatteryRaw,
		m.Provisioning,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// EndpointWrite counts one control endpoint write.
func (m *Metrics) EndpointWrite(endpoint string, err error) {
	if m == nil {
		return
	}
	m.EndpointWrites.WithLabelValues(endpoint, result(err)).Inc()
}

// AnimationStep counts one animation step.
func (m *Metrics) AnimationStep(mode string) {
	if m == nil {
		return
	}
	m.AnimationSteps.WithLabelValues(mode).Inc()
}

// PersistFlush counts one flush attempt.
func (m *Metrics) PersistFlush(err error) {
	if m == nil {
		return
	}
	m.PersistFlushes.WithLabelValues(result(err)).Inc()
}

// BatterySample records the latest battery reading.
func (m *Metrics) BatterySample(raw uint16, percent uint8) {
	if m == nil {
		return
	}
	m.BatteryRaw.Set(float64(raw))
	m.BatteryPercent.Set(float64(percent))
}

// SetProvisioning records the provisioning flag.
func (m *Metrics) SetProvisioning(active bool) {
	if m == nil {
		return
	}
	if active {
		m.Provisioning.Set(1)
	} else {
		m.Provisioning.Set(0)
	}
}

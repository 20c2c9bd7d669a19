package metrics

import (
	"net/http"

	"github.com/dcastel/ecowatch/pkg/ecoflow"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

type AppMetrics struct {
	TransitionsTotal *prometheus.CounterVec // labels: kind=start|stop
	SnapshotsTotal   *prometheus.CounterVec // labels: source=stream|poll
	ConnectsTotal    prometheus.Counter
	DisconnectsTotal prometheus.Counter
	CommandsTotal    *prometheus.CounterVec // labels: operate_type, result=accepted|rejected
	SOCGauge         prometheus.Gauge
	WattsInGauge     prometheus.Gauge
	WattsOutGauge    prometheus.Gauge
	ChargingGauge    prometheus.Gauge
}

func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "charging_transitions_total",
			Help: "Charging transitions observed, by kind.",
		}, []string{"kind"}),
		SnapshotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapshots_total",
			Help: "Device snapshots recorded, by source.",
		}, []string{"source"}),
		ConnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stream_connects_total",
			Help: "Total stream session (re)connects.",
		}),
		DisconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stream_disconnects_total",
			Help: "Total stream session disconnects.",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commands_total",
			Help: "Device commands published, by operate type and result.",
		}, []string{"operate_type", "result"}),
		SOCGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "battery_soc_percent",
			Help: "Last observed battery state of charge.",
		}),
		WattsInGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "input_watts",
			Help: "Last observed total input power.",
		}),
		WattsOutGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "output_watts",
			Help: "Last observed total output power.",
		}),
		ChargingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "battery_charging",
			Help: "1 when the battery is charging, 0 otherwise.",
		}),
	}
	reg.MustRegister(m.TransitionsTotal, m.SnapshotsTotal, m.ConnectsTotal, m.DisconnectsTotal,
		m.CommandsTotal, m.SOCGauge, m.WattsInGauge, m.WattsOutGauge, m.ChargingGauge)
	return m
}

// ObserveSnapshot updates the gauges from a snapshot. Absent fields leave
// their gauge untouched.
func (m *AppMetrics) ObserveSnapshot(source string, state ecoflow.DeviceState) {
	m.SnapshotsTotal.WithLabelValues(source).Inc()
	if state.SOC != nil {
		m.SOCGauge.Set(*state.SOC)
	}
	if state.WattsIn != nil {
		m.WattsInGauge.Set(*state.WattsIn)
	}
	if state.WattsOut != nil {
		m.WattsOutGauge.Set(*state.WattsOut)
	}
	if state.IsCharging != nil {
		if *state.IsCharging {
			m.ChargingGauge.Set(1)
		} else {
			m.ChargingGauge.Set(0)
		}
	}
}

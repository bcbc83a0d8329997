package sbrick

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	commands       *prometheus.CounterVec
	commandErrors  *prometheus.CounterVec
	coalesced      prometheus.Counter
	queueDepth     prometheus.Gauge
	sensorEvents   *prometheus.CounterVec
	connectionLost prometheus.Counter
	battery        prometheus.Gauge
	temperature    prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sbrick",
			Name:      "commands_total",
			Help:      "GATT operations executed by the command queue.",
		}, []string{"command"}),
		commandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sbrick",
			Name:      "command_errors_total",
			Help:      "GATT operations that failed.",
		}, []string{"command"}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sbrick",
			Name:      "drive_coalesced_total",
			Help:      "Drive calls merged into a pending write.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sbrick",
			Name:      "queue_depth",
			Help:      "Operations waiting in the command queue.",
		}),
		sensorEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sbrick",
			Name:      "sensor_events_total",
			Help:      "Sensor events published, by kind.",
		}, []string{"kind"}),
		connectionLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sbrick",
			Name:      "connection_lost_total",
			Help:      "Links found down by the keepalive.",
		}),
		battery: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sbrick",
			Name:      "battery_volts",
			Help:      "Last supply voltage read.",
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sbrick",
			Name:      "temperature_celsius",
			Help:      "Last internal temperature read.",
		}),
	}

	if reg != nil {
		m.commands = register(reg, m.commands)
		m.commandErrors = register(reg, m.commandErrors)
		m.coalesced = register(reg, m.coalesced)
		m.queueDepth = register(reg, m.queueDepth)
		m.sensorEvents = register(reg, m.sensorEvents)
		m.connectionLost = register(reg, m.connectionLost)
		m.battery = register(reg, m.battery)
		m.temperature = register(reg, m.temperature)
	}
	return m
}

// register adds c to reg, reusing an identical collector that is already
// registered so several drivers can share one registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) queueStarted(name string, waiting int) {
	m.queueDepth.Set(float64(waiting))
}

func (m *metrics) queueDone(name string, err error) {
	m.commands.WithLabelValues(name).Inc()
	if err != nil {
		m.commandErrors.WithLabelValues(name).Inc()
	}
}

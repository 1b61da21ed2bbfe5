package transport

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.bug.st/serial"
)

// Metrics counts requests per bus and function code. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hvac_modbus_requests_total",
				Help: "Modbus requests issued per bus, function and result.",
			},
			[]string{"bus", "op", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hvac_modbus_request_duration_seconds",
				Help:    "Time spent on the wire per Modbus request.",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"bus", "op"},
		),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

func (m *Metrics) observe(bus int, fc FunctionCode, began time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	b := strconv.Itoa(bus)
	m.requests.WithLabelValues(b, fc.String(), result).Inc()
	m.duration.WithLabelValues(b, fc.String()).Observe(time.Since(began).Seconds())
}

// AvailablePorts lists the serial ports present on this host.
func AvailablePorts() ([]string, error) {
	return serial.GetPortsList()
}

// PortPresent reports whether port is one of the host's serial ports.
func PortPresent(port string) bool {
	ports, err := AvailablePorts()
	if err != nil {
		return false
	}
	for _, p := range ports {
		if p == port {
			return true
		}
	}
	return false
}

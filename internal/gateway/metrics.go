package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	webhooks *prometheus.CounterVec
	controls *prometheus.CounterVec
}

// NewMetrics creates the gateway collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sbridge_gateway_webhooks_total",
			Help: "Webhook requests by source and result.",
		}, []string{"source", "result"}),
		controls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sbridge_gateway_channel_actions_total",
			Help: "Channel control requests by action and result.",
		}, []string{"channel", "action", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.webhooks, m.controls)
	}
	return m
}

func (m *Metrics) webhook(source, result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(source, result).Inc()
}

func (m *Metrics) control(channel, action string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.controls.WithLabelValues(channel, action, result).Inc()
}

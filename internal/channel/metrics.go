package channel

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors shared by every adapter. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	eventsDropped   *prometheus.CounterVec
	eventsHandled   *prometheus.CounterVec
	handlerErrors   *prometheus.CounterVec
	sends           *prometheus.CounterVec
	sendDuration    *prometheus.HistogramVec
	connectionState *prometheus.GaugeVec
	transitions     *prometheus.CounterVec
}

// NewMetrics creates the channel collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sbridge_channel_events_dropped_total",
			Help: "Events dropped because the dispatcher queue was full.",
		}, []string{"channel", "kind"}),
		eventsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sbridge_channel_events_handled_total",
			Help: "Events delivered to a handler.",
		}, []string{"channel", "kind"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sbridge_channel_handler_errors_total",
			Help: "Errors returned by registered handlers.",
		}, []string{"channel", "kind"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sbridge_channel_sends_total",
			Help: "Outbound sends by result status.",
		}, []string{"channel", "status"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sbridge_channel_send_duration_seconds",
			Help:    "Latency of outbound sends.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sbridge_channel_connected",
			Help: "1 when the channel is connected, 0 otherwise.",
		}, []string{"channel"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sbridge_channel_state_transitions_total",
			Help: "Connection state transitions.",
		}, []string{"channel", "from", "to"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.eventsDropped,
			m.eventsHandled,
			m.handlerErrors,
			m.sends,
			m.sendDuration,
			m.connectionState,
			m.transitions,
		)
	}
	return m
}

func (m *Metrics) eventDropped(channel, kind string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(channel, kind).Inc()
}

func (m *Metrics) eventHandled(channel, kind string) {
	if m == nil {
		return
	}
	m.eventsHandled.WithLabelValues(channel, kind).Inc()
}

func (m *Metrics) handlerError(channel, kind string) {
	if m == nil {
		return
	}
	m.handlerErrors.WithLabelValues(channel, kind).Inc()
}

func (m *Metrics) sent(channel, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(channel, status).Inc()
	m.sendDuration.WithLabelValues(channel).Observe(d.Seconds())
}

func (m *Metrics) transition(channel string, from, to State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(channel, from.String(), to.String()).Inc()
	v := 0.0
	if to == StateConnected {
		v = 1
	}
	m.connectionState.WithLabelValues(channel).Set(v)
}

// DroppedEvents returns the drop counter for tests and status pages.
func (m *Metrics) DroppedEvents() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.eventsDropped
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ChannelMetrics records live channel and confirmation activity.
// A nil *ChannelMetrics is valid and records nothing.
type ChannelMetrics struct {
	connections  prometheus.Counter
	reconnects   prometheus.Counter
	messages     *prometheus.CounterVec
	malformed    prometheus.Counter
	confirmFails *prometheus.CounterVec
}

// NewChannelMetrics registers the channel metrics on the provided registerer.
func NewChannelMetrics(reg prometheus.Registerer) *ChannelMetrics {
	if reg == nil {
		return nil
	}
	m := &ChannelMetrics{
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifybell_channel_connections_total",
			Help: "Live channel connections opened.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifybell_channel_reconnects_scheduled_total",
			Help: "Reconnect attempts scheduled after a close.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifybell_channel_messages_total",
			Help: "Server frames received, by type.",
		}, []string{"type"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifybell_channel_malformed_total",
			Help: "Server frames dropped because they could not be decoded.",
		}),
		confirmFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifybell_confirm_failures_total",
			Help: "Read confirmations that failed, by path.",
		}, []string{"path"}),
	}
	reg.MustRegister(m.connections, m.reconnects, m.messages, m.malformed, m.confirmFails)
	return m
}

// IncConnection counts a successful channel open.
func (m *ChannelMetrics) IncConnection() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// IncReconnect counts a scheduled reconnect.
func (m *ChannelMetrics) IncReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// IncMessage counts a decoded frame of the given type.
func (m *ChannelMetrics) IncMessage(msgType string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(normalizeLabel(msgType)).Inc()
}

// IncMalformed counts a dropped frame.
func (m *ChannelMetrics) IncMalformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

// IncConfirmFailure counts a failed confirmation on path ("live" or "rest").
func (m *ChannelMetrics) IncConfirmFailure(path string) {
	if m == nil {
		return
	}
	m.confirmFails.WithLabelValues(normalizeLabel(path)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

// BridgeMetrics exposes counters/histograms for both webhook directions.
type BridgeMetrics struct {
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	handoffTotal   *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewBridgeMetrics(reg prometheus.Registerer) *BridgeMetrics {
	m := &BridgeMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "webhooks",
			Name:      "inbound_total",
			Help:      "Total Twilio WhatsApp webhooks by outcome",
		}, []string{"status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "webhooks",
			Name:      "outbound_total",
			Help:      "Total Chatwoot webhooks by acknowledgment status",
		}, []string{"status"}),
		handoffTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "conversations",
			Name:      "handoff_total",
			Help:      "Total agent handoff attempts",
		}, []string{"result"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bridge",
			Subsystem: "webhooks",
			Name:      "latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"direction"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.handoffTotal, m.webhookLatency)
	return m
}

func (m *BridgeMetrics) ObserveInboundWebhook(status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(status).Inc()
}

func (m *BridgeMetrics) ObserveOutboundWebhook(status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(status).Inc()
}

func (m *BridgeMetrics) ObserveHandoff(result string) {
	if m == nil {
		return
	}
	m.handoffTotal.WithLabelValues(result).Inc()
}

func (m *BridgeMetrics) ObserveWebhookLatency(direction string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(direction).Observe(seconds)
}

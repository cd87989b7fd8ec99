package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ordersCreated    prometheus.Counter
	transitions      *prometheus.CounterVec
	otpGenerated     prometheus.Counter
	otpVerifications *prometheus.CounterVec
	chatMessages     *prometheus.CounterVec
	wsConnections    prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders created from cart lines.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Accepted order status transitions by target status.",
		}, []string{"to"}),
		otpGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "otp_generated_total",
			Help: "Verification codes issued.",
		}),
		otpVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "otp_verifications_total",
			Help: "Verification attempts by result.",
		}, []string{"result"}),
		chatMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Persisted chat messages by sender type.",
		}, []string{"sender_type"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Open real-time connections.",
		}),
	}
	reg.MustRegister(m.ordersCreated, m.transitions, m.otpGenerated, m.otpVerifications, m.chatMessages, m.wsConnections)
	return m
}

func (m *Metrics) OrderCreated() {
	if m != nil {
		m.ordersCreated.Inc()
	}
}

func (m *Metrics) Transition(to string) {
	if m != nil {
		m.transitions.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) OTPGenerated() {
	if m != nil {
		m.otpGenerated.Inc()
	}
}

func (m *Metrics) OTPVerification(result string) {
	if m != nil {
		m.otpVerifications.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ChatMessage(senderType string) {
	if m != nil {
		m.chatMessages.WithLabelValues(senderType).Inc()
	}
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.wsConnections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.wsConnections.Dec()
	}
}

// Handler exposes the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

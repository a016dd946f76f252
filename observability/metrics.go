// Package observability содержит Prometheus-метрики ретранслятора.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Результаты доставки.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Metrics объединяет счётчики ретранслятора. Все методы безопасны для nil-получателя.
type Metrics struct {
	registry *prometheus.Registry

	Connections        prometheus.Gauge
	SubscribedChannels prometheus.Gauge
	Events             *prometheus.CounterVec
	Deliveries         *prometheus.CounterVec
	EmoteSubstitutions *prometheus.CounterVec
	UpstreamSessions   *prometheus.CounterVec
}

// NewMetrics создаёт отдельный реестр, чтобы не загрязнять глобальный, и регистрирует в нём метрики.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatrelay_connections",
			Help: "Number of registered client connections",
		}),
		SubscribedChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatrelay_subscribed_channels",
			Help: "Number of channels with at least one subscriber",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_events_total",
			Help: "Upstream chat events consumed by kind",
		}, []string{"kind"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_deliveries_total",
			Help: "Deliveries to client queues by operation and result",
		}, []string{"op", "result"}),
		EmoteSubstitutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_emote_substitutions_total",
			Help: "Emote tokens substituted by provider",
		}, []string{"source"}),
		UpstreamSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_upstream_sessions_total",
			Help: "Upstream chat sessions by result",
		}, []string{"result"}),
	}

	registry.MustRegister(m.Connections, m.SubscribedChannels, m.Events, m.Deliveries, m.EmoteSubstitutions, m.UpstreamSessions)
	return m
}

// Handler отдаёт метрики в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.Connections.Set(float64(n))
}

func (m *Metrics) SetSubscribedChannels(n int) {
	if m == nil {
		return
	}
	m.SubscribedChannels.Set(float64(n))
}

func (m *Metrics) ObserveEvent(kind string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveDelivery(op string, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultFailed
	}
	m.Deliveries.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ObserveEmote(source string) {
	if m == nil {
		return
	}
	m.EmoteSubstitutions.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveSession(result string) {
	if m == nil {
		return
	}
	m.UpstreamSessions.WithLabelValues(result).Inc()
}

package monitoring

import (
	"time"

	"camlink/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	sessionsActive     prometheus.Gauge
	endpointsConnected prometheus.Gauge
	sessionViewers     *prometheus.GaugeVec

	messagesRelayed   *prometheus.CounterVec
	negotiationsTotal *prometheus.CounterVec
	reconnectsTotal   *prometheus.CounterVec
	evictionsTotal    prometheus.Counter

	negotiationDuration prometheus.Histogram
	sessionDuration     prometheus.Histogram
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "camlink_sessions_active",
			Help: "Number of live broadcast sessions",
		}),

		endpointsConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "camlink_endpoints_connected",
			Help: "Number of endpoints attached to the signaling relay",
		}),

		sessionViewers: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "camlink_session_viewers",
			Help: "Viewer count per broadcast session",
		}, []string{"session_id"}),

		messagesRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "camlink_signal_messages_relayed_total",
			Help: "Signaling messages relayed, by message type",
		}, []string{"type"}),

		negotiationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "camlink_negotiations_total",
			Help: "WebRTC negotiations started, by outcome",
		}, []string{"outcome"}),

		reconnectsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "camlink_viewer_reconnects_total",
			Help: "Viewer reconnection attempts, by outcome",
		}, []string{"outcome"}),

		evictionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "camlink_session_evictions_total",
			Help: "Sessions evicted after missing heartbeats",
		}),

		negotiationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "camlink_negotiation_duration_seconds",
			Help:    "Time from offer sent to link connected",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		sessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "camlink_session_duration_seconds",
			Help:    "Lifetime of ended broadcast sessions",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}),
	}
}

func (c *PrometheusCollector) SessionStarted() {
	c.sessionsActive.Inc()
}

func (c *PrometheusCollector) SessionEnded(id domain.SessionID, lifetime time.Duration) {
	c.sessionsActive.Dec()
	c.sessionViewers.DeleteLabelValues(string(id))
	c.sessionDuration.Observe(lifetime.Seconds())
}

func (c *PrometheusCollector) SessionEvicted(id domain.SessionID, lifetime time.Duration) {
	c.evictionsTotal.Inc()
	c.SessionEnded(id, lifetime)
}

func (c *PrometheusCollector) SetViewerCount(id domain.SessionID, count int) {
	c.sessionViewers.WithLabelValues(string(id)).Set(float64(count))
}

func (c *PrometheusCollector) EndpointConnected() {
	c.endpointsConnected.Inc()
}

func (c *PrometheusCollector) EndpointDisconnected() {
	c.endpointsConnected.Dec()
}

func (c *PrometheusCollector) MessageRelayed(messageType string) {
	c.messagesRelayed.WithLabelValues(messageType).Inc()
}

func (c *PrometheusCollector) NegotiationFinished(outcome string, took time.Duration) {
	c.negotiationsTotal.WithLabelValues(outcome).Inc()
	c.negotiationDuration.Observe(took.Seconds())
}

func (c *PrometheusCollector) ReconnectAttempt(outcome string) {
	c.reconnectsTotal.WithLabelValues(outcome).Inc()
}

package devapi

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	eventLoginSuccess   = "login.success"
	eventLoginFailure   = "login.failure"
	eventRefreshSuccess = "refresh.success"
	eventRefreshFailure = "refresh.failure"
	eventRegister       = "register"
	eventRejectedBearer = "bearer.rejected"
)

type serverMetrics struct {
	authEvents *prometheus.CounterVec
	requests   *prometheus.CounterVec
}

func newServerMetrics(registerer prometheus.Registerer) (*serverMetrics, error) {
	metrics := &serverMetrics{
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "todoctl",
			Subsystem: "devapi",
			Name:      "auth_events_total",
			Help:      "Authentication events handled by the development API.",
		}, []string{"event"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "todoctl",
			Subsystem: "devapi",
			Name:      "http_requests_total",
			Help:      "HTTP requests served by the development API.",
		}, []string{"method", "route", "status"}),
	}
	for _, collector := range []prometheus.Collector{metrics.authEvents, metrics.requests} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return metrics, nil
}

func (metrics *serverMetrics) increment(event string) {
	metrics.authEvents.WithLabelValues(event).Inc()
}

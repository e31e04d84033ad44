package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry         *prometheus.Registry
	walletConnects   *prometheus.CounterVec
	contractCalls    *prometheus.CounterVec
	contractDuration *prometheus.HistogramVec
	replays          prometheus.Counter
	httpRequests     *prometheus.CounterVec
}

func newMetricsRegistry() *metricsRegistry {
	connects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultlend_wallet_connects_total",
		Help: "Wallet connect attempts by backend kind and result",
	}, []string{"kind", "result"})

	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultlend_contract_calls_total",
		Help: "Contract operations by name and result",
	}, []string{"operation", "result"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vaultlend_contract_call_duration_seconds",
		Help:    "Time spent in contract operations, including receipt waits",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 15, 30, 60, 120},
	}, []string{"operation"})

	replays := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vaultlend_idempotent_replays_total",
		Help: "Loan submissions answered from the idempotency store",
	})

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultlend_http_requests_total",
		Help: "HTTP requests by method and status code",
	}, []string{"method", "code"})

	r := prometheus.NewRegistry()
	r.MustRegister(connects, calls, duration, replays, requests)

	return &metricsRegistry{
		registry:         r,
		walletConnects:   connects,
		contractCalls:    calls,
		contractDuration: duration,
		replays:          replays,
		httpRequests:     requests,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incConnect(kind, result string) {
	m.walletConnects.WithLabelValues(kind, result).Inc()
}

func (m *metricsRegistry) observeCall(operation string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.contractCalls.WithLabelValues(operation, result).Inc()
	m.contractDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *metricsRegistry) incReplay() {
	m.replays.Inc()
}

func (m *metricsRegistry) incRequest(method, code string) {
	m.httpRequests.WithLabelValues(method, code).Inc()
}

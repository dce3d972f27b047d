// Package server Prometheus 指标导出
package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 包含所有 API Server 指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// 流水线指标
	RunsStartedTotal   prometheus.Counter
	RunsCompletedTotal *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
	StepsCompletedTotal *prometheus.CounterVec

	// 生成调用指标
	TokensConsumedTotal prometheus.Counter
	CacheLookupsTotal   *prometheus.CounterVec

	// 进度流指标
	StreamConnectionsActive prometheus.Gauge
}

// NewMetrics 创建指标实例
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		RunsStartedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total pipeline runs started",
			},
		),
		RunsCompletedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total pipeline runs finished, by terminal status",
			},
			[]string{"status"},
		),
		RunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Pipeline run duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"status"},
		),
		StepsCompletedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_completed_total",
				Help:      "Total pipeline steps finished, by agent kind and terminal status",
			},
			[]string{"agent_kind", "status"},
		),
		TokensConsumedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_consumed_total",
				Help:      "Total LLM tokens consumed against tenant budgets",
			},
		),
		CacheLookupsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_cache_lookups_total",
				Help:      "Generation response cache lookups, by outcome",
			},
			[]string{"outcome"},
		),
		StreamConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stream_connections_active",
				Help:      "Active progress stream WebSocket connections",
			},
		),
	}
}

// MetricsHandler 返回 Prometheus HTTP Handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// MetricsMiddleware 创建 HTTP 指标中间件
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		// 包装 ResponseWriter 以捕获状态码
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RecordRunStarted 记录 Run 启动
func (m *Metrics) RecordRunStarted() {
	m.RunsStartedTotal.Inc()
}

// RecordRunCompleted 记录 Run 终结
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	m.RunsCompletedTotal.WithLabelValues(status).Inc()
	m.RunDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStepCompleted 记录步骤终结及其 Token 消耗
func (m *Metrics) RecordStepCompleted(agentKind, status string, tokens int64) {
	m.StepsCompletedTotal.WithLabelValues(agentKind, status).Inc()
	if tokens > 0 {
		m.TokensConsumedTotal.Add(float64(tokens))
	}
}

// RecordCacheLookup 记录响应缓存命中情况
func (m *Metrics) RecordCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// responseWriter 包装 http.ResponseWriter 以捕获状态码
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath 规范化路径，将 ID 替换为占位符，避免高基数
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	// /api/v1/{resource}/{id}[/{sub}...]
	if len(parts) >= 5 && parts[1] == "api" && parts[2] == "v1" {
		parts[4] = "{id}"
		if len(parts) >= 7 && parts[5] == "versions" {
			parts[6] = "{version}"
		}
		return strings.Join(parts, "/")
	}
	return path
}

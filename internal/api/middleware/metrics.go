// metrics.go — Prometheus HTTP метрики File Relay.
// Регистрирует метрики: relay_http_requests_total, relay_http_request_duration_seconds.
// Бизнес-метрики (relay_transfers_active, relay_operations_total и др.)
// экспортируются отсюда и обновляются из сервисного слоя.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Общее количество HTTP-запросов к File Relay",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к File Relay в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Бизнес-метрики (экспортируются для обновления из сервисного слоя)
var (
	// TransfersActive — текущее количество живых трансферов (gauge).
	TransfersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_transfers_active",
			Help: "Текущее количество живых трансферов",
		},
	)

	// OperationsTotal — общее количество операций над трансферами.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_operations_total",
			Help: "Общее количество операций над трансферами",
		},
		[]string{"operation", "result"},
	)

	// BytesUploadedTotal — суммарный объём принятых данных.
	BytesUploadedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_bytes_uploaded_total",
			Help: "Суммарный объём принятых данных в байтах",
		},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (заменяем код и идентификатор файла на плейсхолдеры,
			// чтобы не раздувать кардинальность)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath заменяет код трансфера и идентификатор файла на
// плейсхолдеры {code} и {file_id}.
// /api/download/123456/a1b2... → /api/download/{code}/{file_id}
func normalizePath(path string) string {
	switch {
	case path == "/api/health" || path == "/health/live" || path == "/health/ready":
		return path
	case path == "/metrics" || path == "/api/upload":
		return path
	case strings.HasPrefix(path, "/api/transfer/"):
		if isCodeSegment(path[len("/api/transfer/"):]) {
			return "/api/transfer/{code}"
		}
	case strings.HasPrefix(path, "/api/download-all/"):
		if isCodeSegment(path[len("/api/download-all/"):]) {
			return "/api/download-all/{code}"
		}
	case strings.HasPrefix(path, "/api/download/"):
		rest := path[len("/api/download/"):]
		code, _, found := strings.Cut(rest, "/")
		if found && isCodeSegment(code) {
			return "/api/download/{code}/{file_id}"
		}
	}
	return path
}

// isCodeSegment проверяет, является ли сегмент шестизначным кодом.
func isCodeSegment(segment string) bool {
	if len(segment) != 6 {
		return false
	}
	for _, c := range segment {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

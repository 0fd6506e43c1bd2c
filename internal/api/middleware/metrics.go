// metrics.go — Prometheus HTTP метрики для Catalog Module.
// Метрики: cm_http_requests_total, cm_http_request_duration_seconds,
// cm_http_response_size_bytes, cm_http_requests_in_flight.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/catalog-module/internal/domain/model"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cm_http_requests_total",
			Help: "Общее количество HTTP-запросов к Catalog Module",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cm_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Catalog Module в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Бакеты от 256B до 64MB.
	httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cm_http_response_size_bytes",
			Help:    "Размер тела HTTP-ответов Catalog Module в байтах",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		},
		[]string{"method", "path"},
	)

	httpInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cm_http_requests_in_flight",
		Help: "Количество HTTP-запросов в обработке",
	})
)

// MetricsMiddleware собирает Prometheus метрики HTTP-запросов.
// Лейбл path нормализуется (normalizePath), чтобы UUID записей
// не раздували кардинальность.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httpInFlight.Inc()
			defer httpInFlight.Dec()

			start := time.Now()
			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			observe(r.Method, normalizePath(r.URL.Path), wrapped, time.Since(start))
		})
	}
}

func observe(method, path string, rw *responseWriter, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(rw.statusCode)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
	httpResponseSize.WithLabelValues(method, path).Observe(float64(rw.written))
}

// normalizePath приводит путь к шаблону маршрута для лейблов метрик:
// UUID заменяется на {id}, неизвестные коллекции — на {collection}.
// /api/v1/products/a1b2c3d4-... → /api/v1/products/{id}
func normalizePath(path string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics":
		return path
	}

	const prefix = "/api/v1/"
	if !strings.HasPrefix(path, prefix) {
		return "{other}"
	}

	segments := strings.Split(strings.TrimSuffix(strings.TrimPrefix(path, prefix), "/"), "/")
	if segments[0] == "auth" {
		if len(segments) == 2 {
			switch segments[1] {
			case "login", "logout", "password", "me":
				return path
			}
		}
		return prefix + "auth/{other}"
	}
	if _, ok := model.Lookup(segments[0]); !ok {
		segments[0] = "{collection}"
	}
	for i := 1; i < len(segments); i++ {
		if _, err := uuid.Parse(segments[i]); err == nil {
			segments[i] = "{id}"
		} else {
			segments[i] = "{invalid}"
		}
	}
	return prefix + strings.Join(segments, "/")
}

// health.go — health endpoints Catalog Module.
// /health/live — процесс жив; /health/ready — зависимости готовы;
// /metrics — Prometheus метрики.
package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/goartstore/catalog-module/internal/config"
)

const serviceName = "catalog-module"

// Статусы проверок готовности.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// ReadinessChecker — проверка готовности зависимости.
type ReadinessChecker interface {
	// Name — ключ зависимости в ответе readiness.
	Name() string
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	checkers    []ReadinessChecker
	promHandler http.Handler
	now         func() time.Time
}

// NewHealthHandler создаёт обработчик health endpoints.
// nil-проверки пропускаются: так отключаются необязательные зависимости
// (PostgreSQL при CM_STORE_BACKEND=memory, Keycloak без CM_KEYCLOAK_URL).
func NewHealthHandler(checkers ...ReadinessChecker) *HealthHandler {
	h := &HealthHandler{
		promHandler: promhttp.Handler(),
		now:         time.Now,
	}
	for _, c := range checkers {
		if c != nil {
			h.checkers = append(h.checkers, c)
		}
	}
	return h
}

type healthCheckResult struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

type healthReadyResponse struct {
	healthLiveResponse
	Checks map[string]healthCheckResult `json:"checks"`
}

func (h *HealthHandler) base(status string) healthLiveResponse {
	return healthLiveResponse{
		Status:    status,
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	}
}

// HealthLive — liveness probe. Всегда 200, пока процесс отвечает.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.base(statusOK))
}

// HealthReady — readiness probe. Проверки выполняются параллельно;
// 503, если хотя бы одна зависимость в состоянии fail.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	results := h.runChecks()

	statuses := make([]string, 0, len(results))
	for _, r := range results {
		statuses = append(statuses, r.Status)
	}

	resp := healthReadyResponse{
		healthLiveResponse: h.base(overallStatus(statuses...)),
		Checks:             results,
	}

	code := http.StatusOK
	if resp.Status == statusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// runChecks опрашивает все зависимости одновременно.
func (h *HealthHandler) runChecks() map[string]healthCheckResult {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]healthCheckResult, len(h.checkers))
	)
	for _, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			status, msg := c.CheckReady()
			res := healthCheckResult{
				Status:    status,
				Message:   msg,
				LatencyMS: time.Since(start).Milliseconds(),
			}
			mu.Lock()
			results[c.Name()] = res
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// overallStatus: fail, если есть fail; degraded, если есть degraded; иначе ok.
func overallStatus(statuses ...string) string {
	result := statusOK
	for _, s := range statuses {
		switch s {
		case statusFail:
			return statusFail
		case statusDegraded:
			result = statusDegraded
		}
	}
	return result
}

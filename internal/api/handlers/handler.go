// handler.go — основной обработчик API Catalog Module.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/goartstore/catalog-module/internal/api/errors"
	"github.com/bigkaa/goartstore/catalog-module/internal/domain/model"
	"github.com/bigkaa/goartstore/catalog-module/internal/service"
)

// APIHandler — основной обработчик API Catalog Module.
type APIHandler struct {
	health        *HealthHandler
	records       *service.RecordService
	accounts      *service.AccountService
	maxUploadSize int64
	cookieSecure  bool
	logger        *slog.Logger
}

// Options — параметры HTTP-слоя из конфигурации.
type Options struct {
	// MaxUploadSize — максимальный размер тела запроса (CM_MAX_UPLOAD_SIZE)
	MaxUploadSize int64
	// CookieSecure — флаг Secure у cookie jwt (CM_COOKIE_SECURE)
	CookieSecure bool
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	records *service.RecordService,
	accounts *service.AccountService,
	opts Options,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:        health,
		records:       records,
		accounts:      accounts,
		maxUploadSize: opts.MaxUploadSize,
		cookieSecure:  opts.CookieSecure,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError записывает ответ для ошибки сервисного слоя.
// Инфраструктурные и неожиданные ошибки логируются.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := apierrors.Classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Ошибка обработки запроса",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	apierrors.FromService(w, err)
}

// collectionFromRequest возвращает схему коллекции из URL-параметра
// {collection}. При ошибке ответ уже записан.
func (h *APIHandler) collectionFromRequest(w http.ResponseWriter, r *http.Request) (*model.Collection, bool) {
	name := chi.URLParam(r, "collection")
	coll, err := h.records.Collection(name)
	if err != nil {
		apierrors.NotFound(w, err.Error())
		return nil, false
	}
	return coll, true
}

// idFromRequest возвращает id из URL в канонической форме UUID.
// Некорректный id передаётся как есть: его отклонит сервисный слой.
func idFromRequest(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	if id, err := uuid.Parse(raw); err == nil {
		return id.String()
	}
	return raw
}

// queryInt разбирает целочисленный query-параметр. nil — параметр не задан.
func queryInt(r *http.Request, name string) (*int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, errors.New("параметр " + name + " должен быть целым числом")
	}
	return &v, nil
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(limit *int, offset *int) (int, int) {
	l := 100
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 1000 {
			l = 1000
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}

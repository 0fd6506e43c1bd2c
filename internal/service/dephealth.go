// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Catalog Module мониторит:
//   - PostgreSQL — SQL checker через существующий pgxpool (connection pool mode, critical);
//     не регистрируется при CM_STORE_BACKEND=memory
//   - Storage Element — HTTP checker к /health/live (critical)
//   - Keycloak — HTTP checker к realm endpoint (не critical), если задан CM_KEYCLOAK_URL
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker для SE и Keycloak
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"     // PostgreSQL checker (pool mode)
	"github.com/prometheus/client_golang/prometheus"
)

// Имена зависимостей в метриках.
const (
	depPostgres   = "postgresql"
	depAssetStore = "storage-element"
	depKeycloak   = "keycloak"
)

// DephealthConfig — параметры мониторинга зависимостей.
type DephealthConfig struct {
	// ServiceID — имя вершины графа текущего приложения
	ServiceID string
	// Group — имя группы в метриках (CM_DEPHEALTH_GROUP)
	Group string
	// DB — *sql.DB из pgxpool через stdlib.OpenDBFromPool(); nil — без PostgreSQL
	DB *sql.DB
	// PGConnURL — URL PostgreSQL для лейблов (не для подключения)
	PGConnURL string
	// AssetStoreURL — внутренний URL Storage Element
	AssetStoreURL string
	// KeycloakRealmURL — URL realm Keycloak; пустой — без Keycloak
	KeycloakRealmURL string
	// CheckInterval — интервал проверки (CM_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	deps   []string
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(cfg, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(cfg DephealthConfig, logger *slog.Logger, registerer prometheus.Registerer) (*DephealthService, error) {
	return newDephealthService(cfg, logger, dephealth.WithRegisterer(registerer))
}

// plannedDependencies возвращает имена зависимостей, которые будут мониториться.
func plannedDependencies(cfg DephealthConfig) []string {
	deps := make([]string, 0, 3)
	if cfg.DB != nil {
		deps = append(deps, depPostgres)
	}
	deps = append(deps, depAssetStore)
	if cfg.KeycloakRealmURL != "" {
		deps = append(deps, depKeycloak)
	}
	return deps
}

// splitHealthURL разделяет URL на базовый (scheme://host) и path для проверки.
// Пустой path заменяется на fallback.
func splitHealthURL(rawURL, fallback string) (base, path string) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL, fallback
	}
	path = strings.TrimRight(parsed.Path, "/")
	if path == "" {
		path = fallback
	}
	return parsed.Scheme + "://" + parsed.Host, path
}

// httpDepOptions формирует опции HTTP-зависимости.
func httpDepOptions(rawURL, healthPath string, critical bool, interval time.Duration) []dephealth.DependencyOption {
	base, path := splitHealthURL(rawURL, healthPath)
	opts := []dephealth.DependencyOption{
		dephealth.FromURL(base),
		dephealth.WithHTTPHealthPath(path),
		dephealth.CheckInterval(interval),
		dephealth.Critical(critical),
	}
	if strings.HasPrefix(base, "https://") {
		opts = append(opts, dephealth.WithHTTPTLSSkipVerify(false))
	}
	return opts
}

// newDephealthService — внутренний конструктор.
func newDephealthService(cfg DephealthConfig, logger *slog.Logger, extraOpts ...dephealth.Option) (*DephealthService, error) {
	opts := make([]dephealth.Option, 0, 4+len(extraOpts))
	opts = append(opts, dephealth.WithLogger(logger))

	if cfg.DB != nil {
		// PostgreSQL — connection pool mode через существующий pgxpool.
		opts = append(opts, dephealth.AddDependency(depPostgres, dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.DB)),
			dephealth.FromURL(cfg.PGConnURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		))
	}

	// Storage Element — без него невозможны create/update записей с ассетами.
	// Путь из URL не используется: SE отдаёт liveness только на /health/live.
	seBase, _ := splitHealthURL(cfg.AssetStoreURL, "")
	opts = append(opts, dephealth.HTTP(depAssetStore,
		httpDepOptions(seBase, "/health/live", true, cfg.CheckInterval)...))

	if cfg.KeycloakRealmURL != "" {
		// У Keycloak /health доступен только на management-порту,
		// поэтому проверяется публичный realm endpoint.
		opts = append(opts, dephealth.HTTP(depKeycloak,
			httpDepOptions(cfg.KeycloakRealmURL, "/", false, cfg.CheckInterval)...))
	}

	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		deps:   plannedDependencies(cfg),
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен",
		slog.String("dependencies", strings.Join(ds.deps, ", ")),
	)
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}

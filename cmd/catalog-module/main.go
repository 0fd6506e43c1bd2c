// Точка входа Catalog Module — сервис каталога записей системы Artstore.
// Загружает конфигурацию, подключает хранилище записей (PostgreSQL или
// память), клиент хранилища ассетов, создаёт сервисный слой и API handlers,
// запускает topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/catalog-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/catalog-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/catalog-module/internal/assetstore"
	"github.com/bigkaa/goartstore/catalog-module/internal/config"
	"github.com/bigkaa/goartstore/catalog-module/internal/database"
	"github.com/bigkaa/goartstore/catalog-module/internal/keycloak"
	"github.com/bigkaa/goartstore/catalog-module/internal/repository"
	"github.com/bigkaa/goartstore/catalog-module/internal/server"
	"github.com/bigkaa/goartstore/catalog-module/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Catalog Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("store_backend", cfg.StoreBackend),
	)

	if os.Getenv("CM_DEPHEALTH_GROUP") == "" {
		logger.Warn("CM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	ctx := context.Background()

	// 3. Хранилище записей
	var (
		store     repository.RecordStore
		pgDB      *sql.DB
		pgChecker handlers.ReadinessChecker
	)
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		logger.Warn("Хранилище записей в памяти: данные теряются при перезапуске")
		store = repository.NewMemoryStore()
	default:
		// 3.1 Применение миграций БД
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}

		// 3.2 Подключение к PostgreSQL (pgxpool)
		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		store = repository.NewRecordRepository(pool, repository.NewTxRunner(pool))
		pgChecker = database.NewReadinessChecker(pool)

		// 3.3 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
		pgDB = stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()
	}

	// 4. Авторизация в хранилище ассетов: Keycloak Client Credentials
	// или статический токен
	var (
		tokenProvider assetstore.TokenProvider
		kcChecker     handlers.ReadinessChecker
		kcRealmURL    string
	)
	switch {
	case cfg.KeycloakURL != "":
		kcClient := keycloak.New(
			cfg.KeycloakURL,
			cfg.KeycloakRealm,
			cfg.KeycloakClientID,
			cfg.KeycloakClientSecret,
			nil, // стандартный пул CA
			logger,
		)
		tokenProvider = kcClient.TokenProvider()
		kcChecker = kcClient
		kcRealmURL = strings.TrimRight(cfg.KeycloakURL, "/") + "/realms/" + cfg.KeycloakRealm
		logger.Info("Keycloak клиент создан",
			slog.String("url", cfg.KeycloakURL),
			slog.String("realm", cfg.KeycloakRealm),
		)
	case cfg.AssetStoreToken != "":
		tokenProvider = assetstore.StaticToken(cfg.AssetStoreToken)
	default:
		logger.Warn("Запросы к хранилищу ассетов выполняются без авторизации")
	}

	// 5. Клиент хранилища ассетов
	assets, err := assetstore.New(assetstore.Config{
		BaseURL:    cfg.AssetStoreURL,
		PublicURL:  cfg.AssetStorePublicURL,
		CACertPath: cfg.AssetStoreCACertPath,
		Timeout:    cfg.AssetStoreTimeout,
	}, tokenProvider, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента хранилища ассетов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Services
	cache := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL)
	recordsSvc := service.NewRecordService(
		store,
		assets,
		service.NewUniquenessGuard(store, logger),
		service.NewCascadeCoordinator(store, logger),
		cache,
		logger,
	)
	sessionsSvc := service.NewSessionService(cfg.JWTSecret, cfg.JWTIssuer, nil, logger)
	accountsSvc := service.NewAccountService(recordsSvc, store, sessionsSvc, cfg.BcryptCost, logger)

	// 7. API handler
	healthHandler := handlers.NewHealthHandler(pgChecker, assets, kcChecker)
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		recordsSvc,
		accountsSvc,
		handlers.Options{
			MaxUploadSize: cfg.MaxUploadSize,
			CookieSecure:  cfg.CookieSecure,
		},
		logger,
	)
	sessionAuth := middleware.NewSessionAuth(sessionsSvc, logger)

	// 8. topologymetrics — мониторинг зависимостей
	var dephealthSvc *service.DephealthService
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:        dephealthServiceID(),
		Group:            cfg.DephealthGroup,
		DB:               pgDB,
		PGConnURL:        cfg.DatabaseURL(),
		AssetStoreURL:    assets.BaseURL(),
		KeycloakRealmURL: kcRealmURL,
		CheckInterval:    cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 9. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, sessionAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 10. Graceful shutdown фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Catalog Module остановлен",
		slog.Int("cached_records", cache.Len()),
	)
}

// Суффиксы имён подов Kubernetes.
var (
	// deploymentSuffix — <replicaset-hash>-<pod-hash> у подов Deployment
	deploymentSuffix = regexp.MustCompile(`-[a-z0-9]{6,10}-[a-z0-9]{5}$`)
	// statefulSetSuffix — порядковый номер пода StatefulSet
	statefulSetSuffix = regexp.MustCompile(`-\d+$`)
)

// dephealthServiceID возвращает имя вершины графа зависимостей:
// имя владельца пода из hostname или "catalog-module".
func dephealthServiceID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "catalog-module"
	}
	return parseOwnerName(hostname)
}

// parseOwnerName извлекает имя Deployment или StatefulSet из имени пода.
// Имя без известного суффикса возвращается как есть.
func parseOwnerName(hostname string) string {
	if loc := deploymentSuffix.FindStringIndex(hostname); loc != nil {
		return hostname[:loc[0]]
	}
	if loc := statefulSetSuffix.FindStringIndex(hostname); loc != nil {
		return hostname[:loc[0]]
	}
	return hostname
}

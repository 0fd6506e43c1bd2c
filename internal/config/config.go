// Пакет config — загрузка и валидация конфигурации Catalog Module
// из переменных окружения.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые бэкенды хранилища записей.
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// minJWTSecretLen — минимальная длина секрета подписи сессионных токенов (HS256).
const minJWTSecretLen = 32

// Config содержит все параметры конфигурации Catalog Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8000-8009)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Максимальный размер multipart-запроса с вложениями, байт
	MaxUploadSize int64

	// --- Хранилище записей ---

	// Бэкенд хранилища записей: postgres или memory
	StoreBackend string

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Хранилище ассетов (Storage Element) ---

	// Внутренний URL Storage Element для загрузки и удаления
	AssetStoreURL string
	// Публичный URL Storage Element для ссылок на скачивание
	AssetStorePublicURL string
	// Путь к CA-сертификату для TLS-соединений (опционально)
	AssetStoreCACertPath string
	// Таймаут HTTP-запросов к Storage Element
	AssetStoreTimeout time.Duration
	// Статический Bearer-токен для Storage Element (опционально)
	AssetStoreToken string

	// --- Keycloak (опционально, Client Credentials для Storage Element) ---

	KeycloakURL          string
	KeycloakRealm        string
	KeycloakClientID     string
	KeycloakClientSecret string

	// --- Сессии ---

	// Секрет подписи сессионных токенов (HS256)
	JWTSecret string
	// Issuer сессионных токенов
	JWTIssuer string
	// Флаг Secure для cookie с токеном
	CookieSecure bool
	// Стоимость bcrypt при хешировании паролей
	BcryptCost int

	// --- Кэш записей ---

	// Максимальное количество записей в LRU-кэше
	CacheSize int
	// Время жизни записи в кэше
	CacheTTL time.Duration

	// --- topologymetrics ---

	// Группа в метриках зависимостей
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// CM_PORT — порт HTTP-сервера (по умолчанию 8000)
	if cfg.Port, err = envInt("CM_PORT", 8000); err != nil {
		return nil, err
	}
	if cfg.Port < 8000 || cfg.Port > 8009 {
		return nil, fmt.Errorf("CM_PORT: значение %d вне допустимого диапазона 8000-8009", cfg.Port)
	}

	if cfg.LogLevel, err = parseLogLevel(envOr("CM_LOG_LEVEL", "info")); err != nil {
		return nil, fmt.Errorf("CM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = envOr("CM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// CM_MAX_UPLOAD_SIZE — предел multipart-запроса (по умолчанию 32 MiB)
	maxUpload, err := envInt("CM_MAX_UPLOAD_SIZE", 32<<20)
	if err != nil {
		return nil, err
	}
	if maxUpload < 1 {
		return nil, fmt.Errorf("CM_MAX_UPLOAD_SIZE: значение %d должно быть положительным", maxUpload)
	}
	cfg.MaxUploadSize = int64(maxUpload)

	// --- Хранилище записей ---

	cfg.StoreBackend = envOr("CM_STORE_BACKEND", StoreBackendPostgres)
	switch cfg.StoreBackend {
	case StoreBackendPostgres:
		if err := loadPostgres(cfg); err != nil {
			return nil, err
		}
	case StoreBackendMemory:
		// PostgreSQL не нужен
	default:
		return nil, fmt.Errorf("CM_STORE_BACKEND: недопустимое значение %q, допустимые: postgres, memory", cfg.StoreBackend)
	}

	// --- Хранилище ассетов ---

	// CM_ASSET_STORE_URL — обязательный
	if cfg.AssetStoreURL, err = envRequired("CM_ASSET_STORE_URL"); err != nil {
		return nil, err
	}
	cfg.AssetStoreURL = strings.TrimRight(cfg.AssetStoreURL, "/")

	// CM_ASSET_STORE_PUBLIC_URL — по умолчанию совпадает с внутренним URL
	cfg.AssetStorePublicURL = strings.TrimRight(envOr("CM_ASSET_STORE_PUBLIC_URL", cfg.AssetStoreURL), "/")

	cfg.AssetStoreCACertPath = envOr("CM_ASSET_STORE_CA_CERT_PATH", "")

	if cfg.AssetStoreTimeout, err = envDuration("CM_ASSET_STORE_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	cfg.AssetStoreToken = envOr("CM_ASSET_STORE_TOKEN", "")

	// --- Keycloak ---

	cfg.KeycloakURL = strings.TrimRight(envOr("CM_KEYCLOAK_URL", ""), "/")
	cfg.KeycloakRealm = envOr("CM_KEYCLOAK_REALM", "artsore")
	cfg.KeycloakClientID = envOr("CM_KEYCLOAK_CLIENT_ID", "")
	cfg.KeycloakClientSecret = envOr("CM_KEYCLOAK_CLIENT_SECRET", "")
	if cfg.KeycloakURL != "" && (cfg.KeycloakClientID == "" || cfg.KeycloakClientSecret == "") {
		return nil, fmt.Errorf("CM_KEYCLOAK_URL задан, но CM_KEYCLOAK_CLIENT_ID или CM_KEYCLOAK_CLIENT_SECRET пусты")
	}
	if cfg.KeycloakURL != "" && cfg.AssetStoreToken != "" {
		return nil, fmt.Errorf("CM_ASSET_STORE_TOKEN и CM_KEYCLOAK_URL взаимоисключающие")
	}

	// --- Сессии ---

	// CM_JWT_SECRET — обязательный
	if cfg.JWTSecret, err = envRequired("CM_JWT_SECRET"); err != nil {
		return nil, err
	}
	if len(cfg.JWTSecret) < minJWTSecretLen {
		return nil, fmt.Errorf("CM_JWT_SECRET: длина %d меньше минимальной %d байт", len(cfg.JWTSecret), minJWTSecretLen)
	}

	cfg.JWTIssuer = envOr("CM_JWT_ISSUER", "catalog-module")

	if cfg.CookieSecure, err = envBool("CM_COOKIE_SECURE", false); err != nil {
		return nil, err
	}

	if cfg.BcryptCost, err = envInt("CM_BCRYPT_COST", 10); err != nil {
		return nil, err
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, fmt.Errorf("CM_BCRYPT_COST: значение %d вне допустимого диапазона 4-31", cfg.BcryptCost)
	}

	// --- Кэш записей ---

	if cfg.CacheSize, err = envInt("CM_CACHE_SIZE", 1000); err != nil {
		return nil, err
	}
	if cfg.CacheSize < 1 {
		return nil, fmt.Errorf("CM_CACHE_SIZE: значение %d должно быть положительным", cfg.CacheSize)
	}

	if cfg.CacheTTL, err = envDuration("CM_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = envOr("CM_DEPHEALTH_GROUP", "goartstore")

	if cfg.DephealthCheckInterval, err = envDuration("CM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, err
	}

	// --- Graceful shutdown ---

	if cfg.ShutdownTimeout, err = envDuration("CM_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

// sslModes — допустимые значения CM_DB_SSL_MODE.
var sslModes = []string{"disable", "require", "verify-ca", "verify-full"}

// loadPostgres загружает параметры подключения к PostgreSQL.
func loadPostgres(cfg *Config) error {
	required := []struct {
		key string
		dst *string
	}{
		{"CM_DB_HOST", &cfg.DBHost},
		{"CM_DB_NAME", &cfg.DBName},
		{"CM_DB_USER", &cfg.DBUser},
		{"CM_DB_PASSWORD", &cfg.DBPassword},
	}
	for _, r := range required {
		val, err := envRequired(r.key)
		if err != nil {
			return err
		}
		*r.dst = val
	}

	port, err := envInt("CM_DB_PORT", 5432)
	if err != nil {
		return err
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("CM_DB_PORT: значение %d вне диапазона 1-65535", port)
	}
	cfg.DBPort = port

	cfg.DBSSLMode = envOr("CM_DB_SSL_MODE", "disable")
	if !slices.Contains(sslModes, cfg.DBSSLMode) {
		return fmt.Errorf("CM_DB_SSL_MODE: недопустимое значение %q, допустимые: %s",
			cfg.DBSSLMode, strings.Join(sslModes, ", "))
	}
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без учётных данных.
// Используется для лейблов topologymetrics, не для подключения.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	logger := newLogger(cfg, os.Stdout)
	slog.SetDefault(logger)
	return logger
}

// newLogger создаёт логгер с атрибутами service и version.
// На уровне debug в записи добавляется место вызова.
func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: cfg.LogLevel <= slog.LevelDebug,
	}

	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With(
		slog.String("service", "catalog-module"),
		slog.String("version", Version),
	)
}

// --- Переменные окружения ---

// envOr возвращает значение переменной окружения или def, если она пуста.
func envOr(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// envRequired возвращает значение обязательной переменной окружения.
func envRequired(key string) (string, error) {
	if val := os.Getenv(key); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
}

// envParse разбирает переменную окружения функцией parse.
// Пустая переменная даёт def; ошибка разбора содержит имя переменной
// и подсказку hint.
func envParse[T any](key string, def T, parse func(string) (T, error), hint string) (T, error) {
	val := os.Getenv(key)
	if val == "" {
		return def, nil
	}
	v, err := parse(val)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: некорректное значение %q, ожидается %s", key, val, hint)
	}
	return v, nil
}

func envInt(key string, def int) (int, error) {
	return envParse(key, def, strconv.Atoi, "целое число")
}

func envBool(key string, def bool) (bool, error) {
	return envParse(key, def, strconv.ParseBool, "true или false")
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	return envParse(key, def, time.ParseDuration, "длительность в формате Go (30s, 1h, 15m)")
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

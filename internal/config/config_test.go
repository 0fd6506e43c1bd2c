package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// setEnvs устанавливает переменные окружения на время теста.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// minimalEnvs возвращает минимальный набор обязательных переменных.
func minimalEnvs() map[string]string {
	return map[string]string{
		"CM_DB_HOST":         "localhost",
		"CM_DB_NAME":         "catalog",
		"CM_DB_USER":         "catalog",
		"CM_DB_PASSWORD":     "secret",
		"CM_ASSET_STORE_URL": "http://se.kryukov.lan:8010",
		"CM_JWT_SECRET":      testSecret,
	}
}

func TestLoad_MinimalConfig(t *testing.T) {
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 8000 {
		t.Errorf("Port = %d, ожидается 8000", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидается Info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, ожидается json", cfg.LogFormat)
	}
	if cfg.StoreBackend != StoreBackendPostgres {
		t.Errorf("StoreBackend = %q, ожидается postgres", cfg.StoreBackend)
	}
	if cfg.DBPort != 5432 {
		t.Errorf("DBPort = %d, ожидается 5432", cfg.DBPort)
	}
	if cfg.DBSSLMode != "disable" {
		t.Errorf("DBSSLMode = %q, ожидается disable", cfg.DBSSLMode)
	}
	if cfg.AssetStorePublicURL != cfg.AssetStoreURL {
		t.Errorf("AssetStorePublicURL = %q, ожидается %q", cfg.AssetStorePublicURL, cfg.AssetStoreURL)
	}
	if cfg.AssetStoreTimeout != 30*time.Second {
		t.Errorf("AssetStoreTimeout = %v, ожидается 30s", cfg.AssetStoreTimeout)
	}
	if cfg.JWTIssuer != "catalog-module" {
		t.Errorf("JWTIssuer = %q, ожидается catalog-module", cfg.JWTIssuer)
	}
	if cfg.BcryptCost != 10 {
		t.Errorf("BcryptCost = %d, ожидается 10", cfg.BcryptCost)
	}
	if cfg.CacheSize != 1000 {
		t.Errorf("CacheSize = %d, ожидается 1000", cfg.CacheSize)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("CacheTTL = %v, ожидается 5m", cfg.CacheTTL)
	}
	if cfg.MaxUploadSize != 32<<20 {
		t.Errorf("MaxUploadSize = %d, ожидается %d", cfg.MaxUploadSize, 32<<20)
	}
	if cfg.DephealthGroup != "goartstore" {
		t.Errorf("DephealthGroup = %q, ожидается goartstore", cfg.DephealthGroup)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, ожидается 5s", cfg.ShutdownTimeout)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	envs := minimalEnvs()
	envs["CM_PORT"] = "8005"
	envs["CM_LOG_LEVEL"] = "debug"
	envs["CM_LOG_FORMAT"] = "text"
	envs["CM_ASSET_STORE_URL"] = "http://se-internal:8010/"
	envs["CM_ASSET_STORE_PUBLIC_URL"] = "https://files.kryukov.lan/"
	envs["CM_COOKIE_SECURE"] = "true"
	envs["CM_BCRYPT_COST"] = "4"
	envs["CM_CACHE_TTL"] = "1m"
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 8005 {
		t.Errorf("Port = %d, ожидается 8005", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, ожидается Debug", cfg.LogLevel)
	}
	if cfg.AssetStoreURL != "http://se-internal:8010" {
		t.Errorf("AssetStoreURL = %q, ожидается без завершающего слеша", cfg.AssetStoreURL)
	}
	if cfg.AssetStorePublicURL != "https://files.kryukov.lan" {
		t.Errorf("AssetStorePublicURL = %q", cfg.AssetStorePublicURL)
	}
	if !cfg.CookieSecure {
		t.Error("CookieSecure = false, ожидается true")
	}
	if cfg.BcryptCost != 4 {
		t.Errorf("BcryptCost = %d, ожидается 4", cfg.BcryptCost)
	}
	if cfg.CacheTTL != time.Minute {
		t.Errorf("CacheTTL = %v, ожидается 1m", cfg.CacheTTL)
	}
}

func TestLoad_MemoryBackendSkipsDatabase(t *testing.T) {
	setEnvs(t, map[string]string{
		"CM_STORE_BACKEND":   "memory",
		"CM_ASSET_STORE_URL": "http://se:8010",
		"CM_JWT_SECRET":      testSecret,
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	if cfg.StoreBackend != StoreBackendMemory {
		t.Errorf("StoreBackend = %q, ожидается memory", cfg.StoreBackend)
	}
	if cfg.DBHost != "" {
		t.Errorf("DBHost = %q, ожидается пустая строка", cfg.DBHost)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	requiredVars := []string{
		"CM_DB_HOST", "CM_DB_NAME", "CM_DB_USER", "CM_DB_PASSWORD",
		"CM_ASSET_STORE_URL", "CM_JWT_SECRET",
	}

	for _, missing := range requiredVars {
		t.Run(missing, func(t *testing.T) {
			envs := minimalEnvs()
			envs[missing] = ""
			setEnvs(t, envs)

			_, err := Load()
			if err == nil {
				t.Errorf("Load() не вернул ошибку при отсутствии %s", missing)
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"порт ниже диапазона", "CM_PORT", "7999"},
		{"порт выше диапазона", "CM_PORT", "8010"},
		{"порт не число", "CM_PORT", "abc"},
		{"уровень логирования", "CM_LOG_LEVEL", "verbose"},
		{"формат логов", "CM_LOG_FORMAT", "xml"},
		{"бэкенд", "CM_STORE_BACKEND", "mongo"},
		{"режим SSL", "CM_DB_SSL_MODE", "prefer"},
		{"короткий секрет", "CM_JWT_SECRET", "short"},
		{"bcrypt слишком мал", "CM_BCRYPT_COST", "3"},
		{"bcrypt слишком велик", "CM_BCRYPT_COST", "32"},
		{"размер кэша", "CM_CACHE_SIZE", "0"},
		{"длительность", "CM_CACHE_TTL", "abc"},
		{"булево", "CM_COOKIE_SECURE", "maybe"},
		{"размер загрузки", "CM_MAX_UPLOAD_SIZE", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs := minimalEnvs()
			envs[tt.key] = tt.value
			setEnvs(t, envs)

			_, err := Load()
			if err == nil {
				t.Errorf("Load() не вернул ошибку при %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_KeycloakRequiresCredentials(t *testing.T) {
	envs := minimalEnvs()
	envs["CM_KEYCLOAK_URL"] = "https://keycloak.kryukov.lan"
	setEnvs(t, envs)

	if _, err := Load(); err == nil {
		t.Error("Load() не вернул ошибку при CM_KEYCLOAK_URL без client_id/secret")
	}
}

func TestLoad_StaticTokenAndKeycloakExclusive(t *testing.T) {
	envs := minimalEnvs()
	envs["CM_KEYCLOAK_URL"] = "https://keycloak.kryukov.lan"
	envs["CM_KEYCLOAK_CLIENT_ID"] = "catalog-module"
	envs["CM_KEYCLOAK_CLIENT_SECRET"] = "kc-secret"
	envs["CM_ASSET_STORE_TOKEN"] = "static"
	setEnvs(t, envs)

	if _, err := Load(); err == nil {
		t.Error("Load() не вернул ошибку при одновременном CM_ASSET_STORE_TOKEN и CM_KEYCLOAK_URL")
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{
		DBHost:     "db.example.com",
		DBPort:     5433,
		DBName:     "testdb",
		DBUser:     "testuser",
		DBPassword: "testpass",
		DBSSLMode:  "require",
	}

	expected := "host=db.example.com port=5433 dbname=testdb user=testuser password=testpass sslmode=require"
	if dsn := cfg.DatabaseDSN(); dsn != expected {
		t.Errorf("DatabaseDSN() = %q, ожидается %q", dsn, expected)
	}
	if u := cfg.DatabaseURL(); u != "postgres://db.example.com:5433/testdb" {
		t.Errorf("DatabaseURL() = %q", u)
	}
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		name   string
		format string
	}{
		{"json", "json"},
		{"text", "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: slog.LevelDebug, LogFormat: tt.format}
			logger := SetupLogger(cfg)
			if logger == nil {
				t.Fatal("SetupLogger() вернул nil")
			}
		})
	}
}

func TestNewLoggerAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogLevel: slog.LevelInfo, LogFormat: "json"}, &buf)
	logger.Debug("не выводится")
	logger.Info("старт")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("ожидалась одна JSON-запись: %v (%q)", err, buf.String())
	}
	if entry["service"] != "catalog-module" || entry["version"] != Version {
		t.Errorf("атрибуты = %v", entry)
	}
	if _, ok := entry["source"]; ok {
		t.Error("source не ожидается на уровне info")
	}
}

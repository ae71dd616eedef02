// Пакет config — загрузка и валидация конфигурации сервиса
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Типы каталога метаданных.
const (
	CatalogMemory   = "memory"
	CatalogPostgres = "postgres"
)

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Путь к директории хранения блобов
	DataDir string
	// Путь к staging директории для входящих загрузок
	StagingDir string
	// Путь к директории WAL
	WALDir string
	// Тип каталога метаданных (memory, postgres)
	Catalog string

	// Параметры подключения к PostgreSQL (только Catalog=postgres)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// URL JWKS endpoint для проверки JWT (опционально; без него
	// сервис работает, но все запросы считаются неаутентифицированными)
	JWKSUrl string
	// Путь к CA-сертификату для проверки TLS JWKS endpoint (опционально)
	JWKSCACert string
	// Допуск на рассинхронизацию часов при проверке JWT
	JWTLeeway time.Duration
	// Интервал обновления ключей JWKS
	JWKSRefreshInterval time.Duration

	// Максимальный размер файла в байтах
	MaxFileSize int64
	// Максимальное количество файлов в одном пакете загрузки
	MaxUploadFiles int
	// Размер страницы списка по умолчанию
	DefaultPageSize int
	// Максимальный размер страницы списка
	MaxPageSize int

	// Размер LRU-кэша записей каталога
	CacheSize int
	// TTL записей кэша
	CacheTTL time.Duration

	// Интервал запуска janitor
	JanitorInterval time.Duration
	// Возраст, после которого staging файлы и осиротевшие блобы удаляются
	StagingTTL time.Duration

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// SS_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("SS_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("SS_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("SS_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// SS_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("SS_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// SS_STAGING_DIR — обязательный
	cfg.StagingDir, err = getEnvRequired("SS_STAGING_DIR")
	if err != nil {
		return nil, err
	}

	// SS_WAL_DIR — директория журнала (по умолчанию <SS_DATA_DIR>/.wal)
	cfg.WALDir = getEnvDefault("SS_WAL_DIR", filepath.Join(cfg.DataDir, ".wal"))

	// SS_CATALOG — тип каталога (по умолчанию memory)
	cfg.Catalog = getEnvDefault("SS_CATALOG", CatalogMemory)
	if cfg.Catalog != CatalogMemory && cfg.Catalog != CatalogPostgres {
		return nil, fmt.Errorf("SS_CATALOG: недопустимое значение %q, допустимые: memory, postgres", cfg.Catalog)
	}

	if cfg.Catalog == CatalogPostgres {
		// Параметры БД обязательны только для postgres каталога
		cfg.DBHost, err = getEnvRequired("SS_DB_HOST")
		if err != nil {
			return nil, err
		}
		cfg.DBPort, err = getEnvInt("SS_DB_PORT", 5432)
		if err != nil {
			return nil, fmt.Errorf("SS_DB_PORT: %w", err)
		}
		cfg.DBName, err = getEnvRequired("SS_DB_NAME")
		if err != nil {
			return nil, err
		}
		cfg.DBUser, err = getEnvRequired("SS_DB_USER")
		if err != nil {
			return nil, err
		}
		cfg.DBPassword, err = getEnvRequired("SS_DB_PASSWORD")
		if err != nil {
			return nil, err
		}
		cfg.DBSSLMode = getEnvDefault("SS_DB_SSL_MODE", "disable")
	}

	// SS_JWKS_URL — опциональный: без него аутентификация отключена
	cfg.JWKSUrl = getEnvDefault("SS_JWKS_URL", "")

	// SS_JWKS_CA_CERT — путь к CA-сертификату для JWKS endpoint (опционально)
	cfg.JWKSCACert = getEnvDefault("SS_JWKS_CA_CERT", "")

	// SS_JWT_LEEWAY — допуск при проверке exp/nbf (по умолчанию 30s)
	cfg.JWTLeeway, err = getEnvDuration("SS_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SS_JWT_LEEWAY: %w", err)
	}

	// SS_JWKS_REFRESH_INTERVAL — интервал обновления ключей (по умолчанию 5m)
	cfg.JWKSRefreshInterval, err = getEnvDuration("SS_JWKS_REFRESH_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SS_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// SS_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 1 GB)
	cfg.MaxFileSize, err = getEnvInt64("SS_MAX_FILE_SIZE", 1073741824)
	if err != nil {
		return nil, fmt.Errorf("SS_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("SS_MAX_FILE_SIZE: значение должно быть положительным")
	}

	// SS_MAX_UPLOAD_FILES — лимит пакета загрузки (по умолчанию 10)
	cfg.MaxUploadFiles, err = getEnvInt("SS_MAX_UPLOAD_FILES", 10)
	if err != nil {
		return nil, fmt.Errorf("SS_MAX_UPLOAD_FILES: %w", err)
	}
	if cfg.MaxUploadFiles < 1 {
		return nil, fmt.Errorf("SS_MAX_UPLOAD_FILES: значение должно быть положительным")
	}

	// SS_DEFAULT_PAGE_SIZE — размер страницы по умолчанию (по умолчанию 20)
	cfg.DefaultPageSize, err = getEnvInt("SS_DEFAULT_PAGE_SIZE", 20)
	if err != nil {
		return nil, fmt.Errorf("SS_DEFAULT_PAGE_SIZE: %w", err)
	}

	// SS_MAX_PAGE_SIZE — максимальный размер страницы (по умолчанию 100)
	cfg.MaxPageSize, err = getEnvInt("SS_MAX_PAGE_SIZE", 100)
	if err != nil {
		return nil, fmt.Errorf("SS_MAX_PAGE_SIZE: %w", err)
	}
	if cfg.DefaultPageSize < 1 || cfg.MaxPageSize < cfg.DefaultPageSize {
		return nil, fmt.Errorf("SS_MAX_PAGE_SIZE: значение %d должно быть >= SS_DEFAULT_PAGE_SIZE (%d)",
			cfg.MaxPageSize, cfg.DefaultPageSize)
	}

	// SS_CACHE_SIZE — размер LRU-кэша (по умолчанию 1024)
	cfg.CacheSize, err = getEnvInt("SS_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("SS_CACHE_SIZE: %w", err)
	}

	// SS_CACHE_TTL — TTL кэша (по умолчанию 1m)
	cfg.CacheTTL, err = getEnvDuration("SS_CACHE_TTL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SS_CACHE_TTL: %w", err)
	}

	// SS_JANITOR_INTERVAL — интервал janitor (по умолчанию 1h)
	cfg.JanitorInterval, err = getEnvDuration("SS_JANITOR_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("SS_JANITOR_INTERVAL: %w", err)
	}

	// SS_STAGING_TTL — возраст удаляемых остатков staging (по умолчанию 24h)
	cfg.StagingTTL, err = getEnvDuration("SS_STAGING_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("SS_STAGING_TTL: %w", err)
	}

	// SS_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("SS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("SS_LOG_LEVEL: %w", err)
	}

	// SS_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("SS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// SS_HTTP_READ_TIMEOUT — таймаут чтения запроса (по умолчанию 30s)
	cfg.HTTPReadTimeout, err = getEnvDuration("SS_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SS_HTTP_READ_TIMEOUT: %w", err)
	}

	// SS_HTTP_WRITE_TIMEOUT — таймаут записи ответа (по умолчанию 60s)
	cfg.HTTPWriteTimeout, err = getEnvDuration("SS_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SS_HTTP_WRITE_TIMEOUT: %w", err)
	}

	// SS_HTTP_IDLE_TIMEOUT — таймаут idle-соединений (по умолчанию 120s)
	cfg.HTTPIdleTimeout, err = getEnvDuration("SS_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SS_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// SS_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("SS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SS_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN формирует строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
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

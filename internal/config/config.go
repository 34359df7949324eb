// Пакет config — загрузка и валидация конфигурации сервиса
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// DefaultMaxFileSize — лимит размера загружаемого файла (5 MiB).
// Клиентская проверка в UI — косметическая; авторитетная проверка здесь.
const DefaultMaxFileSize = 5 << 20

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Путь к директории хранения оригинальных файлов
	DataDir string
	// Путь к файлу базы данных SQLite
	DBPath string
	// Максимальный размер загружаемого файла в байтах
	MaxFileSize int64
	// Имя колонки с меткой времени в загружаемых CSV
	TimeColumn string
	// Временная зона усечения корзин (IANA, например "Asia/Tokyo")
	Timezone *time.Location
	// Максимальное количество различных категорий до свёртки в "other"
	CategoryCap int
	// Таймаут вычисления summary
	SummaryTimeout time.Duration
	// Размер LRU-кэша результатов summary (0 — кэш выключен)
	CacheSize int
	// TTL записи кэша summary
	CacheTTL time.Duration
	// Подстроки имён колонок, запрещённых для group_by
	// (адресные/идентификаторные поля, например "_ip")
	ExcludedColumns []string
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// DD_PORT — порт HTTP-сервера (по умолчанию 8080)
	port, err := getEnvInt("DD_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("DD_PORT: %w", err)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("DD_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	// DD_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("DD_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// DD_DB_PATH — обязательный
	cfg.DBPath, err = getEnvRequired("DD_DB_PATH")
	if err != nil {
		return nil, err
	}

	// DD_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 5 MiB)
	maxFileSize, err := getEnvInt64("DD_MAX_FILE_SIZE", DefaultMaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("DD_MAX_FILE_SIZE: %w", err)
	}
	if maxFileSize <= 0 {
		return nil, fmt.Errorf("DD_MAX_FILE_SIZE: значение должно быть положительным")
	}
	cfg.MaxFileSize = maxFileSize

	// DD_TIME_COLUMN — имя колонки времени (по умолчанию "time_generated")
	cfg.TimeColumn = getEnvDefault("DD_TIME_COLUMN", "time_generated")

	// DD_TIMEZONE — зона усечения корзин (по умолчанию Asia/Tokyo)
	tzName := getEnvDefault("DD_TIMEZONE", "Asia/Tokyo")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("DD_TIMEZONE: неизвестная зона %q: %w", tzName, err)
	}
	cfg.Timezone = loc

	// DD_CATEGORY_CAP — лимит категорий (по умолчанию 50)
	categoryCap, err := getEnvInt("DD_CATEGORY_CAP", 50)
	if err != nil {
		return nil, fmt.Errorf("DD_CATEGORY_CAP: %w", err)
	}
	if categoryCap <= 0 {
		return nil, fmt.Errorf("DD_CATEGORY_CAP: значение должно быть положительным")
	}
	cfg.CategoryCap = categoryCap

	// DD_SUMMARY_TIMEOUT — таймаут агрегации (по умолчанию 30s)
	cfg.SummaryTimeout, err = getEnvDuration("DD_SUMMARY_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DD_SUMMARY_TIMEOUT: %w", err)
	}

	// DD_CACHE_SIZE — размер кэша summary (по умолчанию 128, 0 — выключен)
	cfg.CacheSize, err = getEnvInt("DD_CACHE_SIZE", 128)
	if err != nil {
		return nil, fmt.Errorf("DD_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize < 0 {
		return nil, fmt.Errorf("DD_CACHE_SIZE: значение не может быть отрицательным")
	}

	// DD_CACHE_TTL — TTL записи кэша (по умолчанию 5m)
	cfg.CacheTTL, err = getEnvDuration("DD_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DD_CACHE_TTL: %w", err)
	}

	// DD_EXCLUDED_COLUMNS — подстроки запрещённых для group_by колонок
	// (по умолчанию "_ip" — адресные поля с неограниченной кардинальностью)
	excluded := getEnvDefault("DD_EXCLUDED_COLUMNS", "_ip")
	for _, part := range strings.Split(excluded, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			cfg.ExcludedColumns = append(cfg.ExcludedColumns, part)
		}
	}

	// DD_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DD_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("DD_LOG_LEVEL: %w", err)
	}

	// DD_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("DD_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DD_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// DD_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("DD_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DD_SHUTDOWN_TIMEOUT: %w", err)
	}

	// Таймауты HTTP-сервера
	cfg.HTTPReadTimeout, err = getEnvDuration("DD_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DD_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("DD_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DD_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("DD_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DD_HTTP_IDLE_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// GroupByAllowed проверяет, допустима ли колонка как group_by:
// не колонка времени и не совпадает с запрещёнными подстроками.
func (c *Config) GroupByAllowed(column string) bool {
	if column == c.TimeColumn {
		return false
	}
	for _, pattern := range c.ExcludedColumns {
		if strings.Contains(column, pattern) {
			return false
		}
	}
	return true
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
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 5m, 1h)", val)
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

package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StorageDriver выбирает реализацию хранилища.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// PaymentMode выбирает реализацию платёжного шлюза.
type PaymentMode string

const (
	// PaymentModeSimulator — встроенный симулятор, внешних вызовов нет.
	PaymentModeSimulator PaymentMode = "simulator"
	// PaymentModeHTTP — HTTP-клиент внешнего платёжного сервиса.
	PaymentModeHTTP PaymentMode = "http"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	// RedisAddr включает кэш остатков; пустое значение — кэша нет.
	RedisAddr string

	// KafkaBrokers включает публикацию outbox в Kafka; пустой список —
	// события публикуются в лог.
	KafkaBrokers []string

	PaymentMode       PaymentMode
	PaymentGatewayURL string
	PaymentTimeout    time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	RecoveryInterval   time.Duration
	RecoveryStuckAfter time.Duration
	RecoveryBatchSize  int
}

// DefaultConfig возвращает конфигурацию для локального запуска в памяти.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		PaymentMode:    PaymentModeSimulator,
		PaymentTimeout: 5 * time.Second,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  5,
		OutboxRetryDelay:   200 * time.Millisecond,

		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		RecoveryInterval:   time.Minute,
		RecoveryStuckAfter: 5 * time.Minute,
		RecoveryBatchSize:  100,
	}
}

// LoadConfig читает конфигурацию из переменных окружения поверх значений
// по умолчанию.
func LoadConfig() Config {
	cfg := DefaultConfig()

	cfg.HTTPAddr = getenv("ECOM_HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = getenv("ECOM_METRICS_ADDR", cfg.MetricsAddr)

	cfg.StorageDriver = StorageDriver(getenv("ECOM_STORAGE_DRIVER", string(cfg.StorageDriver)))
	cfg.PostgresDSN = getenv("ECOM_POSTGRES_DSN", cfg.PostgresDSN)
	cfg.PostgresAutoMigrate = getBool("ECOM_POSTGRES_AUTO_MIGRATE", cfg.PostgresAutoMigrate)

	cfg.RedisAddr = getenv("ECOM_REDIS_ADDR", cfg.RedisAddr)
	cfg.KafkaBrokers = splitCSV(getenv("ECOM_KAFKA_BROKERS", strings.Join(cfg.KafkaBrokers, ",")))

	cfg.PaymentMode = PaymentMode(getenv("ECOM_PAYMENT_MODE", string(cfg.PaymentMode)))
	cfg.PaymentGatewayURL = getenv("ECOM_PAYMENT_GATEWAY_URL", cfg.PaymentGatewayURL)
	cfg.PaymentTimeout = getDuration("ECOM_PAYMENT_TIMEOUT", cfg.PaymentTimeout)

	cfg.OutboxPollInterval = getDuration("ECOM_OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	cfg.OutboxBatchSize = getInt("ECOM_OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxMaxAttempts = getInt("ECOM_OUTBOX_MAX_ATTEMPTS", cfg.OutboxMaxAttempts)
	cfg.OutboxRetryDelay = getDuration("ECOM_OUTBOX_RETRY_DELAY", cfg.OutboxRetryDelay)

	cfg.IdempotencyCleanupInterval = getDuration("ECOM_IDEMPOTENCY_CLEANUP_INTERVAL", cfg.IdempotencyCleanupInterval)
	cfg.IdempotencyCleanupBatchSize = getInt("ECOM_IDEMPOTENCY_CLEANUP_BATCH_SIZE", cfg.IdempotencyCleanupBatchSize)

	cfg.RecoveryInterval = getDuration("ECOM_RECOVERY_INTERVAL", cfg.RecoveryInterval)
	cfg.RecoveryStuckAfter = getDuration("ECOM_RECOVERY_STUCK_AFTER", cfg.RecoveryStuckAfter)
	cfg.RecoveryBatchSize = getInt("ECOM_RECOVERY_BATCH_SIZE", cfg.RecoveryBatchSize)

	return cfg
}

// Validate проверяет согласованность конфигурации до запуска.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("storage driver %q requires ECOM_POSTGRES_DSN", c.StorageDriver)
		}
	default:
		return fmt.Errorf("unsupported storage driver: %q", c.StorageDriver)
	}

	switch c.PaymentMode {
	case PaymentModeSimulator:
	case PaymentModeHTTP:
		if strings.TrimSpace(c.PaymentGatewayURL) == "" {
			return fmt.Errorf("payment mode %q requires ECOM_PAYMENT_GATEWAY_URL", c.PaymentMode)
		}
	default:
		return fmt.Errorf("unsupported payment mode: %q", c.PaymentMode)
	}

	return nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

func getInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return parsed
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

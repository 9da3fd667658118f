package app

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/khazin/ecom-core/internal/domain"
	"github.com/khazin/ecom-core/internal/service/payment"
	"github.com/khazin/ecom-core/internal/storage/memory"
	"github.com/khazin/ecom-core/internal/storage/postgres"
	redisstore "github.com/khazin/ecom-core/internal/storage/redis"
)

// Dependencies содержит хранилища и внешние клиенты приложения.
type Dependencies struct {
	Orders      domain.OrderStore
	Products    domain.ProductStore
	Workflows   domain.WorkflowRepository
	Idempotency domain.IdempotencyRepository
	Outbox      domain.OutboxRepository
	Payments    domain.PaymentGateway

	// Store не nil только при postgres-драйвере.
	Store *postgres.Store
	// Redis не nil только при включённых кэшах остатков и idempotency-ключей.
	Redis *goredis.Client

	Logger *log.Entry
}

// Close освобождает подключения в обратном порядке инициализации.
func (d *Dependencies) Close() {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close redis client")
		}
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}

// NewDependencies собирает зависимости по конфигурации.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{Logger: logger}

	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		deps.Store = store

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				deps.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}

		deps.Orders = postgres.NewOrderStore(store)
		deps.Products = postgres.NewProductStore(store)
		deps.Workflows = postgres.NewWorkflowRepository(store)
		deps.Idempotency = postgres.NewIdempotencyRepository(store)
		deps.Outbox = postgres.NewOutboxRepository(store)
		logger.Info("storage driver: postgres")
	case StorageDriverMemory:
		products := memory.NewProductStore()
		seedDemoCatalog(ctx, products, logger)
		deps.Orders = memory.NewOrderStore()
		deps.Products = products
		deps.Workflows = memory.NewWorkflowRepository()
		deps.Idempotency = memory.NewIdempotencyRepository()
		deps.Outbox = memory.NewOutboxRepository()
		logger.Info("storage driver: memory")
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.StorageDriver)
	}

	if cfg.RedisAddr != "" {
		client := redisstore.New(cfg.RedisAddr)
		if err := redisstore.Ping(ctx, client); err != nil {
			logger.WithError(err).Warn("redis is not reachable, continuing without stock cache")
			_ = client.Close()
		} else {
			deps.Redis = client
			deps.Products = redisstore.NewStockCache(deps.Products, client, logger.WithField("component", "stock-cache"))
			deps.Idempotency = redisstore.NewIdempotencyCache(deps.Idempotency, client, logger.WithField("component", "idem-cache"))
			logger.WithField("addr", cfg.RedisAddr).Info("stock and idempotency caches enabled")
		}
	}

	switch cfg.PaymentMode {
	case PaymentModeHTTP:
		deps.Payments = payment.NewHTTPClient(cfg.PaymentGatewayURL, cfg.PaymentTimeout, logger.WithField("component", "payment-gateway"))
		logger.WithField("url", cfg.PaymentGatewayURL).Info("payment mode: http")
	case PaymentModeSimulator:
		deps.Payments = payment.NewSimulator(logger.WithField("component", "payment-simulator"))
		logger.Info("payment mode: simulator")
	default:
		deps.Close()
		return nil, fmt.Errorf("unsupported payment mode: %q", cfg.PaymentMode)
	}

	return deps, nil
}

type productPutter interface {
	Put(ctx context.Context, product domain.Product) error
}

// seedDemoCatalog наполняет память демонстрационным каталогом, чтобы
// локальный запуск был пригоден для ручной проверки сразу.
func seedDemoCatalog(ctx context.Context, store productPutter, logger *log.Entry) {
	now := time.Now().UTC()
	catalog := []domain.Product{
		{ID: "kb-01", Name: "Клавиатура", PriceMinor: 120000, Description: "Механическая, раскладка ANSI", Stock: 25, Category: "периферия"},
		{ID: "ms-01", Name: "Мышь", PriceMinor: 50000, Description: "Беспроводная", Stock: 40, Category: "периферия"},
		{ID: "mn-01", Name: "Монитор", PriceMinor: 900000, Description: "27 дюймов, IPS", Stock: 10, Category: "мониторы"},
		{ID: "hd-01", Name: "Наушники", PriceMinor: 250000, Description: "Закрытые, с микрофоном", Stock: 15, Category: "аудио"},
	}

	for _, product := range catalog {
		product.CreatedAt = now
		product.UpdatedAt = now
		if err := store.Put(ctx, product); err != nil {
			logger.WithError(err).WithField("product_id", product.ID).Warn("failed to seed demo product")
		}
	}
	logger.WithField("products", len(catalog)).Info("demo catalog seeded")
}

package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/khazin/ecom-core/internal/domain"
)

// decrementStockScript атомарно списывает quantity из счётчика, если
// значения хватает. Возвращает 1 при успехе, 0 при нехватке, -1 если
// счётчик отсутствует (кэш холодный).
var decrementStockScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
	return -1
end
if tonumber(current) >= tonumber(ARGV[1]) then
	redis.call('DECRBY', KEYS[1], ARGV[1])
	return 1
end
return 0
`)

// StockCache оборачивает ProductStore счётчиками остатков в Redis.
// Кэш служит заслоном перед базой на горячем пути списания: явный
// отказ по кэшированному счётчику не доходит до PostgreSQL. Источником
// истины остаётся база, любая ошибка Redis деградирует в прямой вызов.
type StockCache struct {
	inner  domain.ProductStore
	client *redis.Client
	logger log.FieldLogger
}

// NewStockCache создаёт кэширующий декоратор поверх хранилища товаров.
func NewStockCache(inner domain.ProductStore, client *redis.Client, logger log.FieldLogger) *StockCache {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &StockCache{inner: inner, client: client, logger: logger}
}

func (c *StockCache) Get(ctx context.Context, id string) (domain.Product, error) {
	product, err := c.inner.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	c.prime(ctx, product.ID, product.Stock)
	return product, nil
}

func (c *StockCache) CheckStock(ctx context.Context, id string, qty int32) (bool, error) {
	cached, err := c.client.Get(ctx, stockKey(id)).Int()
	if err == nil {
		return int32(cached) >= qty, nil
	}
	if !errors.Is(err, redis.Nil) {
		c.logger.WithError(err).WithField("product_id", id).Warn("stock cache read failed, falling back to store")
	}
	return c.inner.CheckStock(ctx, id, qty)
}

// ReduceStock сначала пробует списать из кэшированного счётчика.
// Отказ кэша окончателен, успех кэша всё равно подтверждается базой,
// при ошибке базы списание в кэше возвращается обратно.
func (c *StockCache) ReduceStock(ctx context.Context, id string, qty int32) error {
	if qty <= 0 {
		return domain.ErrQtyInvalid
	}

	verdict, err := decrementStockScript.Run(ctx, c.client, []string{stockKey(id)}, qty).Int()
	if err != nil {
		c.logger.WithError(err).WithField("product_id", id).Warn("stock cache decrement failed, falling back to store")
		return c.inner.ReduceStock(ctx, id, qty)
	}

	switch verdict {
	case 0:
		return domain.ErrInsufficientStock
	case 1:
		if err := c.inner.ReduceStock(ctx, id, qty); err != nil {
			c.refund(ctx, id, qty)
			return err
		}
		return nil
	default:
		// Холодный кэш: списываем в базе и прогреваем счётчик.
		if err := c.inner.ReduceStock(ctx, id, qty); err != nil {
			return err
		}
		if product, err := c.inner.Get(ctx, id); err == nil {
			c.prime(ctx, id, product.Stock)
		}
		return nil
	}
}

func (c *StockCache) RestoreStock(ctx context.Context, id string, qty int32) error {
	if err := c.inner.RestoreStock(ctx, id, qty); err != nil {
		return err
	}
	c.refund(ctx, id, qty)
	return nil
}

func (c *StockCache) List(ctx context.Context, filter domain.ProductFilter, sort domain.ProductSort, page domain.Page) ([]domain.Product, int, error) {
	return c.inner.List(ctx, filter, sort, page)
}

// prime записывает счётчик через SET NX: уже идущие списания не
// затираются устаревшим значением.
func (c *StockCache) prime(ctx context.Context, id string, stock int32) {
	if err := c.client.SetNX(ctx, stockKey(id), int64(stock), stockTTL).Err(); err != nil {
		c.logger.WithError(err).WithField("product_id", id).Warn("stock cache prime failed")
	}
}

// refund возвращает qty в счётчик, только если он ещё в кэше.
func (c *StockCache) refund(ctx context.Context, id string, qty int32) {
	key := stockKey(id)
	exists, err := c.client.Exists(ctx, key).Result()
	if err != nil || exists == 0 {
		return
	}
	if err := c.client.IncrBy(ctx, key, int64(qty)).Err(); err != nil {
		c.logger.WithError(err).WithField("product_id", id).Warn("stock cache refund failed")
	}
}

var _ domain.ProductStore = (*StockCache)(nil)

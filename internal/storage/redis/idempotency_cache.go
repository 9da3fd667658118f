package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/khazin/ecom-core/internal/domain"
)

// IdempotencyCache оборачивает IdempotencyRepository маркерами занятых
// ключей в Redis. SET NX с TTL служит быстрым заслоном перед базой:
// повтор с другим телом отбивается по кэшированному хешу, не доходя до
// PostgreSQL. Источником истины остаётся база, любая ошибка Redis
// деградирует в прямой вызов.
type IdempotencyCache struct {
	inner  domain.IdempotencyRepository
	client *redis.Client
	logger log.FieldLogger
}

// NewIdempotencyCache создаёт кэширующий декоратор поверх хранилища
// idempotency-ключей.
func NewIdempotencyCache(inner domain.IdempotencyRepository, client *redis.Client, logger log.FieldLogger) *IdempotencyCache {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &IdempotencyCache{inner: inner, client: client, logger: logger}
}

var _ domain.IdempotencyRepository = (*IdempotencyCache)(nil)

// CreateProcessing сперва пробует занять маркер в Redis. Занятый маркер
// с другим хешем — немедленный отказ; во всех остальных случаях решение
// остаётся за базой: она различает повтор, перехват failed-ключа и
// ещё идущую обработку.
func (c *IdempotencyCache) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	ttl := idemMarkerTTL
	if !ttlAt.IsZero() {
		if until := time.Until(ttlAt); until > 0 {
			ttl = until
		}
	}

	reserved, err := c.client.SetNX(ctx, idemKey(key), requestHash, ttl).Result()
	if err != nil {
		c.logger.WithError(err).WithField("idempotency_key", key).Warn("idempotency marker write failed, falling back to store")
		return c.inner.CreateProcessing(ctx, key, requestHash, ttlAt)
	}

	if !reserved {
		cached, err := c.client.Get(ctx, idemKey(key)).Result()
		if err == nil && cached != requestHash {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyHashMismatch
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("idempotency_key", key).Warn("idempotency marker read failed, falling back to store")
		}
		return c.inner.CreateProcessing(ctx, key, requestHash, ttlAt)
	}

	record, err := c.inner.CreateProcessing(ctx, key, requestHash, ttlAt)
	if err != nil {
		// Резерв в базе не состоялся: маркер снимается, чтобы не
		// расходиться с источником истины.
		c.drop(ctx, key)
	}
	return record, err
}

func (c *IdempotencyCache) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	return c.inner.Get(ctx, key)
}

func (c *IdempotencyCache) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return c.inner.MarkDone(ctx, key, responseBody, httpStatus)
}

// MarkFailed снимает маркер: failed-ключ перехватывается повторным
// запросом заново, кэш не должен его заслонять.
func (c *IdempotencyCache) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	if err := c.inner.MarkFailed(ctx, key, responseBody, httpStatus); err != nil {
		return err
	}
	c.drop(ctx, key)
	return nil
}

func (c *IdempotencyCache) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	// Маркеры в Redis истекают по собственному TTL.
	return c.inner.DeleteExpired(ctx, before, limit)
}

func (c *IdempotencyCache) drop(ctx context.Context, key string) {
	if err := c.client.Del(ctx, idemKey(key)).Err(); err != nil {
		c.logger.WithError(err).WithField("idempotency_key", key).Warn("idempotency marker delete failed")
	}
}

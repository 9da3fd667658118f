package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultDialTimeout = 2 * time.Second
	defaultOpTimeout   = 2 * time.Second
)

// New создаёт клиент Redis с короткими таймаутами: кэш не должен
// задерживать горячий путь дольше пары секунд.
func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultOpTimeout,
		WriteTimeout: defaultOpTimeout,
	})
}

// Ping проверяет доступность Redis.
func Ping(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	return client.Ping(ctx).Err()
}

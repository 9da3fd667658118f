package redis

import "time"

const (
	// stockKeyPrefix — счётчики остатков: stock:{product_id} -> int.
	stockKeyPrefix = "stock:"
	// idemKeyPrefix — маркеры занятых idempotency-ключей: idem:{key} -> hash.
	idemKeyPrefix = "idem:"
)

var (
	// stockTTL ограничивает дрейф кэшированного счётчика относительно базы.
	stockTTL = 5 * time.Minute
	// idemMarkerTTL страхует маркеры, у которых срок записи не задан.
	idemMarkerTTL = 24 * time.Hour
)

func stockKey(productID string) string {
	return stockKeyPrefix + productID
}

func idemKey(key string) string {
	return idemKeyPrefix + key
}

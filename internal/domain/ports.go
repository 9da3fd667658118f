package domain

import (
	"context"
	"time"
)

// ProductStore описывает хранилище товаров.
type ProductStore interface {
	// Get возвращает товар по идентификатору или ErrProductNotFound.
	Get(ctx context.Context, id string) (Product, error)
	// CheckStock проверяет наличие qty единиц товара. Проверка является
	// консультативной: единственная гарантия против гонок — ReduceStock.
	CheckStock(ctx context.Context, id string, qty int32) (bool, error)
	// ReduceStock атомарно списывает qty единиц: один условный декремент
	// без окна между проверкой и записью. Возвращает ErrInsufficientStock,
	// если стока не хватает, сток никогда не уходит в минус.
	ReduceStock(ctx context.Context, id string, qty int32) error
	// RestoreStock возвращает qty единиц на склад (компенсация).
	RestoreStock(ctx context.Context, id string, qty int32) error
	// List возвращает страницу каталога и общее число записей под фильтром.
	List(ctx context.Context, filter ProductFilter, sort ProductSort, page Page) ([]Product, int, error)
}

// OrderStore описывает хранилище заказов.
type OrderStore interface {
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// Create сохраняет новый заказ в статусе pending.
	Create(ctx context.Context, order Order) error
	// UpdateStatus переводит заказ from→to, атомарно проверяя текущий
	// статус и таблицу переходов. ErrInvalidTransition для запрещённых
	// переходов, ErrOrderVersionConflict при проигранном CAS.
	UpdateStatus(ctx context.Context, id string, from, to OrderStatus) error
	// List возвращает страницу заказов и общее число записей под фильтром.
	List(ctx context.Context, filter OrderFilter, sort OrderSort, page Page) ([]Order, int, error)
}

// PaymentGateway описывает внешний платёжный шлюз.
type PaymentGateway interface {
	// Authorize пытается авторизовать платёж. Отказ шлюза — это
	// (Success=false, nil), ошибка транспорта — ErrStoreUnavailable.
	Authorize(ctx context.Context, req PaymentRequest) (PaymentResult, error)
}

// WorkflowRepository хранит журнал запусков оркестратора.
type WorkflowRepository interface {
	Create(ctx context.Context, run WorkflowRun) error
	Update(ctx context.Context, run WorkflowRun) error
	Get(ctx context.Context, id string) (WorkflowRun, error)
	// ListStuck возвращает запуски в состоянии running, не обновлявшиеся
	// с момента olderThan — кандидаты на компенсацию recovery-воркером.
	ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]WorkflowRun, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

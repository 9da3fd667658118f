package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = errors.New("product_id is required")
	// Ошибка отсутствующего имени товара.
	ErrProductNameRequired = errors.New("product name is required")
	// Ошибка при некорректном количестве (<= 0).
	ErrQtyInvalid = errors.New("qty must be greater than zero")
	// Ошибка отрицательной цены.
	ErrPriceNegative = errors.New("price_minor must be non-negative")
	// Ошибка отрицательного стока.
	ErrStockNegative = errors.New("stock must be non-negative")
	// Ошибка несоответствия суммы заказа цене на момент создания.
	ErrTotalMismatch = errors.New("order total does not match price at creation time")
	// Ошибка переполнения при вычислении суммы заказа.
	ErrTotalOverflow = errors.New("order total overflows int64")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка отрицательной суммы платежа.
	ErrPaymentAmountNegative = errors.New("payment amount must be non-negative")
	// Ошибка отсутствующего номера карты.
	ErrCardNumberRequired = errors.New("card number is required")

	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductNotFound возвращается, если товар не найден в хранилище.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock — стока не хватает: либо предварительная проверка,
	// либо проигранная гонка на атомарном списании.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStockReductionFailed — списание сорвалось уже после создания заказа;
	// заказ остаётся в failed_stock, для вызывающего это ошибка сервера.
	ErrStockReductionFailed = errors.New("stock reduction failed after order creation")
	// ErrPaymentDeclined — платёж отклонён шлюзом (бизнес-ошибка).
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrStoreUnavailable — временная недоступность хранилища или шлюза; можно повторить.
	ErrStoreUnavailable = errors.New("downstream store unavailable")
	// ErrInvalidStatus — статус вне закрытого набора.
	ErrInvalidStatus = errors.New("invalid order status")
	// ErrInvalidTransition — переход статуса отсутствует в таблице переходов.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrWorkflowNotFound — запись журнала сценария не найдена.
	ErrWorkflowNotFound = errors.New("workflow run not found")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже занят (ответ нужно взять из кеша).
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyKeyNotFound — запись по ключу отсутствует.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyHashMismatch — ключ повторно использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency request hash mismatch")
)

// IsRetryable проверяет, можно ли повторить операцию после ошибки.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

package domain

import "time"

// OrderStatus описывает жизненный цикл заказа. Набор закрыт:
// любые переходы проверяются по таблице transitions.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, оплата и списание стока ещё не выполнены.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing — оплата авторизована, идёт списание стока.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusCompleted — заказ полностью выполнен (терминальный).
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusFailedStock — списание стока не удалось после создания заказа (терминальный).
	OrderStatusFailedStock OrderStatus = "failed_stock"
	// OrderStatusFailedPayment — оплата не подтверждена после создания заказа (терминальный).
	OrderStatusFailedPayment OrderStatus = "failed_payment"
)

// transitions — полная таблица допустимых переходов статуса.
// Терминальные статусы не имеют исходящих переходов.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {
		OrderStatusProcessing,
		OrderStatusCompleted,
		OrderStatusFailedStock,
		OrderStatusFailedPayment,
	},
	OrderStatusProcessing: {
		OrderStatusCompleted,
		OrderStatusFailedStock,
	},
	OrderStatusCompleted:     {},
	OrderStatusFailedStock:   {},
	OrderStatusFailedPayment: {},
}

// Valid проверяет, что статус входит в закрытый набор.
func (s OrderStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal сообщает, является ли статус конечным.
func (s OrderStatus) Terminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// CanTransition проверяет переход from→to по таблице.
func CanTransition(from, to OrderStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// OrderTotal вычисляет сумму заказа с защитой от переполнения int64.
func OrderTotal(qty int32, priceMinor int64) (int64, error) {
	if qty <= 0 {
		return 0, ErrQtyInvalid
	}
	if priceMinor < 0 {
		return 0, ErrPriceNegative
	}
	total := int64(qty) * priceMinor
	if priceMinor != 0 && total/priceMinor != int64(qty) {
		return 0, ErrTotalOverflow
	}
	return total, nil
}

// Order агрегирует состояние заказа на один товар.
type Order struct {
	ID        string
	ProductID string
	Qty       int32
	// PriceMinor — цена за единицу в минимальных единицах, зафиксированная при создании.
	PriceMinor int64
	// TotalMinor — итоговая сумма заказа; всегда PriceMinor*Qty, после создания не пересчитывается.
	TotalMinor int64
	Status     OrderStatus
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Transition переводит заказ в новый статус, проверяя таблицу переходов.
func (o *Order) Transition(to OrderStatus) error {
	if !to.Valid() {
		return ErrInvalidStatus
	}
	if !CanTransition(o.Status, to) {
		return ErrInvalidTransition
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.ProductID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if o.Qty <= 0 {
		errs = append(errs, ErrQtyInvalid)
	}
	if o.PriceMinor < 0 {
		errs = append(errs, ErrPriceNegative)
	}
	// Сумма заказа обязана совпадать с ценой на момент создания, умноженной на количество.
	if o.TotalMinor != int64(o.Qty)*o.PriceMinor {
		errs = append(errs, ErrTotalMismatch)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrInvalidStatus)
	}

	return errs
}

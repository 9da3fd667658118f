package domain

import "time"

// WorkflowKind различает точки входа оркестратора.
type WorkflowKind string

const (
	// WorkflowKindPlaceOrder — расширенное оформление заказа (check stock → pay → create → reduce).
	WorkflowKindPlaceOrder WorkflowKind = "place_order"
	// WorkflowKindConfirmPayment — подтверждение оплаты отложенного (pending) заказа.
	WorkflowKindConfirmPayment WorkflowKind = "confirm_payment"
)

// WorkflowStep — шаг многошагового сценария. Шаг фиксируется в журнале
// до выполнения, чтобы падение процесса оставляло восстановимый след.
type WorkflowStep string

const (
	WorkflowStepStockCheck    WorkflowStep = "stock_check"
	WorkflowStepPriceLookup   WorkflowStep = "price_lookup"
	WorkflowStepAuthorize     WorkflowStep = "authorize"
	WorkflowStepCreateOrder   WorkflowStep = "create_order"
	WorkflowStepMarkProcess   WorkflowStep = "mark_processing"
	WorkflowStepReduceStock   WorkflowStep = "reduce_stock"
	WorkflowStepComplete      WorkflowStep = "complete"
	WorkflowStepCompensate    WorkflowStep = "compensate"
)

// WorkflowState — агрегатное состояние запуска сценария.
type WorkflowState string

const (
	// WorkflowStateRunning — сценарий выполняется; зависший running подхватывает recovery.
	WorkflowStateRunning WorkflowState = "running"
	// WorkflowStateCompleted — сценарий дошёл до терминального успеха.
	WorkflowStateCompleted WorkflowState = "completed"
	// WorkflowStateCompensated — частично выполненный сценарий закрыт компенсацией.
	WorkflowStateCompensated WorkflowState = "compensated"
	// WorkflowStateFailed — сценарий прерван до каких-либо мутаций.
	WorkflowStateFailed WorkflowState = "failed"
)

// WorkflowRun — персистентная запись одного запуска оркестратора.
// OrderID пуст до шага create_order.
type WorkflowRun struct {
	ID        string
	Kind      WorkflowKind
	OrderID   string
	ProductID string
	Qty       int32
	Step      WorkflowStep
	State     WorkflowState
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active сообщает, требует ли запуск дальнейших действий (recovery).
func (r *WorkflowRun) Active() bool {
	return r.State == WorkflowStateRunning
}

// Advance фиксирует переход на следующий шаг.
func (r *WorkflowRun) Advance(step WorkflowStep) {
	r.Step = step
	r.UpdatedAt = time.Now().UTC()
}

// Finish закрывает запуск с итоговым состоянием.
func (r *WorkflowRun) Finish(state WorkflowState, lastErr error) {
	r.State = state
	if lastErr != nil {
		r.LastError = lastErr.Error()
	}
	r.UpdatedAt = time.Now().UTC()
}

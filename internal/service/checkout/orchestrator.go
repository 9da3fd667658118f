package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/khazin/ecom-core/internal/domain"
	"github.com/khazin/ecom-core/internal/metrics"
	"github.com/khazin/ecom-core/internal/service/retry"
)

const (
	// stepTimeout ограничивает каждый удалённый вызов оркестратора.
	stepTimeout = 5 * time.Second
)

// PlaceOrderCommand — входные данные расширенного оформления заказа.
type PlaceOrderCommand struct {
	ProductID string
	Qty       int32
	Card      domain.PaymentCard
}

// Orchestrator проводит многошаговые сценарии заказа. Каждый шаг
// фиксируется в журнале WorkflowRun до выполнения: после падения
// процесса recovery-воркер по журналу доводит запуск до терминального
// состояния.
type Orchestrator struct {
	orders    domain.OrderStore
	products  domain.ProductStore
	payments  domain.PaymentGateway
	workflows domain.WorkflowRepository
	outbox    domain.OutboxRepository
	retryCfg  retry.Config
	metrics   *metrics.WorkflowMetrics
	logger    *log.Entry
}

// NewOrchestrator создаёт рабочий экземпляр оркестратора.
func NewOrchestrator(
	orders domain.OrderStore,
	products domain.ProductStore,
	payments domain.PaymentGateway,
	workflows domain.WorkflowRepository,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) *Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}
	return &Orchestrator{
		orders:    orders,
		products:  products,
		payments:  payments,
		workflows: workflows,
		outbox:    outbox,
		retryCfg:  retry.DefaultConfig(),
		metrics:   metrics.NewWorkflowMetrics(),
		logger:    logger,
	}
}

// NewOrchestratorWithoutMetrics создаёт оркестратор без метрик (для тестов).
func NewOrchestratorWithoutMetrics(
	orders domain.OrderStore,
	products domain.ProductStore,
	payments domain.PaymentGateway,
	workflows domain.WorkflowRepository,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) *Orchestrator {
	o := NewOrchestrator(orders, products, payments, workflows, outbox, logger)
	o.metrics = nil
	return o
}

// PlaceOrderAdvanced выполняет полный сценарий оформления: проверка
// стока, получение цены, авторизация платежа, создание заказа,
// перевод в processing, списание стока, завершение. Отказ платежа до
// создания заказа прерывает сценарий без каких-либо записей; провал
// списания стока после создания компенсируется переводом заказа в
// failed_stock.
func (o *Orchestrator) PlaceOrderAdvanced(ctx context.Context, cmd PlaceOrderCommand) (domain.Order, error) {
	start := time.Now()
	if o.metrics != nil {
		o.metrics.RecordWorkflowStarted(string(domain.WorkflowKindPlaceOrder))
	}
	defer func() {
		if o.metrics != nil {
			o.metrics.RecordWorkflowDuration(time.Since(start))
		}
	}()

	if cmd.ProductID == "" {
		return domain.Order{}, o.abort(ctx, nil, domain.ErrProductIDRequired)
	}
	if cmd.Qty <= 0 {
		return domain.Order{}, o.abort(ctx, nil, domain.ErrQtyInvalid)
	}

	run := domain.WorkflowRun{
		ID:        uuid.NewString(),
		Kind:      domain.WorkflowKindPlaceOrder,
		ProductID: cmd.ProductID,
		Qty:       cmd.Qty,
		Step:      domain.WorkflowStepStockCheck,
		State:     domain.WorkflowStateRunning,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := o.workflows.Create(ctx, run); err != nil {
		return domain.Order{}, fmt.Errorf("create workflow run: %w", err)
	}

	logger := o.logger.WithFields(log.Fields{
		"workflow_id": run.ID,
		"product_id":  cmd.ProductID,
		"qty":         cmd.Qty,
	})

	// Шаг 1: консультативная проверка стока. Окончательная защита от
	// гонок остаётся за атомарным ReduceStock ниже.
	ok, err := o.checkStock(ctx, cmd.ProductID, cmd.Qty)
	if err != nil {
		return domain.Order{}, o.abort(ctx, &run, err)
	}
	if !ok {
		logger.Warn("insufficient stock before checkout")
		return domain.Order{}, o.abort(ctx, &run, domain.ErrInsufficientStock)
	}

	// Шаг 2: цена берётся из каталога, а не от клиента.
	o.advance(ctx, &run, domain.WorkflowStepPriceLookup)
	product, err := o.getProduct(ctx, cmd.ProductID)
	if err != nil {
		return domain.Order{}, o.abort(ctx, &run, err)
	}
	totalMinor, err := domain.OrderTotal(cmd.Qty, product.PriceMinor)
	if err != nil {
		return domain.Order{}, o.abort(ctx, &run, err)
	}

	// Шаг 3: авторизация платежа. Отказ шлюза до создания заказа —
	// чистое прерывание, никакой записи заказа не остаётся.
	o.advance(ctx, &run, domain.WorkflowStepAuthorize)
	payment, err := o.authorize(ctx, domain.PaymentRequest{
		OrderRef:    run.ID,
		Card:        cmd.Card,
		AmountMinor: totalMinor,
	})
	if err != nil {
		return domain.Order{}, o.abort(ctx, &run, err)
	}
	if !payment.Success {
		logger.WithField("reason", payment.Message).Warn("payment declined")
		return domain.Order{}, o.abort(ctx, &run, fmt.Errorf("%w: %s", domain.ErrPaymentDeclined, payment.Message))
	}

	// Шаг 4: создание заказа в статусе pending.
	o.advance(ctx, &run, domain.WorkflowStepCreateOrder)
	now := time.Now().UTC()
	order := domain.Order{
		ID:         uuid.NewString(),
		ProductID:  cmd.ProductID,
		Qty:        cmd.Qty,
		PriceMinor: product.PriceMinor,
		TotalMinor: totalMinor,
		Status:     domain.OrderStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.createOrder(ctx, order); err != nil {
		return domain.Order{}, o.abort(ctx, &run, err)
	}
	run.OrderID = order.ID
	o.advance(ctx, &run, domain.WorkflowStepMarkProcess)
	o.emitEvent(order.ID, EventOrderCreated, map[string]interface{}{
		"product_id":  order.ProductID,
		"qty":         order.Qty,
		"total_minor": order.TotalMinor,
	})

	// Шаг 5: pending → processing.
	if err := o.updateStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusProcessing); err != nil {
		return domain.Order{}, o.compensate(ctx, &run, &order, err)
	}
	order.Status = domain.OrderStatusProcessing

	// Шаг 6: атомарное списание стока. Гонка, проигранная после
	// удачной проверки на шаге 1, проявляется именно здесь.
	o.advance(ctx, &run, domain.WorkflowStepReduceStock)
	if err := o.reduceStock(ctx, cmd.ProductID, cmd.Qty); err != nil {
		logger.WithError(err).Warn("reduce stock failed, compensating")
		// Заказ уже создан, поэтому наружу уходит серверная ошибка,
		// а не InsufficientStock предварительной проверки.
		return domain.Order{}, o.compensate(ctx, &run, &order,
			fmt.Errorf("%w: %v", domain.ErrStockReductionFailed, err))
	}

	// Шаг 7: processing → completed.
	o.advance(ctx, &run, domain.WorkflowStepComplete)
	if err := o.updateStatus(ctx, order.ID, domain.OrderStatusProcessing, domain.OrderStatusCompleted); err != nil {
		// Сток уже списан: компенсация обязана вернуть его на склад.
		o.restoreStock(ctx, cmd.ProductID, cmd.Qty)
		return domain.Order{}, o.compensate(ctx, &run, &order, err)
	}
	order.Status = domain.OrderStatusCompleted

	run.Finish(domain.WorkflowStateCompleted, nil)
	if err := o.workflows.Update(ctx, run); err != nil {
		logger.WithError(err).Error("persist workflow completion failed")
	}
	if o.metrics != nil {
		o.metrics.RecordWorkflowCompleted(string(domain.WorkflowKindPlaceOrder))
	}
	o.emitEvent(order.ID, EventOrderCompleted, map[string]interface{}{
		"transaction_id": payment.TransactionID,
		"total_minor":    order.TotalMinor,
	})
	logger.WithField("order_id", order.ID).Info("order placed")

	return order, nil
}

// advance фиксирует переход на следующий шаг в журнале.
func (o *Orchestrator) advance(ctx context.Context, run *domain.WorkflowRun, step domain.WorkflowStep) {
	stepStart := time.Now()
	run.Advance(step)
	if err := o.workflows.Update(ctx, *run); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"workflow_id": run.ID,
			"step":        step,
		}).Error("persist workflow step failed")
	}
	if o.metrics != nil {
		o.metrics.RecordStepDuration(string(step), time.Since(stepStart))
	}
}

// abort закрывает запуск до каких-либо мутаций заказа.
func (o *Orchestrator) abort(ctx context.Context, run *domain.WorkflowRun, cause error) error {
	if o.metrics != nil {
		o.metrics.RecordWorkflowFailed(string(domain.WorkflowKindPlaceOrder))
	}
	if run == nil {
		return cause
	}
	run.Finish(domain.WorkflowStateFailed, cause)
	if err := o.workflows.Update(ctx, *run); err != nil {
		o.logger.WithError(err).WithField("workflow_id", run.ID).Error("persist workflow failure failed")
	}
	return cause
}

// compensate закрывает частично выполненный сценарий: заказ переводится
// в failed_stock, запуск помечается compensated, причина возвращается
// вызывающему. failed_stock служит единым терминалом компенсации для
// любого провала после создания заказа, включая ошибки перевода
// статуса, где сток не участвовал; failed_payment зарезервирован за
// recovery-воркером для заказов, застрявших до подтверждения оплаты.
func (o *Orchestrator) compensate(ctx context.Context, run *domain.WorkflowRun, order *domain.Order, cause error) error {
	if o.metrics != nil {
		o.metrics.RecordWorkflowFailed(string(run.Kind))
		o.metrics.RecordCompensation()
	}

	run.Advance(domain.WorkflowStepCompensate)
	if err := o.workflows.Update(ctx, *run); err != nil {
		o.logger.WithError(err).WithField("workflow_id", run.ID).Error("persist compensation step failed")
	}

	if err := o.updateStatus(ctx, order.ID, order.Status, domain.OrderStatusFailedStock); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"workflow_id": run.ID,
			"order_id":    order.ID,
		}).Error("compensation status update failed")
	} else {
		order.Status = domain.OrderStatusFailedStock
	}

	run.Finish(domain.WorkflowStateCompensated, cause)
	if err := o.workflows.Update(ctx, *run); err != nil {
		o.logger.WithError(err).WithField("workflow_id", run.ID).Error("persist workflow compensation failed")
	}
	o.emitEvent(order.ID, EventOrderFailed, map[string]interface{}{
		"reason": cause.Error(),
		"status": string(order.Status),
	})

	return cause
}

// restoreStock возвращает списанный сток на склад; ошибка логируется,
// но не меняет исход сценария.
func (o *Orchestrator) restoreStock(ctx context.Context, productID string, qty int32) {
	err := retry.Do(ctx, o.retryCfg, o.logger, "product.restore_stock", func(ctx context.Context) error {
		stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
		defer cancel()
		return o.products.RestoreStock(stepCtx, productID, qty)
	})
	if err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"product_id": productID,
			"qty":        qty,
		}).Error("restore stock failed")
	}
}

func (o *Orchestrator) checkStock(ctx context.Context, productID string, qty int32) (bool, error) {
	var ok bool
	err := retry.Do(ctx, o.retryCfg, o.logger, "product.check_stock", func(ctx context.Context) error {
		stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
		defer cancel()
		var innerErr error
		ok, innerErr = o.products.CheckStock(stepCtx, productID, qty)
		return innerErr
	})
	return ok, err
}

func (o *Orchestrator) getProduct(ctx context.Context, productID string) (domain.Product, error) {
	var product domain.Product
	err := retry.Do(ctx, o.retryCfg, o.logger, "product.get", func(ctx context.Context) error {
		stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
		defer cancel()
		var innerErr error
		product, innerErr = o.products.Get(stepCtx, productID)
		return innerErr
	})
	return product, err
}

func (o *Orchestrator) authorize(ctx context.Context, req domain.PaymentRequest) (domain.PaymentResult, error) {
	stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()
	return o.payments.Authorize(stepCtx, req)
}

func (o *Orchestrator) createOrder(ctx context.Context, order domain.Order) error {
	return retry.Do(ctx, o.retryCfg, o.logger, "order.create", func(ctx context.Context) error {
		stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
		defer cancel()
		return o.orders.Create(stepCtx, order)
	})
}

func (o *Orchestrator) updateStatus(ctx context.Context, id string, from, to domain.OrderStatus) error {
	return retry.Do(ctx, o.retryCfg, o.logger, "order.update_status", func(ctx context.Context) error {
		stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
		defer cancel()
		return o.orders.UpdateStatus(stepCtx, id, from, to)
	})
}

func (o *Orchestrator) reduceStock(ctx context.Context, productID string, qty int32) error {
	return retry.Do(ctx, o.retryCfg, o.logger, "product.reduce_stock", func(ctx context.Context) error {
		stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
		defer cancel()
		return o.products.ReduceStock(stepCtx, productID, qty)
	})
}

// Типы событий заказа, публикуемых через outbox.
const (
	EventOrderCreated   = "OrderCreated"
	EventOrderCompleted = "OrderCompleted"
	EventOrderFailed    = "OrderFailed"
	EventOrderPending   = "OrderPendingCreated"
)

// emitEvent кладёт событие в outbox для последующей публикации.
func (o *Orchestrator) emitEvent(orderID, eventType string, payload map[string]interface{}) {
	if o.outbox == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["order_id"] = orderID
	data, err := json.Marshal(payload)
	if err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := o.outbox.Enqueue(msg); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Error("enqueue event failed")
	} else if o.metrics != nil {
		o.metrics.RecordOutboxEvent()
	}
}

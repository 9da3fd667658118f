package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/khazin/ecom-core/internal/domain"
	"github.com/khazin/ecom-core/internal/service/retry"
)

// PendingOrderItem — строка пакетного создания отложенных заказов.
// Цена приходит от вызывающего: каталог на этом пути не опрашивается.
type PendingOrderItem struct {
	ProductID  string
	Qty        int32
	PriceMinor int64
}

// PendingOrderResult — результат создания одной строки пакета.
type PendingOrderResult struct {
	OrderID    string
	ProductID  string
	TotalMinor int64
}

// CreatePendingOrders создаёт по заказу в статусе pending на каждую
// строку пакета. Строки независимы: ни проверки стока, ни атомарности
// между собой, ошибка одной строки не откатывает остальные.
func (o *Orchestrator) CreatePendingOrders(ctx context.Context, items []PendingOrderItem) ([]PendingOrderResult, error) {
	if len(items) == 0 {
		return nil, domain.ErrProductIDRequired
	}

	results := make([]PendingOrderResult, 0, len(items))
	for _, item := range items {
		totalMinor, err := domain.OrderTotal(item.Qty, item.PriceMinor)
		if err != nil {
			o.logger.WithError(err).WithField("product_id", item.ProductID).Warn("pending order rejected")
			return results, err
		}
		now := time.Now().UTC()
		order := domain.Order{
			ID:         uuid.NewString(),
			ProductID:  item.ProductID,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
			TotalMinor: totalMinor,
			Status:     domain.OrderStatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := o.createOrder(ctx, order); err != nil {
			o.logger.WithError(err).WithField("product_id", item.ProductID).Warn("pending order creation failed")
			return results, err
		}
		o.emitEvent(order.ID, EventOrderPending, map[string]interface{}{
			"product_id":  order.ProductID,
			"qty":         order.Qty,
			"total_minor": order.TotalMinor,
		})
		results = append(results, PendingOrderResult{
			OrderID:    order.ID,
			ProductID:  order.ProductID,
			TotalMinor: order.TotalMinor,
		})
	}

	return results, nil
}

// ConfirmPayment проводит оплату отложенного заказа: авторизация,
// списание стока, завершение. Отказ шлюза оставляет заказ в pending.
// Провал списания стока переводит заказ в failed_stock и возвращает
// ошибку вызывающему: списание идёт до завершения, чтобы заказ не
// значился выполненным при нехватке товара.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, orderID string, card domain.PaymentCard) (domain.Order, error) {
	if o.metrics != nil {
		o.metrics.RecordWorkflowStarted(string(domain.WorkflowKindConfirmPayment))
	}
	start := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.RecordWorkflowDuration(time.Since(start))
		}
	}()

	if orderID == "" {
		return domain.Order{}, o.confirmFailed(domain.ErrOrderIDRequired)
	}

	order, err := o.getOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, o.confirmFailed(err)
	}
	if order.Status != domain.OrderStatusPending {
		return domain.Order{}, o.confirmFailed(fmt.Errorf("%w: order %s is %s", domain.ErrInvalidStatus, orderID, order.Status))
	}

	run := domain.WorkflowRun{
		ID:        uuid.NewString(),
		Kind:      domain.WorkflowKindConfirmPayment,
		OrderID:   order.ID,
		ProductID: order.ProductID,
		Qty:       order.Qty,
		Step:      domain.WorkflowStepAuthorize,
		State:     domain.WorkflowStateRunning,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := o.workflows.Create(ctx, run); err != nil {
		return domain.Order{}, fmt.Errorf("create workflow run: %w", err)
	}

	logger := o.logger.WithFields(log.Fields{
		"workflow_id": run.ID,
		"order_id":    order.ID,
	})

	payment, err := o.authorize(ctx, domain.PaymentRequest{
		OrderRef:    order.ID,
		Card:        card,
		AmountMinor: order.TotalMinor,
	})
	if err != nil {
		return domain.Order{}, o.abortConfirm(ctx, &run, err)
	}
	if !payment.Success {
		// Отказ шлюза не трогает заказ: он остаётся pending и может
		// быть оплачен повторно.
		logger.WithField("reason", payment.Message).Warn("payment declined")
		return domain.Order{}, o.abortConfirm(ctx, &run, fmt.Errorf("%w: %s", domain.ErrPaymentDeclined, payment.Message))
	}

	o.advance(ctx, &run, domain.WorkflowStepReduceStock)
	if err := o.reduceStock(ctx, order.ProductID, order.Qty); err != nil {
		logger.WithError(err).Warn("reduce stock failed after payment, compensating")
		return domain.Order{}, o.compensate(ctx, &run, &order,
			fmt.Errorf("%w: %v", domain.ErrStockReductionFailed, err))
	}

	o.advance(ctx, &run, domain.WorkflowStepComplete)
	if err := o.updateStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusCompleted); err != nil {
		o.restoreStock(ctx, order.ProductID, order.Qty)
		return domain.Order{}, o.compensate(ctx, &run, &order, err)
	}
	order.Status = domain.OrderStatusCompleted

	run.Finish(domain.WorkflowStateCompleted, nil)
	if err := o.workflows.Update(ctx, run); err != nil {
		logger.WithError(err).Error("persist workflow completion failed")
	}
	if o.metrics != nil {
		o.metrics.RecordWorkflowCompleted(string(domain.WorkflowKindConfirmPayment))
	}
	o.emitEvent(order.ID, EventOrderCompleted, map[string]interface{}{
		"transaction_id": payment.TransactionID,
		"total_minor":    order.TotalMinor,
	})
	logger.Info("payment confirmed")

	return order, nil
}

// abortConfirm закрывает запуск подтверждения без мутаций заказа.
func (o *Orchestrator) abortConfirm(ctx context.Context, run *domain.WorkflowRun, cause error) error {
	if o.metrics != nil {
		o.metrics.RecordWorkflowFailed(string(domain.WorkflowKindConfirmPayment))
	}
	run.Finish(domain.WorkflowStateFailed, cause)
	if err := o.workflows.Update(ctx, *run); err != nil {
		o.logger.WithError(err).WithField("workflow_id", run.ID).Error("persist workflow failure failed")
	}
	return cause
}

func (o *Orchestrator) confirmFailed(cause error) error {
	if o.metrics != nil {
		o.metrics.RecordWorkflowFailed(string(domain.WorkflowKindConfirmPayment))
	}
	return cause
}

func (o *Orchestrator) getOrder(ctx context.Context, id string) (domain.Order, error) {
	var order domain.Order
	err := retry.Do(ctx, o.retryCfg, o.logger, "order.get", func(ctx context.Context) error {
		stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
		defer cancel()
		var innerErr error
		order, innerErr = o.orders.Get(stepCtx, id)
		return innerErr
	})
	return order, err
}

package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/khazin/ecom-core/internal/domain"
)

const (
	defaultRecoveryInterval  = time.Minute
	defaultStuckAfter        = 5 * time.Minute
	defaultRecoveryBatchSize = 100
)

var (
	recoveryRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecom_workflow_recovery_runs_total",
		Help: "Total number of recovery sweeps grouped by result.",
	}, []string{"result"})
	recoveryResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecom_workflow_recovery_resolved_total",
		Help: "Total number of stuck workflow runs resolved grouped by outcome.",
	}, []string{"outcome"})
)

// RecoveryOptions задаёт параметры recovery-воркера.
type RecoveryOptions struct {
	Logger     *log.Entry
	Interval   time.Duration
	StuckAfter time.Duration
	BatchSize  int
}

// RecoveryOption настраивает RecoveryWorker.
type RecoveryOption func(*RecoveryOptions)

// WithRecoveryLogger задаёт logger для воркера.
func WithRecoveryLogger(logger *log.Entry) RecoveryOption {
	return func(opts *RecoveryOptions) {
		opts.Logger = logger
	}
}

// WithRecoveryInterval задаёт период между обходами журнала.
func WithRecoveryInterval(interval time.Duration) RecoveryOption {
	return func(opts *RecoveryOptions) {
		opts.Interval = interval
	}
}

// WithStuckAfter задаёт порог, после которого running-запуск считается зависшим.
func WithStuckAfter(d time.Duration) RecoveryOption {
	return func(opts *RecoveryOptions) {
		opts.StuckAfter = d
	}
}

// WithRecoveryBatchSize задаёт размер выборки за один обход.
func WithRecoveryBatchSize(n int) RecoveryOption {
	return func(opts *RecoveryOptions) {
		opts.BatchSize = n
	}
}

// RecoveryWorker доводит до терминального состояния запуски,
// оставшиеся в running после падения процесса. Запуск, прошедший шаг
// complete, достраивается вперёд; запуски, упавшие раньше, компенсируются.
type RecoveryWorker struct {
	workflows  domain.WorkflowRepository
	orders     domain.OrderStore
	products   domain.ProductStore
	logger     *log.Entry
	interval   time.Duration
	stuckAfter time.Duration
	batchSize  int
}

// NewRecoveryWorker создаёт recovery-воркер.
func NewRecoveryWorker(
	workflows domain.WorkflowRepository,
	orders domain.OrderStore,
	products domain.ProductStore,
	options ...RecoveryOption,
) *RecoveryWorker {
	opts := RecoveryOptions{
		Interval:   defaultRecoveryInterval,
		StuckAfter: defaultStuckAfter,
		BatchSize:  defaultRecoveryBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "workflow-recovery")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultRecoveryInterval
	}
	if opts.StuckAfter <= 0 {
		opts.StuckAfter = defaultStuckAfter
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultRecoveryBatchSize
	}

	return &RecoveryWorker{
		workflows:  workflows,
		orders:     orders,
		products:   products,
		logger:     logger,
		interval:   opts.Interval,
		stuckAfter: opts.StuckAfter,
		batchSize:  opts.BatchSize,
	}
}

// Run запускает периодический обход журнала до отмены ctx.
func (w *RecoveryWorker) Run(ctx context.Context) {
	if w.workflows == nil {
		w.logger.Warn("recovery worker is disabled: workflow repository is nil")
		return
	}

	w.Sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep выполняет один обход: выбирает зависшие запуски и разрешает каждый.
func (w *RecoveryWorker) Sweep(ctx context.Context) {
	olderThan := time.Now().UTC().Add(-w.stuckAfter)
	runs, err := w.workflows.ListStuck(ctx, olderThan, w.batchSize)
	if err != nil {
		recoveryRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Error("list stuck workflow runs failed")
		return
	}
	recoveryRunsTotal.WithLabelValues("ok").Inc()

	for _, run := range runs {
		if err := w.resolve(ctx, run); err != nil {
			w.logger.WithError(err).WithField("workflow_id", run.ID).Error("resolve stuck workflow failed")
		}
	}
}

// resolve доводит один зависший запуск до терминального состояния.
// Политика: шаги до create_order не оставляют следов, запуск просто
// закрывается; заказ в pending закрывается как failed_payment (исход
// платежа после падения неизвестен); заказ в processing закрывается
// как failed_stock; запуск, дошедший до шага complete, достраивается
// в completed, так как сток уже списан.
func (w *RecoveryWorker) resolve(ctx context.Context, run domain.WorkflowRun) error {
	logger := w.logger.WithFields(log.Fields{
		"workflow_id": run.ID,
		"kind":        run.Kind,
		"step":        run.Step,
	})

	if run.OrderID == "" {
		run.Finish(domain.WorkflowStateFailed, errors.New("crashed before order creation"))
		recoveryResolvedTotal.WithLabelValues("failed").Inc()
		logger.Info("stuck run closed without order")
		return w.workflows.Update(ctx, run)
	}

	order, err := w.orders.Get(ctx, run.OrderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		run.Finish(domain.WorkflowStateFailed, err)
		recoveryResolvedTotal.WithLabelValues("failed").Inc()
		return w.workflows.Update(ctx, run)
	}
	if err != nil {
		return err
	}

	if order.Status.Terminal() {
		// Заказ сам дошёл до терминального статуса, журнал просто отстал.
		state := domain.WorkflowStateCompensated
		if order.Status == domain.OrderStatusCompleted {
			state = domain.WorkflowStateCompleted
		}
		run.Finish(state, nil)
		recoveryResolvedTotal.WithLabelValues("already_terminal").Inc()
		return w.workflows.Update(ctx, run)
	}

	if run.Step == domain.WorkflowStepComplete {
		// Сток уже списан: безопасно достроить сценарий вперёд.
		if err := w.orders.UpdateStatus(ctx, order.ID, order.Status, domain.OrderStatusCompleted); err != nil {
			return err
		}
		run.Finish(domain.WorkflowStateCompleted, nil)
		recoveryResolvedTotal.WithLabelValues("completed_forward").Inc()
		logger.Info("stuck run completed forward")
		return w.workflows.Update(ctx, run)
	}

	target := domain.OrderStatusFailedStock
	if order.Status == domain.OrderStatusPending && run.Step != domain.WorkflowStepReduceStock {
		// Сток не тронут, но исход авторизации неизвестен.
		target = domain.OrderStatusFailedPayment
	}
	if err := w.orders.UpdateStatus(ctx, order.ID, order.Status, target); err != nil {
		return err
	}

	run.Advance(domain.WorkflowStepCompensate)
	run.Finish(domain.WorkflowStateCompensated, errors.New("recovered after crash"))
	recoveryResolvedTotal.WithLabelValues("compensated").Inc()
	logger.WithField("order_status", target).Info("stuck run compensated")
	return w.workflows.Update(ctx, run)
}

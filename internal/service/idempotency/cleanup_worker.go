package idempotency

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
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
)

var (
	idempotencyCleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecom_idempotency_cleanup_runs_total",
		Help: "Total number of idempotency cleanup runs grouped by result.",
	}, []string{"result"})
	idempotencyCleanupDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ecom_idempotency_cleanup_deleted_total",
		Help: "Total number of deleted expired idempotency records.",
	})
	idempotencyCleanupLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ecom_idempotency_cleanup_last_deleted",
		Help: "Number of deleted records during the last cleanup run.",
	})
)

type cleanupConfig struct {
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*cleanupConfig)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(cfg *cleanupConfig) { cfg.logger = logger }
}

// WithInterval задаёт интервал между проходами очистки.
func WithInterval(interval time.Duration) CleanupOption {
	return func(cfg *cleanupConfig) { cfg.interval = interval }
}

// WithBatchSize задаёт размер порции одного удаления.
func WithBatchSize(batchSize int) CleanupOption {
	return func(cfg *cleanupConfig) { cfg.batchSize = batchSize }
}

// CleanupWorker удаляет просроченные idempotency записи, чтобы хранилище
// ключей не росло бесконечно.
type CleanupWorker struct {
	repo domain.IdempotencyRepository
	cfg  cleanupConfig
}

// NewCleanupWorker создаёт воркер очистки idempotency ключей.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	cfg := cleanupConfig{
		interval:  defaultCleanupInterval,
		batchSize: defaultCleanupBatchSize,
	}
	for _, option := range options {
		option(&cfg)
	}

	if cfg.logger == nil {
		cfg.logger = log.WithField("component", "idempotency-cleanup-worker")
	}
	if cfg.interval <= 0 {
		cfg.interval = defaultCleanupInterval
	}
	if cfg.batchSize <= 0 {
		cfg.batchSize = defaultCleanupBatchSize
	}

	return &CleanupWorker{repo: repo, cfg: cfg}
}

// Run чистит ключи по интервалу до отмены ctx. Первый проход идёт сразу.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.cfg.logger.Warn("idempotency cleanup worker is disabled: repo is nil")
		return
	}

	w.sweep(ctx)

	ticker := time.NewTicker(w.cfg.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *CleanupWorker) sweep(ctx context.Context) {
	deleted, err := w.DeleteExpired(ctx, time.Now().UTC())
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		idempotencyCleanupRunsTotal.WithLabelValues("error").Inc()
		w.cfg.logger.WithError(err).Warn("idempotency cleanup run failed")
		return
	}

	idempotencyCleanupRunsTotal.WithLabelValues("ok").Inc()
	idempotencyCleanupLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		w.cfg.logger.WithField("deleted", deleted).Info("idempotency cleanup completed")
	}
}

// DeleteExpired порциями удаляет все записи с ttl <= before и возвращает
// суммарное число удалённых.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := w.repo.DeleteExpired(ctx, before, w.cfg.batchSize)
		if err != nil {
			return total, err
		}

		total += deleted
		if deleted > 0 {
			idempotencyCleanupDeletedTotal.Add(float64(deleted))
		}

		// Неполная порция означает, что просроченных больше нет.
		if deleted < w.cfg.batchSize {
			return total, nil
		}
	}
}

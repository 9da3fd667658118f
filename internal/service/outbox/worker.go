package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/khazin/ecom-core/internal/domain"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond

	// maxBackoff ограничивает экспоненту, чтобы воркер не засыпал навечно.
	maxBackoff = 30 * time.Second
)

var (
	outboxPublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecom_outbox_publish_attempts_total",
		Help: "Total number of outbox publish attempts grouped by result.",
	}, []string{"result"})
	outboxPendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ecom_outbox_pending_records",
		Help: "Current number of pending records in transactional outbox.",
	})
	outboxOldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ecom_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending outbox record.",
	})
)

type workerConfig struct {
	logger         *log.Entry
	dlqPublisher   domain.OutboxPublisher
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// Option настраивает Worker.
type Option func(*workerConfig)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(cfg *workerConfig) { cfg.logger = logger }
}

// WithDLQPublisher задаёт publisher для отправки в DLQ после исчерпания retry.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(cfg *workerConfig) { cfg.dlqPublisher = publisher }
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(cfg *workerConfig) { cfg.pollInterval = interval }
}

// WithBatchSize задаёт размер выборки из outbox.
func WithBatchSize(batchSize int) Option {
	return func(cfg *workerConfig) { cfg.batchSize = batchSize }
}

// WithMaxAttempts задаёт число попыток публикации перед failed/DLQ.
func WithMaxAttempts(maxAttempts int) Option {
	return func(cfg *workerConfig) { cfg.maxAttempts = maxAttempts }
}

// WithRetryBaseDelay задаёт базовую задержку exponential backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(cfg *workerConfig) { cfg.retryBaseDelay = delay }
}

// Worker перекладывает pending-события из outbox в брокер. Событие,
// не ушедшее за maxAttempts попыток, помечается failed и дублируется в DLQ.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	cfg       workerConfig
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	cfg := workerConfig{
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&cfg)
	}

	if cfg.logger == nil {
		cfg.logger = log.WithField("component", "outbox-worker")
	}
	if cfg.pollInterval <= 0 {
		cfg.pollInterval = defaultPollInterval
	}
	if cfg.batchSize <= 0 {
		cfg.batchSize = defaultBatchSize
	}
	if cfg.maxAttempts <= 0 {
		cfg.maxAttempts = defaultMaxAttempts
	}
	if cfg.retryBaseDelay < 0 {
		cfg.retryBaseDelay = 0
	}

	return &Worker{repo: repo, publisher: publisher, cfg: cfg}
}

// Run опрашивает outbox до отмены ctx. Первый проход делается сразу,
// чтобы не ждать целый интервал после старта.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.cfg.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.cfg.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один polling-цикл.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	w.reportBacklog()

	batch, err := w.repo.PullPending(w.cfg.batchSize)
	if err != nil {
		w.cfg.logger.WithError(err).Warn("pull pending outbox messages failed")
		return
	}

	for _, event := range batch {
		if ctx.Err() != nil {
			return
		}
		w.drain(ctx, event)
	}

	if len(batch) > 0 {
		w.reportBacklog()
	}
}

// drain доводит одно событие до терминального исхода: sent либо failed+DLQ.
func (w *Worker) drain(ctx context.Context, event domain.OutboxMessage) {
	logger := w.cfg.logger.WithFields(log.Fields{
		"outbox_id":  event.ID,
		"event_type": event.EventType,
	})

	if err := w.tryPublish(ctx, event); err != nil {
		logger.WithError(err).Error("outbox publish failed after retries")
		outboxPublishAttempts.WithLabelValues("failed").Inc()

		if dlqErr := w.forwardToDLQ(event, err); dlqErr != nil {
			logger.WithError(dlqErr).Warn("publish to DLQ failed")
			outboxPublishAttempts.WithLabelValues("dlq_failed").Inc()
		}
		if markErr := w.repo.MarkFailed(event.ID); markErr != nil {
			logger.WithError(markErr).Warn("mark outbox as failed failed")
		}
		return
	}

	if err := w.repo.MarkSent(event.ID); err != nil {
		logger.WithError(err).Warn("mark outbox as sent failed")
	}
}

func (w *Worker) tryPublish(ctx context.Context, event domain.OutboxMessage) error {
	var lastErr error
	for attempt := 0; attempt < w.cfg.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := w.sleepBackoff(ctx, attempt); err != nil {
				return err
			}
		}

		if lastErr = w.publisher.Publish(event); lastErr == nil {
			outboxPublishAttempts.WithLabelValues("sent").Inc()
			return nil
		}
		outboxPublishAttempts.WithLabelValues("retry_error").Inc()
	}
	return fmt.Errorf("publish failed after %d attempts: %w", w.cfg.maxAttempts, lastErr)
}

// sleepBackoff ждёт retryBaseDelay*2^(attempt-1), но не дольше maxBackoff.
func (w *Worker) sleepBackoff(ctx context.Context, attempt int) error {
	if w.cfg.retryBaseDelay <= 0 {
		return nil
	}

	delay := w.cfg.retryBaseDelay << (attempt - 1)
	if delay <= 0 || delay > maxBackoff {
		delay = maxBackoff
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func (w *Worker) reportBacklog() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.cfg.logger.WithError(err).Warn("collect outbox backlog stats failed")
		return
	}

	outboxPendingRecords.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		outboxOldestPendingAge.Set(0)
		return
	}
	outboxOldestPendingAge.Set(max(time.Since(stats.OldestPendingAt).Seconds(), 0))
}

func (w *Worker) forwardToDLQ(event domain.OutboxMessage, publishErr error) error {
	if w.cfg.dlqPublisher == nil {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"outbox_id":        event.ID,
		"aggregate_type":   event.AggregateType,
		"aggregate_id":     event.AggregateID,
		"event_type":       event.EventType,
		"payload":          json.RawMessage(event.Payload),
		"publish_error":    publishErr.Error(),
		"dlq_published_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	return w.cfg.dlqPublisher.Publish(domain.OutboxMessage{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     "outbox.dead_letter",
		Payload:       payload,
	})
}

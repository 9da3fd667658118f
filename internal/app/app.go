package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/khazin/ecom-core/internal/domain"
	"github.com/khazin/ecom-core/internal/gateway"
	healthcheck "github.com/khazin/ecom-core/internal/health"
	"github.com/khazin/ecom-core/internal/messaging/kafka"
	"github.com/khazin/ecom-core/internal/service/checkout"
	"github.com/khazin/ecom-core/internal/service/idempotency"
	"github.com/khazin/ecom-core/internal/service/outbox"
	"github.com/khazin/ecom-core/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run собирает приложение по конфигурации и работает до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	orch := checkout.NewOrchestrator(
		deps.Orders,
		deps.Products,
		deps.Payments,
		deps.Workflows,
		deps.Outbox,
		logger.WithField("component", "checkout"),
	)

	// Kafka опционален: без брокеров outbox дренируется в лог.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)

	var (
		publisher    domain.OutboxPublisher
		dlqPublisher domain.OutboxPublisher
	)
	if kafkaProducer != nil {
		publisher = kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicOrderEvents)
		dlqPublisher = kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicDeadLetterQueue)
	} else {
		publisher = &logPublisher{logger: logger.WithField("component", "outbox-log-publisher")}
	}

	outboxWorker := outbox.NewWorker(deps.Outbox, publisher,
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(dlqPublisher),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	cleanupWorker := idempotency.NewCleanupWorker(deps.Idempotency,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	recoveryWorker := checkout.NewRecoveryWorker(deps.Workflows, deps.Orders, deps.Products,
		checkout.WithRecoveryLogger(logger.WithField("component", "workflow-recovery")),
		checkout.WithRecoveryInterval(cfg.RecoveryInterval),
		checkout.WithStuckAfter(cfg.RecoveryStuckAfter),
		checkout.WithRecoveryBatchSize(cfg.RecoveryBatchSize),
	)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	var workers sync.WaitGroup
	for _, run := range []func(context.Context){
		outboxWorker.Run,
		cleanupWorker.Run,
		recoveryWorker.Run,
	} {
		workers.Add(1)
		go func(run func(context.Context)) {
			defer workers.Done()
			run(workerCtx)
		}(run)
	}

	healthHandler := newHealthHandler(deps, kafkaProducer != nil)
	metricsSrv := startMetricsServer(cfg.MetricsAddr, logger, healthHandler)

	gw := gateway.NewServer(orch, deps.Orders, deps.Products, deps.Idempotency, logger.WithField("component", "gateway"))
	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: gw.Router()}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		errCh <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP API")
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		stopWorkers()
		workers.Wait()
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		stopWorkers()
		workers.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// newHealthHandler регистрирует проверки реально сконфигурированных
// компонентов.
func newHealthHandler(deps *Dependencies, kafkaEnabled bool) *healthcheck.Handler {
	v, _, _ := version.Info()
	handler := healthcheck.NewHandler(v)

	if deps.Store != nil {
		handler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", deps.Store.Ping))
	}
	if deps.Redis != nil {
		redis := deps.Redis
		handler.RegisterOptionalChecker("redis", healthcheck.NewSimpleChecker("redis", func(ctx context.Context) error {
			return redis.Ping(ctx).Err()
		}))
	}
	if kafkaEnabled {
		handler.RegisterOptionalChecker("outbox", healthcheck.NewSimpleChecker("outbox", func(context.Context) error {
			_, err := deps.Outbox.Stats()
			return err
		}))
	}

	return handler
}

// startMetricsServer запускает HTTP-обработчики /metrics и health-проб.
func startMetricsServer(addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

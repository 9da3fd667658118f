package retry

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/khazin/ecom-core/internal/domain"
)

// Config конфигурация для retry логики на уровне клиентов хранилищ.
type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Do выполняет fn с ограниченным числом повторов и экспоненциальной
// задержкой. Повторяются только временные ошибки (ErrStoreUnavailable);
// бизнес-ошибки возвращаются сразу. Контекст прерывает ожидание между
// попытками.
func Do(ctx context.Context, cfg Config, logger *log.Entry, operation string, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = log.New().WithField("component", "retry")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.WithFields(log.Fields{
					"operation": operation,
					"attempt":   attempt,
				}).Info("operation succeeded after retry")
			}
			return nil
		}

		lastErr = err
		if !domain.IsRetryable(err) {
			return err
		}

		if attempt < cfg.MaxAttempts {
			logger.WithFields(log.Fields{
				"operation": operation,
				"attempt":   attempt,
				"delay":     delay,
				"error":     err,
			}).Warn("operation failed, retrying")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}

			// Экспоненциальная задержка с ограничением сверху.
			delay = time.Duration(float64(delay) * cfg.BackoffFactor)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
	}

	logger.WithFields(log.Fields{
		"operation":    operation,
		"max_attempts": cfg.MaxAttempts,
		"error":        lastErr,
	}).Error("operation failed after all retry attempts")
	return lastErr
}

// ErrCircuitOpen возвращается, когда circuit breaker блокирует вызовы.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker простая реализация circuit breaker паттерна.
// Безопасен для конкурентного использования.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       CircuitState
	logger      *log.Entry
}

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// NewCircuitBreaker создаёт новый circuit breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.New().WithField("component", "circuit-breaker")
	}

	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        CircuitClosed,
		logger:       logger,
	}
}

// Execute выполняет операцию через circuit breaker. Сама операция
// выполняется вне мьютекса, под ним только переходы состояния.
func (cb *CircuitBreaker) Execute(operation string, fn func() error) error {
	if err := cb.beforeCall(operation); err != nil {
		return err
	}

	err := fn()
	cb.afterCall(operation, err)
	return err
}

func (cb *CircuitBreaker) beforeCall(operation string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if time.Since(cb.lastFailure) <= cb.resetTimeout {
			return ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.logger.WithField("operation", operation).Info("circuit breaker half-open")
	}
	return nil
}

func (cb *CircuitBreaker) afterCall(operation string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()

		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			cb.state = CircuitOpen
			cb.logger.WithFields(log.Fields{
				"operation": operation,
				"failures":  cb.failures,
			}).Warn("circuit breaker opened")
		}
		return
	}

	// Успешное выполнение — сбрасываем счётчик.
	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
		cb.logger.WithField("operation", operation).Info("circuit breaker closed")
	}
	cb.failures = 0
}

package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/khazin/ecom-core/internal/domain"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), nil, "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), nil, "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return domain.ErrStoreUnavailable
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_DoesNotRetryBusinessErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), nil, "op", func(ctx context.Context) error {
		calls++
		return domain.ErrInsufficientStock
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("business error must not be retried, got %d calls", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), nil, "op", func(ctx context.Context) error {
		calls++
		return domain.ErrStoreUnavailable
	})
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ContextCancelStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig()
	cfg.InitialDelay = time.Hour

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, cfg, nil, "op", func(ctx context.Context) error {
		calls++
		return domain.ErrStoreUnavailable
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancel, got %d", calls)
	}
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Hour, log.New().WithField("test", "cb"))
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		if err := cb.Execute("op", func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
	}

	if err := cb.Execute("op", func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit open, got %v", err)
	}
}

func TestCircuitBreaker_ConcurrentExecute(t *testing.T) {
	cb := NewCircuitBreaker(1000, time.Hour, log.New().WithField("test", "cb"))
	boom := errors.New("boom")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = cb.Execute("op", func() error {
					if (n+j)%2 == 0 {
						return boom
					}
					return nil
				})
			}
		}(i)
	}
	wg.Wait()

	if err := cb.Execute("op", func() error { return nil }); err != nil {
		t.Fatalf("circuit must stay usable after concurrent calls, got %v", err)
	}
}

func TestCircuitBreaker_RecoversAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(1, 5*time.Millisecond, log.New().WithField("test", "cb"))

	_ = cb.Execute("op", func() error { return errors.New("boom") })
	if err := cb.Execute("op", func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open state, got %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := cb.Execute("op", func() error { return nil }); err != nil {
		t.Fatalf("expected half-open trial call to succeed, got %v", err)
	}
	if err := cb.Execute("op", func() error { return nil }); err != nil {
		t.Fatalf("expected closed circuit to pass, got %v", err)
	}
}

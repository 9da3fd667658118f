package app

import (
	"context"
	"testing"
	"time"

	"github.com/khazin/ecom-core/internal/domain"
)

func TestNewDependencies_MemoryDriver(t *testing.T) {
	cfg := DefaultConfig()

	deps, err := NewDependencies(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewDependencies: %v", err)
	}
	defer deps.Close()

	if deps.Orders == nil || deps.Products == nil || deps.Workflows == nil ||
		deps.Idempotency == nil || deps.Outbox == nil || deps.Payments == nil {
		t.Fatal("all dependencies must be initialized")
	}
	if deps.Store != nil {
		t.Error("memory driver must not open postgres")
	}
	if deps.Redis != nil {
		t.Error("redis must stay disabled without an addr")
	}

	// Зависимости рабочие, а не только не nil.
	now := time.Now().UTC()
	putter, ok := deps.Products.(interface {
		Put(ctx context.Context, product domain.Product) error
	})
	if !ok {
		t.Fatal("memory product store must support seeding")
	}
	if err := putter.Put(context.Background(), domain.Product{
		ID: "p-1", Name: "Товар", PriceMinor: 100, Stock: 1, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := deps.Products.Get(context.Background(), "p-1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
}

func TestNewDependencies_RejectsUnknownDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "cassandra"

	if _, err := NewDependencies(context.Background(), cfg, nil); err == nil {
		t.Fatal("unknown storage driver must be rejected")
	}
}

func TestNewDependencies_HTTPPaymentMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PaymentMode = PaymentModeHTTP
	cfg.PaymentGatewayURL = "http://localhost:7070"

	deps, err := NewDependencies(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewDependencies: %v", err)
	}
	defer deps.Close()

	if deps.Payments == nil {
		t.Fatal("payment gateway must be initialized")
	}
}

func TestLogPublisher(t *testing.T) {
	p := &logPublisher{logger: testLogger()}
	err := p.Publish(domain.OutboxMessage{
		ID: "m-1", AggregateType: "order", AggregateID: "o-1", EventType: "OrderCreated",
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

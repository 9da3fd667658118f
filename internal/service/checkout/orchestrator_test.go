package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/khazin/ecom-core/internal/domain"
	"github.com/khazin/ecom-core/internal/service/payment"
	"github.com/khazin/ecom-core/internal/storage/memory"
)

// seedableProducts расширяет ProductStore посевом для тестов.
type seedableProducts interface {
	domain.ProductStore
	Put(ctx context.Context, product domain.Product) error
}

// inspectableOutbox даёт тестам доступ к накопленным событиям.
type inspectableOutbox interface {
	domain.OutboxRepository
	AllPending() []domain.OutboxMessage
}

type fixture struct {
	orders    domain.OrderStore
	products  seedableProducts
	gateway   *payment.Simulator
	workflows domain.WorkflowRepository
	outbox    inspectableOutbox
	orch      *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	orders := memory.NewOrderStore()
	products := memory.NewProductStore()
	workflows := memory.NewWorkflowRepository()
	outbox := memory.NewOutboxRepository()
	gateway := payment.NewSimulator(nil)

	orch := NewOrchestratorWithoutMetrics(orders, products, gateway, workflows, outbox, nil)

	return &fixture{
		orders:    orders,
		products:  products,
		gateway:   gateway,
		workflows: workflows,
		outbox:    outbox,
		orch:      orch,
	}
}

func (f *fixture) seedProduct(t *testing.T, id string, priceMinor int64, stock int32) {
	t.Helper()
	err := f.products.Put(context.Background(), domain.Product{
		ID:         id,
		Name:       "product " + id,
		PriceMinor: priceMinor,
		Stock:      stock,
		Category:   "test",
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func testCard() domain.PaymentCard {
	return domain.PaymentCard{
		Number:     "4111111111111111",
		HolderName: "IVAN IVANOV",
		ExpiryDate: "12/27",
		CVV:        "123",
	}
}

func TestPlaceOrderAdvanced_HappyPath(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "p1", 120000, 10)

	order, err := f.orch.PlaceOrderAdvanced(context.Background(), PlaceOrderCommand{
		ProductID: "p1",
		Qty:       2,
		Card:      testCard(),
	})
	if err != nil {
		t.Fatalf("PlaceOrderAdvanced() error = %v", err)
	}
	if order.Status != domain.OrderStatusCompleted {
		t.Fatalf("Status = %s, want completed", order.Status)
	}
	if order.TotalMinor != 240000 {
		t.Fatalf("TotalMinor = %d, want 240000", order.TotalMinor)
	}

	stored, err := f.orders.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.Status != domain.OrderStatusCompleted {
		t.Fatalf("stored status = %s, want completed", stored.Status)
	}

	product, err := f.products.Get(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if product.Stock != 8 {
		t.Fatalf("Stock = %d, want 8", product.Stock)
	}
}

func TestPlaceOrderAdvanced_InsufficientStockUpfront(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "p1", 120000, 1)

	_, err := f.orch.PlaceOrderAdvanced(context.Background(), PlaceOrderCommand{
		ProductID: "p1",
		Qty:       5,
		Card:      testCard(),
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("error = %v, want ErrInsufficientStock", err)
	}

	// Никаких мутаций: ни заказа, ни списания, ни вызова шлюза.
	if f.gateway.AuthorizeCalls != 0 {
		t.Fatalf("AuthorizeCalls = %d, want 0", f.gateway.AuthorizeCalls)
	}
	_, total, err := f.orders.List(context.Background(), domain.OrderFilter{}, domain.OrderSortDateDesc, domain.Page{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 0 {
		t.Fatalf("orders created = %d, want 0", total)
	}
	product, _ := f.products.Get(context.Background(), "p1")
	if product.Stock != 1 {
		t.Fatalf("Stock = %d, want 1", product.Stock)
	}
}

func TestPlaceOrderAdvanced_PaymentDeclinedLeavesNoOrder(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "p1", 120000, 10)
	f.gateway.DeclineNext = 1

	_, err := f.orch.PlaceOrderAdvanced(context.Background(), PlaceOrderCommand{
		ProductID: "p1",
		Qty:       1,
		Card:      testCard(),
	})
	if !errors.Is(err, domain.ErrPaymentDeclined) {
		t.Fatalf("error = %v, want ErrPaymentDeclined", err)
	}

	_, total, err := f.orders.List(context.Background(), domain.OrderFilter{}, domain.OrderSortDateDesc, domain.Page{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 0 {
		t.Fatalf("orders created = %d, want 0", total)
	}
	product, _ := f.products.Get(context.Background(), "p1")
	if product.Stock != 10 {
		t.Fatalf("Stock = %d, want 10", product.Stock)
	}
}

func TestPlaceOrderAdvanced_LostRaceCompensatesToFailedStock(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "p1", 120000, 3)

	// Конкурент забирает сток между upfront-проверкой и списанием.
	// Эмулируем проигранную гонку, уронив сток после посева через
	// прямое списание.
	raceProducts := &racingProductStore{seedableProducts: f.products, drainAfterCheck: 3}
	orch := NewOrchestratorWithoutMetrics(f.orders, raceProducts, f.gateway, f.workflows, f.outbox, nil)

	_, err := orch.PlaceOrderAdvanced(context.Background(), PlaceOrderCommand{
		ProductID: "p1",
		Qty:       2,
		Card:      testCard(),
	})
	// Гонка после создания заказа — серверная ошибка, а не отказ
	// предварительной проверки.
	if !errors.Is(err, domain.ErrStockReductionFailed) {
		t.Fatalf("error = %v, want ErrStockReductionFailed", err)
	}
	if errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("error = %v, must not unwrap to ErrInsufficientStock", err)
	}

	// Заказ существует и переведён в failed_stock.
	items, total, err := f.orders.List(context.Background(), domain.OrderFilter{}, domain.OrderSortDateDesc, domain.Page{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 1 {
		t.Fatalf("orders = %d, want 1", total)
	}
	if items[0].Status != domain.OrderStatusFailedStock {
		t.Fatalf("Status = %s, want failed_stock", items[0].Status)
	}
}

// racingProductStore отбирает сток сразу после успешной upfront-проверки.
type racingProductStore struct {
	seedableProducts
	drainAfterCheck int32
}

func (s *racingProductStore) CheckStock(ctx context.Context, id string, qty int32) (bool, error) {
	ok, err := s.seedableProducts.CheckStock(ctx, id, qty)
	if err != nil || !ok {
		return ok, err
	}
	if s.drainAfterCheck > 0 {
		if reduceErr := s.seedableProducts.ReduceStock(ctx, id, s.drainAfterCheck); reduceErr == nil {
			s.drainAfterCheck = 0
		}
	}
	return true, nil
}

func TestPlaceOrderAdvanced_StatusUpdateFailureCompensatesToFailedStock(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "p1", 120000, 5)

	// Срыв перевода pending→processing случается до списания стока,
	// но компенсация всё равно ведёт в единый терминал failed_stock.
	orders := &transitionFailingOrders{
		OrderStore: f.orders,
		failFrom:   domain.OrderStatusPending,
		failTo:     domain.OrderStatusProcessing,
	}
	orch := NewOrchestratorWithoutMetrics(orders, f.products, f.gateway, f.workflows, f.outbox, nil)

	_, err := orch.PlaceOrderAdvanced(context.Background(), PlaceOrderCommand{
		ProductID: "p1",
		Qty:       1,
		Card:      testCard(),
	})
	if !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("error = %v, want ErrOrderVersionConflict", err)
	}

	items, total, err := f.orders.List(context.Background(), domain.OrderFilter{}, domain.OrderSortDateDesc, domain.Page{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 1 {
		t.Fatalf("orders = %d, want 1", total)
	}
	if items[0].Status != domain.OrderStatusFailedStock {
		t.Fatalf("Status = %s, want failed_stock", items[0].Status)
	}

	// Сток не был списан и остался нетронутым.
	product, _ := f.products.Get(context.Background(), "p1")
	if product.Stock != 5 {
		t.Fatalf("Stock = %d, want 5", product.Stock)
	}
}

// transitionFailingOrders срывает один конкретный переход статуса.
type transitionFailingOrders struct {
	domain.OrderStore
	failFrom domain.OrderStatus
	failTo   domain.OrderStatus
}

func (s *transitionFailingOrders) UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus) error {
	if from == s.failFrom && to == s.failTo {
		return domain.ErrOrderVersionConflict
	}
	return s.OrderStore.UpdateStatus(ctx, id, from, to)
}

func TestPlaceOrderAdvanced_RejectsInvalidInput(t *testing.T) {
	f := newFixture(t)

	if _, err := f.orch.PlaceOrderAdvanced(context.Background(), PlaceOrderCommand{Qty: 1}); !errors.Is(err, domain.ErrProductIDRequired) {
		t.Fatalf("error = %v, want ErrProductIDRequired", err)
	}
	if _, err := f.orch.PlaceOrderAdvanced(context.Background(), PlaceOrderCommand{ProductID: "p1"}); !errors.Is(err, domain.ErrQtyInvalid) {
		t.Fatalf("error = %v, want ErrQtyInvalid", err)
	}
}

func TestPlaceOrderAdvanced_UnknownProduct(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.PlaceOrderAdvanced(context.Background(), PlaceOrderCommand{
		ProductID: "ghost",
		Qty:       1,
		Card:      testCard(),
	})
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("error = %v, want ErrProductNotFound", err)
	}
}

func TestPlaceOrderAdvanced_EmitsOutboxEvents(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "p1", 50000, 5)

	order, err := f.orch.PlaceOrderAdvanced(context.Background(), PlaceOrderCommand{
		ProductID: "p1",
		Qty:       1,
		Card:      testCard(),
	})
	if err != nil {
		t.Fatalf("PlaceOrderAdvanced() error = %v", err)
	}

	pending := f.outbox.AllPending()
	if len(pending) != 2 {
		t.Fatalf("outbox events = %d, want 2", len(pending))
	}
	types := map[string]bool{}
	for _, msg := range pending {
		types[msg.EventType] = true
		if msg.AggregateID != order.ID {
			t.Fatalf("AggregateID = %s, want %s", msg.AggregateID, order.ID)
		}
	}
	if !types[EventOrderCreated] || !types[EventOrderCompleted] {
		t.Fatalf("unexpected event types: %v", types)
	}
}

func TestPlaceOrderAdvanced_WorkflowJournal(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "p1", 50000, 5)

	order, err := f.orch.PlaceOrderAdvanced(context.Background(), PlaceOrderCommand{
		ProductID: "p1",
		Qty:       1,
		Card:      testCard(),
	})
	if err != nil {
		t.Fatalf("PlaceOrderAdvanced() error = %v", err)
	}

	runs, err := f.workflows.ListStuck(context.Background(), time.Now().UTC().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("ListStuck() error = %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("active runs after success = %d, want 0", len(runs))
	}
	_ = order
}

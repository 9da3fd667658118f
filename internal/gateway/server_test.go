package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/khazin/ecom-core/internal/domain"
	"github.com/khazin/ecom-core/internal/service/checkout"
	"github.com/khazin/ecom-core/internal/service/payment"
	"github.com/khazin/ecom-core/internal/storage/memory"
)

type testEnv struct {
	server  *Server
	router  http.Handler
	gateway *payment.Simulator
	orders  domain.OrderStore
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, nil)
}

// newTestEnvWith позволяет обернуть хранилище товаров, чтобы
// спровоцировать отказ на конкретном шаге сценария.
func newTestEnvWith(t *testing.T, wrap func(domain.ProductStore) domain.ProductStore) *testEnv {
	t.Helper()

	orders := memory.NewOrderStore()
	products := memory.NewProductStore()
	workflows := memory.NewWorkflowRepository()
	outbox := memory.NewOutboxRepository()
	idem := memory.NewIdempotencyRepository()
	sim := payment.NewSimulator(nil)

	err := products.Put(context.Background(), domain.Product{
		ID:         "p1",
		Name:       "Клавиатура",
		PriceMinor: 120000,
		Stock:      10,
		Category:   "peripherals",
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}

	var store domain.ProductStore = products
	if wrap != nil {
		store = wrap(store)
	}

	orch := checkout.NewOrchestratorWithoutMetrics(orders, store, sim, workflows, outbox, nil)
	server := NewServer(orch, orders, store, idem, nil)

	return &testEnv{
		server:  server,
		router:  server.Router(),
		gateway: sim,
		orders:  orders,
	}
}

func (e *testEnv) do(t *testing.T, method, path, idemKey string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set(idempotencyKeyHeader, idemKey)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func card() cardDTO {
	return cardDTO{
		Number:     "4111111111111111",
		HolderName: "IVAN IVANOV",
		ExpiryDate: "12/27",
		CVV:        "123",
	}
}

func TestPlaceOrderAdvanced_HTTPHappyPath(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/orders/place-advanced", "key-1", placeOrderRequest{
		ProductID: "p1",
		Quantity:  2,
		Card:      card(),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var got orderDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != "completed" {
		t.Fatalf("Status = %s, want completed", got.Status)
	}
	if got.TotalMinor != 240000 {
		t.Fatalf("TotalMinor = %d, want 240000", got.TotalMinor)
	}
	if got.ProductName != "Клавиатура" {
		t.Fatalf("ProductName = %q, want название из каталога", got.ProductName)
	}
}

func TestPlaceOrderAdvanced_InsufficientStockReturns400(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/orders/place-advanced", "key-nostock", placeOrderRequest{
		ProductID: "p1",
		Quantity:  50,
		Card:      card(),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body = %s", rec.Code, rec.Body.String())
	}

	// Предварительная проверка провалилась: заказ не создаётся.
	_, total, err := env.orders.List(context.Background(), domain.OrderFilter{}, domain.OrderSortDateDesc, domain.Page{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 0 {
		t.Fatalf("orders = %d, want 0", total)
	}
}

func TestPlaceOrderAdvanced_LostStockRaceReturns500(t *testing.T) {
	racy := &racyProductStore{}
	env := newTestEnvWith(t, func(inner domain.ProductStore) domain.ProductStore {
		racy.ProductStore = inner
		return racy
	})
	racy.loseReduce.Store(true)

	rec := env.do(t, http.MethodPost, "/api/orders/place-advanced", "key-race", placeOrderRequest{
		ProductID: "p1",
		Quantity:  2,
		Card:      card(),
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500; body = %s", rec.Code, rec.Body.String())
	}

	// Заказ остаётся в терминальном failed_stock.
	orders, total, err := env.orders.List(context.Background(), domain.OrderFilter{}, domain.OrderSortDateDesc, domain.Page{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 1 {
		t.Fatalf("orders = %d, want 1", total)
	}
	if orders[0].Status != domain.OrderStatusFailedStock {
		t.Fatalf("Status = %s, want failed_stock", orders[0].Status)
	}
}

func TestPlaceOrderAdvanced_RetryAfterServerErrorReExecutes(t *testing.T) {
	racy := &racyProductStore{}
	env := newTestEnvWith(t, func(inner domain.ProductStore) domain.ProductStore {
		racy.ProductStore = inner
		return racy
	})
	body := placeOrderRequest{ProductID: "p1", Quantity: 1, Card: card()}

	racy.loseReduce.Store(true)
	first := env.do(t, http.MethodPost, "/api/orders/place-advanced", "key-retry", body)
	if first.Code != http.StatusInternalServerError {
		t.Fatalf("first status = %d, want 500", first.Code)
	}

	// Ошибка сервера не закрепляет ключ: повтор обрабатывается заново,
	// а не отдаёт закэшированный 500.
	racy.loseReduce.Store(false)
	second := env.do(t, http.MethodPost, "/api/orders/place-advanced", "key-retry", body)
	if second.Code != http.StatusCreated {
		t.Fatalf("retry status = %d, want 201; body = %s", second.Code, second.Body.String())
	}
	if second.Header().Get(idempotencyReplayedHdr) == "true" {
		t.Fatal("retry must re-execute, not replay the failed response")
	}
}

func TestPlaceOrderAdvanced_RequiresIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/orders/place-advanced", "", placeOrderRequest{
		ProductID: "p1",
		Quantity:  1,
		Card:      card(),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPlaceOrderAdvanced_IdempotentReplay(t *testing.T) {
	env := newTestEnv(t)
	body := placeOrderRequest{ProductID: "p1", Quantity: 1, Card: card()}

	first := env.do(t, http.MethodPost, "/api/orders/place-advanced", "key-replay", body)
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d", first.Code)
	}

	second := env.do(t, http.MethodPost, "/api/orders/place-advanced", "key-replay", body)
	if second.Code != http.StatusCreated {
		t.Fatalf("replay status = %d, want 201", second.Code)
	}
	if second.Header().Get(idempotencyReplayedHdr) != "true" {
		t.Fatal("expected replay header")
	}
	if first.Body.String() != second.Body.String() {
		t.Fatal("replay body differs from original")
	}

	// Заказ создан ровно один раз.
	_, total, err := env.orders.List(context.Background(), domain.OrderFilter{}, domain.OrderSortDateDesc, domain.Page{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 1 {
		t.Fatalf("orders = %d, want 1", total)
	}
}

func TestPlaceOrderAdvanced_KeyReuseWithDifferentBody(t *testing.T) {
	env := newTestEnv(t)

	first := env.do(t, http.MethodPost, "/api/orders/place-advanced", "key-mismatch", placeOrderRequest{
		ProductID: "p1", Quantity: 1, Card: card(),
	})
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d", first.Code)
	}

	second := env.do(t, http.MethodPost, "/api/orders/place-advanced", "key-mismatch", placeOrderRequest{
		ProductID: "p1", Quantity: 2, Card: card(),
	})
	if second.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", second.Code)
	}
}

func TestProcessPayment_DeclineReturns402(t *testing.T) {
	env := newTestEnv(t)

	created := env.do(t, http.MethodPost, "/api/orders/create-combined", "key-combined", createCombinedRequest{
		Items: []combinedOrderItem{{ProductID: "p1", Quantity: 1, PriceMinor: 120000}},
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("create-combined status = %d", created.Code)
	}
	var combined createCombinedResponse
	if err := json.Unmarshal(created.Body.Bytes(), &combined); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	env.gateway.DeclineNext = 1
	rec := env.do(t, http.MethodPost, "/api/payment/process", "key-pay", processPaymentRequest{
		OrderID: combined.Orders[0].OrderID,
		Card:    card(),
	})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402; body = %s", rec.Code, rec.Body.String())
	}

	order, err := env.orders.Get(context.Background(), combined.Orders[0].OrderID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("Status = %s, want pending", order.Status)
	}
}

func TestListOrders_ClampsBadPagination(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 3; i++ {
		rec := env.do(t, http.MethodPost, "/api/orders/create-combined", "key-list-"+string(rune('a'+i)), createCombinedRequest{
			Items: []combinedOrderItem{{ProductID: "p1", Quantity: 1, PriceMinor: 100}},
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("seed order %d status = %d", i, rec.Code)
		}
	}

	rec := env.do(t, http.MethodGet, "/api/orders/?page=-5&pageSize=abc&sortBy=bogus&status=nonsense", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp listOrdersResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Page != 1 || resp.PageSize != 10 {
		t.Fatalf("page = %d/%d, want 1/10", resp.Page, resp.PageSize)
	}
	if resp.TotalCount != 3 {
		t.Fatalf("TotalCount = %d, want 3", resp.TotalCount)
	}
	if len(resp.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(resp.Items))
	}
}

func TestGetOrder_ComposesProductName(t *testing.T) {
	env := newTestEnv(t)

	created := env.do(t, http.MethodPost, "/api/orders/place-advanced", "key-get", placeOrderRequest{
		ProductID: "p1", Quantity: 1, Card: card(),
	})
	var order orderDTO
	if err := json.Unmarshal(created.Body.Bytes(), &order); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/orders/"+order.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got orderDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ProductName != "Клавиатура" {
		t.Fatalf("ProductName = %q", got.ProductName)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/orders/ghost", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestProducts_CheckAndReduceStock(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/products/check-stock/p1/5", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("check-stock status = %d", rec.Code)
	}
	var check checkStockResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &check); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !check.Available {
		t.Fatal("expected stock to be available")
	}

	rec = env.do(t, http.MethodPost, "/api/products/reduce-stock", "", reduceStockRequest{
		ProductID: "p1",
		Quantity:  20,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("reduce-stock status = %d, want 400; body = %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/products/p1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get product status = %d", rec.Code)
	}
	var product productDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &product); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if product.Stock != 10 {
		t.Fatalf("Stock = %d, want 10", product.Stock)
	}
}

func TestListProducts_SortsByPrice(t *testing.T) {
	env := newTestEnv(t)

	raw := env.server
	err := rawPut(raw, domain.Product{
		ID:         "p2",
		Name:       "Мышь",
		PriceMinor: 40000,
		Stock:      3,
		Category:   "peripherals",
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/products/?sortBy=price_asc", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp listProductsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.TotalCount != 2 {
		t.Fatalf("TotalCount = %d, want 2", resp.TotalCount)
	}
	if resp.Items[0].ID != "p2" {
		t.Fatalf("first item = %s, want p2 (cheapest)", resp.Items[0].ID)
	}
}

// racyProductStore имитирует гонку за сток: проверка проходит, а
// атомарное списание проигрывает.
type racyProductStore struct {
	domain.ProductStore
	loseReduce atomic.Bool
}

func (s *racyProductStore) ReduceStock(ctx context.Context, id string, qty int32) error {
	if s.loseReduce.Load() {
		return domain.ErrInsufficientStock
	}
	return s.ProductStore.ReduceStock(ctx, id, qty)
}

// rawPut докидывает товар в стор сервера через расширенный интерфейс.
func rawPut(s *Server, product domain.Product) error {
	type putter interface {
		Put(ctx context.Context, product domain.Product) error
	}
	product.CreatedAt = time.Now().UTC()
	product.UpdatedAt = time.Now().UTC()
	return s.products.(putter).Put(context.Background(), product)
}

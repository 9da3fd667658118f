package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/khazin/ecom-core/internal/domain"
	"github.com/khazin/ecom-core/internal/storage/memory"
)

func newOrder(id string, totalMinor int64, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:         id,
		ProductID:  "product-1",
		Qty:        1,
		PriceMinor: totalMinor,
		TotalMinor: totalMinor,
		Status:     domain.OrderStatusPending,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

func TestOrderStore_CreateGet(t *testing.T) {
	store := memory.NewOrderStore()
	order := newOrder("order-1", 240000, time.Now().UTC())

	if err := store.Create(context.Background(), order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, err := store.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.TotalMinor != order.TotalMinor {
		t.Fatalf("expected total %d, got %d", order.TotalMinor, stored.TotalMinor)
	}
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("new order must be pending, got %s", stored.Status)
	}
}

func TestOrderStore_CreateDuplicate(t *testing.T) {
	store := memory.NewOrderStore()
	order := newOrder("order-1", 100, time.Now().UTC())

	if err := store.Create(context.Background(), order); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := store.Create(context.Background(), order); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict on duplicate, got %v", err)
	}
}

func TestOrderStore_GetIdempotent(t *testing.T) {
	store := memory.NewOrderStore()
	order := newOrder("order-1", 100, time.Now().UTC())
	if err := store.Create(context.Background(), order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	first, err := store.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	second, err := store.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if first != second {
		t.Fatalf("repeated reads must be identical: %+v vs %+v", first, second)
	}
}

func TestOrderStore_UpdateStatus(t *testing.T) {
	store := memory.NewOrderStore()
	order := newOrder("order-1", 100, time.Now().UTC())
	if err := store.Create(context.Background(), order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := store.UpdateStatus(context.Background(), order.ID, domain.OrderStatusPending, domain.OrderStatusProcessing); err != nil {
		t.Fatalf("update status failed: %v", err)
	}

	stored, _ := store.Get(context.Background(), order.ID)
	if stored.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected processing, got %s", stored.Status)
	}
	if stored.Version != 1 {
		t.Fatalf("expected version bump to 1, got %d", stored.Version)
	}
}

func TestOrderStore_UpdateStatusCASMismatch(t *testing.T) {
	store := memory.NewOrderStore()
	order := newOrder("order-1", 100, time.Now().UTC())
	if err := store.Create(context.Background(), order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	err := store.UpdateStatus(context.Background(), order.ID, domain.OrderStatusProcessing, domain.OrderStatusCompleted)
	if !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict on stale from-status, got %v", err)
	}
}

func TestOrderStore_UpdateStatusRejectsBadTransition(t *testing.T) {
	store := memory.NewOrderStore()
	order := newOrder("order-1", 100, time.Now().UTC())
	if err := store.Create(context.Background(), order); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := store.UpdateStatus(context.Background(), order.ID, domain.OrderStatusPending, domain.OrderStatusCompleted); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	err := store.UpdateStatus(context.Background(), order.ID, domain.OrderStatusCompleted, domain.OrderStatusPending)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition out of terminal, got %v", err)
	}
}

func TestOrderStore_ListFilterAndSort(t *testing.T) {
	store := memory.NewOrderStore()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Create(context.Background(), newOrder("order-1", 240000, base)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(context.Background(), newOrder("order-2", 15000, base.Add(time.Hour))); err != nil {
		t.Fatalf("create: %v", err)
	}

	// price_desc: сперва больший total.
	items, total, err := store.List(context.Background(), domain.OrderFilter{}, domain.OrderSortPriceDesc, domain.Page{Number: 1, Size: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("expected 2 orders, got total=%d len=%d", total, len(items))
	}
	if items[0].TotalMinor != 240000 {
		t.Fatalf("expected 240000 first for price_desc, got %d", items[0].TotalMinor)
	}

	// Фильтр по диапазону дат включает границы.
	items, total, err = store.List(context.Background(), domain.OrderFilter{
		FromMillis: base.UnixMilli(),
		ToMillis:   base.UnixMilli(),
	}, domain.OrderSortDateDesc, domain.Page{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || items[0].ID != "order-1" {
		t.Fatalf("expected only order-1 in range, got total=%d", total)
	}
}

func TestOrderStore_ListPagesReassembleWithoutDuplicates(t *testing.T) {
	store := memory.NewOrderStore()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	ids := map[string]bool{}
	for i := 0; i < 7; i++ {
		id := string(rune('a'+i)) + "-order"
		if err := store.Create(context.Background(), newOrder(id, int64(100*(i+1)), base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("create: %v", err)
		}
		ids[id] = true
	}

	seen := map[string]bool{}
	for page := 1; ; page++ {
		items, total, err := store.List(context.Background(), domain.OrderFilter{}, domain.OrderSortDateAsc, domain.Page{Number: page, Size: 3})
		if err != nil {
			t.Fatalf("list page %d: %v", page, err)
		}
		if total != 7 {
			t.Fatalf("total must stay 7, got %d", total)
		}
		if len(items) == 0 {
			break
		}
		if len(items) > 3 {
			t.Fatalf("page length %d exceeds page size 3", len(items))
		}
		for _, item := range items {
			if seen[item.ID] {
				t.Fatalf("duplicate item %s across pages", item.ID)
			}
			seen[item.ID] = true
		}
	}

	if len(seen) != len(ids) {
		t.Fatalf("pages reassembled %d items, expected %d", len(seen), len(ids))
	}
}

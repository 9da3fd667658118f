package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/khazin/ecom-core/internal/domain"
)

// orderStoreInMemory — простая in-memory реализация OrderStore.
type orderStoreInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
}

// NewOrderStore возвращает in-memory хранилище заказов для локальной разработки и тестов.
func NewOrderStore() *orderStoreInMemory {
	return &orderStoreInMemory{
		items: make(map[string]domain.Order),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (s *orderStoreInMemory) Create(_ context.Context, order domain.Order) error {
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return errs[0]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	s.items[order.ID] = order
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (s *orderStoreInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// UpdateStatus атомарно переводит заказ from→to. Текущий статус должен
// совпадать с from (CAS), переход — присутствовать в таблице переходов.
func (s *orderStoreInMemory) UpdateStatus(_ context.Context, id string, from, to domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.items[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if order.Status != from {
		return domain.ErrOrderVersionConflict
	}
	if !domain.CanTransition(from, to) {
		return domain.ErrInvalidTransition
	}

	order.Status = to
	order.Version++
	order.UpdatedAt = time.Now().UTC()
	s.items[id] = order
	return nil
}

// List возвращает страницу заказов и полное число записей под фильтром.
func (s *orderStoreInMemory) List(_ context.Context, filter domain.OrderFilter, sortBy domain.OrderSort, page domain.Page) ([]domain.Order, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filtered := make([]domain.Order, 0, len(s.items))
	for _, order := range s.items {
		if !matchOrder(order, filter) {
			continue
		}
		filtered = append(filtered, order)
	}

	sortOrders(filtered, sortBy.Normalize())

	total := len(filtered)
	page = page.Normalize()
	offset := page.Offset()
	if offset >= len(filtered) {
		return []domain.Order{}, total, nil
	}
	end := offset + page.Size
	if end > len(filtered) {
		end = len(filtered)
	}
	result := make([]domain.Order, end-offset)
	copy(result, filtered[offset:end])
	return result, total, nil
}

// matchOrder проверяет заказ на соответствие фильтру. Временные границы
// заданы в epoch-миллисекундах и включительны; ноль означает "не задано".
func matchOrder(order domain.Order, filter domain.OrderFilter) bool {
	if filter.Status != "" && order.Status != filter.Status {
		return false
	}
	createdMillis := order.CreatedAt.UnixMilli()
	if filter.FromMillis > 0 && createdMillis < filter.FromMillis {
		return false
	}
	if filter.ToMillis > 0 && createdMillis > filter.ToMillis {
		return false
	}
	return true
}

func sortOrders(orders []domain.Order, sortBy domain.OrderSort) {
	switch sortBy {
	case domain.OrderSortDateAsc:
		sort.Slice(orders, func(i, j int) bool {
			if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
				return orders[i].CreatedAt.Before(orders[j].CreatedAt)
			}
			return orders[i].ID < orders[j].ID
		})
	case domain.OrderSortPriceAsc:
		sort.Slice(orders, func(i, j int) bool {
			if orders[i].TotalMinor != orders[j].TotalMinor {
				return orders[i].TotalMinor < orders[j].TotalMinor
			}
			return orders[i].ID < orders[j].ID
		})
	case domain.OrderSortPriceDesc:
		sort.Slice(orders, func(i, j int) bool {
			if orders[i].TotalMinor != orders[j].TotalMinor {
				return orders[i].TotalMinor > orders[j].TotalMinor
			}
			return orders[i].ID < orders[j].ID
		})
	default:
		// date_desc — сортировка по умолчанию.
		sort.Slice(orders, func(i, j int) bool {
			if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
				return orders[i].CreatedAt.After(orders[j].CreatedAt)
			}
			return orders[i].ID > orders[j].ID
		})
	}
}

var _ domain.OrderStore = (*orderStoreInMemory)(nil)

package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/khazin/ecom-core/internal/domain"
)

// productStoreInMemory — простая in-memory реализация ProductStore.
// Атомарность ReduceStock обеспечивается общим мьютексом: проверка и
// декремент выполняются под одной блокировкой.
type productStoreInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Product
}

// NewProductStore возвращает in-memory хранилище товаров для локальной разработки и тестов.
func NewProductStore() *productStoreInMemory {
	return &productStoreInMemory{
		items: make(map[string]domain.Product),
	}
}

// Put сохраняет товар (upsert). Используется для сидинга каталога.
func (s *productStoreInMemory) Put(_ context.Context, product domain.Product) error {
	if errs := product.Validate(); len(errs) > 0 {
		return errs[0]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[product.ID] = product
	return nil
}

// Get возвращает товар или ErrProductNotFound.
func (s *productStoreInMemory) Get(_ context.Context, id string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// CheckStock проверяет наличие qty единиц. Результат консультативный.
func (s *productStoreInMemory) CheckStock(_ context.Context, id string, qty int32) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.items[id]
	if !ok {
		return false, domain.ErrProductNotFound
	}
	return product.Stock >= qty, nil
}

// ReduceStock атомарно списывает qty единиц под одной блокировкой —
// двум конкурентным списаниям последней единицы не выиграть обоим.
func (s *productStoreInMemory) ReduceStock(_ context.Context, id string, qty int32) error {
	if qty <= 0 {
		return domain.ErrQtyInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.items[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	if product.Stock < qty {
		return domain.ErrInsufficientStock
	}
	product.Stock -= qty
	s.items[id] = product
	return nil
}

// RestoreStock возвращает qty единиц на склад (компенсация).
func (s *productStoreInMemory) RestoreStock(_ context.Context, id string, qty int32) error {
	if qty <= 0 {
		return domain.ErrQtyInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.items[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	product.Stock += qty
	s.items[id] = product
	return nil
}

// List возвращает страницу каталога и полное число записей под фильтром.
func (s *productStoreInMemory) List(_ context.Context, filter domain.ProductFilter, sortBy domain.ProductSort, page domain.Page) ([]domain.Product, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filtered := make([]domain.Product, 0, len(s.items))
	for _, product := range s.items {
		if filter.Category != "" && product.Category != filter.Category {
			continue
		}
		filtered = append(filtered, product)
	}

	switch sortBy.Normalize() {
	case domain.ProductSortPriceAsc:
		sort.Slice(filtered, func(i, j int) bool {
			if filtered[i].PriceMinor != filtered[j].PriceMinor {
				return filtered[i].PriceMinor < filtered[j].PriceMinor
			}
			return filtered[i].ID < filtered[j].ID
		})
	case domain.ProductSortPriceDesc:
		sort.Slice(filtered, func(i, j int) bool {
			if filtered[i].PriceMinor != filtered[j].PriceMinor {
				return filtered[i].PriceMinor > filtered[j].PriceMinor
			}
			return filtered[i].ID < filtered[j].ID
		})
	default:
		sort.Slice(filtered, func(i, j int) bool {
			return filtered[i].ID < filtered[j].ID
		})
	}

	total := len(filtered)
	return paginateProducts(filtered, page.Normalize()), total, nil
}

func paginateProducts(items []domain.Product, page domain.Page) []domain.Product {
	offset := page.Offset()
	if offset >= len(items) {
		return []domain.Product{}
	}
	end := offset + page.Size
	if end > len(items) {
		end = len(items)
	}
	result := make([]domain.Product, end-offset)
	copy(result, items[offset:end])
	return result
}

var _ domain.ProductStore = (*productStoreInMemory)(nil)

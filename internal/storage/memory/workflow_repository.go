package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/khazin/ecom-core/internal/domain"
)

// workflowRepositoryInMemory хранит журнал запусков оркестратора в памяти.
type workflowRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.WorkflowRun
}

// NewWorkflowRepository возвращает in-memory реализацию WorkflowRepository.
func NewWorkflowRepository() *workflowRepositoryInMemory {
	return &workflowRepositoryInMemory{
		items: make(map[string]domain.WorkflowRun),
	}
}

func (r *workflowRepositoryInMemory) Create(_ context.Context, run domain.WorkflowRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[run.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	r.items[run.ID] = run
	return nil
}

func (r *workflowRepositoryInMemory) Update(_ context.Context, run domain.WorkflowRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[run.ID]; !ok {
		return domain.ErrWorkflowNotFound
	}
	r.items[run.ID] = run
	return nil
}

func (r *workflowRepositoryInMemory) Get(_ context.Context, id string) (domain.WorkflowRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.items[id]
	if !ok {
		return domain.WorkflowRun{}, domain.ErrWorkflowNotFound
	}
	return run, nil
}

// ListStuck возвращает running-запуски, не обновлявшиеся с olderThan,
// от старых к новым.
func (r *workflowRepositoryInMemory) ListStuck(_ context.Context, olderThan time.Time, limit int) ([]domain.WorkflowRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.WorkflowRun, 0)
	for _, run := range r.items {
		if !run.Active() {
			continue
		}
		if run.UpdatedAt.After(olderThan) {
			continue
		}
		result = append(result, run)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ domain.WorkflowRepository = (*workflowRepositoryInMemory)(nil)

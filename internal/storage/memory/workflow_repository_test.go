package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/khazin/ecom-core/internal/domain"
	"github.com/khazin/ecom-core/internal/storage/memory"
)

func newRun(id string, updatedAt time.Time) domain.WorkflowRun {
	return domain.WorkflowRun{
		ID:        id,
		Kind:      domain.WorkflowKindPlaceOrder,
		ProductID: "product-1",
		Qty:       1,
		Step:      domain.WorkflowStepStockCheck,
		State:     domain.WorkflowStateRunning,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
}

func TestWorkflowRepository_CreateGetUpdate(t *testing.T) {
	repo := memory.NewWorkflowRepository()
	run := newRun("run-1", time.Now().UTC())

	if err := repo.Create(context.Background(), run); err != nil {
		t.Fatalf("create: %v", err)
	}

	run.Advance(domain.WorkflowStepAuthorize)
	if err := repo.Update(context.Background(), run); err != nil {
		t.Fatalf("update: %v", err)
	}

	stored, err := repo.Get(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Step != domain.WorkflowStepAuthorize {
		t.Fatalf("expected authorize step, got %s", stored.Step)
	}
}

func TestWorkflowRepository_GetNotFound(t *testing.T) {
	repo := memory.NewWorkflowRepository()

	_, err := repo.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound, got %v", err)
	}
}

func TestWorkflowRepository_ListStuck(t *testing.T) {
	repo := memory.NewWorkflowRepository()
	now := time.Now().UTC()

	old := newRun("run-old", now.Add(-time.Hour))
	fresh := newRun("run-fresh", now)
	done := newRun("run-done", now.Add(-2*time.Hour))
	done.State = domain.WorkflowStateCompleted

	for _, run := range []domain.WorkflowRun{old, fresh, done} {
		if err := repo.Create(context.Background(), run); err != nil {
			t.Fatalf("create %s: %v", run.ID, err)
		}
	}

	stuck, err := repo.ListStuck(context.Background(), now.Add(-10*time.Minute), 10)
	if err != nil {
		t.Fatalf("list stuck: %v", err)
	}
	if len(stuck) != 1 {
		t.Fatalf("expected 1 stuck run, got %d", len(stuck))
	}
	if stuck[0].ID != "run-old" {
		t.Fatalf("expected run-old, got %s", stuck[0].ID)
	}
}

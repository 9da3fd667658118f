package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/khazin/ecom-core/internal/domain"
)

func TestWorkflowRepositoryIntegration_CreateUpdateGet(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewWorkflowRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	run := domain.WorkflowRun{
		ID:        uuid.NewString(),
		Kind:      domain.WorkflowKindPlaceOrder,
		ProductID: "p-1",
		Qty:       2,
		Step:      domain.WorkflowStepStockCheck,
		State:     domain.WorkflowStateRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("Create: %v", err)
	}

	run.OrderID = uuid.NewString()
	run.Advance(domain.WorkflowStepReduceStock)
	if err := repo.Update(ctx, run); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := repo.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Step != domain.WorkflowStepReduceStock || got.OrderID != run.OrderID {
		t.Fatalf("unexpected run after update: %+v", got)
	}
	if !got.Active() {
		t.Fatalf("run must stay running, got %s", got.State)
	}

	if _, err := repo.Get(ctx, uuid.NewString()); !errors.Is(err, domain.ErrWorkflowNotFound) {
		t.Fatalf("Get(missing) = %v, want ErrWorkflowNotFound", err)
	}
	if err := repo.Update(ctx, domain.WorkflowRun{ID: uuid.NewString()}); !errors.Is(err, domain.ErrWorkflowNotFound) {
		t.Fatalf("Update(missing) = %v, want ErrWorkflowNotFound", err)
	}
}

func TestWorkflowRepositoryIntegration_ListStuck(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewWorkflowRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	mk := func(state domain.WorkflowState, updatedAt time.Time) domain.WorkflowRun {
		run := domain.WorkflowRun{
			ID:        uuid.NewString(),
			Kind:      domain.WorkflowKindPlaceOrder,
			ProductID: "p-1",
			Qty:       1,
			Step:      domain.WorkflowStepAuthorize,
			State:     state,
			CreatedAt: updatedAt,
			UpdatedAt: updatedAt,
		}
		if err := repo.Create(ctx, run); err != nil {
			t.Fatalf("seed run: %v", err)
		}
		return run
	}

	oldest := mk(domain.WorkflowStateRunning, now.Add(-2*time.Hour))
	older := mk(domain.WorkflowStateRunning, now.Add(-time.Hour))
	mk(domain.WorkflowStateRunning, now)                            // свежий, не попадает
	mk(domain.WorkflowStateCompensated, now.Add(-3*time.Hour))      // закрыт
	mk(domain.WorkflowStateCompleted, now.Add(-3*time.Hour))        // закрыт

	stuck, err := repo.ListStuck(ctx, now.Add(-30*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStuck: %v", err)
	}
	if len(stuck) != 2 {
		t.Fatalf("stuck = %d, want 2", len(stuck))
	}
	if stuck[0].ID != oldest.ID || stuck[1].ID != older.ID {
		t.Fatalf("unexpected stuck order: %s, %s", stuck[0].ID, stuck[1].ID)
	}

	limited, err := repo.ListStuck(ctx, now.Add(-30*time.Minute), 1)
	if err != nil {
		t.Fatalf("ListStuck(limit 1): %v", err)
	}
	if len(limited) != 1 || limited[0].ID != oldest.ID {
		t.Fatalf("unexpected limited result: %+v", limited)
	}
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/khazin/ecom-core/internal/domain"
)

type workflowRepository struct {
	db *sql.DB
}

// NewWorkflowRepository создаёт PostgreSQL-реализацию WorkflowRepository.
func NewWorkflowRepository(store *Store) domain.WorkflowRepository {
	return &workflowRepository{db: store.DB()}
}

func (r *workflowRepository) Create(ctx context.Context, run domain.WorkflowRun) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, kind, order_id, product_id, qty, step, state, last_error, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, run.ID, string(run.Kind), run.OrderID, run.ProductID, run.Qty,
		string(run.Step), string(run.State), run.LastError, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("workflow run %s already exists", run.ID)
		}
		return fmt.Errorf("insert workflow run: %w", err)
	}

	return nil
}

func (r *workflowRepository) Update(ctx context.Context, run domain.WorkflowRun) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE workflow_runs
		SET order_id = $1, step = $2, state = $3, last_error = $4, updated_at = $5
		WHERE id = $6
	`, run.OrderID, string(run.Step), string(run.State), run.LastError, run.UpdatedAt, run.ID)
	if err != nil {
		return fmt.Errorf("update workflow run: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update workflow run rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrWorkflowNotFound
	}

	return nil
}

func (r *workflowRepository) Get(ctx context.Context, id string) (domain.WorkflowRun, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	run, err := scanWorkflowRun(r.db.QueryRowContext(ctx, `
		SELECT id, kind, order_id, product_id, qty, step, state, last_error, created_at, updated_at
		FROM workflow_runs
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WorkflowRun{}, domain.ErrWorkflowNotFound
		}
		return domain.WorkflowRun{}, fmt.Errorf("select workflow run: %w", err)
	}

	return run, nil
}

func (r *workflowRepository) ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]domain.WorkflowRun, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, order_id, product_id, qty, step, state, last_error, created_at, updated_at
		FROM workflow_runs
		WHERE state = $1 AND updated_at <= $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, string(domain.WorkflowStateRunning), olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("select stuck workflow runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.WorkflowRun, 0, limit)
	for rows.Next() {
		run, err := scanWorkflowRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflow runs: %w", err)
	}

	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflowRun(row rowScanner) (domain.WorkflowRun, error) {
	var (
		run   domain.WorkflowRun
		kind  string
		step  string
		state string
	)
	if err := row.Scan(&run.ID, &kind, &run.OrderID, &run.ProductID, &run.Qty, &step, &state, &run.LastError, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return domain.WorkflowRun{}, err
	}
	run.Kind = domain.WorkflowKind(kind)
	run.Step = domain.WorkflowStep(step)
	run.State = domain.WorkflowState(state)
	return run, nil
}

var _ domain.WorkflowRepository = (*workflowRepository)(nil)

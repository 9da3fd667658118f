package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/khazin/ecom-core/internal/domain"
)

type idempotencyRepository struct {
	db *sql.DB
}

// NewIdempotencyRepository создаёт PostgreSQL-реализацию IdempotencyRepository.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{db: store.DB()}
}

// CreateProcessing атомарно резервирует ключ под обработку. Вставка с
// ON CONFLICT DO NOTHING различает свежий ключ и повтор без гонки
// между проверкой и записью. Ключ в статусе failed перехватывается
// заново условным UPDATE: неудачная попытка не закрепляет ключ, а
// повтор обрабатывается с чистого листа.
func (r *idempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, request_hash, status, ttl_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (key) DO NOTHING
	`, key, requestHash, string(domain.IdempotencyStatusProcessing), ttlAt.UTC(), now)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("insert idempotency key: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("insert idempotency key rows affected: %w", err)
	}
	if affected == 1 {
		return domain.IdempotencyRecord{
			Key:         key,
			RequestHash: requestHash,
			Status:      domain.IdempotencyStatusProcessing,
			TTLAt:       ttlAt.UTC(),
			CreatedAt:   now,
			UpdatedAt:   now,
		}, nil
	}

	reclaimed, err := r.reclaimFailed(ctx, key, requestHash, ttlAt)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if reclaimed {
		return r.Get(ctx, key)
	}

	existing, err := r.Get(ctx, key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if existing.RequestHash != requestHash {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

// reclaimFailed возвращает ключ из статуса failed в processing. Условие
// по статусу делает перехват атомарным: из конкурирующих повторов
// выиграет ровно один.
func (r *idempotencyRepository) reclaimFailed(ctx context.Context, key, requestHash string, ttlAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET request_hash = $2, status = $3, response_body = NULL, http_status = 0, ttl_at = $4, updated_at = NOW()
		WHERE key = $1 AND status = $5
	`, key, requestHash, string(domain.IdempotencyStatusProcessing), ttlAt.UTC(), string(domain.IdempotencyStatusFailed))
	if err != nil {
		return false, fmt.Errorf("reclaim failed idempotency key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reclaim idempotency key rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		record domain.IdempotencyRecord
		status string
		body   []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT key, request_hash, response_body, http_status, status, ttl_at, created_at, updated_at
		FROM idempotency_keys
		WHERE key = $1
	`, strings.TrimSpace(key)).Scan(
		&record.Key, &record.RequestHash, &body, &record.HTTPStatus,
		&status, &record.TTLAt, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("select idempotency key: %w", err)
	}
	record.Status = domain.IdempotencyStatus(status)
	record.ResponseBody = body

	return record, nil
}

func (r *idempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.mark(ctx, key, responseBody, httpStatus, domain.IdempotencyStatusDone)
}

func (r *idempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.mark(ctx, key, responseBody, httpStatus, domain.IdempotencyStatusFailed)
}

func (r *idempotencyRepository) mark(ctx context.Context, key string, responseBody []byte, httpStatus int, status domain.IdempotencyStatus) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET response_body = $1, http_status = $2, status = $3, updated_at = NOW()
		WHERE key = $4
	`, responseBody, httpStatus, string(status), strings.TrimSpace(key))
	if err != nil {
		return fmt.Errorf("mark idempotency key: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark idempotency key rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}

	return nil
}

func (r *idempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 500
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key IN (
			SELECT key FROM idempotency_keys
			WHERE ttl_at <= $1
			ORDER BY ttl_at ASC
			LIMIT $2
		)
	`, before.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired rows affected: %w", err)
	}

	return int(affected), nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)

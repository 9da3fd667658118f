package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/khazin/ecom-core/internal/domain"
)

func TestIdempotencyRepositoryIntegration_ReserveAndReplay(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)
	ctx := context.Background()

	ttl := time.Now().UTC().Add(time.Hour)

	record, err := repo.CreateProcessing(ctx, "key-1", "hash-1", ttl)
	if err != nil {
		t.Fatalf("fresh CreateProcessing: %v", err)
	}
	if record.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("status = %s, want processing", record.Status)
	}

	// Повтор с тем же хэшем до завершения возвращает processing-запись.
	existing, err := repo.CreateProcessing(ctx, "key-1", "hash-1", ttl)
	if !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("repeat CreateProcessing = %v, want ErrIdempotencyKeyAlreadyExists", err)
	}
	if existing.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("existing status = %s, want processing", existing.Status)
	}

	if err := repo.MarkDone(ctx, "key-1", []byte(`{"orderId":"o-1"}`), 201); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	// После завершения повтор отдаёт сохранённый ответ.
	existing, err = repo.CreateProcessing(ctx, "key-1", "hash-1", ttl)
	if !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("replay CreateProcessing = %v, want ErrIdempotencyKeyAlreadyExists", err)
	}
	if existing.Status != domain.IdempotencyStatusDone || existing.HTTPStatus != 201 {
		t.Fatalf("unexpected replay record: %+v", existing)
	}
	if string(existing.ResponseBody) != `{"orderId":"o-1"}` {
		t.Fatalf("response body = %s", existing.ResponseBody)
	}

	// Тот же ключ с другим телом запроса — конфликт.
	if _, err := repo.CreateProcessing(ctx, "key-1", "hash-2", ttl); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("mismatched hash = %v, want ErrIdempotencyHashMismatch", err)
	}
}

func TestIdempotencyRepositoryIntegration_MarkFailedAllowsInspection(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)
	ctx := context.Background()

	ttl := time.Now().UTC().Add(time.Hour)
	if _, err := repo.CreateProcessing(ctx, "key-fail", "hash-1", ttl); err != nil {
		t.Fatalf("CreateProcessing: %v", err)
	}
	if err := repo.MarkFailed(ctx, "key-fail", []byte(`{"error":"boom"}`), 500); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	record, err := repo.Get(ctx, "key-fail")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Status != domain.IdempotencyStatusFailed || record.HTTPStatus != 500 {
		t.Fatalf("unexpected failed record: %+v", record)
	}

	if err := repo.MarkDone(ctx, "no-such-key", nil, 200); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("MarkDone(missing) = %v, want ErrIdempotencyKeyNotFound", err)
	}
}

func TestIdempotencyRepositoryIntegration_DeleteExpiredInBatches(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)
	ctx := context.Background()

	now := time.Now().UTC()
	for _, key := range []string{"exp-1", "exp-2", "exp-3"} {
		if _, err := repo.CreateProcessing(ctx, key, "hash", now.Add(-time.Hour)); err != nil {
			t.Fatalf("seed expired %s: %v", key, err)
		}
	}
	if _, err := repo.CreateProcessing(ctx, "alive", "hash", now.Add(time.Hour)); err != nil {
		t.Fatalf("seed alive: %v", err)
	}

	deleted, err := repo.DeleteExpired(ctx, now, 2)
	if err != nil {
		t.Fatalf("DeleteExpired batch 1: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}

	deleted, err = repo.DeleteExpired(ctx, now, 2)
	if err != nil {
		t.Fatalf("DeleteExpired batch 2: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	if _, err := repo.Get(ctx, "alive"); err != nil {
		t.Fatalf("living key must survive cleanup: %v", err)
	}
	if _, err := repo.Get(ctx, "exp-1"); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expired key must be removed, got %v", err)
	}
}

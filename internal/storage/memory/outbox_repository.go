package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/khazin/ecom-core/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg       domain.OutboxMessage
	status    string
	attempts  int
	createdAt time.Time
	updatedAt time.Time
}

// outboxRepositoryInMemory — in-memory transactional outbox. Порядок
// постановки сохраняется, PullPending отдаёт старые сообщения первыми,
// как и postgres-реализация.
type outboxRepositoryInMemory struct {
	mu      sync.RWMutex
	order   []string
	records map[string]*outboxRecord
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository() *outboxRepositoryInMemory {
	return &outboxRepositoryInMemory{records: make(map[string]*outboxRecord)}
}

var _ domain.OutboxRepository = (*outboxRepositoryInMemory)(nil)

// Enqueue сохраняет событие со статусом pending и возвращает его с
// присвоенным идентификатором.
func (r *outboxRepositoryInMemory) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[msg.ID] = &outboxRecord{
		msg:       msg,
		status:    outboxStatusPending,
		createdAt: now,
		updatedAt: now,
	}
	r.order = append(r.order, msg.ID)
	return msg, nil
}

// PullPending возвращает до limit самых старых pending-сообщений.
func (r *outboxRepositoryInMemory) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	batch := make([]domain.OutboxMessage, 0, limit)
	for _, id := range r.order {
		rec, ok := r.records[id]
		if !ok || rec.status != outboxStatusPending {
			continue
		}
		batch = append(batch, rec.msg)
		if len(batch) >= limit {
			break
		}
	}
	return batch, nil
}

// Stats возвращает размер и возраст pending-бэклога.
func (r *outboxRepositoryInMemory) Stats() (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, rec := range r.records {
		if rec.status != outboxStatusPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.createdAt
		}
	}
	return stats, nil
}

// MarkSent фиксирует успешную публикацию события.
func (r *outboxRepositoryInMemory) MarkSent(id string) error {
	return r.setStatus(id, outboxStatusSent)
}

// MarkFailed фиксирует исчерпание попыток публикации.
func (r *outboxRepositoryInMemory) MarkFailed(id string) error {
	return r.setStatus(id, outboxStatusFailed)
}

func (r *outboxRepositoryInMemory) setStatus(id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	record.status = status
	record.attempts++
	record.updatedAt = time.Now().UTC()
	return nil
}

// AllPending возвращает копию всех pending-сообщений в порядке постановки.
// Используется в тестах.
func (r *outboxRepositoryInMemory) AllPending() []domain.OutboxMessage {
	r.mu.RLock()
	total := len(r.order)
	r.mu.RUnlock()

	msgs, _ := r.PullPending(total)
	return msgs
}

package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/khazin/ecom-core/internal/domain"
)

// eventEnvelope — формат сообщения в топике событий заказов.
type eventEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// OutboxTopicPublisher отправляет outbox-сообщения в Kafka. Ключ
// партиционирования — id заказа, так что события одного заказа идут
// по порядку в одной партиции.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
// Пустой topic означает топик событий заказов по умолчанию.
func NewOutboxPublisher(producer *Producer, topic string) domain.OutboxPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic}
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	// У системных сообщений без агрегата ключом служит id самой записи.
	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	return p.producer.PublishEvent(p.topic, key, eventEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   time.Now().UTC(),
	})
}

package kafka

// Topics для Kafka.
const (
	// TopicOrderEvents — основной топик событий заказов, наполняется
	// outbox-воркером.
	TopicOrderEvents = "ecom.order.events"
	// TopicDeadLetterQueue принимает сообщения, исчерпавшие попытки
	// публикации.
	TopicDeadLetterQueue = "ecom.dlq"
)

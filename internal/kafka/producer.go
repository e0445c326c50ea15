package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-ticketing-engine/internal/logger"
	"ms-ticketing-engine/internal/models"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes JSON messages keyed by entity id. With no writer it only
// logs, which is how a deployment without Kafka runs.
type Producer struct {
	writer            messageWriter
	orderEventsTopic  string
	notificationTopic string
	logger            *logger.Logger
	now               func() time.Time
}

func NewProducer(brokers []string, orderEventsTopic, notificationTopic string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	return newProducer(writer, orderEventsTopic, notificationTopic, log)
}

// NewLogOnlyProducer is used when KAFKA_ENABLED is false.
func NewLogOnlyProducer(log *logger.Logger) *Producer {
	return newProducer(nil, "order-events", "notifications", log)
}

func newProducer(w messageWriter, orderEventsTopic, notificationTopic string, log *logger.Logger) *Producer {
	return &Producer{
		writer:            w,
		orderEventsTopic:  orderEventsTopic,
		notificationTopic: notificationTopic,
		logger:            log,
		now:               time.Now,
	}
}

// Publish marshals value and writes it to topic under key.
func (p *Producer) Publish(ctx context.Context, topic, key string, value any) error {
	msgBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", topic, err)
	}

	if p.writer == nil {
		p.logger.LogKafka("SKIP", topic, fmt.Sprintf("kafka disabled, dropping message %s", key))
		return nil
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: msgBytes,
	})
	if err != nil {
		return fmt.Errorf("write to %s: %w", topic, err)
	}
	p.logger.LogKafka("PUBLISH", topic, fmt.Sprintf("key=%s bytes=%d", key, len(msgBytes)))
	return nil
}

// PublishOrderEvent streams an order lifecycle change keyed by order id, so
// every event of one order lands on the same partition in order.
func (p *Producer) PublishOrderEvent(ctx context.Context, eventType string, order *models.Order) error {
	event := models.OrderEvent{
		Type:        eventType,
		OrderID:     order.ID,
		UserID:      order.UserID,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		Timestamp:   p.now().UTC(),
	}
	return p.Publish(ctx, p.orderEventsTopic, order.ID, event)
}

// PublishNotification writes to the notifications topic.
func (p *Producer) PublishNotification(ctx context.Context, key string, value any) error {
	return p.Publish(ctx, p.notificationTopic, key, value)
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

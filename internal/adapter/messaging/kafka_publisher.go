package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rl1809/inventory-tracker/internal/core/domain"
)

const (
	EventTypeStockMoved = "inventory.stock.moved"
	eventSource         = "inventory-tracker"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PublishRecorder counts publish attempts.
type PublishRecorder interface {
	RecordEventPublish(topic string, success bool)
}

// KafkaPublisher writes StockMoved events keyed by product id, so all
// movements of one product land on one partition in ledger order.
type KafkaPublisher struct {
	writer   messageWriter
	topic    string
	timeout  time.Duration
	recorder PublishRecorder
}

type KafkaOptions struct {
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	Recorder     PublishRecorder
}

func NewKafkaPublisher(brokers []string, topic string, opts KafkaOptions) *KafkaPublisher {
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 10 * time.Millisecond
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           opts.BatchTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		Async:                  false,
	}

	return newKafkaPublisher(writer, topic, opts)
}

func newKafkaPublisher(writer messageWriter, topic string, opts KafkaOptions) *KafkaPublisher {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &KafkaPublisher{
		writer:   writer,
		topic:    topic,
		timeout:  opts.WriteTimeout,
		recorder: opts.Recorder,
	}
}

func (p *KafkaPublisher) PublishStockMoved(ctx context.Context, event domain.StockMovedEvent) error {
	msg, err := stockMovedMessage(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, msg)
	if p.recorder != nil {
		p.recorder.RecordEventPublish(p.topic, err == nil)
	}
	if err != nil {
		return fmt.Errorf("failed to publish event to kafka: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func stockMovedMessage(event domain.StockMovedEvent) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	return kafka.Message{
		Key:   []byte(strconv.FormatInt(event.Transaction.ProductID, 10)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "ce-type", Value: []byte(EventTypeStockMoved)},
			{Key: "ce-source", Value: []byte(eventSource)},
			{Key: "ce-id", Value: []byte(event.EventID)},
			{Key: "ce-time", Value: []byte(event.OccurredAt.UTC().Format(time.RFC3339Nano))},
			{Key: "content-type", Value: []byte("application/json")},
		},
		Time: event.OccurredAt,
	}, nil
}

package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/congo-pay/congo_custody/internal/withdrawal"
)

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher hands approved withdrawals to the payout executor.
type Publisher struct {
	writer  MessageWriter
	timeout time.Duration
}

// NewPublisher wraps an existing writer, e.g. a fake in tests.
func NewPublisher(writer MessageWriter) *Publisher {
	return &Publisher{writer: writer, timeout: 10 * time.Second}
}

// NewKafkaPublisher writes to topic, keyed by withdrawal id so every event of
// one withdrawal lands on the same partition.
func NewKafkaPublisher(brokers []string, topic string) *Publisher {
	return NewPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	})
}

// Dispatch publishes one DispatchEvent.
func (p *Publisher) Dispatch(ctx context.Context, w withdrawal.Withdrawal) error {
	value, err := json.Marshal(newDispatchEvent(w))
	if err != nil {
		return fmt.Errorf("encode dispatch event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(w.ID),
		Value: value,
		Time:  time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("publish withdrawal %s: %w", w.ID, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

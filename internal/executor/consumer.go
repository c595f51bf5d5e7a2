package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/congo-pay/congo_custody/internal/apperr"
	"github.com/congo-pay/congo_custody/internal/withdrawal"
)

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Results applies executor outcomes to withdrawals.
type Results interface {
	MarkProcessing(ctx context.Context, id, executorRef string) (withdrawal.Withdrawal, error)
	Complete(ctx context.Context, id string, in withdrawal.CompletionInput) (withdrawal.Withdrawal, error)
	Fail(ctx context.Context, id, message string) (withdrawal.Withdrawal, error)
}

// errPoison marks a message that can never be applied.
var errPoison = errors.New("unprocessable result message")

// Consumer reads the results topic and drives withdrawals to their final state.
type Consumer struct {
	reader     MessageReader
	results    Results
	logger     *slog.Logger
	backoff    time.Duration
	maxBackoff time.Duration
}

func NewConsumer(reader MessageReader, results Results, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{reader: reader, results: results, logger: logger, backoff: time.Second, maxBackoff: 30 * time.Second}
}

// NewKafkaConsumer joins groupID on topic. Offsets are committed only after a
// result has been applied or judged unprocessable.
func NewKafkaConsumer(brokers []string, topic, groupID string, results Results, logger *slog.Logger) *Consumer {
	return NewConsumer(kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	}), results, logger)
}

// Run consumes until ctx is cancelled. Transient failures retry the same
// message with capped exponential backoff instead of skipping it.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch result message: %w", err)
		}

		wait := c.backoff
		for {
			err = c.Handle(ctx, msg)
			if err == nil || errors.Is(err, errPoison) {
				break
			}
			c.logger.Error("apply executor result failed, retrying",
				slog.Int64("offset", msg.Offset),
				slog.Duration("backoff", wait),
				slog.Any("error", err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			if wait *= 2; wait > c.maxBackoff {
				wait = c.maxBackoff
			}
		}
		if err != nil {
			c.logger.Error("dropping executor result", slog.Int64("offset", msg.Offset), slog.Any("error", err))
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit result message: %w", err)
		}
	}
}

// Handle applies one message. Errors wrapping errPoison must not be retried.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	var ev ResultEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("%w: %v", errPoison, err)
	}
	if ev.WithdrawalID == "" {
		return fmt.Errorf("%w: missing withdrawal_id", errPoison)
	}

	var err error
	switch ev.Outcome {
	case OutcomeProcessing:
		_, err = c.results.MarkProcessing(ctx, ev.WithdrawalID, ev.Reference)
	case OutcomeCompleted:
		_, err = c.results.Complete(ctx, ev.WithdrawalID, withdrawal.CompletionInput{
			TransactionHash: ev.TxHash,
			Confirmations:   ev.Confirmations,
		})
	case OutcomeFailed:
		message := ev.Error
		if message == "" {
			message = "executor reported failure"
		}
		_, err = c.results.Fail(ctx, ev.WithdrawalID, message)
	default:
		return fmt.Errorf("%w: unknown outcome %q", errPoison, ev.Outcome)
	}
	if err == nil {
		c.logger.Info("executor result applied",
			slog.String("withdrawal_id", ev.WithdrawalID),
			slog.String("outcome", ev.Outcome))
		return nil
	}

	switch apperr.KindOf(err) {
	case apperr.KindConflict:
		// Redelivery of an already applied result lands here.
		c.logger.Warn("executor result conflicts with withdrawal state",
			slog.String("withdrawal_id", ev.WithdrawalID),
			slog.String("outcome", ev.Outcome),
			slog.Any("error", err))
		return nil
	case apperr.KindValidation, apperr.KindNotFound:
		return fmt.Errorf("%w: %v", errPoison, err)
	}
	return err
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

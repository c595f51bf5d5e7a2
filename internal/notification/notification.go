package notification

import (
	"context"
	"log/slog"
)

const (
	// KindWithdrawalStatus is sent whenever a withdrawal changes status.
	KindWithdrawalStatus = "withdrawal_status"
	// KindDepositStatus is sent whenever a deposit changes status.
	KindDepositStatus = "deposit_status"
	// KindBankAccountVerified is sent when an admin verifies a bank account.
	KindBankAccountVerified = "bank_account_verified"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
	Data        map[string]string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	attrs := []any{
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("body", message.Body),
	}
	for k, v := range message.Data {
		attrs = append(attrs, slog.String(k, v))
	}
	n.logger.Info("notification", attrs...)
	return nil
}

// Deliver sends message and logs a failure instead of returning it; status
// notifications never fail the operation that triggered them.
func Deliver(ctx context.Context, n Notifier, logger *slog.Logger, message Message) {
	if n == nil {
		return
	}
	if err := n.Send(ctx, message); err != nil && logger != nil {
		logger.Warn("notification delivery failed",
			slog.String("kind", message.Kind),
			slog.String("destination", message.Destination),
			slog.Any("error", err))
	}
}

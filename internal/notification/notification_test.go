package notification

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

type failingNotifier struct{}

func (failingNotifier) Send(context.Context, Message) error { return errors.New("smtp down") }

func TestLoggerNotifierWritesData(t *testing.T) {
	var buf bytes.Buffer
	n := NewLoggerNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))
	err := n.Send(context.Background(), Message{
		Kind:        KindWithdrawalStatus,
		Destination: "user-1",
		Body:        "withdrawal approved",
		Data:        map[string]string{"status": "APPROVED"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(buf.String(), `"status":"APPROVED"`) {
		t.Fatalf("expected data in log line, got %s", buf.String())
	}
}

func TestDeliverSwallowsErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	Deliver(context.Background(), failingNotifier{}, logger, Message{Kind: KindDepositStatus})
	if !strings.Contains(buf.String(), "notification delivery failed") {
		t.Fatalf("expected warning, got %s", buf.String())
	}
	Deliver(context.Background(), nil, logger, Message{})
}

package executor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_custody/internal/apperr"
	"github.com/congo-pay/congo_custody/internal/logging"
	"github.com/congo-pay/congo_custody/internal/withdrawal"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	done      chan struct{}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	close(r.done)
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type call struct {
	op, id, arg string
}

type fakeResults struct {
	mu       sync.Mutex
	calls    []call
	failures []error
}

func (f *fakeResults) next(c call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return err
	}
	return nil
}

func (f *fakeResults) MarkProcessing(_ context.Context, id, ref string) (withdrawal.Withdrawal, error) {
	return withdrawal.Withdrawal{}, f.next(call{"processing", id, ref})
}

func (f *fakeResults) Complete(_ context.Context, id string, in withdrawal.CompletionInput) (withdrawal.Withdrawal, error) {
	return withdrawal.Withdrawal{}, f.next(call{"complete", id, in.TransactionHash})
}

func (f *fakeResults) Fail(_ context.Context, id, message string) (withdrawal.Withdrawal, error) {
	return withdrawal.Withdrawal{}, f.next(call{"fail", id, message})
}

func resultMessage(t *testing.T, offset int64, ev ResultEvent) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return kafka.Message{Offset: offset, Value: raw}
}

func TestDispatchPublishesKeyedEvent(t *testing.T) {
	writer := &fakeWriter{}
	pub := NewPublisher(writer)
	w := withdrawal.Withdrawal{
		ID:              "3f1c2c1e-6c55-4c57-9d3a-0d2a8f7f6a10",
		UserID:          "user-1",
		Kind:            withdrawal.KindFiat,
		Currency:        "EUR",
		Amount:          decimal.NewFromInt(995),
		Fee:             decimal.NewFromInt(5),
		TotalAmount:     decimal.NewFromInt(1000),
		ReferenceNumber: "WD-20260301-ABCDEFGH",
		UpdatedAt:       time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := pub.Dispatch(context.Background(), w); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(writer.msgs) != 1 || string(writer.msgs[0].Key) != w.ID {
		t.Fatalf("expected one message keyed by withdrawal id, got %+v", writer.msgs)
	}
	var ev DispatchEvent
	if err := json.Unmarshal(writer.msgs[0].Value, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.NetAmount != "995" || ev.TotalAmount != "1000" || ev.Kind != "FIAT" || !ev.ApprovedAt.Equal(w.UpdatedAt) {
		t.Fatalf("unexpected event %+v", ev)
	}

	writer.err = errors.New("leader not available")
	if err := pub.Dispatch(context.Background(), w); err == nil {
		t.Fatalf("expected publish error")
	}
}

func TestHandleRoutesOutcomes(t *testing.T) {
	results := &fakeResults{}
	c := NewConsumer(&fakeReader{}, results, logging.Discard())
	ctx := context.Background()

	events := []ResultEvent{
		{WithdrawalID: "w1", Outcome: OutcomeProcessing, Reference: "exec-1"},
		{WithdrawalID: "w1", Outcome: OutcomeCompleted, TxHash: "0xabc", Confirmations: 12},
		{WithdrawalID: "w2", Outcome: OutcomeFailed},
	}
	for i, ev := range events {
		if err := c.Handle(ctx, resultMessage(t, int64(i), ev)); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}
	want := []call{
		{"processing", "w1", "exec-1"},
		{"complete", "w1", "0xabc"},
		{"fail", "w2", "executor reported failure"},
	}
	if len(results.calls) != len(want) {
		t.Fatalf("expected %d calls, got %+v", len(want), results.calls)
	}
	for i := range want {
		if results.calls[i] != want[i] {
			t.Fatalf("call %d: expected %+v, got %+v", i, want[i], results.calls[i])
		}
	}
}

func TestHandleClassifiesErrors(t *testing.T) {
	results := &fakeResults{}
	c := NewConsumer(&fakeReader{}, results, logging.Discard())
	ctx := context.Background()

	if err := c.Handle(ctx, kafka.Message{Value: []byte("{not json")}); !errors.Is(err, errPoison) {
		t.Fatalf("bad json should be poison, got %v", err)
	}
	if err := c.Handle(ctx, resultMessage(t, 0, ResultEvent{WithdrawalID: "w1", Outcome: "exploded"})); !errors.Is(err, errPoison) {
		t.Fatalf("unknown outcome should be poison, got %v", err)
	}

	results.failures = []error{apperr.Conflict("withdrawal cannot be completed in status COMPLETED")}
	if err := c.Handle(ctx, resultMessage(t, 0, ResultEvent{WithdrawalID: "w1", Outcome: OutcomeCompleted})); err != nil {
		t.Fatalf("redelivered result should be acknowledged, got %v", err)
	}

	results.failures = []error{apperr.NotFound("withdrawal not found")}
	if err := c.Handle(ctx, resultMessage(t, 0, ResultEvent{WithdrawalID: "w9", Outcome: OutcomeFailed})); !errors.Is(err, errPoison) {
		t.Fatalf("unknown withdrawal should be poison, got %v", err)
	}

	results.failures = []error{apperr.Internal(errors.New("connection reset"))}
	err := c.Handle(ctx, resultMessage(t, 0, ResultEvent{WithdrawalID: "w1", Outcome: OutcomeProcessing}))
	if err == nil || errors.Is(err, errPoison) {
		t.Fatalf("internal errors should be retried, got %v", err)
	}
}

func TestRunRetriesTransientAndCommits(t *testing.T) {
	reader := &fakeReader{done: make(chan struct{})}
	reader.queue = []kafka.Message{
		resultMessage(t, 1, ResultEvent{WithdrawalID: "w1", Outcome: OutcomeProcessing, Reference: "r"}),
		{Offset: 2, Value: []byte("garbage")},
		resultMessage(t, 3, ResultEvent{WithdrawalID: "w1", Outcome: OutcomeCompleted, TxHash: "h"}),
	}
	results := &fakeResults{failures: []error{apperr.Unavailable("db down", nil)}}
	c := NewConsumer(reader, results, logging.Discard())
	c.backoff = time.Millisecond
	c.maxBackoff = 2 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	select {
	case <-reader.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("consumer did not drain the queue")
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run: %v", err)
	}

	reader.mu.Lock()
	defer reader.mu.Unlock()
	if len(reader.committed) != 3 || reader.committed[0] != 1 || reader.committed[2] != 3 {
		t.Fatalf("expected offsets 1,2,3 committed in order, got %v", reader.committed)
	}
	results.mu.Lock()
	defer results.mu.Unlock()
	if len(results.calls) != 3 {
		t.Fatalf("expected processing retried once then completion, got %+v", results.calls)
	}
}

type countingSource struct {
	mu    sync.Mutex
	calls int
}

func (s *countingSource) DispatchApproved(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return 1, nil
}

func TestRunRedispatchTicksUntilCancelled(t *testing.T) {
	src := &countingSource{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunRedispatch(ctx, src, time.Millisecond, logging.Discard())
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		src.mu.Lock()
		calls := src.calls
		src.mu.Unlock()
		if calls >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("redispatch did not tick")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
}

package twofactor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/congo_custody/internal/apperr"
	"github.com/congo-pay/congo_custody/internal/logging"
)

type stubAuthority struct {
	calls atomic.Int32
	err   error
}

func (s *stubAuthority) Verify(context.Context, string, string) error {
	s.calls.Add(1)
	return s.err
}

func newTestGateway(auth Authority, store AttemptStore, cfg Config) (*Gateway, *time.Time) {
	g := NewGateway(auth, store, cfg, logging.Discard(), nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	return g, &now
}

func TestGatewayBlocksSixthAttemptWithoutCallingAuthority(t *testing.T) {
	auth := &stubAuthority{err: ErrCodeRejected}
	g, _ := newTestGateway(auth, NewMemoryStore(15*time.Minute), Config{MaxAttempts: 5, Window: 15 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := g.Verify(ctx, "user-1", "123456"); !errors.Is(err, apperr.ErrAuthorization) {
			t.Fatalf("attempt %d: expected authorization error, got %v", i+1, err)
		}
	}
	auth.err = nil
	if _, err := g.Verify(ctx, "user-1", "123456"); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected too many attempts, got %v", err)
	}
	if got := auth.calls.Load(); got != 5 {
		t.Fatalf("authority must not be called on the blocked attempt, calls=%d", got)
	}
	if apperr.HTTPStatus(ErrTooManyAttempts) != http.StatusTooManyRequests {
		t.Fatalf("expected 429 mapping")
	}

	// other users are unaffected
	if _, err := g.Verify(ctx, "user-2", "123456"); err != nil {
		t.Fatalf("user-2 verify: %v", err)
	}
}

func TestGatewayWindowExpiry(t *testing.T) {
	auth := &stubAuthority{err: ErrCodeRejected}
	g, now := newTestGateway(auth, NewMemoryStore(0), Config{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = g.Verify(ctx, "user-1", "123456")
	}
	auth.err = nil

	*now = now.Add(4 * time.Minute)
	if _, err := g.Verify(ctx, "user-1", "123456"); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected lockout inside the default window, got %v", err)
	}

	*now = now.Add(time.Minute + time.Second)
	if _, err := g.Verify(ctx, "user-1", "123456"); err != nil {
		t.Fatalf("expected attempts to expire after 5 minutes, got %v", err)
	}
}

func TestGatewaySuccessResetsCounter(t *testing.T) {
	auth := &stubAuthority{err: ErrCodeRejected}
	store := NewMemoryStore(15 * time.Minute)
	g, now := newTestGateway(auth, store, Config{MaxAttempts: 5, Window: 15 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = g.Verify(ctx, "user-1", "123456")
	}
	auth.err = nil
	at, err := g.Verify(ctx, "user-1", "123456")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !at.Equal(*now) {
		t.Fatalf("expected verification time %v, got %v", *now, at)
	}
	if n, _ := store.Failures(ctx, "user-1", *now); n != 0 {
		t.Fatalf("expected counter reset, got %d", n)
	}
}

func TestGatewayMalformedCodeCountsAsFailure(t *testing.T) {
	auth := &stubAuthority{}
	store := NewMemoryStore(time.Minute)
	g, now := newTestGateway(auth, store, Config{})

	if _, err := g.Verify(context.Background(), "user-1", "12ab56"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if auth.calls.Load() != 0 {
		t.Fatalf("malformed code must not reach the authority")
	}
	if n, _ := store.Failures(context.Background(), "user-1", *now); n != 1 {
		t.Fatalf("expected one failure, got %d", n)
	}
}

func TestGatewayUnavailableAuthority(t *testing.T) {
	auth := &stubAuthority{err: ErrAuthorityUnavailable}
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	g, now := newTestGateway(auth, store, Config{})
	if _, err := g.Verify(ctx, "user-1", "123456"); !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if n, _ := store.Failures(ctx, "user-1", *now); n != 0 {
		t.Fatalf("outage must not count as a failed attempt, got %d", n)
	}

	bypass, _ := newTestGateway(auth, store, Config{AllowBypass: true})
	if _, err := bypass.Verify(ctx, "user-1", "123456"); err != nil {
		t.Fatalf("expected bypass outside production, got %v", err)
	}

	prod, _ := newTestGateway(auth, store, Config{AllowBypass: true, Production: true})
	if _, err := prod.Verify(ctx, "user-1", "123456"); !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("bypass must be ignored in production, got %v", err)
	}
}

func TestMemoryStoreEvictsIdleUsers(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 255; i++ {
		_ = store.RecordFailure(ctx, "user-"+string(rune('A'+i%26))+string(rune('a'+i/26)), start)
	}
	later := start.Add(2 * time.Minute)
	_ = store.RecordFailure(ctx, "fresh", later)

	if got := store.size(); got != 1 {
		t.Fatalf("expected idle users evicted, %d remain", got)
	}
}

func TestRedisStoreSlidingWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client, 15*time.Minute)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := store.RecordFailure(ctx, "user-1", start.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if n, err := store.Failures(ctx, "user-1", start.Add(5*time.Minute)); err != nil || n != 3 {
		t.Fatalf("expected 3 failures, got %d %v", n, err)
	}
	// first attempt slides out of the window
	if n, _ := store.Failures(ctx, "user-1", start.Add(15*time.Minute+30*time.Second)); n != 2 {
		t.Fatalf("expected 2 failures after slide, got %d", n)
	}
	if ttl := mr.TTL("2fa:fail:user-1"); ttl <= 0 {
		t.Fatalf("expected key ttl, got %v", ttl)
	}
	if err := store.Reset(ctx, "user-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if mr.Exists("2fa:fail:user-1") {
		t.Fatalf("expected key removed on reset")
	}
}

func TestHTTPAuthority(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/verify" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req verifyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req.Code {
		case "111111":
			_ = json.NewEncoder(w).Encode(verifyResponse{Valid: true})
		case "222222":
			_ = json.NewEncoder(w).Encode(verifyResponse{Valid: false})
		case "333333":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	auth := NewHTTPAuthority(srv.URL, time.Second, 100, 10)
	ctx := context.Background()

	if err := auth.Verify(ctx, "u", "111111"); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
	if err := auth.Verify(ctx, "u", "222222"); !errors.Is(err, ErrCodeRejected) {
		t.Fatalf("expected reject, got %v", err)
	}
	if err := auth.Verify(ctx, "u", "333333"); !errors.Is(err, ErrCodeRejected) {
		t.Fatalf("expected reject on 401, got %v", err)
	}
	if err := auth.Verify(ctx, "u", "444444"); !errors.Is(err, ErrAuthorityUnavailable) {
		t.Fatalf("expected unavailable on 502, got %v", err)
	}
}

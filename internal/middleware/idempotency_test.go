package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/congo_custody/internal/logging"
)

// asUser stands in for JWTAuth in tests.
func asUser(c *fiber.Ctx) error {
	c.Locals(localUserID, c.Get("X-Test-User"))
	return c.Next()
}

func setupTestApp(t *testing.T) (*fiber.App, *int32, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	app := fiber.New()
	var calls int32
	app.Use(asUser, Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/resource", func(c *fiber.Ctx) error {
		n := atomic.AddInt32(&calls, 1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ok": true, "call": n})
	})
	app.Post("/broken", func(c *fiber.Ctx) error {
		atomic.AddInt32(&calls, 1)
		return fiber.NewError(fiber.StatusUnprocessableEntity, "nope")
	})

	cleanup := func() {
		cache.Close()
		mr.Close()
	}
	return app, &calls, cleanup
}

func post(t *testing.T, app *fiber.App, path, user, key, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set("X-Test-User", user)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(payload)
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	app, _, cleanup := setupTestApp(t)
	defer cleanup()

	if status, _ := post(t, app, "/resource", "u1", "", "{}"); status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	status, first := post(t, app, "/resource", "u1", "abc123", "{}")
	if status != fiber.StatusCreated {
		t.Fatalf("expected status %d got %d", fiber.StatusCreated, status)
	}

	// Second request should return the cached response without invoking handler again.
	status, second := post(t, app, "/resource", "u1", "abc123", "{}")
	if status != fiber.StatusCreated {
		t.Fatalf("expected cached status %d got %d", fiber.StatusCreated, status)
	}
	if second != first {
		t.Fatalf("expected cached payload %s got %s", first, second)
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Fatalf("handler ran %d times", atomic.LoadInt32(calls))
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(second), &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}
}

func TestIdempotencyKeysAreScopedPerUser(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	post(t, app, "/resource", "u1", "same-key", "{}")
	status, body := post(t, app, "/resource", "u2", "same-key", "{}")
	if status != fiber.StatusCreated || !strings.Contains(body, `"call":2`) {
		t.Fatalf("second user must not receive the first user's response: %d %s", status, body)
	}
	if atomic.LoadInt32(calls) != 2 {
		t.Fatalf("expected two handler calls, got %d", atomic.LoadInt32(calls))
	}
}

func TestIdempotencyRejectsDifferentBody(t *testing.T) {
	app, _, cleanup := setupTestApp(t)
	defer cleanup()

	post(t, app, "/resource", "u1", "k1", `{"amount":"10"}`)
	if status, _ := post(t, app, "/resource", "u1", "k1", `{"amount":"20"}`); status != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for reused key, got %d", status)
	}
}

func TestIdempotencyReleasesKeyOnError(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	post(t, app, "/broken", "u1", "retry-me", "{}")
	if status, _ := post(t, app, "/broken", "u1", "retry-me", "{}"); status != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected handler error again, got %d", status)
	}
	if atomic.LoadInt32(calls) != 2 {
		t.Fatalf("failed requests must be retryable, handler ran %d times", atomic.LoadInt32(calls))
	}
}

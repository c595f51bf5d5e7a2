package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_custody/internal/auth"
	"github.com/congo-pay/congo_custody/internal/config"
	"github.com/congo-pay/congo_custody/internal/logging"
	"github.com/congo-pay/congo_custody/internal/metrics"
	"github.com/congo-pay/congo_custody/internal/twofactor"
)

const testSecret = "routes-test-secret-routes-test-secret"

type acceptingAuthority struct{}

func (acceptingAuthority) Verify(_ context.Context, _ string, code string) error {
	if code != "123456" {
		return twofactor.ErrCodeRejected
	}
	return nil
}

func testConfig() config.Config {
	return config.Config{
		AppName:        "congo-custody",
		AppEnv:         "test",
		JWTSecret:      testSecret,
		IdempotencyTTL: time.Hour,
		TwoFactor:      config.TwoFactor{MaxAttempts: 5, Window: 5 * time.Minute, Timeout: time.Second},
		Limits: config.Limits{
			ApprovalThreshold: "10000",
			FiatDailyAmount:   "50000",
			FiatDailyCount:    10,
			CryptoDailyAmount: "100000",
		},
		WithdrawRatePerMin: 100,
	}
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cache.Close() })

	registry := prometheus.NewRegistry()
	logger := logging.Discard()
	d := Deps{
		Cfg:       testConfig(),
		Cache:     cache,
		Logger:    logger,
		Gatherer:  registry,
		Metrics:   metrics.New(registry),
		Authority: acceptingAuthority{},
	}
	svc, err := Build(d)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logger)})
	Setup(app, d, svc)
	return app
}

func token(t *testing.T, userID string, role auth.Role) string {
	t.Helper()
	tok, err := auth.Sign(auth.Principal{UserID: userID, Role: role}, []byte(testSecret), time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func call(t *testing.T, app *fiber.App, method, path, tok string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp, out
}

func TestFiatWithdrawalFlow(t *testing.T) {
	app := newTestApp(t)
	userTok := token(t, "user-1", auth.RoleUser)
	adminTok := token(t, "admin-1", auth.RoleAdmin)

	resp, acct := call(t, app, http.MethodPost, "/api/v1/bank-accounts", userTok, map[string]string{
		"currency": "EUR", "bank_name": "Deutsche Bank", "account_holder_name": "Jane Doe", "iban": "DE89370400440532013000",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add bank account: %d %v", resp.StatusCode, acct)
	}
	accountID, _ := acct["id"].(string)

	if resp, body := call(t, app, http.MethodPost, "/api/v1/admin/bank-accounts/"+accountID+"/verify", adminTok, nil, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("verify: %d %v", resp.StatusCode, body)
	}
	if resp, body := call(t, app, http.MethodPost, "/api/v1/admin/adjustments", adminTok, map[string]string{
		"user_id": "user-1", "currency": "EUR", "amount": "1000", "reason": "opening balance",
	}, nil); resp.StatusCode != http.StatusCreated {
		t.Fatalf("adjust: %d %v", resp.StatusCode, body)
	}

	req := map[string]string{"currency": "EUR", "amount": "100", "bank_account_id": accountID, "two_fa_code": "123456"}
	key := map[string]string{"Idempotency-Key": "wd-1"}
	resp, first := call(t, app, http.MethodPost, "/api/v1/withdrawals/fiat", userTok, req, key)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create withdrawal: %d %v", resp.StatusCode, first)
	}
	total, _ := first["total_amount"].(string)
	if first["status"] != "APPROVED" || !decimal.RequireFromString(total).Equal(decimal.NewFromInt(105)) {
		t.Fatalf("unexpected withdrawal %v", first)
	}

	resp, replayed := call(t, app, http.MethodPost, "/api/v1/withdrawals/fiat", userTok, req, key)
	if resp.StatusCode != http.StatusCreated || resp.Header.Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replay, got %d %v", resp.StatusCode, resp.Header)
	}
	if replayed["id"] != first["id"] {
		t.Fatalf("replay returned a different withdrawal: %v vs %v", replayed["id"], first["id"])
	}

	resp, body := call(t, app, http.MethodGet, "/api/v1/balances", userTok, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("balances: %d", resp.StatusCode)
	}
	data, _ := body["data"].([]any)
	if len(data) != 1 {
		t.Fatalf("expected one balance, got %v", body)
	}
	bal := data[0].(map[string]any)
	available := decimal.RequireFromString(bal["available"].(string))
	locked := decimal.RequireFromString(bal["locked"].(string))
	if !available.Equal(decimal.NewFromInt(895)) || !locked.Equal(decimal.NewFromInt(105)) {
		t.Fatalf("unexpected balance %v", bal)
	}
}

func TestDomainErrorsRenderAsJSON(t *testing.T) {
	app := newTestApp(t)
	userTok := token(t, "user-1", auth.RoleUser)

	resp, body := call(t, app, http.MethodPost, "/api/v1/withdrawals/fiat", userTok,
		map[string]string{"currency": "EUR", "amount": "ten", "two_fa_code": "123456"},
		map[string]string{"Idempotency-Key": "bad-amount"})
	if resp.StatusCode != http.StatusUnprocessableEntity || body["error"] == "" {
		t.Fatalf("expected 422 with message, got %d %v", resp.StatusCode, body)
	}

	resp, body = call(t, app, http.MethodGet, "/api/v1/withdrawals/00000000-0000-0000-0000-000000000000", userTok, nil, nil)
	if resp.StatusCode != http.StatusNotFound || body["error"] != "withdrawal not found" {
		t.Fatalf("expected 404, got %d %v", resp.StatusCode, body)
	}
}

func TestRoleSeparation(t *testing.T) {
	app := newTestApp(t)

	cases := []struct {
		name   string
		method string
		path   string
		tok    string
		want   int
	}{
		{"anonymous", http.MethodGet, "/api/v1/balances", "", http.StatusUnauthorized},
		{"user on admin queue", http.MethodGet, "/api/v1/admin/withdrawals", token(t, "u", auth.RoleUser), http.StatusForbidden},
		{"executor on user route", http.MethodGet, "/api/v1/balances", token(t, "x", auth.RoleExecutor), http.StatusForbidden},
		{"user on executor route", http.MethodPost, "/api/v1/executor/withdrawals/abc/fail", token(t, "u", auth.RoleUser), http.StatusForbidden},
		{"admin queue", http.MethodGet, "/api/v1/admin/withdrawals", token(t, "a", auth.RoleAdmin), http.StatusOK},
		{"executor unknown withdrawal", http.MethodPost, "/api/v1/executor/withdrawals/abc/fail", token(t, "x", auth.RoleExecutor), http.StatusNotFound},
	}
	for _, tc := range cases {
		var body any
		if tc.method == http.MethodPost {
			body = map[string]string{"error": "bank rejected"}
		}
		resp, out := call(t, app, tc.method, tc.path, tc.tok, body, nil)
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: expected %d, got %d %v", tc.name, tc.want, resp.StatusCode, out)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t)

	resp, body := call(t, app, http.MethodGet, "/healthz", "", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d %v", resp.StatusCode, body)
	}
	status, _ := body["status"].(map[string]any)
	if status["redis"] != "ok" || status["postgres"] != "disabled" {
		t.Fatalf("unexpected health %v", body)
	}

	resp, _ = call(t, app, http.MethodGet, "/metrics", "", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}
}

func TestBuildRequiresStoresInProduction(t *testing.T) {
	cfg := testConfig()
	cfg.AppEnv = "production"
	if _, err := Build(Deps{Cfg: cfg, Logger: logging.Discard()}); err == nil {
		t.Fatalf("expected production build without database to fail")
	}
}

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/congo-pay/congo_custody/internal/config"
	"github.com/congo-pay/congo_custody/internal/logging"
	"github.com/congo-pay/congo_custody/internal/routes"
)

func TestNewServesInMemory(t *testing.T) {
	srv, err := New(routes.Deps{
		Cfg: config.Config{
			AppName:   "congo-custody",
			AppEnv:    "development",
			Port:      "0",
			JWTSecret: "server-test-secret",
			Limits: config.Limits{
				ApprovalThreshold: "10000",
				FiatDailyAmount:   "50000",
				CryptoDailyAmount: "100000",
			},
		},
		Logger: logging.Discard(),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if srv.Services().Withdrawals == nil || srv.Services().Book == nil {
		t.Fatalf("services not built")
	}

	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, err = srv.App().Test(httptest.NewRequest(http.MethodGet, "/api/v1/balances", nil))
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
}

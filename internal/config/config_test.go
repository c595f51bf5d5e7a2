package config

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":8080" || cfg.IdempotencyTTL != 24*time.Hour || cfg.ShutdownPeriod != 10*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.TwoFactor.MaxAttempts != 5 || cfg.TwoFactor.Window != 5*time.Minute || cfg.TwoFactor.Timeout != 5*time.Second {
		t.Fatalf("unexpected 2FA defaults %+v", cfg.TwoFactor)
	}
	if !cfg.Limits.ApprovalThresholdDecimal().Equal(decimal.NewFromInt(10000)) || cfg.Limits.FiatDailyCount != 10 {
		t.Fatalf("unexpected limits %+v", cfg.Limits)
	}
	if cfg.Kafka.DispatchTopic != "withdrawals.approved" || cfg.Kafka.ResultsTopic != "withdrawals.results" {
		t.Fatalf("unexpected kafka topics %+v", cfg.Kafka)
	}
	if cfg.JWTSecret == "" {
		t.Fatalf("development should fall back to a local secret")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", ":9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("TWO_FA_WINDOW", "30m")
	t.Setenv("FIAT_DAILY_LIMIT", "75000.50")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":9090" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.TwoFactor.Window != 30*time.Minute {
		t.Fatalf("unexpected window %s", cfg.TwoFactor.Window)
	}
	if !cfg.Limits.FiatDailyDecimal().Equal(decimal.RequireFromString("75000.5")) {
		t.Fatalf("unexpected fiat limit %s", cfg.Limits.FiatDailyAmount)
	}
}

func TestLoadRejectsBadLimits(t *testing.T) {
	t.Setenv("APPROVAL_THRESHOLD", "ten thousand")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "APPROVAL_THRESHOLD") {
		t.Fatalf("expected threshold error, got %v", err)
	}
}

func TestProductionRequirements(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("TWO_FA_ALLOW_BYPASS", "true")
	_, err := Load()
	if err == nil {
		t.Fatalf("expected production validation errors")
	}
	for _, want := range []string{"DATABASE_URL", "REDIS_URL", "JWT_SECRET", "TWO_FA_URL", "TWO_FA_ALLOW_BYPASS"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}

	t.Setenv("TWO_FA_ALLOW_BYPASS", "false")
	t.Setenv("DATABASE_URL", "postgres://localhost/custody")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", strings.Repeat("s", 32))
	t.Setenv("TWO_FA_URL", "http://2fa.internal")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.IsProduction() {
		t.Fatalf("expected production")
	}
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/shopspring/decimal"
)

const (
	envProduction       = "production"
	developmentSecret   = "development-only-secret"
	minProductionKeyLen = 32
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME" env-default:"congo-custody"`
	AppEnv         string        `env:"APP_ENV" env-default:"development"`
	Port           string        `env:"PORT" env-default:"8080"`
	LogLevel       string        `env:"LOG_LEVEL" env-default:"info"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	RedisURL       string        `env:"REDIS_URL"`
	JWTSecret      string        `env:"JWT_SECRET"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" env-default:"24h"`

	FeeSchedulePath string `env:"FEE_SCHEDULE_PATH"`

	TwoFactor TwoFactor
	Limits    Limits
	Kafka     Kafka

	WithdrawRatePerMin int `env:"WITHDRAW_RATE_PER_MIN" env-default:"10"`
}

// TwoFactor configures the external authority client and the attempt window.
type TwoFactor struct {
	URL         string        `env:"TWO_FA_URL"`
	Timeout     time.Duration `env:"TWO_FA_TIMEOUT" env-default:"5s"`
	MaxAttempts int           `env:"TWO_FA_MAX_ATTEMPTS" env-default:"5"`
	Window      time.Duration `env:"TWO_FA_WINDOW" env-default:"5m"`
	AllowBypass bool          `env:"TWO_FA_ALLOW_BYPASS" env-default:"false"`
	RPS         float64       `env:"TWO_FA_RPS" env-default:"50"`
	Burst       int           `env:"TWO_FA_BURST" env-default:"100"`
}

// Limits are decimal strings so they survive env parsing without float rounding.
type Limits struct {
	ApprovalThreshold string `env:"APPROVAL_THRESHOLD" env-default:"10000"`
	FiatDailyAmount   string `env:"FIAT_DAILY_LIMIT" env-default:"50000"`
	FiatDailyCount    int    `env:"FIAT_DAILY_COUNT" env-default:"10"`
	CryptoDailyAmount string `env:"CRYPTO_DAILY_LIMIT" env-default:"100000"`
	CryptoDailyCount  int    `env:"CRYPTO_DAILY_COUNT" env-default:"0"`
}

type Kafka struct {
	Brokers            []string      `env:"KAFKA_BROKERS" env-separator:","`
	DispatchTopic      string        `env:"KAFKA_DISPATCH_TOPIC" env-default:"withdrawals.approved"`
	ResultsTopic       string        `env:"KAFKA_RESULTS_TOPIC" env-default:"withdrawals.results"`
	GroupID            string        `env:"KAFKA_GROUP_ID" env-default:"congo-custody"`
	RedispatchInterval time.Duration `env:"REDISPATCH_INTERVAL" env-default:"5m"`
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read env: %w", err)
	}
	cfg.AppEnv = strings.ToLower(strings.TrimSpace(cfg.AppEnv))
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = developmentSecret
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.IsProduction() {
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL must be set"))
		}
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL must be set"))
		}
		if len(c.JWTSecret) < minProductionKeyLen {
			errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters", minProductionKeyLen))
		}
		if c.TwoFactor.URL == "" {
			errs = append(errs, errors.New("TWO_FA_URL must be set"))
		}
		if c.TwoFactor.AllowBypass {
			errs = append(errs, errors.New("TWO_FA_ALLOW_BYPASS is not permitted in production"))
		}
	}
	for name, raw := range map[string]string{
		"APPROVAL_THRESHOLD": c.Limits.ApprovalThreshold,
		"FIAT_DAILY_LIMIT":   c.Limits.FiatDailyAmount,
		"CRYPTO_DAILY_LIMIT": c.Limits.CryptoDailyAmount,
	} {
		d, err := decimal.NewFromString(raw)
		if err != nil || d.IsNegative() {
			errs = append(errs, fmt.Errorf("invalid %s %q", name, raw))
		}
	}
	if c.TwoFactor.MaxAttempts <= 0 {
		errs = append(errs, errors.New("TWO_FA_MAX_ATTEMPTS must be positive"))
	}
	if c.TwoFactor.Window <= 0 || c.TwoFactor.Timeout <= 0 {
		errs = append(errs, errors.New("TWO_FA_WINDOW and TWO_FA_TIMEOUT must be positive"))
	}
	if c.Kafka.RedispatchInterval <= 0 {
		errs = append(errs, errors.New("REDISPATCH_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether APP_ENV is production.
func (c Config) IsProduction() bool {
	return c.AppEnv == envProduction
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// ApprovalThreshold and the daily amounts were validated by Load.
func (l Limits) ApprovalThresholdDecimal() decimal.Decimal {
	return decimal.RequireFromString(l.ApprovalThreshold)
}

func (l Limits) FiatDailyDecimal() decimal.Decimal {
	return decimal.RequireFromString(l.FiatDailyAmount)
}

func (l Limits) CryptoDailyDecimal() decimal.Decimal {
	return decimal.RequireFromString(l.CryptoDailyAmount)
}

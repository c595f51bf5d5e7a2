package twofactor

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"time"

	"github.com/congo-pay/congo_custody/internal/apperr"
	"github.com/congo-pay/congo_custody/internal/metrics"
)

// ErrTooManyAttempts is returned once a user exhausts the failure budget for the window.
var ErrTooManyAttempts = &apperr.Error{
	Kind:    apperr.KindRateLimited,
	Message: "too many failed two-factor attempts, try again later",
}

var codePattern = regexp.MustCompile(`^[0-9]{6}$`)

type Config struct {
	MaxAttempts int
	Window      time.Duration
	Timeout     time.Duration
	// AllowBypass lets verification pass when the authority is down. Ignored in production.
	AllowBypass bool
	Production  bool
}

// Gateway verifies codes against an Authority and enforces the attempt limit.
type Gateway struct {
	authority Authority
	attempts  AttemptStore
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewGateway(authority Authority, attempts AttemptStore, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Gateway {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		authority: authority,
		attempts:  attempts,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// Verify returns the verification time on success.
func (g *Gateway) Verify(ctx context.Context, userID, code string) (time.Time, error) {
	now := g.now()

	failures, err := g.attempts.Failures(ctx, userID, now)
	if err != nil {
		g.logger.Error("2fa attempt lookup failed", slog.String("user_id", userID), slog.Any("error", err))
		return time.Time{}, apperr.Unavailable("two-factor verification is temporarily unavailable", err)
	}
	if failures >= g.cfg.MaxAttempts {
		g.metrics.TwoFactor("limited")
		return time.Time{}, ErrTooManyAttempts
	}

	if !codePattern.MatchString(code) {
		g.recordFailure(ctx, userID, now)
		g.metrics.TwoFactor("invalid")
		return time.Time{}, apperr.Validation("two-factor code must be 6 digits")
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	err = g.authority.Verify(callCtx, userID, code)
	cancel()

	switch {
	case err == nil:
	case errors.Is(err, ErrCodeRejected):
		g.recordFailure(ctx, userID, now)
		g.metrics.TwoFactor("rejected")
		return time.Time{}, apperr.Authorization("invalid two-factor code")
	default:
		if g.cfg.AllowBypass && !g.cfg.Production {
			g.logger.Warn("2fa authority unavailable, bypassing verification",
				slog.String("user_id", userID), slog.Any("error", err))
			g.metrics.TwoFactor("bypassed")
			return now, nil
		}
		g.logger.Error("2fa authority unavailable", slog.String("user_id", userID), slog.Any("error", err))
		g.metrics.TwoFactor("unavailable")
		return time.Time{}, apperr.Unavailable("two-factor verification is temporarily unavailable", err)
	}

	if err := g.attempts.Reset(ctx, userID); err != nil {
		g.logger.Warn("2fa attempt reset failed", slog.String("user_id", userID), slog.Any("error", err))
	}
	g.metrics.TwoFactor("ok")
	return now, nil
}

func (g *Gateway) recordFailure(ctx context.Context, userID string, now time.Time) {
	if err := g.attempts.RecordFailure(ctx, userID, now); err != nil {
		g.logger.Warn("2fa attempt record failed", slog.String("user_id", userID), slog.Any("error", err))
	}
}

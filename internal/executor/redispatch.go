package executor

import (
	"context"
	"log/slog"
	"time"
)

// ApprovedSource re-publishes withdrawals stuck in APPROVED.
type ApprovedSource interface {
	DispatchApproved(ctx context.Context) (int, error)
}

// RunRedispatch covers dispatches lost after commit, e.g. when the broker was
// down at approval time. It returns when ctx is cancelled.
func RunRedispatch(ctx context.Context, source ApprovedSource, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent, err := source.DispatchApproved(ctx)
			if err != nil {
				logger.Error("redispatch approved withdrawals failed", slog.Int("sent", sent), slog.Any("error", err))
				continue
			}
			if sent > 0 {
				logger.Info("redispatched approved withdrawals", slog.Int("sent", sent))
			}
		}
	}
}

package artifact

import (
	"context"
	"log/slog"
	"time"
)

// RunJanitor purges artifacts older than maxAge every interval until ctx is
// cancelled. A non-positive maxAge disables it.
func RunJanitor(ctx context.Context, p Purger, maxAge, interval time.Duration, logger *slog.Logger) {
	if maxAge <= 0 {
		return
	}
	if interval <= 0 {
		interval = maxAge / 4
		if interval < time.Minute {
			interval = time.Minute
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		n, err := p.PurgeOlderThan(ctx, maxAge)
		switch {
		case err != nil:
			logger.Warn("artifact purge failed", "error", err)
		case n > 0:
			logger.Info("artifacts purged", "count", n, "max_age", maxAge)
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

package workers

import (
	"context"
	"time"

	"stepChallengeAPI/internal/logger"
)

// Refresher pushes current standings to live viewers.
type Refresher interface {
	RefreshAll(ctx context.Context) int
}

// StartStandingsRefresher refreshes live standings every interval until ctx is
// done. Day counters roll over and imports run from the CLI reach open
// websockets this way. The returned channel closes once the worker stops.
func StartStandingsRefresher(ctx context.Context, r Refresher, interval time.Duration, log *logger.Logger) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(interval)

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refreshOnce(ctx, r, interval, log)
			}
		}
	}()

	return done
}

func refreshOnce(ctx context.Context, r Refresher, interval time.Duration, log *logger.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, interval)
	defer cancel()

	if n := r.RefreshAll(runCtx); n > 0 {
		log.Debugw("refreshed live standings", "challenges", n)
	}
}

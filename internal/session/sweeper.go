package session

import (
	"context"
	"time"

	"github.com/LabShare/services/internal/store"
	"github.com/LabShare/services/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// StartSweeper periodically removes expired sessions until ctx is cancelled.
// The returned channel is closed once the sweeper has stopped. A non-positive
// interval disables sweeping.
func StartSweeper(ctx context.Context, st store.SessionStore, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if interval <= 0 {
		close(done)
		return done
	}

	ticker := time.NewTicker(interval)

	go func() {
		defer close(done)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				removed, err := st.DeleteExpired(ctx)
				if err != nil {
					log.Error().Err(err).Msg("Failed to delete expired sessions")
					continue
				}
				if removed > 0 {
					telemetry.GetMetrics().SessionsSweptTotal.Add(ctx, int64(removed))
					log.Debug().Int("removed", removed).Msg("Deleted expired sessions")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return done
}

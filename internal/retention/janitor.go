// Package retention purges conversations the user deleted once they have
// been inactive past the retention window. Deletion through the API is soft
// so transcripts stay replayable for a while; the janitor is what makes the
// removal eventually real.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tasknest/tasknest/internal/store"
)

// DefaultRetentionDays is how long a deactivated conversation survives
// before the janitor removes it.
const DefaultRetentionDays = 30

// Janitor periodically hard-deletes expired deactivated conversations.
type Janitor struct {
	store     store.Store
	interval  time.Duration
	retention time.Duration
}

// NewJanitor creates a retention janitor. Intervals under a minute are
// raised to an hour to keep a misconfigured deployment from busy-looping.
func NewJanitor(s store.Store, interval time.Duration, retentionDays int) *Janitor {
	if interval < time.Minute {
		interval = time.Hour
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Janitor{
		store:     s,
		interval:  interval,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// Start runs the janitor loop until ctx is cancelled.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("interval", j.interval).
		Dur("retention", j.retention).
		Msg("Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one purge pass. Failures are logged; the next tick
// retries.
func (j *Janitor) RunCycle(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-j.retention)
	purged, err := j.store.PurgeInactiveConversations(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Retention cycle failed")
		return 0
	}
	if purged > 0 {
		log.Info().Int("purged", purged).Time("cutoff", cutoff).Msg("Expired conversations purged")
	}
	return purged
}

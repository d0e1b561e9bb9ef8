package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"iptrack/internal/config"
	"iptrack/internal/geolite"
	"iptrack/internal/support"
)

const (
	geoLiteUpdateLockKey       = "iptrack:leader:geolite_update"
	geoLiteUpdateFallbackEvery = 24 * time.Hour
)

type GeoLiteUpdater interface {
	Update(ctx context.Context) (bool, error)
	HasAPIKey() bool
}

// StartGeoLiteUpdateRoutine refreshes the City database on the configured
// timer. Only the leader downloads; other instances receive the file through
// Redis distribution. It blocks until ctx is done.
func StartGeoLiteUpdateRoutine(ctx context.Context, client *redis.Client, updater GeoLiteUpdater) {
	if ctx == nil {
		ctx = context.Background()
	}

	err := support.RunWithLeader(ctx, client, geoLiteUpdateLockKey, support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
		runGeoLiteUpdateLoop(leaderCtx, updater)
	})
	if err != nil && ctx.Err() == nil {
		log.Error("GeoLite update routine stopped", "error", err)
	}
}

func geoLiteUpdateInterval() time.Duration {
	return config.GetConfig().GeoLite.UpdateTimer.DurationOr(geoLiteUpdateFallbackEvery)
}

func runGeoLiteUpdateLoop(ctx context.Context, updater GeoLiteUpdater) {
	currentInterval := geoLiteUpdateInterval()

	ticker := time.NewTicker(currentInterval)
	defer ticker.Stop()

	TriggerGeoLiteUpdate(ctx, updater, "startup", false)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			TriggerGeoLiteUpdate(ctx, updater, "scheduled", false)

			// Settings may have changed since the last tick.
			if next := geoLiteUpdateInterval(); next != currentInterval {
				currentInterval = next
				ticker.Reset(currentInterval)
			}
		}
	}
}

// TriggerGeoLiteUpdate runs the updater once. Unless force is set, the update
// only runs when auto updates are enabled.
func TriggerGeoLiteUpdate(ctx context.Context, updater GeoLiteUpdater, reason string, force bool) bool {
	if !updater.HasAPIKey() {
		log.Debug("GeoLite update skipped: API key missing", "reason", reason)
		return false
	}

	if !force && !config.GetConfig().GeoLite.AutoUpdate {
		log.Debug("GeoLite update skipped: auto update disabled", "reason", reason)
		return false
	}

	updated, err := updater.Update(ctx)
	switch {
	case errors.Is(err, geolite.ErrNoAPIKey):
		log.Debug("GeoLite update skipped: API key missing", "reason", reason)
	case err != nil:
		log.Error("GeoLite update failed", "reason", reason, "error", err)
	case updated:
		log.Info("GeoLite city database updated", "reason", reason)
	default:
		log.Debug("GeoLite update skipped", "reason", reason)
	}
	return updated
}

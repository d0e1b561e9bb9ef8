package runtime

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-co-op/gocron"
	"github.com/redis/go-redis/v9"

	"iptrack/internal/support"
)

const (
	anomalyDetectionLockKey       = "iptrack:leader:anomaly_detection"
	anomalyDetectionFallbackEvery = time.Hour
)

type DetectionRunner interface {
	RunOnce(ctx context.Context, now time.Time) ([]string, error)
}

// StartAnomalyDetectionRoutine runs the detector on a fixed interval until
// ctx is done. Runs never overlap: the job is a gocron singleton and, when a
// Redis client is given, only the instance holding the leader lock schedules.
// It blocks; callers start it in a goroutine.
func StartAnomalyDetectionRoutine(ctx context.Context, client *redis.Client, runner DetectionRunner, interval time.Duration) {
	if ctx == nil {
		ctx = context.Background()
	}
	if interval <= 0 {
		interval = anomalyDetectionFallbackEvery
	}

	err := support.RunWithLeader(ctx, client, anomalyDetectionLockKey, support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
		runDetectionSchedule(leaderCtx, runner, interval)
	})
	if err != nil && ctx.Err() == nil {
		log.Error("Anomaly detection routine stopped", "error", err)
	}
}

func runDetectionSchedule(ctx context.Context, runner DetectionRunner, interval time.Duration) {
	scheduler := gocron.NewScheduler(time.UTC)

	firstRun := nextRunAt(time.Now().UTC(), interval)
	job, err := scheduler.Every(interval).StartAt(firstRun).Do(func() {
		RunDetection(ctx, runner)
	})
	if err != nil {
		log.Error("Failed to schedule anomaly detection", "error", err)
		return
	}
	job.SingletonMode()

	log.Info("Anomaly detection scheduled", "interval", interval, "first_run", firstRun)
	scheduler.StartAsync()
	defer scheduler.Stop()

	<-ctx.Done()
}

// nextRunAt aligns the first run to the interval grid, so an hourly detector
// fires at the top of the hour.
func nextRunAt(now time.Time, interval time.Duration) time.Time {
	return now.Truncate(interval).Add(interval)
}

// RunDetection performs one detection pass and logs the outcome.
func RunDetection(ctx context.Context, runner DetectionRunner) []string {
	if ctx.Err() != nil {
		return nil
	}

	started := time.Now()
	flagged, err := runner.RunOnce(ctx, started.UTC())
	if err != nil {
		log.Error("Anomaly detection failed", "error", err, "flagged_before_error", len(flagged))
		return flagged
	}

	if len(flagged) > 0 {
		log.Warn("Anomaly detection flagged new IPs", "count", len(flagged), "ips", flagged, "duration", time.Since(started))
	} else {
		log.Debug("Anomaly detection finished", "duration", time.Since(started))
	}
	return flagged
}

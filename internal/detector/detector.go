package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"iptrack/internal/database"
	"iptrack/internal/domain"
	"iptrack/internal/metrics"
)

// Store is the slice of the database the detector reads and writes.
type Store interface {
	CountRequestsByAddress(ctx context.Context, since time.Time, minCount int) ([]database.AddressCount, error)
	CountPathPrefixByAddress(ctx context.Context, prefix string, since time.Time, minCount int) ([]database.AddressCount, error)
	GetOrCreateSuspiciousIP(ctx context.Context, address, reason string) (domain.SuspiciousIP, bool, error)
}

// Rules holds the detection thresholds. Counts must strictly exceed a
// threshold to trigger.
type Rules struct {
	Window          time.Duration
	VolumeThreshold int
	PathThreshold   int
	SensitivePaths  []string
}

func DefaultRules() Rules {
	return Rules{
		Window:          time.Hour,
		VolumeThreshold: 100,
		PathThreshold:   10,
		SensitivePaths:  []string{"/admin", "/login", "/api/login"},
	}
}

type Detector struct {
	store Store
	rules Rules
}

func New(store Store, rules Rules) *Detector {
	defaults := DefaultRules()
	if rules.Window <= 0 {
		rules.Window = defaults.Window
	}
	if rules.VolumeThreshold <= 0 {
		rules.VolumeThreshold = defaults.VolumeThreshold
	}
	if rules.PathThreshold <= 0 {
		rules.PathThreshold = defaults.PathThreshold
	}
	if rules.SensitivePaths == nil {
		rules.SensitivePaths = defaults.SensitivePaths
	}
	return &Detector{store: store, rules: rules}
}

func (d *Detector) Rules() Rules {
	return d.rules
}

// windowPhrase renders the window for reasons: "the last hour",
// "the last 6 hours", "the last 30 minutes".
func windowPhrase(window time.Duration) string {
	switch {
	case window == time.Hour:
		return "the last hour"
	case window%time.Hour == 0:
		return fmt.Sprintf("the last %d hours", window/time.Hour)
	case window == time.Minute:
		return "the last minute"
	case window%time.Minute == 0:
		return fmt.Sprintf("the last %d minutes", window/time.Minute)
	default:
		return "the last " + window.String()
	}
}

type candidate struct {
	address string
	reason  string
	rule    string
}

// RunOnce scans the window ending at now and records every address that
// breaks a rule as suspicious. It returns the addresses that were newly
// recorded. Volume candidates are applied before path candidates, so an
// address caught by both keeps the volume reason.
func (d *Detector) RunOnce(ctx context.Context, now time.Time) ([]string, error) {
	started := time.Now()
	defer func() {
		metrics.DetectorRunDuration.Observe(time.Since(started).Seconds())
	}()

	since := now.UTC().Add(-d.rules.Window)

	var (
		volume   []database.AddressCount
		byPrefix = make([][]database.AddressCount, len(d.rules.SensitivePaths))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := d.store.CountRequestsByAddress(gctx, since, d.rules.VolumeThreshold)
		if err != nil {
			return fmt.Errorf("count requests: %w", err)
		}
		volume = rows
		return nil
	})
	for i, prefix := range d.rules.SensitivePaths {
		g.Go(func() error {
			rows, err := d.store.CountPathPrefixByAddress(gctx, prefix, since, d.rules.PathThreshold)
			if err != nil {
				return fmt.Errorf("count %s requests: %w", prefix, err)
			}
			byPrefix[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	period := windowPhrase(d.rules.Window)
	candidates := make([]candidate, 0, len(volume))
	for _, row := range volume {
		candidates = append(candidates, candidate{
			address: row.IPAddress,
			reason:  fmt.Sprintf("Excessive requests: %d requests in %s", row.Count, period),
			rule:    metrics.RuleVolume,
		})
	}
	for i, prefix := range d.rules.SensitivePaths {
		for _, row := range byPrefix[i] {
			candidates = append(candidates, candidate{
				address: row.IPAddress,
				reason:  fmt.Sprintf("Multiple attempts to access %s: %d times in %s", prefix, row.Count, period),
				rule:    metrics.RulePath,
			})
		}
	}

	var flagged []string
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return flagged, err
		}

		entry, created, err := d.store.GetOrCreateSuspiciousIP(ctx, c.address, c.reason)
		if err != nil {
			return flagged, fmt.Errorf("record suspicious %s: %w", c.address, err)
		}
		if !created {
			continue
		}

		log.Warn("Suspicious IP detected", "ip", entry.IPAddress, "reason", entry.Reason)
		metrics.DetectorFlagged.WithLabelValues(c.rule).Inc()
		flagged = append(flagged, entry.IPAddress)
	}

	return flagged, nil
}

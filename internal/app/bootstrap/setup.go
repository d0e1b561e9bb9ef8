package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"iptrack/internal/blocklist"
	"iptrack/internal/config"
	"iptrack/internal/database"
	"iptrack/internal/detector"
	"iptrack/internal/geo"
	"iptrack/internal/geolite"
	"iptrack/internal/ingest"
	jobruntime "iptrack/internal/jobs/runtime"
	"iptrack/internal/support"
)

// Components holds everything the server and the background jobs share.
type Components struct {
	DB        *gorm.DB
	Store     *database.Store
	Redis     *redis.Client
	Cache     geo.Cache
	Resolver  *geo.GeoLiteResolver
	Updater   *geolite.Updater
	Pipeline  *ingest.Pipeline
	Detector  *detector.Detector
	Blocklist *blocklist.Service
}

// Setup reads the settings file and wires the full application. Redis is
// optional: without it the geo cache lives in memory and scheduled jobs run
// without a leader lock.
func Setup() (*Components, error) {
	config.ReadSettings()
	cfg := config.GetConfig()

	db, err := database.SetupDB()
	if err != nil {
		return nil, fmt.Errorf("failed to set up database: %w", err)
	}

	c := &Components{
		DB:    db,
		Store: database.NewStore(db),
	}

	c.Redis, err = support.GetRedisClient()
	switch {
	case errors.Is(err, support.ErrRedisNotConfigured):
		log.Info("Redis not configured, running single instance")
	case err != nil:
		log.Warn("Redis unavailable, running single instance", "error", err)
	}

	c.Cache = newGeoCache(cfg, c.Redis)
	c.Resolver = geo.NewGeoLiteResolver(geo.CityDatabasePath())
	c.Updater = geolite.NewUpdater(c.Resolver)

	c.Pipeline = ingest.NewPipeline(c.Store, c.Store, c.Cache, c.Resolver,
		ingest.WithResolverTimeout(cfg.ResolverTimeout()),
		ingest.WithStoreTimeout(cfg.StoreTimeout()),
		ingest.WithCacheTTL(cfg.GeoCacheTTL()),
		ingest.WithTrustForwardedFor(cfg.Ingest.TrustForwardedFor),
	)
	c.Detector = detector.New(c.Store, DetectorRules(cfg))
	c.Blocklist = blocklist.NewService(c.Store)

	return c, nil
}

// OpenStore connects only the database, for one-shot CLI commands.
func OpenStore() (*database.Store, error) {
	config.ReadSettings()

	db, err := database.SetupDB()
	if err != nil {
		return nil, fmt.Errorf("failed to set up database: %w", err)
	}
	return database.NewStore(db), nil
}

func newGeoCache(cfg config.Config, client *redis.Client) geo.Cache {
	if cfg.GeoCacheBackend() == "redis" && client != nil {
		log.Debug("Geo cache backend", "backend", "redis")
		return geo.NewRedisCache(client)
	}
	log.Debug("Geo cache backend", "backend", "memory")
	return geo.NewMemoryCache()
}

// DetectorRules maps the settings file onto detector rules.
func DetectorRules(cfg config.Config) detector.Rules {
	return detector.Rules{
		Window:          cfg.DetectorWindow(),
		VolumeThreshold: cfg.VolumeThreshold(),
		PathThreshold:   cfg.PathThreshold(),
		SensitivePaths:  cfg.SensitivePaths(),
	}
}

// StartBackgroundJobs launches the scheduled routines. They stop when ctx
// is done.
func (c *Components) StartBackgroundJobs(ctx context.Context) {
	cfg := config.GetConfig()

	if c.Redis != nil {
		c.Updater.EnableRedisDistribution(ctx, c.Redis)
		go jobruntime.StartInstanceHeartbeat(ctx, c.Redis)
	}

	if cfg.Detector.Enabled {
		go jobruntime.StartAnomalyDetectionRoutine(ctx, c.Redis, c.Detector, cfg.DetectorInterval())
	} else {
		log.Info("Scheduled anomaly detection disabled")
	}

	go jobruntime.StartGeoLiteUpdateRoutine(ctx, c.Redis, c.Updater)
}

// Close releases the resolver, the cache, Redis and the database pool.
func (c *Components) Close() error {
	var errs []error

	if c.Resolver != nil {
		errs = append(errs, c.Resolver.Close())
	}
	if closer, ok := c.Cache.(interface{ Close() error }); ok {
		errs = append(errs, closer.Close())
	}
	if c.Redis != nil {
		errs = append(errs, support.CloseRedisClient())
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}

package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"iptrack/internal/support"
)

type Config struct {
	Ingest struct {
		TrustForwardedFor bool   `json:"trust_forwarded_for"`
		ResolverTimeoutMs uint32 `json:"resolver_timeout_ms"`
		StoreTimeoutMs    uint32 `json:"store_timeout_ms"`
	} `json:"ingest"`

	GeoCache struct {
		// Backend is "redis" or "memory".
		Backend string `json:"backend"`
		TTL     Timer  `json:"ttl"`
	} `json:"geo_cache"`

	Detector struct {
		Enabled         bool     `json:"enabled"`
		Schedule        Timer    `json:"schedule"`
		Window          Timer    `json:"window"`
		VolumeThreshold int      `json:"volume_threshold"`
		PathThreshold   int      `json:"path_threshold"`
		SensitivePaths  []string `json:"sensitive_paths"`
	} `json:"detector"`

	GeoLite struct {
		APIKey        string `json:"api_key"`
		AutoUpdate    bool   `json:"auto_update"`
		UpdateTimer   Timer  `json:"update_timer"`
		LastUpdatedAt string `json:"last_updated_at,omitempty"`
	} `json:"geolite"`
}

const (
	defaultSettingsFilePath = "data/settings.json"

	defaultResolverTimeout = 2 * time.Second
	defaultStoreTimeout    = 3 * time.Second
	defaultGeoCacheTTL     = 24 * time.Hour
	defaultDetectorEvery   = time.Hour
	defaultDetectorWindow  = time.Hour
	defaultVolumeThreshold = 100
	defaultPathThreshold   = 10
)

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue atomic.Value
	configMu    sync.Mutex

	InProductionMode bool
)

func init() {
	var cfg Config
	if err := json.Unmarshal(defaultConfig, &cfg); err != nil {
		log.Error("Error parsing embedded default settings", "error", err)
	}
	configValue.Store(cfg)
}

func settingsFilePath() string {
	return support.GetEnv("SETTINGS_FILE", defaultSettingsFilePath)
}

// ReadSettings loads the settings file, creating it from the embedded
// defaults when missing. On any error the current configuration is kept.
func ReadSettings() {
	path := settingsFilePath()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error("Error reading settings file", "path", path, "error", err)
			return
		}

		log.Warn("Settings file not found, creating with default configuration", "path", path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			log.Error("Error creating directory for settings file", "error", err)
			return
		}
		if err := os.WriteFile(path, defaultConfig, 0o644); err != nil {
			log.Error("Error writing default settings file", "error", err)
			return
		}
		data = defaultConfig
	}

	var newConfig Config
	if err := json.Unmarshal(data, &newConfig); err != nil {
		log.Error("Error unmarshalling settings file", "path", path, "error", err)
		return
	}

	if err := applyConfigUpdate(newConfig, false); err != nil {
		log.Error("Error applying configuration from settings file", "error", err)
		return
	}

	log.Debug("Settings file loaded successfully", "path", path)
}

// SetConfig replaces the active configuration and persists it.
func SetConfig(newConfig Config) error {
	return applyConfigUpdate(newConfig, true)
}

func MarkGeoLiteUpdated(ts time.Time) error {
	cfg := GetConfig()
	cfg.GeoLite.LastUpdatedAt = ts.UTC().Format(time.RFC3339)
	return applyConfigUpdate(cfg, true)
}

func applyConfigUpdate(newConfig Config, persist bool) error {
	configMu.Lock()
	defer configMu.Unlock()

	configValue.Store(newConfig)

	if !persist {
		return nil
	}

	data, err := json.MarshalIndent(newConfig, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(settingsFilePath(), data, 0o644); err != nil {
		return errors.Join(errors.New("config: write settings file"), err)
	}
	return nil
}

func GetConfig() Config {
	return configValue.Load().(Config)
}

func SetProductionMode(productionMode bool) {
	InProductionMode = productionMode
}

// ResolverTimeout bounds one geolocation lookup.
func (c Config) ResolverTimeout() time.Duration {
	return millisOr(c.Ingest.ResolverTimeoutMs, defaultResolverTimeout)
}

// StoreTimeout bounds each store call made on the request path.
func (c Config) StoreTimeout() time.Duration {
	return millisOr(c.Ingest.StoreTimeoutMs, defaultStoreTimeout)
}

func (c Config) GeoCacheTTL() time.Duration {
	return c.GeoCache.TTL.DurationOr(defaultGeoCacheTTL)
}

func (c Config) GeoCacheBackend() string {
	backend := strings.ToLower(strings.TrimSpace(c.GeoCache.Backend))
	if backend == "" {
		return "redis"
	}
	return backend
}

func (c Config) DetectorInterval() time.Duration {
	return c.Detector.Schedule.DurationOr(defaultDetectorEvery)
}

func (c Config) DetectorWindow() time.Duration {
	return c.Detector.Window.DurationOr(defaultDetectorWindow)
}

func (c Config) VolumeThreshold() int {
	if c.Detector.VolumeThreshold <= 0 {
		return defaultVolumeThreshold
	}
	return c.Detector.VolumeThreshold
}

func (c Config) PathThreshold() int {
	if c.Detector.PathThreshold <= 0 {
		return defaultPathThreshold
	}
	return c.Detector.PathThreshold
}

// SensitivePaths returns the configured prefixes in order, skipping blanks
// and duplicates.
func (c Config) SensitivePaths() []string {
	seen := make(map[string]struct{}, len(c.Detector.SensitivePaths))
	paths := make([]string, 0, len(c.Detector.SensitivePaths))
	for _, raw := range c.Detector.SensitivePaths {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}
	return paths
}

func millisOr(ms uint32, fallback time.Duration) time.Duration {
	if ms == 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

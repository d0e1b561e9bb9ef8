package geolite

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"iptrack/internal/config"
	"iptrack/internal/support"
)

const (
	maxMindDownloadURL = "https://download.maxmind.com/app/geoip_download"
	cityEditionID      = "GeoLite2-City"
	userAgent          = "iptrack-geolite-updater/1.0"
)

// ErrNoAPIKey indicates that the GeoLite license key has not been configured.
var ErrNoAPIKey = errors.New("geolite: api key is not configured")

// Database is the on-disk City database the updater refreshes.
type Database interface {
	Path() string
	Reload() error
}

// Updater downloads GeoLite2-City from MaxMind and swaps it into a Database.
// With a Redis client attached the file is also replicated to other nodes.
type Updater struct {
	db         Database
	httpClient *http.Client
	baseURL    string
	apiKey     func() string

	group singleflight.Group

	mu    sync.RWMutex
	redis *redis.Client
}

type Option func(*Updater)

func WithHTTPClient(client *http.Client) Option {
	return func(u *Updater) {
		if client != nil {
			u.httpClient = client
		}
	}
}

func WithDownloadURL(base string) Option {
	return func(u *Updater) {
		if base != "" {
			u.baseURL = base
		}
	}
}

func WithAPIKey(key string) Option {
	return func(u *Updater) {
		u.apiKey = func() string { return key }
	}
}

func NewUpdater(db Database, opts ...Option) *Updater {
	u := &Updater{
		db:         db,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		baseURL:    maxMindDownloadURL,
		apiKey:     configuredAPIKey,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func configuredAPIKey() string {
	if key := strings.TrimSpace(config.GetConfig().GeoLite.APIKey); key != "" {
		return key
	}
	return strings.TrimSpace(support.GetEnv("GEOLITE_API_KEY", ""))
}

// HasAPIKey reports whether a license key is configured.
func (u *Updater) HasAPIKey() bool {
	return u.apiKey() != ""
}

// Update downloads the City database and reloads it. Concurrent calls share
// one download. It returns true when a new file was installed.
func (u *Updater) Update(ctx context.Context) (bool, error) {
	result, err, _ := u.group.Do("update", func() (interface{}, error) {
		apiKey := u.apiKey()
		if apiKey == "" {
			return false, ErrNoAPIKey
		}

		if err := u.download(ctx, apiKey); err != nil {
			return false, err
		}

		if err := u.db.Reload(); err != nil {
			return false, fmt.Errorf("reload geolite: %w", err)
		}

		if err := config.MarkGeoLiteUpdated(time.Now().UTC()); err != nil {
			log.Warn("Failed to persist GeoLite updated timestamp", "error", err)
		}

		if err := u.publish(ctx); err != nil {
			log.Warn("Failed to publish GeoLite database to redis", "error", err)
		}

		return true, nil
	})

	if err != nil {
		return false, err
	}

	updated, _ := result.(bool)
	return updated, nil
}

func (u *Updater) download(ctx context.Context, apiKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.downloadURL(apiKey), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", cityEditionID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("download %s: unexpected status %d: %s", cityEditionID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return extractDatabase(resp.Body, filepath.Base(u.db.Path()), u.db.Path())
}

// extractDatabase copies the member named fileName out of a .tar.gz stream
// into destPath.
func extractDatabase(archive io.Reader, fileName, destPath string) error {
	gzipReader, err := gzip.NewReader(archive)
	if err != nil {
		return fmt.Errorf("%s: open gzip: %w", cityEditionID, err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: read tar: %w", cityEditionID, err)
		}
		if header.Typeflag != tar.TypeReg || filepath.Base(header.Name) != fileName {
			continue
		}

		if err := writeToFile(destPath, tarReader); err != nil {
			return fmt.Errorf("%s: write file: %w", cityEditionID, err)
		}
		return nil
	}

	return fmt.Errorf("%s: %s not found in archive", cityEditionID, fileName)
}

func writeToFile(destPath string, data io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), "geolite-*.mmdb")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmpFile.Name())
	}()

	if _, err := io.Copy(tmpFile, data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("copy data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpFile.Name(), destPath); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}

func (u *Updater) downloadURL(apiKey string) string {
	query := url.Values{}
	query.Set("edition_id", cityEditionID)
	query.Set("license_key", apiKey)
	query.Set("suffix", "tar.gz")
	return u.baseURL + "?" + query.Encode()
}

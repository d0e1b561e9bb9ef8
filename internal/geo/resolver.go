package geo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/oschwald/geoip2-golang"

	"iptrack/internal/support"
)

const (
	DataDir      = "data/geolite"
	CityFileName = "GeoLite2-City.mmdb"
)

// ErrResolverUnavailable is returned while no City database is loaded.
var ErrResolverUnavailable = errors.New("geo: city database unavailable")

// Resolver maps an address to a Location. It may be slow or fail; callers
// bound it with a context deadline.
type Resolver interface {
	Resolve(ctx context.Context, address string) (Location, error)
}

// GeoLiteResolver answers lookups from a MaxMind GeoLite2-City database.
// The reader can be swapped at runtime with Reload.
type GeoLiteResolver struct {
	path string

	mu     sync.RWMutex
	reader *geoip2.Reader
}

// CityDatabasePath returns the configured City database location.
func CityDatabasePath() string {
	return support.GetEnv("GEOLITE_CITY_DB", filepath.Join(DataDir, CityFileName))
}

// NewGeoLiteResolver opens the database at path. A missing or broken file is
// logged and leaves the resolver unavailable until Reload succeeds.
func NewGeoLiteResolver(path string) *GeoLiteResolver {
	r := &GeoLiteResolver{path: path}
	if err := r.Reload(); err != nil {
		log.Warn("GeoLite city database not loaded, locations will be empty", "path", path, "error", err)
	}
	return r
}

func (r *GeoLiteResolver) Path() string {
	return r.path
}

// Reload re-reads the database from disk and swaps it in.
func (r *GeoLiteResolver) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("geo: read %s: %w", r.path, err)
	}
	reader, err := geoip2.FromBytes(data)
	if err != nil {
		return fmt.Errorf("geo: open %s: %w", r.path, err)
	}

	r.mu.Lock()
	old := r.reader
	r.reader = reader
	r.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (r *GeoLiteResolver) Available() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reader != nil
}

func (r *GeoLiteResolver) Resolve(ctx context.Context, address string) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, err
	}

	ip := net.ParseIP(address)
	if ip == nil {
		return Location{}, fmt.Errorf("geo: invalid address %q", address)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.reader == nil {
		return Location{}, ErrResolverUnavailable
	}

	record, err := r.reader.City(ip)
	if err != nil {
		return Location{}, err
	}
	return NewLocation(record.Country.Names["en"], record.City.Names["en"]), nil
}

func (r *GeoLiteResolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reader == nil {
		return nil
	}
	err := r.reader.Close()
	r.reader = nil
	return err
}

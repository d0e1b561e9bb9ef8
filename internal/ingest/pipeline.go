package ingest

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"iptrack/internal/domain"
	"iptrack/internal/geo"
	"iptrack/internal/metrics"
	"iptrack/internal/support"
)

// Decision is the admission outcome for one request.
type Decision int

const (
	Allow Decision = iota
	Deny
)

func (d Decision) String() string {
	if d == Deny {
		return metrics.DecisionDeny
	}
	return metrics.DecisionAllow
}

type BlockChecker interface {
	IsIPBlocked(ctx context.Context, address string) (bool, error)
}

type RequestLogger interface {
	InsertRequestLog(ctx context.Context, entry *domain.RequestLog) error
}

const (
	defaultResolverTimeout = 2 * time.Second
	defaultStoreTimeout    = 3 * time.Second
)

// Pipeline gates every inbound request: blocked addresses are denied, all
// others are geolocated and logged. Failures of the store, cache or resolver
// never deny a request.
type Pipeline struct {
	blocks   BlockChecker
	logs     RequestLogger
	cache    geo.Cache
	resolver geo.Resolver

	resolverTimeout time.Duration
	storeTimeout    time.Duration
	cacheTTL        time.Duration
	trustForwarded  bool

	resolveGroup singleflight.Group
}

type Option func(*Pipeline)

func WithResolverTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.resolverTimeout = d
		}
	}
}

func WithStoreTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.storeTimeout = d
		}
	}
}

func WithCacheTTL(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.cacheTTL = d
		}
	}
}

// WithTrustForwardedFor makes the middleware honour proxy headers.
func WithTrustForwardedFor(trust bool) Option {
	return func(p *Pipeline) {
		p.trustForwarded = trust
	}
}

func NewPipeline(blocks BlockChecker, logs RequestLogger, cache geo.Cache, resolver geo.Resolver, opts ...Option) *Pipeline {
	p := &Pipeline{
		blocks:          blocks,
		logs:            logs,
		cache:           cache,
		resolver:        resolver,
		resolverTimeout: defaultResolverTimeout,
		storeTimeout:    defaultStoreTimeout,
		cacheTTL:        geo.DefaultTTL,
	}
	if p.cache == nil {
		p.cache = geo.NewMemoryCache()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle runs the admission steps for one request in order: address check,
// block list, geolocation, request log. It never returns an error.
func (p *Pipeline) Handle(ctx context.Context, address, path string) Decision {
	// A request runs to completion even if the client goes away.
	ctx = context.WithoutCancel(ctx)

	address = support.NormalizeIP(address)
	if address == "" {
		return Allow
	}

	if p.isBlocked(ctx, address) {
		log.Warn("Denied request from blocked IP", "ip", address, "path", path)
		metrics.IngestDecisions.WithLabelValues(metrics.DecisionDeny).Inc()
		return Deny
	}

	loc := p.locate(ctx, address)

	entry := &domain.RequestLog{
		IPAddress: address,
		Path:      path,
		Country:   loc.Country,
		City:      loc.City,
	}
	storeCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	err := p.logs.InsertRequestLog(storeCtx, entry)
	cancel()
	if err != nil {
		log.Error("Failed to log request", "ip", address, "path", path, "error", err)
		metrics.IngestErrors.WithLabelValues(metrics.OpLogInsert).Inc()
	}

	metrics.IngestDecisions.WithLabelValues(metrics.DecisionAllow).Inc()
	return Allow
}

func (p *Pipeline) isBlocked(ctx context.Context, address string) bool {
	storeCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()

	blocked, err := p.blocks.IsIPBlocked(storeCtx, address)
	if err != nil {
		log.Error("Error checking blocked IP", "ip", address, "error", err)
		metrics.IngestErrors.WithLabelValues(metrics.OpBlockCheck).Inc()
		return false
	}
	return blocked
}

// locate returns the cached location or resolves and caches it. Concurrent
// misses for one address share a single resolver call.
func (p *Pipeline) locate(ctx context.Context, address string) geo.Location {
	cacheCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	loc, ok := p.cache.Get(cacheCtx, address)
	cancel()
	if ok {
		metrics.GeoCacheLookups.WithLabelValues(metrics.CacheHit).Inc()
		return loc
	}
	metrics.GeoCacheLookups.WithLabelValues(metrics.CacheMiss).Inc()

	result, _, _ := p.resolveGroup.Do(address, func() (interface{}, error) {
		loc := p.resolveBounded(ctx, address)

		cacheCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
		p.cache.Put(cacheCtx, address, loc, p.cacheTTL)
		cancel()

		return loc, nil
	})

	loc, _ = result.(geo.Location)
	return loc
}

// resolveBounded calls the resolver with a deadline. Errors, timeouts and
// panics all produce the empty Location.
func (p *Pipeline) resolveBounded(ctx context.Context, address string) geo.Location {
	if p.resolver == nil {
		return geo.Location{}
	}

	ctx, cancel := context.WithTimeout(ctx, p.resolverTimeout)
	defer cancel()

	done := make(chan geo.Location, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Geolocation resolver panicked", "ip", address, "panic", r)
				metrics.IngestErrors.WithLabelValues(metrics.OpResolve).Inc()
				done <- geo.Location{}
			}
		}()

		loc, err := p.resolver.Resolve(ctx, address)
		if err != nil {
			log.Debug("Geolocation lookup failed", "ip", address, "error", err)
			loc = geo.Location{}
		}
		done <- loc
	}()

	select {
	case loc := <-done:
		return loc
	case <-ctx.Done():
		log.Warn("Geolocation lookup timed out", "ip", address, "timeout", p.resolverTimeout)
		metrics.IngestErrors.WithLabelValues(metrics.OpResolve).Inc()
		return geo.Location{}
	}
}

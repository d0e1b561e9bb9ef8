package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"

	CacheHit  = "hit"
	CacheMiss = "miss"

	OpBlockCheck = "block_check"
	OpLogInsert  = "log_insert"
	OpResolve    = "resolve"

	RuleVolume = "volume"
	RulePath   = "path"
)

var IngestDecisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "iptrack_ingest_decisions_total",
		Help: "Admission decisions taken by the ingestion pipeline.",
	},
	[]string{"decision"},
)

var GeoCacheLookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "iptrack_geo_cache_lookups_total",
		Help: "Geolocation cache lookups by result.",
	},
	[]string{"result"},
)

// IngestErrors counts degraded ingestion steps. The request is still admitted.
var IngestErrors = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "iptrack_ingest_store_errors_total",
		Help: "Store or resolver failures swallowed by the ingestion pipeline.",
	},
	[]string{"op"},
)

var DetectorFlagged = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "iptrack_detector_flagged_total",
		Help: "Addresses newly recorded as suspicious, by rule.",
	},
	[]string{"rule"},
)

var DetectorRunDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "iptrack_detector_run_duration_seconds",
		Help:    "Duration of one anomaly detection pass.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	},
)

var registerOnce sync.Once

// Register adds all collectors to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(IngestDecisions, GeoCacheLookups, IngestErrors,
			DetectorFlagged, DetectorRunDuration)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

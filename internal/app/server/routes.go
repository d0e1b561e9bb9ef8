package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"golang.org/x/net/netutil"

	"iptrack/internal/auth"
	"iptrack/internal/blocklist"
	"iptrack/internal/database"
	"iptrack/internal/ingest"
	"iptrack/internal/jobs/runtime"
	"iptrack/internal/metrics"
	"iptrack/internal/support"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the administrative API. Every request passes through the
// ingestion pipeline first.
type Server struct {
	store    *database.Store
	blocks   *blocklist.Service
	pipeline *ingest.Pipeline
	detector runtime.DetectionRunner
	redis    *redis.Client
	routes   http.Handler
}

type Option func(*Server)

// WithRedis lets the health endpoint report how many instances are alive.
func WithRedis(client *redis.Client) Option {
	return func(s *Server) {
		s.redis = client
	}
}

func New(store *database.Store, blocks *blocklist.Service, pipeline *ingest.Pipeline, detector runtime.DetectionRunner, opts ...Option) *Server {
	s := &Server{
		store:    store,
		blocks:   blocks,
		pipeline: pipeline,
		detector: detector,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes = s.buildRoutes()
	return s
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, PATCH, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) buildRoutes() http.Handler {
	router := http.NewServeMux()

	router.HandleFunc("GET /{$}", s.getOverview)
	router.HandleFunc("GET /healthz", s.getHealth)
	router.HandleFunc("GET /version", getVersion)
	router.Handle("GET /metrics", metrics.Handler())

	router.HandleFunc("POST /login", loginAdmin)
	router.Handle("GET /checkLogin", auth.RequireAuth(http.HandlerFunc(checkLogin)))

	router.Handle("GET /api/logs", auth.IsAdmin(http.HandlerFunc(s.listRequestLogs)))
	router.Handle("GET /api/logs/stats", auth.IsAdmin(http.HandlerFunc(s.getRequestLogStats)))
	router.Handle("GET /api/logs/{id}", auth.IsAdmin(http.HandlerFunc(s.getRequestLog)))

	router.Handle("GET /api/blocked", auth.IsAdmin(http.HandlerFunc(s.listBlockedIPs)))
	router.Handle("POST /api/blocked", auth.IsAdmin(http.HandlerFunc(s.blockIP)))
	router.Handle("GET /api/blocked/{address}", auth.IsAdmin(http.HandlerFunc(s.getBlockedIP)))
	router.Handle("PATCH /api/blocked/{address}", auth.IsAdmin(http.HandlerFunc(s.updateBlockedIP)))
	router.Handle("DELETE /api/blocked/{address}", auth.IsAdmin(http.HandlerFunc(s.deleteBlockedIP)))
	router.Handle("POST /api/blocked/{address}/unblock", auth.IsAdmin(http.HandlerFunc(s.unblockIP)))

	router.Handle("GET /api/suspicious", auth.IsAdmin(http.HandlerFunc(s.listSuspiciousIPs)))
	router.Handle("POST /api/suspicious/block", auth.IsAdmin(http.HandlerFunc(s.promoteSuspiciousIPs)))
	router.Handle("GET /api/suspicious/{address}", auth.IsAdmin(http.HandlerFunc(s.getSuspiciousIP)))
	router.Handle("PATCH /api/suspicious/{address}", auth.IsAdmin(http.HandlerFunc(s.updateSuspiciousIP)))
	router.Handle("POST /api/suspicious/{address}/block", auth.IsAdmin(http.HandlerFunc(s.promoteSuspiciousIP)))

	router.Handle("POST /api/detect", auth.IsAdmin(http.HandlerFunc(s.runDetection)))
	router.Handle("GET /global/settings", auth.IsAdmin(http.HandlerFunc(getGlobalSettings)))
	router.Handle("POST /saveSettings", auth.IsAdmin(http.HandlerFunc(saveSettings)))

	var handler http.Handler = enableCORS(router)
	if s.pipeline != nil {
		handler = s.pipeline.Middleware(handler)
	}
	return handler
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.routes
}

// ListenAndServe serves on port until ctx is done, then shuts down
// gracefully. MAX_CONNECTIONS caps concurrent connections when set.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen on :%d: %w", port, err)
	}
	if limit := support.GetEnvInt("MAX_CONNECTIONS", 0); limit > 0 {
		listener = netutil.LimitListener(listener, limit)
		log.Debug("Connection limit enabled", "max_connections", limit)
	}

	server := &http.Server{
		Handler:           s.routes,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("Graceful shutdown failed", "error", err)
		}
	}()

	log.Infof("Starting iptrack on port :%d", port)
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

func pageFromRequest(r *http.Request) database.Page {
	query := r.URL.Query()
	number, _ := strconv.Atoi(query.Get("page"))
	size, _ := strconv.Atoi(query.Get("pageSize"))
	return database.Page{Number: number, Size: size}.Normalize()
}

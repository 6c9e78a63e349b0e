// Package server exposes the planner over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"cbs-motion-planner/internal/endpoint"
	"cbs-motion-planner/internal/logging"
	"cbs-motion-planner/internal/observability"
	"cbs-motion-planner/internal/planner"
	"cbs-motion-planner/internal/precompute"
)

// Options configures a Server. Zero values are usable.
type Options struct {
	AllowedOrigin  string        // CORS origin, "*" when empty
	RequestTimeout time.Duration // per planning request, none when zero
	CacheFile      string        // where POST /precompute saves, if asked to
	Workers        int           // precompute concurrency
}

// Server holds the planner, the building registry and the path cache.
type Server struct {
	planner  *planner.Planner
	registry *endpoint.Registry
	metrics  *observability.Collector
	logger   logging.Logger
	opts     Options

	cacheMu  sync.RWMutex
	cache    *precompute.Cache
	building atomic.Bool // a /precompute build is running

	mux *http.ServeMux
}

// New wires the routes. registry, metrics and logger may be nil.
func New(p *planner.Planner, registry *endpoint.Registry, metrics *observability.Collector, logger logging.Logger, opts Options) *Server {
	if logger == nil {
		logger = logging.Noop()
	}
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	s := &Server{
		planner:  p,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
		opts:     opts,
		mux:      http.NewServeMux(),
	}

	s.handle("/route", s.routeHandler)
	s.handle("/cbs", s.cbsHandler)
	s.handle("/paths", s.pathsHandler)
	s.handle("/precompute", s.precomputeHandler)
	s.handle("/health", s.healthHandler)
	if metrics != nil {
		s.mux.Handle("/metrics", metrics.Handler())
	}
	return s
}

func (s *Server) handle(route string, h http.HandlerFunc) {
	s.mux.Handle(route, s.cors(s.metrics.Middleware(route, s.logRequests(route, h))))
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.mux }

// SetCache swaps the precomputed path cache.
func (s *Server) SetCache(c *precompute.Cache) {
	s.cacheMu.Lock()
	s.cache = c
	s.cacheMu.Unlock()
}

// Cache returns the current path cache, which may be nil.
func (s *Server) Cache() *precompute.Cache {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache
}

// ListenAndServe serves on addr until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "server listening", logging.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info(shutdownCtx, "server shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.opts.AllowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get("X-Request-ID"); id != "" {
			ctx = logging.ContextWithRequestID(ctx, id)
		}
		ctx, id := logging.EnsureRequestID(ctx)
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(rec, r.WithContext(ctx))

		s.logger.Info(ctx, "request handled",
			logging.String("route", route),
			logging.String("method", r.Method),
			logging.Int("status", rec.status),
			logging.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) planContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.RequestTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the planner's Prometheus metrics. It satisfies
// search.Observer and cbs.Observer, and wraps HTTP handlers.
type Collector struct {
	gatherer prometheus.Gatherer

	SearchRuns     *prometheus.CounterVec
	SearchExpanded prometheus.Histogram
	SearchDuration prometheus.Histogram

	CBSRuns     *prometheus.CounterVec
	CBSExpanded prometheus.Histogram
	CBSDuration prometheus.Histogram

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
}

// NewCollector registers the planner metrics against reg, defaulting to the
// global registry when nil. Registering twice on the same registry returns
// the existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.SearchRuns, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "search_runs_total",
		Help: "Single-agent searches, labeled by outcome.",
	}, []string{"outcome"}), "search_runs_total"); err != nil {
		return nil, err
	}
	if c.SearchExpanded, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "search_expanded_states",
		Help:    "States expanded per single-agent search.",
		Buckets: prometheus.ExponentialBuckets(10, 4, 10),
	}), "search_expanded_states"); err != nil {
		return nil, err
	}
	if c.SearchDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "search_duration_seconds",
		Help:    "Single-agent search latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}), "search_duration_seconds"); err != nil {
		return nil, err
	}

	if c.CBSRuns, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cbs_runs_total",
		Help: "Conflict-based search runs, labeled by outcome.",
	}, []string{"outcome"}), "cbs_runs_total"); err != nil {
		return nil, err
	}
	if c.CBSExpanded, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cbs_expanded_nodes",
		Help:    "Constraint-tree nodes expanded per CBS run.",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 250, 500, 1000, 2000},
	}), "cbs_expanded_nodes"); err != nil {
		return nil, err
	}
	if c.CBSDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cbs_duration_seconds",
		Help:    "CBS run latency in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}), "cbs_duration_seconds"); err != nil {
		return nil, err
	}

	if c.HTTPRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Handled HTTP requests, labeled by route and status code.",
	}, []string{"route", "code"}), "http_requests_total"); err != nil {
		return nil, err
	}
	if c.HTTPDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"route"}), "http_request_duration_seconds"); err != nil {
		return nil, err
	}

	return c, nil
}

// ObserveSearch records one single-agent search.
func (c *Collector) ObserveSearch(outcome string, expanded int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.SearchRuns.WithLabelValues(outcome).Inc()
	c.SearchExpanded.Observe(float64(expanded))
	c.SearchDuration.Observe(elapsed.Seconds())
}

// ObserveCBS records one CBS run.
func (c *Collector) ObserveCBS(outcome string, expanded int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.CBSRuns.WithLabelValues(outcome).Inc()
	c.CBSExpanded.Observe(float64(expanded))
	c.CBSDuration.Observe(elapsed.Seconds())
}

// Middleware counts requests and their latency under a fixed route label.
func (c *Collector) Middleware(route string, next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		c.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		c.HTTPDurations.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

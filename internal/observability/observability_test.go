package observability

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestCollectorObservers(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.ObserveSearch("found", 120, 3*time.Millisecond)
	c.ObserveSearch("found", 80, time.Millisecond)
	c.ObserveSearch("no_path", 5000, 40*time.Millisecond)
	c.ObserveCBS("solved", 3, 20*time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(c.SearchRuns.WithLabelValues("found")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.SearchRuns.WithLabelValues("no_path")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.CBSRuns.WithLabelValues("solved")))
	require.EqualValues(t, 3, histogramSampleCount(t, reg, "search_expanded_states", nil))
	require.EqualValues(t, 1, histogramSampleCount(t, reg, "cbs_duration_seconds", nil))
}

func TestCollectorRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	require.NoError(t, err)
	second, err := NewCollector(reg)
	require.NoError(t, err)

	second.ObserveCBS("exhausted", 2000, time.Second)
	require.Equal(t, 1.0, testutil.ToFloat64(first.CBSRuns.WithLabelValues("exhausted")),
		"a second collector reuses the registered vectors")

	clash := prometheus.NewRegistry()
	clash.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{Name: "search_runs_total", Help: "wrong type"}))
	_, err = NewCollector(clash)
	require.Error(t, err)
}

func TestMiddlewareRecordsRouteAndCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	h := c.Middleware("/route", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "nope", http.StatusMethodNotAllowed)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/route", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/route", nil))

	require.Equal(t, 1.0, testutil.ToFloat64(c.HTTPRequests.WithLabelValues("/route", "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.HTTPRequests.WithLabelValues("/route", "405")))
	require.EqualValues(t, 2, histogramSampleCount(t, reg, "http_request_duration_seconds", map[string]string{"route": "/route"}))

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "http_requests_total")
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ObserveSearch("found", 1, time.Millisecond)
	c.ObserveCBS("solved", 1, time.Millisecond)

	called := false
	h := c.Middleware("/x", http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	require.True(t, called)
}

func TestInitTracingStdout(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	var buf bytes.Buffer
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.Output = &buf

	ctx := context.Background()
	shutdown, err := InitTracing(ctx, cfg, nil)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(ctx, "cbs.Solve")
	span.End()
	require.NoError(t, shutdown(ctx))
	require.Contains(t, buf.String(), "cbs.Solve")
}

func TestInitTracingDisabledAndInvalid(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })
	ctx := context.Background()

	shutdown, err := InitTracing(ctx, DefaultTracingConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, shutdown(ctx))

	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.Exporter = "zipkin"
	_, err = InitTracing(ctx, cfg, nil)
	require.Error(t, err)

	cfg.Exporter = "stdout"
	cfg.SampleRatio = 2
	require.Error(t, cfg.Validate())

	ShutdownWithTimeout(ctx, nil, nil)
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	require.NoError(t, err)
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

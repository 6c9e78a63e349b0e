package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONLoggerCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf}).With(String("component", "cbs"))

	ctx := ContextWithRequestID(context.Background(), "req-7")
	log.Debug(ctx, "expanded node", Int("depth", 3), Err(errors.New("boom")), Any("agents", []string{"a", "b"}))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "expanded node", rec["msg"])
	require.Equal(t, "DEBUG", rec["level"])
	require.Equal(t, "cbs", rec["component"])
	require.Equal(t, "req-7", rec["request_id"])
	require.EqualValues(t, 3, rec["depth"])
	require.Equal(t, "boom", rec["error"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info(context.Background(), "quiet")
	require.Zero(t, buf.Len())

	log.Warn(context.Background(), "loud", Float64("radius", 12.5))
	require.Contains(t, buf.String(), "level=WARN")
	require.Contains(t, buf.String(), "radius=12.5")
}

func TestEnsureRequestID(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	require.NotEmpty(t, id)
	require.Equal(t, id, RequestIDFromContext(ctx))

	again, same := EnsureRequestID(ctx)
	require.Equal(t, id, same)
	require.Equal(t, ctx, again)

	require.Empty(t, RequestIDFromContext(context.Background()))
	require.Empty(t, Err(nil).Value)
}

func TestNoopDropsEverything(t *testing.T) {
	log := Noop().With(String("k", "v"))
	require.NotPanics(t, func() {
		log.Error(context.Background(), "ignored")
	})
}

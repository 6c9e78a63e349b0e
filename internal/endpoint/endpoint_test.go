package endpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"cbs-motion-planner/internal/geo"
	"cbs-motion-planner/internal/obstacle"
)

const registryYAML = `
buildings:
  - id: n1
    name: Library
    lat: 36.37317
    lon: 127.36062
  - id: e3
    lat: 36.3745
    lon: 127.3655
`

func TestParseRegistry(t *testing.T) {
	r, err := ParseRegistry([]byte(registryYAML))
	require.NoError(t, err)
	require.Equal(t, 2, r.Len())

	loc, err := r.ResolveEndpoint(context.Background(), "n1")
	require.NoError(t, err)
	require.Equal(t, geo.Point2D{Lat: 36.37317, Lon: 127.36062}, loc)

	b, ok := r.Building("n1")
	require.True(t, ok)
	require.Equal(t, "Library", b.Name)

	ids := []string{}
	for _, b := range r.Buildings() {
		ids = append(ids, b.ID)
	}
	require.Equal(t, []string{"n1", "e3"}, ids)

	_, err = r.ResolveEndpoint(context.Background(), "missing")
	require.ErrorIs(t, err, ErrInvalidEndpoint)
}

func TestRegistryValidation(t *testing.T) {
	_, err := NewRegistry([]Building{{ID: "a", Lat: 1, Lon: 1}, {ID: "a", Lat: 2, Lon: 2}})
	require.ErrorIs(t, err, ErrInvalidEndpoint)

	_, err = NewRegistry([]Building{{ID: "", Lat: 1, Lon: 1}})
	require.ErrorIs(t, err, ErrInvalidEndpoint)

	_, err = NewRegistry([]Building{{ID: "x", Lat: 95, Lon: 1}})
	require.ErrorIs(t, err, ErrInvalidEndpoint)

	_, err = ParseRegistry([]byte("buildings:\n  - id: a\n    latitude: 3\n"))
	require.Error(t, err, "unknown fields are rejected")
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buildings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(registryYAML), 0o644))

	r, err := LoadRegistry(path)
	require.NoError(t, err)
	require.Equal(t, 2, r.Len())

	_, err = LoadRegistry(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestAltitudePolicy(t *testing.T) {
	r, err := ParseRegistry([]byte(registryYAML))
	require.NoError(t, err)
	library, _ := r.Building("n1")

	obstacles := []obstacle.Obstacle{
		{ID: "roof", Center: library.Location(), Radius: 15, Height: 32},
	}
	policy := DefaultAltitudePolicy()
	ctx := context.Background()

	require.Equal(t, 42.0, policy.Altitude(library.Location(), obstacles))

	p, err := policy.Resolve(ctx, r, "n1", obstacles, 200)
	require.NoError(t, err)
	require.Equal(t, 42.0, p.Alt)

	p, err = policy.Resolve(ctx, r, "e3", obstacles, 200)
	require.NoError(t, err)
	require.Equal(t, 100.0, p.Alt, "no roof below, so the fallback altitude applies")

	_, err = policy.Resolve(ctx, r, "n1", obstacles, 40)
	require.ErrorIs(t, err, ErrInvalidEndpoint)

	_, err = policy.Resolve(ctx, r, "zz", obstacles, 200)
	require.ErrorIs(t, err, ErrInvalidEndpoint)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = policy.Resolve(cancelled, r, "n1", obstacles, 200)
	require.ErrorIs(t, err, context.Canceled)
}

package precompute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"cbs-motion-planner/internal/endpoint"
	"cbs-motion-planner/internal/geo"
	"cbs-motion-planner/internal/obstacle"
	"cbs-motion-planner/internal/planner"
)

type stubPlanner struct {
	calls  atomic.Int32
	blocks map[string]error
}

func (s *stubPlanner) PlanBetweenWith(_ context.Context, from, to string, _ []obstacle.Obstacle) (planner.Path, error) {
	s.calls.Add(1)
	if err, ok := s.blocks[from+"->"+to]; ok {
		return planner.Path{}, err
	}
	return planner.Path{
		AgentID: from + "->" + to,
		Cost:    10,
		Waypoints: []planner.Waypoint{
			{Lat: 1, Lon: 1, Alt: 30, T: 0},
			{Lat: 1.00001, Lon: 1, Alt: 32, T: 1},
			{Lat: 1.00002, Lon: 1, Alt: 35, T: 2},
		},
	}, nil
}

func buildings(ids ...string) []endpoint.Building {
	out := make([]endpoint.Building, len(ids))
	for i, id := range ids {
		out[i] = endpoint.Building{ID: id, Lat: 1, Lon: 1 + float64(i)*0.001}
	}
	return out
}

func TestBuildStoresBothDirections(t *testing.T) {
	stub := &stubPlanner{blocks: map[string]error{
		"a->c": fmt.Errorf("wrapped: %w", planner.ErrNoPathFound),
	}}
	c, err := Build(context.Background(), stub, buildings("a", "b", "c"), []obstacle.Obstacle{}, Options{Workers: 2})
	require.NoError(t, err)
	require.EqualValues(t, 3, stub.calls.Load(), "each unordered pair is searched once")
	require.Equal(t, 6, c.Len())

	fwd, ok := c.Lookup("a", "b")
	require.True(t, ok)
	require.Equal(t, StatusOK, fwd.Status)

	back, ok := c.Lookup("b", "a")
	require.True(t, ok)
	require.Equal(t, StatusOK, back.Status)
	require.Equal(t, "b->a", back.Path.AgentID)
	require.Equal(t, fwd.Path.Cost, back.Path.Cost)
	require.Equal(t, 35.0, back.Path.Waypoints[0].Alt)
	require.Equal(t, 30.0, back.Path.Waypoints[2].Alt)

	for _, id := range [][2]string{{"a", "c"}, {"c", "a"}} {
		e, ok := c.Lookup(id[0], id[1])
		require.True(t, ok)
		require.Equal(t, StatusNoPath, e.Status)
		require.Nil(t, e.Path)
		require.Contains(t, e.Error, "no path")
	}

	_, ok = c.Lookup("a", "zz")
	require.False(t, ok)
}

func TestBuildAborts(t *testing.T) {
	stub := &stubPlanner{blocks: map[string]error{"a->b": planner.ErrObstacleDataUnavailable}}
	_, err := Build(context.Background(), stub, buildings("a", "b"), []obstacle.Obstacle{}, Options{})
	require.ErrorIs(t, err, planner.ErrObstacleDataUnavailable)

	_, err = Build(context.Background(), &stubPlanner{}, buildings("a", "b"), nil, Options{})
	require.ErrorIs(t, err, obstacle.ErrDataUnavailable)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stub = &stubPlanner{blocks: map[string]error{"a->b": context.Canceled}}
	_, err = Build(ctx, stub, buildings("a", "b"), []obstacle.Obstacle{}, Options{})
	require.True(t, errors.Is(err, context.Canceled))
}

func TestReverseRetimes(t *testing.T) {
	p := planner.Path{AgentID: "x", Cost: 3, Waypoints: []planner.Waypoint{
		{Alt: 1, T: 0}, {Alt: 2, T: 1}, {Alt: 3, T: 2}, {Alt: 4, T: 3},
	}}
	r := Reverse(p)
	require.Len(t, r.Waypoints, 4)
	for i, w := range r.Waypoints {
		require.Equal(t, i, w.T)
		require.Equal(t, float64(4-i), w.Alt)
	}
	require.Equal(t, 1.0, p.Waypoints[0].Alt, "input is not modified")
}

func TestSaveLoad(t *testing.T) {
	c, err := Build(context.Background(), &stubPlanner{}, buildings("a", "b"), []obstacle.Obstacle{}, Options{})
	require.NoError(t, err)

	file := filepath.Join(t.TempDir(), "paths.json")
	require.NoError(t, c.Save(file))

	loaded, err := Load(file)
	require.NoError(t, err)
	require.Equal(t, c.Len(), loaded.Len())
	e, ok := loaded.Lookup("b", "a")
	require.True(t, ok)
	require.Equal(t, StatusOK, e.Status)
	require.Len(t, e.Path.Waypoints, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestLoadRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()

	bad := &Cache{Version: 99}
	file := filepath.Join(dir, "v99.json")
	require.NoError(t, bad.Save(file))
	_, err := Load(file)
	require.ErrorContains(t, err, "version")

	broken := &Cache{Version: formatVersion, Entries: []Entry{{Origin: "a", Destination: "b", Status: StatusOK}}}
	file = filepath.Join(dir, "broken.json")
	require.NoError(t, broken.Save(file))
	_, err = Load(file)
	require.ErrorContains(t, err, "has no path")
}

func TestFeatureCollection(t *testing.T) {
	stub := &stubPlanner{blocks: map[string]error{"a->c": planner.ErrNoPathFound}}
	c, err := Build(context.Background(), stub, buildings("a", "b", "c"), []obstacle.Obstacle{}, Options{})
	require.NoError(t, err)

	fc := c.FeatureCollection()
	require.Len(t, fc.Features, 4, "no_path pairs are not drawn")

	f := fc.Features[0]
	line, ok := f.Geometry.(orb.LineString)
	require.True(t, ok)
	require.Len(t, line, 3)
	require.Equal(t, geo.Point2D{Lat: 1, Lon: 1}.Orb(), line[0])
	require.Equal(t, "a", f.Properties["origin"])

	data, err := json.Marshal(fc)
	require.NoError(t, err)
	require.Contains(t, string(data), `"LineString"`)

	straight := &Cache{Version: formatVersion, Entries: []Entry{{
		Origin: "x", Destination: "y", Status: StatusOK,
		Path: &planner.Path{Waypoints: []planner.Waypoint{
			{Lat: 1, Lon: 1, Alt: 10, T: 0},
			{Lat: 1.0001, Lon: 1, Alt: 20, T: 1},
			{Lat: 1.0002, Lon: 1, Alt: 30, T: 2},
			{Lat: 1.0003, Lon: 1.0001, Alt: 40, T: 3},
		}},
	}}}
	straight.reindex()
	thin := straight.SimplifiedFeatureCollection(1).Features[0]
	require.Len(t, thin.Geometry.(orb.LineString), 3, "the collinear middle vertex is dropped")
	require.Equal(t, []float64{10, 30, 40}, thin.Properties["altitudes"])
	require.Equal(t, []int{0, 2, 3}, thin.Properties["ticks"])
	require.Len(t, straight.FeatureCollection().Features[0].Geometry.(orb.LineString), 4)

	var nilCache *Cache
	require.Empty(t, nilCache.FeatureCollection().Features)
}

func TestBuildWithRealPlanner(t *testing.T) {
	origin := geo.Point2D{Lat: 36.37317, Lon: 127.36062}
	frame := geo.NewFrame(origin)
	pt := func(x, y float64) geo.Point2D { return frame.ToGeo(geo.Vec3{X: x, Y: y}).Horizontal() }

	b := []endpoint.Building{
		{ID: "n1", Lat: pt(0, 0).Lat, Lon: pt(0, 0).Lon},
		{ID: "e3", Lat: pt(60, 20).Lat, Lon: pt(60, 20).Lon},
	}
	registry, err := endpoint.NewRegistry(b)
	require.NoError(t, err)
	roofs := []obstacle.Obstacle{{ID: "roof", Center: pt(0, 0), Radius: 8, Height: 30}}

	p, err := planner.New(planner.DefaultConfig(), obstacle.StaticSource{Obstacles: roofs}, registry)
	require.NoError(t, err)

	c, err := Build(context.Background(), p, registry.Buildings(), roofs, Options{Workers: 2})
	require.NoError(t, err)

	fwd, ok := c.Lookup("n1", "e3")
	require.True(t, ok)
	require.Equal(t, StatusOK, fwd.Status)
	require.Equal(t, 40.0, fwd.Path.Waypoints[0].Alt)

	back, ok := c.Lookup("e3", "n1")
	require.True(t, ok)
	last := back.Path.Waypoints[len(back.Path.Waypoints)-1]
	require.Equal(t, 40.0, last.Alt)
	require.Equal(t, len(back.Path.Waypoints)-1, last.T)
}

package planner

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cbs-motion-planner/internal/cbs"
	"cbs-motion-planner/internal/endpoint"
	"cbs-motion-planner/internal/geo"
	"cbs-motion-planner/internal/obstacle"
	"cbs-motion-planner/internal/search"
)

var (
	origin = geo.Point2D{Lat: 36.37317, Lon: 127.36062}
	base   = geo.NewFrame(origin)
)

func at(x, y, z float64) geo.Point3D {
	return base.ToGeo(geo.Vec3{X: x, Y: y, Z: z})
}

func newPlanner(t *testing.T, source obstacle.Source, resolver endpoint.Resolver, opts ...Option) *Planner {
	t.Helper()
	p, err := New(DefaultConfig(), source, resolver, opts...)
	require.NoError(t, err)
	return p
}

func TestPlanSingleAgentPathStraight(t *testing.T) {
	p := newPlanner(t, nil, nil)
	start, end := at(0, 0, 30), at(100, 0, 30)

	path, err := p.PlanSingleAgentPath(context.Background(), start, end, []obstacle.Obstacle{}, 120)
	require.NoError(t, err)
	require.NotEmpty(t, path.Waypoints)

	first := path.Waypoints[0].Point()
	require.InDelta(t, start.Lat, first.Lat, 1e-9)
	require.InDelta(t, start.Lon, first.Lon, 1e-9)
	require.Less(t, geo.Distance3D(path.Waypoints[len(path.Waypoints)-1].Point(), end), 5.0)
	require.LessOrEqual(t, path.Cost, 1.1*geo.Distance3D(start, end))
	for i, w := range path.Waypoints {
		require.Equal(t, i, w.T)
	}
}

func TestPlanSingleAgentPathAvoidsBuilding(t *testing.T) {
	p := newPlanner(t, nil, nil)
	tower := obstacle.Obstacle{ID: "tower", Center: origin, Radius: 20, Height: 50}

	path, err := p.PlanSingleAgentPath(context.Background(), at(-50, 0, 30), at(50, 0, 30), []obstacle.Obstacle{tower}, 120)
	require.NoError(t, err)
	require.Greater(t, path.Cost, 100.0, "the straight line is blocked")
	for _, w := range path.Waypoints {
		require.False(t, obstacle.AnyCollision(w.Point(), []obstacle.Obstacle{tower}), "waypoint %d passes through the tower", w.T)
	}
}

func TestPlanSingleAgentPathTrivial(t *testing.T) {
	p := newPlanner(t, nil, nil)
	pt := at(10, 10, 20)

	path, err := p.PlanSingleAgentPath(context.Background(), pt, pt, []obstacle.Obstacle{}, 50)
	require.NoError(t, err)
	require.Len(t, path.Waypoints, 1)
	require.Zero(t, path.Cost)
}

func TestPlanSingleAgentPathErrors(t *testing.T) {
	p := newPlanner(t, nil, nil)
	ctx := context.Background()
	start, end := at(0, 0, 30), at(50, 0, 30)

	_, err := p.PlanSingleAgentPath(ctx, start, end, nil, 100)
	require.ErrorIs(t, err, ErrObstacleDataUnavailable, "a nil snapshot must never mean open airspace")

	_, err = p.PlanSingleAgentPath(ctx, geo.Point3D{Lat: 120}, end, []obstacle.Obstacle{}, 100)
	require.ErrorIs(t, err, ErrInvalidEndpoint)

	_, err = p.PlanSingleAgentPath(ctx, start, at(50, 0, 150), []obstacle.Obstacle{}, 100)
	require.ErrorIs(t, err, ErrInvalidEndpoint)

	_, err = p.PlanSingleAgentPath(ctx, start, end, []obstacle.Obstacle{}, 0)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = p.PlanSingleAgentPath(ctx, start, end, []obstacle.Obstacle{{ID: "bad", Center: origin}}, 100)
	require.ErrorIs(t, err, ErrObstacleDataUnavailable)
}

func TestPlanSingleAgentPathNoPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Search.BoundsMargin = 20
	p, err := New(cfg, nil, nil)
	require.NoError(t, err)

	goal := obstacle.Obstacle{ID: "silo", Center: at(60, 0, 0).Horizontal(), Radius: 10, Height: 100}
	_, err = p.PlanSingleAgentPath(context.Background(), at(0, 0, 20), at(60, 0, 20), []obstacle.Obstacle{goal}, 40)
	require.ErrorIs(t, err, ErrNoPathFound)
}

func crossing() []AgentRequest {
	return []AgentRequest{
		{ID: "a", Start: at(-50, 0, 30), End: at(50, 0, 30), MaxAltitude: 60},
		{ID: "b", Start: at(0, -50, 30), End: at(0, 50, 30), MaxAltitude: 60},
	}
}

func TestPlanMultiAgentPaths(t *testing.T) {
	p := newPlanner(t, obstacle.StaticSource{Obstacles: []obstacle.Obstacle{}}, nil)

	paths, err := p.PlanMultiAgentPaths(context.Background(), crossing())
	require.NoError(t, err)
	require.Len(t, paths, 2)

	a, b := paths["a"], paths["b"]
	require.Equal(t, "a", a.AgentID)
	for _, wa := range a.Waypoints {
		if wa.T >= len(b.Waypoints) {
			continue
		}
		wb := b.Waypoints[wa.T]
		require.GreaterOrEqual(t, geo.Distance3D(wa.Point(), wb.Point()), 5-0.01, "t=%d", wa.T)
	}
}

// requireConflictFree projects paths back into the planning frame and checks
// separation. The small slack absorbs the geographic round trip.
func requireConflictFree(t *testing.T, agents []AgentRequest, paths map[string]Path) {
	t.Helper()
	frame := geo.NewFrame(agents[0].Start.Horizontal())
	order := make([]string, 0, len(agents))
	local := make(map[string]search.Path, len(paths))
	for _, a := range agents {
		order = append(order, a.ID)
		p, ok := paths[a.ID]
		require.True(t, ok, "agent %s", a.ID)
		require.InDelta(t, 0, geo.Distance3D(a.Start, p.Waypoints[0].Point()), 1e-6, "agent %s starts where asked", a.ID)
		require.Less(t, geo.Distance3D(a.End, p.Waypoints[len(p.Waypoints)-1].Point()), 5.0, "agent %s", a.ID)

		samples := make([]search.Sample, len(p.Waypoints))
		for i, w := range p.Waypoints {
			samples[i] = search.Sample{Position: frame.ToLocal(w.Point()), T: w.T}
		}
		local[a.ID] = search.Path{AgentID: a.ID, Samples: samples}
	}
	require.NoError(t, cbs.ValidateSolution(order, local, 5-1e-6))
}

func TestPlanMultiAgentPathsHeadOn(t *testing.T) {
	p := newPlanner(t, obstacle.StaticSource{Obstacles: []obstacle.Obstacle{}}, nil)

	for name, b := range map[string]AgentRequest{
		"same buildings": {ID: "b", Start: at(100, 0, 30), End: at(0, 0, 30), MaxAltitude: 60},
		"offset":         {ID: "b", Start: at(102.4, 1.1, 32.2), End: at(2.4, 1.1, 32.2), MaxAltitude: 60},
	} {
		t.Run(name, func(t *testing.T) {
			agents := []AgentRequest{
				{ID: "a", Start: at(0, 0, 30), End: at(100, 0, 30), MaxAltitude: 60},
				b,
			}
			paths, err := p.PlanMultiAgentPaths(context.Background(), agents)
			require.NoError(t, err)
			requireConflictFree(t, agents, paths)
		})
	}
}

func TestPlanMultiAgentPathsCrossingOffLattice(t *testing.T) {
	p := newPlanner(t, obstacle.StaticSource{Obstacles: []obstacle.Obstacle{}}, nil)
	agents := []AgentRequest{
		{ID: "a", Start: at(-51.3, 0.7, 30.4), End: at(50, 1.3, 30), MaxAltitude: 60},
		{ID: "b", Start: at(1.3, -48.7, 31.2), End: at(-0.9, 50.4, 29.5), MaxAltitude: 60},
	}
	paths, err := p.PlanMultiAgentPaths(context.Background(), agents)
	require.NoError(t, err)
	requireConflictFree(t, agents, paths)
}

type failingSource struct{ err error }

func (f failingSource) LoadObstacles(context.Context) ([]obstacle.Obstacle, error) {
	return nil, f.err
}

func TestPlanMultiAgentPathsObstacleFailures(t *testing.T) {
	ctx := context.Background()

	_, err := newPlanner(t, nil, nil).PlanMultiAgentPaths(ctx, crossing())
	require.ErrorIs(t, err, ErrObstacleDataUnavailable)

	_, err = newPlanner(t, failingSource{err: errors.New("database down")}, nil).PlanMultiAgentPaths(ctx, crossing())
	require.ErrorIs(t, err, ErrObstacleDataUnavailable)

	_, err = newPlanner(t, failingSource{}, nil).PlanMultiAgentPaths(ctx, crossing())
	require.ErrorIs(t, err, ErrObstacleDataUnavailable, "nil snapshot without error")

	_, err = newPlanner(t, obstacle.StaticSource{}, nil).PlanMultiAgentPaths(ctx, crossing())
	require.ErrorIs(t, err, ErrObstacleDataUnavailable)
}

func TestPlanMultiAgentPathsAgentErrors(t *testing.T) {
	registry, err := endpoint.NewRegistry([]endpoint.Building{{ID: "n1", Lat: origin.Lat, Lon: origin.Lon}})
	require.NoError(t, err)
	p := newPlanner(t, obstacle.StaticSource{Obstacles: []obstacle.Obstacle{}}, registry)
	ctx := context.Background()

	agents := crossing()
	agents[1].OriginID = "unknown"
	_, err = p.PlanMultiAgentPaths(ctx, agents)
	require.ErrorIs(t, err, ErrInvalidEndpoint)
	var agentErr *AgentError
	require.True(t, errors.As(err, &agentErr))
	require.Equal(t, "b", agentErr.AgentID)

	agents = crossing()
	agents[0].ID = ""
	_, err = p.PlanMultiAgentPaths(ctx, agents)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = p.PlanMultiAgentPaths(ctx, nil)
	require.ErrorIs(t, err, ErrInvalidRequest)

	stuck := crossing()
	stuck[0].End = at(300, 0, 30)
	silo := obstacle.Obstacle{ID: "silo", Center: at(300, 0, 0).Horizontal(), Radius: 10, Height: 100}
	cfg := DefaultConfig()
	cfg.Search.BoundsMargin = 20
	narrow, err := New(cfg, obstacle.StaticSource{Obstacles: []obstacle.Obstacle{silo}}, nil)
	require.NoError(t, err)
	_, err = narrow.PlanMultiAgentPaths(ctx, stuck)
	require.ErrorIs(t, err, ErrNoPathFound)
	require.True(t, errors.As(err, &agentErr))
	require.Equal(t, "a", agentErr.AgentID)
}

func TestPlanMultiAgentPathsFromBuildings(t *testing.T) {
	building := func(id string, x, y float64) endpoint.Building {
		pt := at(x, y, 0)
		return endpoint.Building{ID: id, Lat: pt.Lat, Lon: pt.Lon}
	}
	registry, err := endpoint.NewRegistry([]endpoint.Building{
		building("w1", -60, 0), building("e1", 60, 0),
		building("w2", -60, 40), building("e2", 60, 40),
	})
	require.NoError(t, err)
	roofs := []obstacle.Obstacle{
		{ID: "w1-roof", Center: at(-60, 0, 0).Horizontal(), Radius: 8, Height: 20},
		{ID: "e2-roof", Center: at(60, 40, 0).Horizontal(), Radius: 8, Height: 25},
	}
	p := newPlanner(t, obstacle.StaticSource{Obstacles: roofs}, registry)

	paths, err := p.PlanMultiAgentPaths(context.Background(), []AgentRequest{
		{ID: "one", OriginID: "w1", DestinationID: "e1"},
		{ID: "two", OriginID: "w2", DestinationID: "e2"},
	})
	require.NoError(t, err)
	require.Equal(t, 30.0, paths["one"].Waypoints[0].Alt, "roof height plus clearance")
	require.Equal(t, 100.0, paths["two"].Waypoints[0].Alt, "fallback altitude without a roof")
	last := paths["two"].Waypoints[len(paths["two"].Waypoints)-1]
	require.Less(t, math.Abs(last.Alt-35), 5.0)
}

func TestPlanBetween(t *testing.T) {
	registry, err := endpoint.NewRegistry([]endpoint.Building{
		{ID: "n1", Lat: at(0, 0, 0).Lat, Lon: at(0, 0, 0).Lon},
		{ID: "e3", Lat: at(80, 40, 0).Lat, Lon: at(80, 40, 0).Lon},
	})
	require.NoError(t, err)
	roofs := []obstacle.Obstacle{
		{ID: "n1", Center: at(0, 0, 0).Horizontal(), Radius: 10, Height: 30},
		{ID: "e3", Center: at(80, 40, 0).Horizontal(), Radius: 10, Height: 18},
	}
	p := newPlanner(t, obstacle.StaticSource{Obstacles: roofs}, registry)

	path, err := p.PlanBetween(context.Background(), "n1", "e3")
	require.NoError(t, err)
	require.Equal(t, "n1->e3", path.AgentID)
	require.Equal(t, 40.0, path.Waypoints[0].Alt)
	last := path.Waypoints[len(path.Waypoints)-1].Point()
	require.Less(t, geo.Distance3D(last, at(80, 40, 28)), 5.0)

	_, err = p.PlanBetween(context.Background(), "n1", "nowhere")
	require.ErrorIs(t, err, ErrInvalidEndpoint)

	_, err = newPlanner(t, obstacle.StaticSource{Obstacles: roofs}, nil).PlanBetween(context.Background(), "n1", "e3")
	require.ErrorIs(t, err, ErrInvalidEndpoint)
}

type countingObserver struct {
	mu       sync.Mutex
	searches int
	solves   int
}

func (c *countingObserver) ObserveSearch(string, int, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searches++
}

func (c *countingObserver) ObserveCBS(string, int, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.solves++
}

func TestPlannerObservers(t *testing.T) {
	obs := &countingObserver{}
	p := newPlanner(t, obstacle.StaticSource{Obstacles: []obstacle.Obstacle{}}, nil,
		WithSearchObserver(obs), WithCBSObserver(obs), WithLogger(nil), WithTracer(nil))

	_, err := p.PlanMultiAgentPaths(context.Background(), crossing())
	require.NoError(t, err)
	require.Equal(t, 1, obs.solves)
	require.GreaterOrEqual(t, obs.searches, 4, "two root searches and at least one branch pair")
}

func TestErrorAliases(t *testing.T) {
	require.ErrorIs(t, cbs.ErrConflictResolutionExhausted, ErrConflictResolutionExhausted)
	require.ErrorIs(t, search.ErrNoPath, ErrNoPathFound)
	require.ErrorIs(t, obstacle.ErrDataUnavailable, ErrObstacleDataUnavailable)
	require.ErrorIs(t, endpoint.ErrInvalidEndpoint, ErrInvalidEndpoint)

	_, err := New(Config{}, nil, nil)
	require.Error(t, err)
}

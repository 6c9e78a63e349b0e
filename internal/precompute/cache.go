// Package precompute plans every building pair once and keeps the results in
// a JSON cache the server answers /route from.
package precompute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/simplify"
	"golang.org/x/sync/errgroup"

	"cbs-motion-planner/internal/endpoint"
	"cbs-motion-planner/internal/logging"
	"cbs-motion-planner/internal/obstacle"
	"cbs-motion-planner/internal/planner"
)

// Status tells a planned pair from one without a route.
type Status string

const (
	StatusOK     Status = "ok"
	StatusNoPath Status = "no_path"
)

const formatVersion = 1

// Entry is the cached answer for one ordered building pair.
type Entry struct {
	Origin      string        `json:"origin"`
	Destination string        `json:"destination"`
	Status      Status        `json:"status"`
	Path        *planner.Path `json:"path,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Cache holds the entries of one precompute run.
type Cache struct {
	Version     int       `json:"version"`
	GeneratedAt time.Time `json:"generatedAt"`
	Obstacles   int       `json:"obstacles"`
	Entries     []Entry   `json:"entries"`

	index map[pairKey]int
}

type pairKey struct{ origin, destination string }

// PathPlanner is the part of planner.Planner a precompute run needs.
type PathPlanner interface {
	PlanBetweenWith(ctx context.Context, originID, destinationID string, obstacles []obstacle.Obstacle) (planner.Path, error)
}

// Options tunes Build.
type Options struct {
	Workers int // concurrent pair searches, at least 1
	Logger  logging.Logger
}

// Build plans each unordered pair of buildings once. The reverse direction
// reuses the forward path, reversed and retimed from tick zero. Pairs without
// a route are stored as no_path so callers can tell "unreachable" from "not
// computed". Missing obstacle data and cancellation abort the run.
func Build(ctx context.Context, pl PathPlanner, buildings []endpoint.Building, obstacles []obstacle.Obstacle, opts Options) (*Cache, error) {
	if obstacles == nil {
		return nil, fmt.Errorf("%w: nil obstacle snapshot", obstacle.ErrDataUnavailable)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Noop()
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	type pair struct{ from, to string }
	var pairs []pair
	for i := range buildings {
		for j := i + 1; j < len(buildings); j++ {
			pairs = append(pairs, pair{buildings[i].ID, buildings[j].ID})
		}
	}

	started := time.Now()
	forward := make([]Entry, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range pairs {
		g.Go(func() error {
			path, err := pl.PlanBetweenWith(gctx, p.from, p.to, obstacles)
			switch {
			case err == nil:
				forward[i] = Entry{Origin: p.from, Destination: p.to, Status: StatusOK, Path: &path}
			case gctx.Err() != nil:
				return gctx.Err()
			case errors.Is(err, planner.ErrObstacleDataUnavailable):
				return err
			default:
				logger.Debug(gctx, "pair has no route",
					logging.String("origin", p.from),
					logging.String("destination", p.to),
					logging.Err(err))
				forward[i] = Entry{Origin: p.from, Destination: p.to, Status: StatusNoPath, Error: err.Error()}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c := &Cache{
		Version:     formatVersion,
		GeneratedAt: time.Now().UTC(),
		Obstacles:   len(obstacles),
		Entries:     make([]Entry, 0, 2*len(forward)),
	}
	failed := 0
	for _, e := range forward {
		if e.Status == StatusNoPath {
			failed++
		}
		c.Entries = append(c.Entries, e, e.reversed())
	}
	c.reindex()

	logger.Info(ctx, "precompute finished",
		logging.Int("buildings", len(buildings)),
		logging.Int("pairs", len(pairs)),
		logging.Int("no_path", failed),
		logging.Duration("elapsed", time.Since(started)))
	return c, nil
}

func (e Entry) reversed() Entry {
	r := Entry{Origin: e.Destination, Destination: e.Origin, Status: e.Status, Error: e.Error}
	if e.Path != nil {
		p := Reverse(*e.Path)
		p.AgentID = r.Origin + "->" + r.Destination
		r.Path = &p
	}
	return r
}

// Reverse flies path backwards. Ticks restart at zero so the result is a
// valid path on its own.
func Reverse(path planner.Path) planner.Path {
	out := planner.Path{AgentID: path.AgentID, Cost: path.Cost, Waypoints: make([]planner.Waypoint, len(path.Waypoints))}
	n := len(path.Waypoints)
	for i, w := range path.Waypoints {
		w.T = n - 1 - i
		out.Waypoints[n-1-i] = w
	}
	return out
}

func (c *Cache) reindex() {
	c.index = make(map[pairKey]int, len(c.Entries))
	for i, e := range c.Entries {
		c.index[pairKey{e.Origin, e.Destination}] = i
	}
}

// Lookup returns the cached entry for origin to destination.
func (c *Cache) Lookup(origin, destination string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	i, ok := c.index[pairKey{origin, destination}]
	if !ok {
		return Entry{}, false
	}
	return c.Entries[i], true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Entries)
}

// Save writes the cache as indented JSON. The file is replaced atomically.
func (c *Cache) Save(filename string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal path cache: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(filename), ".paths-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write path cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write path cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return fmt.Errorf("failed to write path cache: %w", err)
	}
	return nil
}

// Load reads a cache written by Save.
func Load(filename string) (*Cache, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read path cache: %w", err)
	}

	var c Cache
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal path cache: %w", err)
	}
	if c.Version != formatVersion {
		return nil, fmt.Errorf("path cache version %d, want %d", c.Version, formatVersion)
	}
	for i, e := range c.Entries {
		if e.Status == StatusOK && e.Path == nil {
			return nil, fmt.Errorf("path cache entry %d (%s->%s) has no path", i, e.Origin, e.Destination)
		}
	}
	c.reindex()
	return &c, nil
}

// FeatureCollection renders every planned path as a GeoJSON LineString.
// Altitudes and ticks ride along in the "altitudes" and "ticks" properties
// since GeoJSON positions here are two-dimensional.
func (c *Cache) FeatureCollection() *geojson.FeatureCollection {
	return c.SimplifiedFeatureCollection(0)
}

// SimplifiedFeatureCollection is FeatureCollection with each line thinned by
// Douglas-Peucker to within toleranceMeters horizontally. The altitude and
// tick properties keep only the surviving vertices. Zero disables thinning.
func (c *Cache) SimplifiedFeatureCollection(toleranceMeters float64) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if c == nil {
		return fc
	}
	var dp *simplify.DouglasPeuckerSimplifier
	if toleranceMeters > 0 {
		dp = simplify.DouglasPeucker(toleranceMeters / metersPerDegree)
	}

	for _, e := range c.Entries {
		if e.Status != StatusOK || e.Path == nil {
			continue
		}
		line := make(orb.LineString, len(e.Path.Waypoints))
		for i, w := range e.Path.Waypoints {
			line[i] = w.Point().Horizontal().Orb()
		}
		keep := make([]int, len(line))
		for i := range keep {
			keep[i] = i
		}
		if dp != nil && len(line) > 2 {
			line, keep = dp.LineStringIndexMap(line)
		}

		alts := make([]float64, len(keep))
		ticks := make([]int, len(keep))
		for i, k := range keep {
			alts[i] = e.Path.Waypoints[k].Alt
			ticks[i] = e.Path.Waypoints[k].T
		}

		f := geojson.NewFeature(line)
		f.ID = e.Origin + "->" + e.Destination
		f.Properties["origin"] = e.Origin
		f.Properties["destination"] = e.Destination
		f.Properties["cost"] = e.Path.Cost
		f.Properties["altitudes"] = alts
		f.Properties["ticks"] = ticks
		fc.Append(f)
	}
	return fc
}

// metersPerDegree converts a horizontal tolerance to degrees of latitude.
const metersPerDegree = 111_320.0

package obstacle

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"cbs-motion-planner/internal/geo"
	"cbs-motion-planner/internal/logging"
)

// Source supplies the obstacle snapshot for one planning call. It is called
// once, before any search starts.
type Source interface {
	LoadObstacles(ctx context.Context) ([]Obstacle, error)
}

// StaticSource serves a fixed in-memory obstacle list. A nil list is treated
// as missing data; use an empty, non-nil slice for an obstacle-free world.
type StaticSource struct {
	Obstacles []Obstacle
}

// LoadObstacles returns a copy of the configured obstacles.
func (s StaticSource) LoadObstacles(ctx context.Context) ([]Obstacle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Obstacles == nil {
		return nil, fmt.Errorf("%w: static source has no obstacle list", ErrDataUnavailable)
	}
	if err := ValidateAll(s.Obstacles); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
	}
	out := make([]Obstacle, len(s.Obstacles))
	copy(out, s.Obstacles)
	return out, nil
}

// GeoJSONSource loads every *.geojson file of a directory. Point features
// need numeric "radius" and "height" properties; Polygon and MultiPolygon
// features need "height" and are turned into their enclosing cylinder.
type GeoJSONSource struct {
	Dir    string
	Logger logging.Logger
}

// NewGeoJSONSource creates a source reading from dir.
func NewGeoJSONSource(dir string, logger logging.Logger) *GeoJSONSource {
	if logger == nil {
		logger = logging.Noop()
	}
	return &GeoJSONSource{Dir: dir, Logger: logger}
}

// LoadObstacles reads and parses all files. Any failure fails the whole load
// with ErrDataUnavailable so a partial snapshot is never planned against.
func (s *GeoJSONSource) LoadObstacles(ctx context.Context) ([]Obstacle, error) {
	files, err := filepath.Glob(filepath.Join(s.Dir, "*.geojson"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no *.geojson files in %s", ErrDataUnavailable, s.Dir)
	}

	s.Logger.Debug(ctx, "loading obstacles", logging.String("dir", s.Dir), logging.Int("files", len(files)))

	all := make([]Obstacle, 0, 64)
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
		}
		obstacles, err := ParseFeatureCollection(data, strings.TrimSuffix(filepath.Base(file), ".geojson"))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrDataUnavailable, filepath.Base(file), err)
		}
		s.Logger.Debug(ctx, "loaded obstacle file",
			logging.String("file", filepath.Base(file)),
			logging.Int("obstacles", len(obstacles)))
		all = append(all, obstacles...)
	}

	merged := RemoveContained(all)
	s.Logger.Info(ctx, "obstacles loaded",
		logging.Int("total", len(all)),
		logging.Int("kept", len(merged)))
	return merged, nil
}

// ParseFeatureCollection converts a GeoJSON FeatureCollection into obstacles.
// Features with unsupported geometry are skipped. prefix names features that
// carry no id of their own.
func ParseFeatureCollection(data []byte, prefix string) ([]Obstacle, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse feature collection: %w", err)
	}

	var obstacles []Obstacle
	for i, f := range fc.Features {
		id := featureID(f, fmt.Sprintf("%s-%d", prefix, i))
		parsed, err := obstaclesFromFeature(f, id)
		if err != nil {
			return nil, err
		}
		obstacles = append(obstacles, parsed...)
	}
	if obstacles == nil {
		obstacles = []Obstacle{}
	}
	return obstacles, nil
}

func obstaclesFromFeature(f *geojson.Feature, id string) ([]Obstacle, error) {
	if f == nil || f.Geometry == nil {
		return nil, nil
	}
	height, ok := floatProperty(f.Properties, "height")
	if !ok {
		return nil, fmt.Errorf("%w: %q: missing height property", ErrInvalidObstacle, id)
	}
	name, _ := f.Properties["name"].(string)

	var out []Obstacle
	switch g := f.Geometry.(type) {
	case orb.Point:
		radius, ok := floatProperty(f.Properties, "radius")
		if !ok {
			return nil, fmt.Errorf("%w: %q: point feature without radius property", ErrInvalidObstacle, id)
		}
		out = append(out, Obstacle{ID: id, Name: name, Center: geo.FromOrb(g), Radius: radius, Height: height})

	case orb.Polygon:
		out = append(out, enclosingCylinder(g, id, name, height, f.Properties))

	case orb.MultiPolygon:
		for i, poly := range g {
			out = append(out, enclosingCylinder(poly, fmt.Sprintf("%s#%d", id, i), name, height, f.Properties))
		}

	default:
		return nil, nil
	}

	for _, o := range out {
		if err := o.Validate(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// enclosingCylinder turns a footprint into the smallest cylinder around its
// centroid that covers every vertex of the outer ring, plus an optional
// "buffer" property in metres.
func enclosingCylinder(poly orb.Polygon, id, name string, height float64, props geojson.Properties) Obstacle {
	center, _ := planar.CentroidArea(poly)
	radius := 0.0
	if len(poly) > 0 {
		for _, vertex := range poly[0] {
			radius = math.Max(radius, geo.FromOrb(center).DistanceMeters(geo.FromOrb(vertex)))
		}
	}
	if buffer, ok := floatProperty(props, "buffer"); ok && buffer > 0 {
		radius += buffer
	}
	return Obstacle{ID: id, Name: name, Center: geo.FromOrb(center), Radius: radius, Height: height}
}

func featureID(f *geojson.Feature, fallback string) string {
	if f == nil {
		return fallback
	}
	if id, ok := f.Properties["id"]; ok && id != nil {
		return fmt.Sprint(id)
	}
	if f.ID != nil {
		return fmt.Sprint(f.ID)
	}
	return fallback
}

// floatProperty accepts numbers and numeric strings.
func floatProperty(props geojson.Properties, key string) (float64, bool) {
	switch v := props[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

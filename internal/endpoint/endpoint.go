// Package endpoint resolves building identifiers to coordinates and picks the
// altitude a flight starts or ends at.
package endpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"cbs-motion-planner/internal/geo"
	"cbs-motion-planner/internal/obstacle"
)

// ErrInvalidEndpoint reports an identifier or coordinate that cannot be used
// as a flight endpoint.
var ErrInvalidEndpoint = errors.New("endpoint: invalid endpoint")

// Building is a named take-off and landing site.
type Building struct {
	ID   string  `yaml:"id" json:"id"`
	Name string  `yaml:"name,omitempty" json:"name,omitempty"`
	Lat  float64 `yaml:"lat" json:"lat"`
	Lon  float64 `yaml:"lon" json:"lon"`
}

// Location returns the building's ground position.
func (b Building) Location() geo.Point2D {
	return geo.Point2D{Lat: b.Lat, Lon: b.Lon}
}

// Resolver maps an opaque identifier to a ground position.
type Resolver interface {
	ResolveEndpoint(ctx context.Context, id string) (geo.Point2D, error)
}

// Registry is an in-memory Resolver.
type Registry struct {
	buildings map[string]Building
	order     []string
}

type registryFile struct {
	Buildings []Building `yaml:"buildings"`
}

// NewRegistry validates buildings and indexes them by ID.
func NewRegistry(buildings []Building) (*Registry, error) {
	r := &Registry{buildings: make(map[string]Building, len(buildings))}
	for _, b := range buildings {
		if b.ID == "" {
			return nil, fmt.Errorf("%w: building without id", ErrInvalidEndpoint)
		}
		if _, dup := r.buildings[b.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate building id %q", ErrInvalidEndpoint, b.ID)
		}
		if !b.Location().Valid() {
			return nil, fmt.Errorf("%w: building %q has invalid coordinates (%v, %v)", ErrInvalidEndpoint, b.ID, b.Lat, b.Lon)
		}
		r.buildings[b.ID] = b
		r.order = append(r.order, b.ID)
	}
	return r, nil
}

// ParseRegistry reads a YAML document with a top-level "buildings" list.
func ParseRegistry(data []byte) (*Registry, error) {
	var file registryFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse building registry: %w", err)
	}
	return NewRegistry(file.Buildings)
}

// LoadRegistry reads a YAML registry from path.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read building registry: %w", err)
	}
	return ParseRegistry(data)
}

// ResolveEndpoint implements Resolver.
func (r *Registry) ResolveEndpoint(ctx context.Context, id string) (geo.Point2D, error) {
	if err := ctx.Err(); err != nil {
		return geo.Point2D{}, err
	}
	b, ok := r.buildings[id]
	if !ok {
		return geo.Point2D{}, fmt.Errorf("%w: unknown building %q", ErrInvalidEndpoint, id)
	}
	return b.Location(), nil
}

// Building returns the building registered under id.
func (r *Registry) Building(id string) (Building, bool) {
	b, ok := r.buildings[id]
	return b, ok
}

// Buildings returns all buildings in registration order.
func (r *Registry) Buildings() []Building {
	out := make([]Building, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.buildings[id])
	}
	return out
}

// Len returns the number of buildings.
func (r *Registry) Len() int { return len(r.order) }

// AltitudePolicy places endpoints above the roof they sit on.
type AltitudePolicy struct {
	Clearance float64 `yaml:"clearance"` // metres above the tallest covering obstacle
	Fallback  float64 `yaml:"fallback"`  // altitude when no obstacle covers the location
}

// DefaultAltitudePolicy returns 10 m roof clearance and a 100 m fallback.
func DefaultAltitudePolicy() AltitudePolicy {
	return AltitudePolicy{Clearance: 10, Fallback: 100}
}

// Altitude returns the endpoint altitude for location.
func (p AltitudePolicy) Altitude(location geo.Point2D, obstacles []obstacle.Obstacle) float64 {
	if h, ok := obstacle.HeightAt(location, obstacles); ok {
		return h + p.Clearance
	}
	return p.Fallback
}

// Resolve looks id up and lifts it to the policy altitude. The result must
// fit under maxAltitude.
func (p AltitudePolicy) Resolve(ctx context.Context, r Resolver, id string, obstacles []obstacle.Obstacle, maxAltitude float64) (geo.Point3D, error) {
	loc, err := r.ResolveEndpoint(ctx, id)
	if err != nil {
		return geo.Point3D{}, err
	}
	alt := p.Altitude(loc, obstacles)
	if alt > maxAltitude {
		return geo.Point3D{}, fmt.Errorf("%w: %q needs altitude %.1f m above ceiling %.1f m", ErrInvalidEndpoint, id, alt, maxAltitude)
	}
	return loc.At(alt), nil
}

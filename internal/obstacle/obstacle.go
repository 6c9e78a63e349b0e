// Package obstacle models cylindrical no-fly zones (buildings) and answers
// point-in-obstacle queries, both geographically and inside a local frame.
package obstacle

import (
	"errors"
	"fmt"
	"math"

	"cbs-motion-planner/internal/geo"
)

var (
	// ErrInvalidObstacle reports a cylinder with a bad centre, radius or height.
	ErrInvalidObstacle = errors.New("obstacle: invalid obstacle")

	// ErrDataUnavailable reports that the obstacle source could not produce a
	// snapshot. Planning must stop; an empty set is never substituted.
	ErrDataUnavailable = errors.New("obstacle: obstacle data unavailable")
)

// Obstacle is a no-fly cylinder standing on the ground: every point within
// Radius metres of Center and between 0 and Height metres up is forbidden.
type Obstacle struct {
	ID     string      `json:"id" yaml:"id"`
	Name   string      `json:"name,omitempty" yaml:"name,omitempty"`
	Center geo.Point2D `json:"center" yaml:"center"`
	Radius float64     `json:"radius" yaml:"radius"`
	Height float64     `json:"height" yaml:"height"`
}

// Validate checks radius > 0, height >= 0 and a sane centre.
func (o Obstacle) Validate() error {
	switch {
	case !o.Center.Valid():
		return fmt.Errorf("%w: %q: centre (%v, %v) out of range", ErrInvalidObstacle, o.ID, o.Center.Lat, o.Center.Lon)
	case !(o.Radius > 0) || math.IsInf(o.Radius, 0):
		return fmt.Errorf("%w: %q: radius %v must be positive", ErrInvalidObstacle, o.ID, o.Radius)
	case !(o.Height >= 0) || math.IsInf(o.Height, 0):
		return fmt.Errorf("%w: %q: height %v must be non-negative", ErrInvalidObstacle, o.ID, o.Height)
	}
	return nil
}

// ValidateAll validates every obstacle and returns the first failure.
func ValidateAll(obstacles []Obstacle) error {
	for _, o := range obstacles {
		if err := o.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Collides reports whether point lies inside the obstacle, using the
// great-circle horizontal distance.
func Collides(point geo.Point3D, o Obstacle) bool {
	if point.Alt < 0 || point.Alt > o.Height {
		return false
	}
	return point.Horizontal().DistanceMeters(o.Center) <= o.Radius
}

// AnyCollision reports whether point lies inside any of the obstacles.
func AnyCollision(point geo.Point3D, obstacles []Obstacle) bool {
	for _, o := range obstacles {
		if Collides(point, o) {
			return true
		}
	}
	return false
}

// HeightAt returns the height of the tallest obstacle covering location.
func HeightAt(location geo.Point2D, obstacles []Obstacle) (float64, bool) {
	best, found := 0.0, false
	for _, o := range obstacles {
		if location.DistanceMeters(o.Center) > o.Radius {
			continue
		}
		if !found || o.Height > best {
			best, found = o.Height, true
		}
	}
	return best, found
}

package geo

import "math"

// Bounds is an axis-aligned box in a local frame.
type Bounds struct {
	Min Vec3 `json:"min"`
	Max Vec3 `json:"max"`
}

// IsZero reports whether the box was left unset.
func (b Bounds) IsZero() bool {
	return b == Bounds{}
}

// Contains reports whether v lies inside the box, edges included.
func (b Bounds) Contains(v Vec3) bool {
	return v.X >= b.Min.X && v.X <= b.Max.X &&
		v.Y >= b.Min.Y && v.Y <= b.Max.Y &&
		v.Z >= b.Min.Z && v.Z <= b.Max.Z
}

// RouteBounds calculates the box around a route with a horizontal margin. The
// vertical extent is [0, maxAltitude].
func RouteBounds(start, end Vec3, margin, maxAltitude float64) Bounds {
	return BoundsAround([]Vec3{start, end}, margin, maxAltitude)
}

// BoundsAround is RouteBounds for any number of points.
func BoundsAround(points []Vec3, margin, maxAltitude float64) Bounds {
	if len(points) == 0 {
		return Bounds{}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return Bounds{
		Min: Vec3{X: minX - margin, Y: minY - margin, Z: 0},
		Max: Vec3{X: maxX + margin, Y: maxY + margin, Z: maxAltitude},
	}
}

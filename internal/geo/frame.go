package geo

import "math"

// Vec3 is a position in a local east-north-up frame, in metres.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + other.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// HorizontalDistanceTo ignores the vertical component.
func (v Vec3) HorizontalDistanceTo(other Vec3) float64 {
	dx := v.X - other.X
	dy := v.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Frame is an equirectangular tangent plane anchored at an origin. Every
// distance computed during one planning call goes through the same Frame.
//
// The approximation is good to well under a metre over the few kilometres a
// single call spans; it does not handle the antimeridian.
type Frame struct {
	origin Point2D
	cosLat float64
}

// NewFrame anchors a local frame at origin.
func NewFrame(origin Point2D) Frame {
	return Frame{
		origin: origin,
		cosLat: math.Cos(origin.Lat * math.Pi / 180),
	}
}

// Origin returns the anchor of the frame.
func (f Frame) Origin() Point2D { return f.origin }

// ToLocal projects a geographic point into the frame.
func (f Frame) ToLocal(p Point3D) Vec3 {
	const toRad = math.Pi / 180
	return Vec3{
		X: (p.Lon - f.origin.Lon) * toRad * f.cosLat * EarthRadiusMeters,
		Y: (p.Lat - f.origin.Lat) * toRad * EarthRadiusMeters,
		Z: p.Alt,
	}
}

// Project projects a ground location into the frame at altitude zero.
func (f Frame) Project(p Point2D) Vec3 {
	return f.ToLocal(p.At(0))
}

// ToGeo converts a local position back to geographic coordinates.
func (f Frame) ToGeo(v Vec3) Point3D {
	const toDeg = 180 / math.Pi
	lat := f.origin.Lat + v.Y/EarthRadiusMeters*toDeg
	lon := f.origin.Lon
	if f.cosLat != 0 {
		lon += v.X / (EarthRadiusMeters * f.cosLat) * toDeg
	}
	return Point3D{Lat: lat, Lon: lon, Alt: v.Z}
}

package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// EarthRadiusMeters is the radius shared by the haversine helpers and the
// local frame so both agree on what a metre is.
const EarthRadiusMeters = orb.EarthRadius

// Point2D is a geographic location in degrees.
type Point2D struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Point3D is a geographic location with altitude in metres above ground.
type Point3D struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
	Alt float64 `json:"alt" yaml:"alt"`
}

// Orb converts the location to an orb point (lon, lat order).
func (p Point2D) Orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// FromOrb converts an orb point back into a Point2D.
func FromOrb(pt orb.Point) Point2D {
	return Point2D{Lat: pt.Lat(), Lon: pt.Lon()}
}

// At lifts the location to the given altitude.
func (p Point2D) At(alt float64) Point3D {
	return Point3D{Lat: p.Lat, Lon: p.Lon, Alt: alt}
}

// Horizontal drops the altitude.
func (p Point3D) Horizontal() Point2D {
	return Point2D{Lat: p.Lat, Lon: p.Lon}
}

// Valid reports whether the coordinates are finite and inside the lat/lon range.
func (p Point2D) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Valid reports whether the location is valid and the altitude finite.
func (p Point3D) Valid() bool {
	if math.IsNaN(p.Alt) || math.IsInf(p.Alt, 0) {
		return false
	}
	return p.Horizontal().Valid()
}

// DistanceMeters calculates the great-circle distance in metres between two
// locations using the haversine formula.
func (p Point2D) DistanceMeters(other Point2D) float64 {
	return orbgeo.DistanceHaversine(p.Orb(), other.Orb())
}

// Distance3D combines the great-circle horizontal distance with the altitude
// difference.
func Distance3D(a, b Point3D) float64 {
	h := a.Horizontal().DistanceMeters(b.Horizontal())
	dz := b.Alt - a.Alt
	return math.Sqrt(h*h + dz*dz)
}

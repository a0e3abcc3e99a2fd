// Package geo holds the coordinate math shared by the wayfinding engine.
//
// Two frames are in play: floorplan pixel space (planar, y grows downward) and
// WGS84 latitude/longitude. Pixel points use gonum's r2.Vec; geographic points
// use LatLng. Every bearing is expressed in degrees clockwise from north
// (for pixel space: clockwise from the top of the image).
package geo

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// EarthRadiusMeters is the IUGG mean Earth radius.
const EarthRadiusMeters = 6_371_008.8

// LatLng is a WGS84 coordinate in decimal degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate is finite and within WGS84 bounds.
func (l LatLng) Valid() bool {
	return !math.IsNaN(l.Lat) && !math.IsNaN(l.Lng) &&
		l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

func radians(d float64) float64 { return d * math.Pi / 180 }
func degrees(r float64) float64 { return r * 180 / math.Pi }

// NormalizeDegrees maps any angle into [0, 360).
func NormalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	if d == 360 {
		return 0
	}
	return d
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b LatLng) float64 {
	lat1, lat2 := radians(a.Lat), radians(b.Lat)
	dLat := lat2 - lat1
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// InitialBearing returns the great-circle forward azimuth from a to b.
// Identical points yield 0.
func InitialBearing(a, b LatLng) float64 {
	lat1, lat2 := radians(a.Lat), radians(b.Lat)
	dLng := radians(b.Lng - a.Lng)

	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	if x == 0 && y == 0 {
		return 0
	}
	return NormalizeDegrees(degrees(math.Atan2(y, x)))
}

// Euclidean is the straight-line distance between two pixel-space points.
func Euclidean(a, b r2.Vec) float64 {
	return r2.Norm(r2.Sub(b, a))
}

// PlanarBearing is the bearing from one pixel-space point to another, where
// 0 points to the top of the image and 90 to its right edge.
func PlanarBearing(from, to r2.Vec) float64 {
	d := r2.Sub(to, from)
	if d.X == 0 && d.Y == 0 {
		return 0
	}
	// Image y grows downward, so "up" is -Y.
	return NormalizeDegrees(degrees(math.Atan2(d.X, -d.Y)))
}

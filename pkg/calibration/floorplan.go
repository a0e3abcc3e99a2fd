// Package calibration converts between the coordinate frames used during
// navigation: floorplan pixels, device GPS, and discrete QR anchors.
//
// GPS is advisory. Whenever an anchor has been scanned, its bound position is
// the authoritative fix and replaces the GPS estimate wholesale until the
// next scan or until GPS accuracy is good enough to trust again. There is no
// blending between the two.
package calibration

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/sanonone/wayfinder/pkg/geo"
)

// Floorplan carries the transform between pixel space and the real world.
// Origin is the GPS position of pixel (0,0); RotationDeg is the compass
// bearing of the image's "up" direction.
type Floorplan struct {
	ID             string   `json:"id,omitempty" yaml:"id"`
	ImageRef       string   `json:"imageRef" yaml:"image_ref"`
	PixelsPerMeter float64  `json:"pixelsPerMeter" yaml:"pixels_per_meter"`
	OriginLat      *float64 `json:"originLat,omitempty" yaml:"origin_lat,omitempty"`
	OriginLng      *float64 `json:"originLng,omitempty" yaml:"origin_lng,omitempty"`
	RotationDeg    *float64 `json:"rotationDeg,omitempty" yaml:"rotation_deg,omitempty"`
}

// Georeferenced reports whether the floorplan can be mapped to GPS.
func (f Floorplan) Georeferenced() bool {
	return f.OriginLat != nil && f.OriginLng != nil && f.PixelsPerMeter > 0
}

func (f Floorplan) rotation() float64 {
	if f.RotationDeg == nil {
		return 0
	}
	return *f.RotationDeg * math.Pi / 180
}

func (f Floorplan) origin() geo.LatLng {
	return geo.LatLng{Lat: *f.OriginLat, Lng: *f.OriginLng}
}

// PixelToApproxGPS estimates the GPS position of a pixel-space point using a
// local flat-earth approximation around the origin. Accuracy degrades with
// distance from the origin. ok is false when the floorplan is not
// georeferenced.
func PixelToApproxGPS(f Floorplan, p r2.Vec) (ll geo.LatLng, ok bool) {
	if !f.Georeferenced() {
		return geo.LatLng{}, false
	}
	// Image axes in meters, y flipped so that +Y is image-up.
	local := r2.Scale(1/f.PixelsPerMeter, r2.Vec{X: p.X, Y: -p.Y})
	// Image-up points at RotationDeg clockwise from north.
	en := r2.Rotate(local, -f.rotation(), r2.Vec{})

	o := f.origin()
	lat := o.Lat + (en.Y/geo.EarthRadiusMeters)*180/math.Pi
	lng := o.Lng + (en.X/(geo.EarthRadiusMeters*math.Cos(o.Lat*math.Pi/180)))*180/math.Pi
	return geo.LatLng{Lat: lat, Lng: lng}, true
}

// GPSToApproxPixel is the inverse of PixelToApproxGPS.
func GPSToApproxPixel(f Floorplan, ll geo.LatLng) (p r2.Vec, ok bool) {
	if !f.Georeferenced() {
		return r2.Vec{}, false
	}
	o := f.origin()
	north := (ll.Lat - o.Lat) * math.Pi / 180 * geo.EarthRadiusMeters
	east := (ll.Lng - o.Lng) * math.Pi / 180 * geo.EarthRadiusMeters * math.Cos(o.Lat*math.Pi/180)

	local := r2.Rotate(r2.Vec{X: east, Y: north}, f.rotation(), r2.Vec{})
	return r2.Vec{X: local.X * f.PixelsPerMeter, Y: -local.Y * f.PixelsPerMeter}, true
}

// MetersBetween converts a pixel-space distance to meters. Without a scale
// it returns the pixel distance unchanged.
func MetersBetween(f Floorplan, a, b r2.Vec) float64 {
	d := geo.Euclidean(a, b)
	if f.PixelsPerMeter <= 0 {
		return d
	}
	return d / f.PixelsPerMeter
}

// CompassBearing is the bearing from one pixel to another measured from true
// north, taking the floorplan rotation into account.
func CompassBearing(f Floorplan, from, to r2.Vec) float64 {
	rot := 0.0
	if f.RotationDeg != nil {
		rot = *f.RotationDeg
	}
	return geo.NormalizeDegrees(geo.PlanarBearing(from, to) + rot)
}

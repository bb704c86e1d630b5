package geo

import (
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

const EarthRadiusM = 6371008.8

// HaversineKm returns the great-circle distance in kilometres.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	return HaversineM(lat1, lng1, lat2, lng2) / 1000
}

func HaversineM(lat1, lng1, lat2, lng2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lng1)
	p2 := s2.LatLngFromDegrees(lat2, lng2)
	return p1.Distance(p2).Radians() * EarthRadiusM
}

// Destination returns the point reached from (lat, lng) after distanceM
// metres on the given bearing (degrees clockwise from north).
func Destination(lat, lng, bearing, distanceM float64) (float64, float64) {
	p := s2.LatLngFromDegrees(lat, lng)
	brg := bearing * math.Pi / 180
	ang := distanceM / EarthRadiusM

	lat1 := p.Lat.Radians()
	lng1 := p.Lng.Radians()

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(ang) + math.Cos(lat1)*math.Sin(ang)*math.Cos(brg))
	lng2 := lng1 + math.Atan2(
		math.Sin(brg)*math.Sin(ang)*math.Cos(lat1),
		math.Cos(ang)-math.Sin(lat1)*math.Sin(lat2))

	out := s2.LatLng{Lat: s1.Angle(lat2), Lng: s1.Angle(lng2)}.Normalized()
	return out.Lat.Degrees(), out.Lng.Degrees()
}

// Circle approximates a geodesic circle as a closed ring of [lng, lat]
// vertices. The last vertex repeats the first.
func Circle(lat, lng, radiusM float64, vertices int) [][2]float64 {
	if vertices < 3 {
		vertices = 3
	}
	ring := make([][2]float64, 0, vertices+1)
	for i := 0; i < vertices; i++ {
		dLat, dLng := Destination(lat, lng, 360*float64(i)/float64(vertices), radiusM)
		ring = append(ring, [2]float64{dLng, dLat})
	}
	return append(ring, ring[0])
}

// Extent returns [minLng, minLat, maxLng, maxLat] of the given vertices.
// An extent crossing the antimeridian keeps minLng < maxLng by letting
// maxLng run past 180.
func Extent(points [][2]float64) [4]float64 {
	rect := s2.EmptyRect()
	for _, p := range points {
		rect = rect.AddPoint(s2.LatLngFromDegrees(p[1], p[0]))
	}
	if rect.IsEmpty() {
		return [4]float64{}
	}
	minLng, maxLng := rect.Lo().Lng.Degrees(), rect.Hi().Lng.Degrees()
	if rect.Lng.IsInverted() {
		maxLng += 360
	}
	return [4]float64{minLng, rect.Lo().Lat.Degrees(), maxLng, rect.Hi().Lat.Degrees()}
}

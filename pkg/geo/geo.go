// Package geo provides geographic primitives for geofence evaluation:
// great-circle distance and ray-casting point-in-polygon containment.
package geo

import "math"

// earthRadiusMeters is the mean Earth radius used for great-circle distance.
const earthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// IsValid checks the point is within WGS84 coordinate ranges.
func (p Point) IsValid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Ring is a closed polygon ring. The last vertex is implicitly connected
// back to the first; callers do not need to repeat the first vertex.
type Ring []Point

// Polygon is one or more rings. The first ring is the outer boundary;
// subsequent rings are holes.
type Polygon []Ring

// HaversineMeters returns the great-circle distance between two points
// in meters.
func HaversineMeters(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon

	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// ringContains reports whether p is inside the ring using the ray-casting
// algorithm: a point is inside when a ray cast eastward crosses the ring
// boundary an odd number of times.
func ringContains(ring Ring, p Point) bool {
	if len(ring) < 3 {
		return false
	}
	inside := false
	j := len(ring) - 1
	for i := 0; i < len(ring); i++ {
		vi, vj := ring[i], ring[j]
		if (vi.Lat > p.Lat) != (vj.Lat > p.Lat) {
			crossLon := (vj.Lon-vi.Lon)*(p.Lat-vi.Lat)/(vj.Lat-vi.Lat) + vi.Lon
			if p.Lon < crossLon {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// Contains reports whether p is inside the polygon: inside the outer ring
// and outside every hole.
func (poly Polygon) Contains(p Point) bool {
	if len(poly) == 0 {
		return false
	}
	if !ringContains(poly[0], p) {
		return false
	}
	for _, hole := range poly[1:] {
		if ringContains(hole, p) {
			return false
		}
	}
	return true
}

// ContainsAny reports whether p is inside any of the polygons.
func ContainsAny(polys []Polygon, p Point) bool {
	for _, poly := range polys {
		if poly.Contains(p) {
			return true
		}
	}
	return false
}

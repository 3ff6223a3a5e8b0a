package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// unitSquare is a 1x1 degree square around the origin.
var unitSquare = Polygon{
	Ring{
		{Lat: -0.5, Lon: -0.5},
		{Lat: -0.5, Lon: 0.5},
		{Lat: 0.5, Lon: 0.5},
		{Lat: 0.5, Lon: -0.5},
	},
}

func TestPolygonContains(t *testing.T) {
	tests := []struct {
		name     string
		point    Point
		expected bool
	}{
		{"center", Point{Lat: 0, Lon: 0}, true},
		{"near edge inside", Point{Lat: 0.49, Lon: 0.49}, true},
		{"outside north", Point{Lat: 0.51, Lon: 0}, false},
		{"outside east", Point{Lat: 0, Lon: 0.51}, false},
		{"far away", Point{Lat: 45, Lon: 45}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, unitSquare.Contains(test.point))
		})
	}
}

func TestPolygonContains_Hole(t *testing.T) {
	withHole := Polygon{
		unitSquare[0],
		Ring{
			{Lat: -0.1, Lon: -0.1},
			{Lat: -0.1, Lon: 0.1},
			{Lat: 0.1, Lon: 0.1},
			{Lat: 0.1, Lon: -0.1},
		},
	}

	assert.False(t, withHole.Contains(Point{Lat: 0, Lon: 0}), "point in hole is outside")
	assert.True(t, withHole.Contains(Point{Lat: 0.3, Lon: 0.3}), "point between hole and boundary is inside")
}

func TestPolygonContains_Degenerate(t *testing.T) {
	assert.False(t, Polygon{}.Contains(Point{}))
	assert.False(t, Polygon{Ring{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 1}}}.Contains(Point{}))
}

func TestContainsAny(t *testing.T) {
	other := Polygon{
		Ring{
			{Lat: 9.5, Lon: 9.5},
			{Lat: 9.5, Lon: 10.5},
			{Lat: 10.5, Lon: 10.5},
			{Lat: 10.5, Lon: 9.5},
		},
	}
	polys := []Polygon{unitSquare, other}

	assert.True(t, ContainsAny(polys, Point{Lat: 10, Lon: 10}))
	assert.True(t, ContainsAny(polys, Point{Lat: 0, Lon: 0}))
	assert.False(t, ContainsAny(polys, Point{Lat: 5, Lon: 5}))
}

func TestHaversineMeters(t *testing.T) {
	// One degree of latitude is roughly 111 km
	a := Point{Lat: 0, Lon: 0}
	b := Point{Lat: 1, Lon: 0}
	d := HaversineMeters(a, b)
	assert.InDelta(t, 111195, d, 200)

	// Symmetric and zero at identity
	assert.InDelta(t, d, HaversineMeters(b, a), 0.001)
	assert.Equal(t, 0.0, HaversineMeters(a, a))
}

func TestPointIsValid(t *testing.T) {
	assert.True(t, Point{Lat: 45, Lon: -122}.IsValid())
	assert.False(t, Point{Lat: 91, Lon: 0}.IsValid())
	assert.False(t, Point{Lat: 0, Lon: -181}.IsValid())
}

// Package geo provides the distance and grid-cell primitives used by the
// correlation algorithms. All functions are pure; coordinates are WGS84
// [longitude, latitude] degrees and distances are meters.
package geo

import (
	"math"
	"sort"

	"github.com/stadsdata/curbwatch/pkg/model"
)

const (
	// EarthRadiusM is the spherical Earth radius used by Haversine.
	EarthRadiusM = 6371000.0

	// CellSize is the spatial grid cell size in degrees, ~55 m at Malmö's
	// latitude. Slightly larger than the default match cutoff so a 3x3
	// neighborhood always covers it.
	CellSize = 0.0005
)

// Cell is an integer grid cell, (floor(lon/CellSize), floor(lat/CellSize)).
type Cell struct {
	X, Y int32
}

func assertFinite(p model.Point) {
	if math.IsNaN(p[0]) || math.IsNaN(p[1]) {
		panic("geo: NaN coordinate")
	}
}

// Haversine returns the great-circle distance in meters between two points.
// The spherical approximation is within 0.5% for distances under 100 m at
// the target latitude (~55N).
func Haversine(p1, p2 model.Point) float64 {
	assertFinite(p1)
	assertFinite(p2)
	lat1 := p1[1] * math.Pi / 180
	lat2 := p2[1] * math.Pi / 180
	dLat := (p2[1] - p1[1]) * math.Pi / 180
	dLon := (p2[0] - p1[0]) * math.Pi / 180
	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	a := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusM * c
}

// PointToSegment returns the distance in meters from p to the segment a-b.
// The closest point is found by parametric projection in planar lon/lat,
// which is valid because segments are short (< 500 m); the final distance
// is Haversine. A degenerate segment collapses to Haversine(p, a).
func PointToSegment(p, a, b model.Point) float64 {
	vx, vy := b[0]-a[0], b[1]-a[1]
	wx, wy := p[0]-a[0], p[1]-a[1]
	lenSq := vx*vx + vy*vy
	if lenSq == 0 {
		return Haversine(p, a)
	}
	t := (wx*vx + wy*vy) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	closest := model.Point{a[0] + t*vx, a[1] + t*vy}
	return Haversine(p, closest)
}

// CellFor returns the grid cell containing the point.
func CellFor(p model.Point, cellSize float64) Cell {
	return Cell{
		X: int32(math.Floor(p[0] / cellSize)),
		Y: int32(math.Floor(p[1] / cellSize)),
	}
}

// LineCells returns every cell the segment a-b crosses, sorted and
// duplicate-free. The line is sampled at max(|dcx|,|dcy|) parametric steps;
// start, end, and midpoint cells are always included.
func LineCells(a, b model.Point, cellSize float64) []Cell {
	set := make(map[Cell]struct{}, 8)
	c1 := CellFor(a, cellSize)
	c2 := CellFor(b, cellSize)
	set[c1] = struct{}{}
	set[c2] = struct{}{}
	mid := model.Point{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2}
	set[CellFor(mid, cellSize)] = struct{}{}

	dx := c2.X - c1.X
	if dx < 0 {
		dx = -dx
	}
	dy := c2.Y - c1.Y
	if dy < 0 {
		dy = -dy
	}
	steps := dx
	if dy > steps {
		steps = dy
	}
	if steps < 1 {
		steps = 1
	}
	for i := int32(1); i < steps; i++ {
		t := float64(i) / float64(steps)
		p := model.Point{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])}
		set[CellFor(p, cellSize)] = struct{}{}
	}

	cells := make([]Cell, 0, len(set))
	for c := range set {
		cells = append(cells, c)
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].X != cells[j].X {
			return cells[i].X < cells[j].X
		}
		return cells[i].Y < cells[j].Y
	})
	return cells
}

// Neighborhood returns the 3x3 block of cells centered on c.
func Neighborhood(c Cell) [9]Cell {
	var out [9]Cell
	i := 0
	for dx := int32(-1); dx <= 1; dx++ {
		for dy := int32(-1); dy <= 1; dy++ {
			out[i] = Cell{X: c.X + dx, Y: c.Y + dy}
			i++
		}
	}
	return out
}

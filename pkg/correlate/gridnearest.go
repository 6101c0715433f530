package correlate

import (
	"github.com/stadsdata/curbwatch/pkg/geo"
	"github.com/stadsdata/curbwatch/pkg/model"
)

// GridNearest uses the same 55 m grid as RTreeGrid but keeps no endpoint
// cache, reading the borrowed source records per candidate. Memory-lean
// alternative at the cost of the extra indirection.
type GridNearest struct {
	cells    map[geo.Cell][]int
	segments []model.Segment
	cutoffM  float64
}

func NewGridNearest(segments []model.Segment, cutoffM float64) *GridNearest {
	cells := make(map[geo.Cell][]int, len(segments)*4)
	for i, s := range segments {
		for _, c := range geo.LineCells(s.Start, s.End, geo.CellSize) {
			cells[c] = append(cells[c], i)
		}
	}
	return &GridNearest{cells: cells, segments: segments, cutoffM: cutoffM}
}

func (a *GridNearest) Correlate(addr model.Address) (int, float64, bool) {
	center := geo.CellFor(addr.Coord, geo.CellSize)
	bestIdx, bestDist, found := 0, 0.0, false
	for _, c := range geo.Neighborhood(center) {
		for _, idx := range a.cells[c] {
			s := a.segments[idx]
			dist := geo.PointToSegment(addr.Coord, s.Start, s.End)
			if dist <= a.cutoffM && better(dist, idx, bestDist, bestIdx, found) {
				bestIdx, bestDist, found = idx, dist, true
			}
		}
	}
	return bestIdx, bestDist, found
}

func (a *GridNearest) Name() string { return "grid" }

package correlate

import (
	"github.com/stadsdata/curbwatch/pkg/geo"
	"github.com/stadsdata/curbwatch/pkg/model"
)

// RTreeGrid is the production default: a 55 m uniform grid with cached
// endpoints so the hot path never touches the source records.
type RTreeGrid struct {
	grid    *geo.Grid
	cutoffM float64
}

func NewRTreeGrid(segments []model.Segment, cutoffM float64) *RTreeGrid {
	return &RTreeGrid{grid: geo.NewGrid(segments, geo.CellSize), cutoffM: cutoffM}
}

func (a *RTreeGrid) Correlate(addr model.Address) (int, float64, bool) {
	return gridCorrelate(a.grid, addr, a.cutoffM)
}

func (a *RTreeGrid) Name() string { return "rtree" }

// KDTreeGrid shares the RTreeGrid internals under the second name the
// operator panel lists. Kept as a separate type so benchmark output shows
// both entries independently.
type KDTreeGrid struct {
	grid    *geo.Grid
	cutoffM float64
}

func NewKDTreeGrid(segments []model.Segment, cutoffM float64) *KDTreeGrid {
	return &KDTreeGrid{grid: geo.NewGrid(segments, geo.CellSize), cutoffM: cutoffM}
}

func (a *KDTreeGrid) Correlate(addr model.Address) (int, float64, bool) {
	return gridCorrelate(a.grid, addr, a.cutoffM)
}

func (a *KDTreeGrid) Name() string { return "kdtree" }

func gridCorrelate(grid *geo.Grid, addr model.Address, cutoffM float64) (int, float64, bool) {
	bestIdx, bestDist, found := 0, 0.0, false
	grid.Candidates(addr.Coord, func(idx int) {
		seg := grid.Segment(idx)
		dist := geo.PointToSegment(addr.Coord, seg.Start, seg.End)
		if dist <= cutoffM && better(dist, idx, bestDist, bestIdx, found) {
			bestIdx, bestDist, found = idx, dist, true
		}
	})
	return bestIdx, bestDist, found
}

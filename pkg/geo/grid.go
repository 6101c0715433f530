package geo

import "github.com/stadsdata/curbwatch/pkg/model"

// Endpoints is a segment's endpoints cached as plain float64 pairs so the
// query hot path avoids re-reading the source records.
type Endpoints struct {
	Start model.Point
	End   model.Point
}

// Grid is a uniform spatial index mapping cells to the indices of the
// segments that cross them. Built once, immutable and safe for concurrent
// readers afterwards.
type Grid struct {
	cells    map[Cell][]int
	segments []Endpoints
	cellSize float64
}

// NewGrid indexes the given segments at the given cell size.
func NewGrid(segments []model.Segment, cellSize float64) *Grid {
	g := &Grid{
		cells:    make(map[Cell][]int, len(segments)*4),
		segments: make([]Endpoints, len(segments)),
		cellSize: cellSize,
	}
	for i, s := range segments {
		g.segments[i] = Endpoints{Start: s.Start, End: s.End}
		for _, c := range LineCells(s.Start, s.End, cellSize) {
			g.cells[c] = append(g.cells[c], i)
		}
	}
	return g
}

// CellSize returns the cell size the grid was built with.
func (g *Grid) CellSize() float64 { return g.cellSize }

// Segment returns the cached endpoints of segment i.
func (g *Grid) Segment(i int) Endpoints { return g.segments[i] }

// Candidates calls fn with each segment index found in the 3x3 cell
// neighborhood around p. Indices repeat when a segment occupies several of
// the nine cells; callers keep a running best so repeats are harmless.
func (g *Grid) Candidates(p model.Point, fn func(segIdx int)) {
	center := CellFor(p, g.cellSize)
	for _, c := range Neighborhood(center) {
		for _, idx := range g.cells[c] {
			fn(idx)
		}
	}
}

// Len returns the number of indexed segments.
func (g *Grid) Len() int { return len(g.segments) }

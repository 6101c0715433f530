package correlate

import (
	"math"

	"github.com/stadsdata/curbwatch/pkg/geo"
	"github.com/stadsdata/curbwatch/pkg/model"
)

// chunkSize is deliberately coarse (0.01 degrees, ~1.1 km north-south and
// ~630 m east-west at Malmö) so each segment's full bounding box fits in
// few chunks.
const chunkSize = 0.01

// OverlappingChunks rasterizes each segment's AABB into coarse chunks and
// queries the 3x3 chunk neighborhood. Coarser than the grid variants,
// which makes candidate lists longer but boundary effects rarer.
type OverlappingChunks struct {
	chunks   map[geo.Cell][]int
	segments []model.Segment
	cutoffM  float64
}

func NewOverlappingChunks(segments []model.Segment, cutoffM float64) *OverlappingChunks {
	chunks := make(map[geo.Cell][]int)
	for i, s := range segments {
		minX := math.Min(s.Start[0], s.End[0])
		maxX := math.Max(s.Start[0], s.End[0])
		minY := math.Min(s.Start[1], s.End[1])
		maxY := math.Max(s.Start[1], s.End[1])
		x0 := int32(math.Floor(minX / chunkSize))
		x1 := int32(math.Floor(maxX / chunkSize))
		y0 := int32(math.Floor(minY / chunkSize))
		y1 := int32(math.Floor(maxY / chunkSize))
		for cx := x0; cx <= x1; cx++ {
			for cy := y0; cy <= y1; cy++ {
				c := geo.Cell{X: cx, Y: cy}
				chunks[c] = append(chunks[c], i)
			}
		}
	}
	return &OverlappingChunks{chunks: chunks, segments: segments, cutoffM: cutoffM}
}

func (a *OverlappingChunks) Correlate(addr model.Address) (int, float64, bool) {
	center := geo.CellFor(addr.Coord, chunkSize)
	bestIdx, bestDist, found := 0, 0.0, false
	for _, c := range geo.Neighborhood(center) {
		for _, idx := range a.chunks[c] {
			s := a.segments[idx]
			dist := geo.PointToSegment(addr.Coord, s.Start, s.End)
			if dist <= a.cutoffM && better(dist, idx, bestDist, bestIdx, found) {
				bestIdx, bestDist, found = idx, dist, true
			}
		}
	}
	return bestIdx, bestDist, found
}

func (a *OverlappingChunks) Name() string { return "chunks" }

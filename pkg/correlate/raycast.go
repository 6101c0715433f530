package correlate

import (
	"github.com/stadsdata/curbwatch/pkg/geo"
	"github.com/stadsdata/curbwatch/pkg/model"
)

// Raycast treats each line as a polyline and takes the minimum distance
// over consecutive point windows. With two-point segments it degenerates
// to brute-force; it exists as a second unindexed baseline and survives
// upstream layers that start delivering multi-vertex lines.
type Raycast struct {
	polylines [][]model.Point
	cutoffM   float64
}

func NewRaycast(segments []model.Segment, cutoffM float64) *Raycast {
	polylines := make([][]model.Point, len(segments))
	for i, s := range segments {
		polylines[i] = []model.Point{s.Start, s.End}
	}
	return &Raycast{polylines: polylines, cutoffM: cutoffM}
}

func (a *Raycast) Correlate(addr model.Address) (int, float64, bool) {
	bestIdx, bestDist, found := 0, 0.0, false
	for i, line := range a.polylines {
		minDist := -1.0
		for w := 0; w+1 < len(line); w++ {
			dist := geo.PointToSegment(addr.Coord, line[w], line[w+1])
			if minDist < 0 || dist < minDist {
				minDist = dist
			}
		}
		if minDist >= 0 && minDist <= a.cutoffM && better(minDist, i, bestDist, bestIdx, found) {
			bestIdx, bestDist, found = i, minDist, true
		}
	}
	return bestIdx, bestDist, found
}

func (a *Raycast) Name() string { return "raycast" }

package correlate

import (
	"github.com/stadsdata/curbwatch/pkg/geo"
	"github.com/stadsdata/curbwatch/pkg/model"
)

// BruteForce scans every segment per query. O(M) per address; the gold
// standard the indexed variants are verified against.
type BruteForce struct {
	segments []model.Segment
	cutoffM  float64
}

func (a *BruteForce) Correlate(addr model.Address) (int, float64, bool) {
	bestIdx, bestDist, found := 0, 0.0, false
	for i, s := range a.segments {
		dist := geo.PointToSegment(addr.Coord, s.Start, s.End)
		if dist <= a.cutoffM && better(dist, i, bestDist, bestIdx, found) {
			bestIdx, bestDist, found = i, dist, true
		}
	}
	return bestIdx, bestDist, found
}

func (a *BruteForce) Name() string { return "brute" }

// Package correlate matches address points to their nearest parking-line
// segment. Six algorithm variants share the Algorithm interface so the
// benchmark harness can cross-check them and the orchestrator can select
// one at runtime.
package correlate

import (
	"fmt"

	"github.com/stadsdata/curbwatch/pkg/model"
)

// DefaultCutoffMeters is the maximum distance between an address and its
// matched segment.
const DefaultCutoffMeters = 20.0

// Algorithm finds the closest segment to an address within the cutoff.
// Implementations are immutable after construction and safe for concurrent
// use.
type Algorithm interface {
	// Correlate returns the index of the nearest segment and its distance
	// in meters, or ok=false when no segment is within the cutoff. Ties in
	// distance resolve to the lowest segment index.
	Correlate(addr model.Address) (segIdx int, distanceM float64, ok bool)
	Name() string
}

// Names of the selectable variants, in operator-panel order.
var Names = []string{"brute", "raycast", "chunks", "rtree", "kdtree", "grid"}

// New constructs the named algorithm over the given segments. The segments
// slice is borrowed and must not be mutated while the algorithm is in use.
func New(name string, segments []model.Segment, cutoffM float64) (Algorithm, error) {
	if cutoffM <= 0 {
		return nil, fmt.Errorf("cutoff must be > 0, got %v", cutoffM)
	}
	switch name {
	case "brute":
		return &BruteForce{segments: segments, cutoffM: cutoffM}, nil
	case "raycast":
		return NewRaycast(segments, cutoffM), nil
	case "chunks":
		return NewOverlappingChunks(segments, cutoffM), nil
	case "rtree":
		return NewRTreeGrid(segments, cutoffM), nil
	case "kdtree":
		return NewKDTreeGrid(segments, cutoffM), nil
	case "grid":
		return NewGridNearest(segments, cutoffM), nil
	default:
		return nil, fmt.Errorf("unknown algorithm %q (want one of %v)", name, Names)
	}
}

// better reports whether (idx, dist) improves on the current best,
// resolving distance ties to the lowest segment index.
func better(dist float64, idx int, bestDist float64, bestIdx int, found bool) bool {
	if !found {
		return true
	}
	if dist != bestDist {
		return dist < bestDist
	}
	return idx < bestIdx
}

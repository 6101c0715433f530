package correlate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadsdata/curbwatch/pkg/model"
)

// metersLat converts meters to degrees of latitude, which the spherical
// model maps linearly.
func metersLat(m float64) float64 { return m / 111194.93 }

func addrAt(lon, lat float64) model.Address {
	return model.Address{Coord: model.Point{lon, lat}, Street: "Testgatan", Number: "1"}
}

// segmentNorthOf returns a short east-west segment the given number of
// meters north of the point.
func segmentNorthOf(p model.Point, meters float64) model.Segment {
	lat := p[1] + metersLat(meters)
	return model.Segment{
		Start: model.Point{p[0] - 0.0001, lat},
		End:   model.Point{p[0] + 0.0001, lat},
	}
}

func allVariants(t *testing.T, segments []model.Segment, cutoff float64) map[string]Algorithm {
	t.Helper()
	out := make(map[string]Algorithm, len(Names))
	for _, name := range Names {
		algo, err := New(name, segments, cutoff)
		require.NoError(t, err)
		require.Equal(t, name, algo.Name())
		out[name] = algo
	}
	return out
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("unknown name", func(t *testing.T) {
		t.Parallel()
		_, err := New("voronoi", nil, 20)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown algorithm")
	})

	t.Run("non-positive cutoff", func(t *testing.T) {
		t.Parallel()
		_, err := New("brute", nil, 0)
		require.Error(t, err)
		_, err = New("brute", nil, -5)
		require.Error(t, err)
	})
}

func TestCorrelateScenarios(t *testing.T) {
	t.Parallel()

	addr := addrAt(13.0, 55.6)

	t.Run("address on the segment matches at zero distance", func(t *testing.T) {
		t.Parallel()
		segments := []model.Segment{{
			Start: model.Point{13.0, 55.6},
			End:   model.Point{13.0001, 55.6},
		}}
		for name, algo := range allVariants(t, segments, 20) {
			idx, dist, ok := algo.Correlate(addr)
			require.True(t, ok, name)
			assert.Equal(t, 0, idx, name)
			assert.InDelta(t, 0.0, dist, 0.01, name)
		}
	})

	t.Run("degenerate segment beyond cutoff yields no match", func(t *testing.T) {
		t.Parallel()
		// Endpoints identical at 0.001 degrees east: ~63 m at this latitude.
		segments := []model.Segment{{
			Start: model.Point{13.001, 55.6},
			End:   model.Point{13.001, 55.6},
		}}
		for name, algo := range allVariants(t, segments, 20) {
			_, _, ok := algo.Correlate(addr)
			assert.False(t, ok, name)
		}
	})

	t.Run("closest of three candidates wins", func(t *testing.T) {
		t.Parallel()
		segments := []model.Segment{
			segmentNorthOf(addr.Coord, 15),
			segmentNorthOf(addr.Coord, 10),
			segmentNorthOf(addr.Coord, 50),
		}
		for name, algo := range allVariants(t, segments, 20) {
			idx, dist, ok := algo.Correlate(addr)
			require.True(t, ok, name)
			assert.Equal(t, 1, idx, name)
			assert.InDelta(t, 10.0, dist, 0.5, name)
		}
	})

	t.Run("distance ties resolve to the lowest segment index", func(t *testing.T) {
		t.Parallel()
		same := segmentNorthOf(addr.Coord, 10)
		segments := []model.Segment{same, same, same}
		for name, algo := range allVariants(t, segments, 20) {
			idx, _, ok := algo.Correlate(addr)
			require.True(t, ok, name)
			assert.Equal(t, 0, idx, name)
		}
	})

	t.Run("match inside the cutoff is kept", func(t *testing.T) {
		t.Parallel()
		segments := []model.Segment{segmentNorthOf(addr.Coord, 15)}
		for name, algo := range allVariants(t, segments, 20) {
			_, dist, ok := algo.Correlate(addr)
			require.True(t, ok, name)
			assert.LessOrEqual(t, dist, 20.0, name)
		}
	})
}

// TestVariantsAgreeWithBruteForce cross-checks every indexed variant
// against the brute-force reference over a grid of addresses and a spread
// of segments.
func TestVariantsAgreeWithBruteForce(t *testing.T) {
	t.Parallel()

	var segments []model.Segment
	for i := 0; i < 40; i++ {
		lon := 13.0 + float64(i%8)*0.0013
		lat := 55.6 + float64(i/8)*0.0009
		segments = append(segments, model.Segment{
			Start: model.Point{lon, lat},
			End:   model.Point{lon + 0.0004, lat + 0.0002},
		})
	}
	var addrs []model.Address
	for i := 0; i < 15; i++ {
		for j := 0; j < 15; j++ {
			addrs = append(addrs, addrAt(12.9995+float64(i)*0.0008, 55.5995+float64(j)*0.0006))
		}
	}

	variants := allVariants(t, segments, 20)
	brute := variants["brute"]

	for name, algo := range variants {
		if name == "brute" {
			continue
		}
		name, algo := name, algo
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			for ai, addr := range addrs {
				wantIdx, wantDist, wantOK := brute.Correlate(addr)
				gotIdx, gotDist, gotOK := algo.Correlate(addr)
				require.Equal(t, wantOK, gotOK, "address %d", ai)
				if wantOK {
					assert.Equal(t, wantIdx, gotIdx, "address %d", ai)
					assert.InDelta(t, wantDist, gotDist, 1e-9, "address %d", ai)
				}
			}
		})
	}
}

func TestRaycastPolyline(t *testing.T) {
	t.Parallel()

	// The raycast variant walks sub-segment windows; with two-point lines
	// it must agree with brute-force exactly.
	addr := addrAt(13.0, 55.6)
	segments := []model.Segment{
		segmentNorthOf(addr.Coord, 12),
		segmentNorthOf(addr.Coord, 18),
	}
	ray := NewRaycast(segments, 20)
	brute := &BruteForce{segments: segments, cutoffM: 20}

	rIdx, rDist, rOK := ray.Correlate(addr)
	bIdx, bDist, bOK := brute.Correlate(addr)
	require.True(t, rOK)
	require.True(t, bOK)
	assert.Equal(t, bIdx, rIdx)
	assert.InDelta(t, bDist, rDist, 1e-9)
}

func ExampleNew() {
	segments := []model.Segment{{
		Start: model.Point{13.0, 55.6},
		End:   model.Point{13.0005, 55.6},
	}}
	algo, _ := New("rtree", segments, DefaultCutoffMeters)
	idx, dist, ok := algo.Correlate(model.Address{Coord: model.Point{13.0002, 55.6}})
	fmt.Println(idx, dist < 1, ok)
	// Output: 0 true true
}

package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointValid(t *testing.T) {
	t.Parallel()

	assert.True(t, Point{13.0, 55.6}.Valid())
	assert.True(t, Point{-180, -90}.Valid())
	assert.True(t, Point{180, 90}.Valid())
	assert.False(t, Point{181, 0}.Valid())
	assert.False(t, Point{0, -91}.Valid())
	assert.False(t, Point{math.NaN(), 0}.Valid())
	assert.False(t, Point{0, math.Inf(1)}.Valid())
}

func TestAddressValidate(t *testing.T) {
	t.Parallel()

	valid := Address{Coord: Point{13.0, 55.6}, Postal: "21145", Street: "Storgatan", Number: "10", FullAddress: "Storgatan 10"}
	require.NoError(t, valid.Validate())

	t.Run("postal code is optional", func(t *testing.T) {
		t.Parallel()
		a := valid
		a.Postal = ""
		assert.NoError(t, a.Validate())
	})

	t.Run("postal code must be five digits when present", func(t *testing.T) {
		t.Parallel()
		for _, postal := range []string{"2114", "211455", "2114a", "21 45"} {
			a := valid
			a.Postal = postal
			assert.Error(t, a.Validate(), "postal %q", postal)
		}
	})

	t.Run("coordinate out of range", func(t *testing.T) {
		t.Parallel()
		a := valid
		a.Coord = Point{200, 55.6}
		assert.Error(t, a.Validate())
	})
}

func TestSegmentValidate(t *testing.T) {
	t.Parallel()

	valid := Segment{
		Start: Point{13.0, 55.6}, End: Point{13.0002, 55.6},
		DayOfMonth: 12, TimeWindow: "0800-1200",
	}
	require.NoError(t, valid.Validate())
	assert.True(t, valid.HasSchedule())

	t.Run("fee segment without schedule", func(t *testing.T) {
		t.Parallel()
		s := valid
		s.DayOfMonth = 0
		s.TimeWindow = ""
		assert.NoError(t, s.Validate())
		assert.False(t, s.HasSchedule())
	})

	t.Run("day out of range", func(t *testing.T) {
		t.Parallel()
		s := valid
		s.DayOfMonth = 32
		assert.Error(t, s.Validate())
		s.DayOfMonth = -1
		assert.Error(t, s.Validate())
	})

	t.Run("bad endpoint", func(t *testing.T) {
		t.Parallel()
		s := valid
		s.End = Point{13.0, math.NaN()}
		assert.Error(t, s.Validate())
	})
}

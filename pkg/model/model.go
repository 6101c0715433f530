// Package model holds the cleaned input records shared by the fetcher,
// the correlation engine, and the materializer. Collections of these are
// built once at ingest and treated as immutable afterwards.
package model

import (
	"fmt"
	"math"
	"regexp"
)

var postalRe = regexp.MustCompile(`^\d{5}$`)

// Point is a WGS84 coordinate as [longitude, latitude] degrees.
type Point [2]float64

// Valid reports whether the point is finite and within WGS84 bounds.
func (p Point) Valid() bool {
	lon, lat := p[0], p[1]
	if math.IsNaN(lon) || math.IsInf(lon, 0) || math.IsNaN(lat) || math.IsInf(lat, 0) {
		return false
	}
	return lon >= -180 && lon <= 180 && lat >= -90 && lat <= 90
}

// Address is a civic address point.
type Address struct {
	Coord       Point
	Postal      string // 5 digits when present, empty otherwise
	Street      string
	Number      string
	FullAddress string
}

// Validate checks the ingest invariants: WGS84 coordinate and, when
// present, a 5-digit postal code.
func (a *Address) Validate() error {
	if !a.Coord.Valid() {
		return fmt.Errorf("address %q: coordinate out of range: %v", a.FullAddress, a.Coord)
	}
	if a.Postal != "" && !postalRe.MatchString(a.Postal) {
		return fmt.Errorf("address %q: postal code %q is not 5 digits", a.FullAddress, a.Postal)
	}
	return nil
}

// ZoneInfo is the free-form metadata carried on a parking-line segment.
// The environmental layer fills FreeText, the fee layer fills the rest.
type ZoneInfo struct {
	Tariff      string
	SlotCount   uint64
	ParkingType string
	FreeText    string
}

// Segment is a straight parking-restriction line segment.
type Segment struct {
	Start      Point
	End        Point
	DayOfMonth int    // 1..31
	TimeWindow string // "HHMM-HHMM"
	Zone       ZoneInfo
}

// Validate checks the ingest invariants for a segment. Fee-layer segments
// carry no cleaning schedule and leave DayOfMonth zero; segments that do
// carry one must have it in range. The time window is parsed again, and
// more strictly, by the restriction model.
func (s *Segment) Validate() error {
	if !s.Start.Valid() || !s.End.Valid() {
		return fmt.Errorf("segment: endpoint out of range: %v %v", s.Start, s.End)
	}
	if s.DayOfMonth != 0 && (s.DayOfMonth < 1 || s.DayOfMonth > 31) {
		return fmt.Errorf("segment: day of month %d out of range", s.DayOfMonth)
	}
	return nil
}

// HasSchedule reports whether the segment carries a cleaning day and time
// window, i.e. whether a restriction record can be built from it.
func (s *Segment) HasSchedule() bool {
	return s.DayOfMonth != 0 && s.TimeWindow != ""
}

// Match pairs an address with its nearest segment within the cutoff.
type Match struct {
	AddressIndex int
	SegmentIndex int
	DistanceM    float64
}

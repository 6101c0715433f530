// Package restrict turns raw address/segment matches into timezone-aware
// restriction records anchored at a civil (year, month), and answers the
// query-time predicates the client surface needs.
package restrict

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/stadsdata/curbwatch/pkg/model"
)

// DefaultTimezone is the city's civil timezone.
const DefaultTimezone = "Europe/Stockholm"

// Rejection reasons, aggregated into the run report. Calendar problems are
// not rejections: the record is kept and flagged InactiveThisMonth.
const (
	ReasonBadTimeWindow = "bad_time_window"
	ReasonBadTimezone   = "bad_timezone"
)

// Rejection records why a matched address produced no restriction record.
type Rejection struct {
	AddressIndex int
	Reason       string
	Detail       string
}

// TimeWindow is a parsed "HHMM-HHMM" civil time window.
type TimeWindow struct {
	StartHour, StartMinute int
	EndHour, EndMinute     int
}

// ParseTimeWindow parses "HHMM-HHMM". Exactly two 4-digit tokens, each a
// valid 24h time, start strictly before end within the same civil day.
func ParseTimeWindow(s string) (TimeWindow, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return TimeWindow{}, fmt.Errorf("time window %q: want two tokens separated by '-'", s)
	}
	sh, sm, err := parseHHMM(parts[0])
	if err != nil {
		return TimeWindow{}, fmt.Errorf("time window %q: %w", s, err)
	}
	eh, em, err := parseHHMM(parts[1])
	if err != nil {
		return TimeWindow{}, fmt.Errorf("time window %q: %w", s, err)
	}
	if sh*60+sm >= eh*60+em {
		return TimeWindow{}, fmt.Errorf("time window %q: start is not before end", s)
	}
	return TimeWindow{StartHour: sh, StartMinute: sm, EndHour: eh, EndMinute: em}, nil
}

func parseHHMM(s string) (hour, minute int, err error) {
	if len(s) != 4 {
		return 0, 0, fmt.Errorf("token %q: want 4 digits", s)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, 0, fmt.Errorf("token %q: want 4 digits", s)
		}
	}
	hour, err = strconv.Atoi(s[0:2])
	if err != nil {
		return 0, 0, fmt.Errorf("token %q: %w", s, err)
	}
	minute, err = strconv.Atoi(s[2:4])
	if err != nil {
		return 0, 0, fmt.Errorf("token %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("token %q: not a valid 24h time", s)
	}
	return hour, minute, nil
}

// Anchor is the civil month the absolute instants are computed for.
type Anchor struct {
	Year  int
	Month time.Month
}

// Record is the emitted artifact row: the address attributes, the absolute
// restriction window for the anchor month, and the zone metadata.
type Record struct {
	Postal      string
	Street      string
	Number      string
	FullAddress string
	DayOfMonth  int
	// StartAt and EndAt carry the civil timezone of record. Zero when
	// InactiveThisMonth is set.
	StartAt time.Time
	EndAt   time.Time
	// InactiveThisMonth marks a day-of-month that does not exist in the
	// anchor month (e.g. 31 in February). The record is kept, not dropped.
	InactiveThisMonth bool
	DistanceM         float64
	Zone              model.ZoneInfo

	window TimeWindow
	loc    *time.Location
}

// Builder constructs records against a fixed anchor and timezone.
type Builder struct {
	log    *slog.Logger
	loc    *time.Location
	anchor Anchor
}

// NewBuilder resolves the timezone once. An unknown timezone name is a
// run-level error; records built later cannot recover from it.
func NewBuilder(log *slog.Logger, timezone string, anchor Anchor) (*Builder, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	return &Builder{log: log, loc: loc, anchor: anchor}, nil
}

// Location returns the resolved civil timezone.
func (b *Builder) Location() *time.Location { return b.loc }

// Build normalizes one match into a Record. A malformed time window
// rejects the record; a day-of-month that does not exist in the anchor
// month keeps the record and flags it inactive.
func (b *Builder) Build(addrIdx int, addr model.Address, seg model.Segment, distanceM float64) (*Record, *Rejection) {
	window, err := ParseTimeWindow(seg.TimeWindow)
	if err != nil {
		return nil, &Rejection{AddressIndex: addrIdx, Reason: ReasonBadTimeWindow, Detail: err.Error()}
	}

	rec := &Record{
		Postal:      addr.Postal,
		Street:      addr.Street,
		Number:      addr.Number,
		FullAddress: addr.FullAddress,
		DayOfMonth:  seg.DayOfMonth,
		DistanceM:   distanceM,
		Zone:        seg.Zone,
		window:      window,
		loc:         b.loc,
	}

	if seg.DayOfMonth > DaysIn(b.anchor.Year, b.anchor.Month) {
		rec.InactiveThisMonth = true
		return rec, nil
	}

	rec.StartAt = b.civil(seg.DayOfMonth, window.StartHour, window.StartMinute)
	rec.EndAt = b.civil(seg.DayOfMonth, window.EndHour, window.EndMinute)
	return rec, nil
}

// civil builds the instant for the anchor month at the given civil time.
// Around a daylight-saving transition an ambiguous local time resolves to
// the earlier of its two instants, and a skipped local time is normalized
// forward by time.Date; both cases are logged as warnings.
func (b *Builder) civil(day, hour, minute int) time.Time {
	t := time.Date(b.anchor.Year, b.anchor.Month, day, hour, minute, 0, 0, b.loc)
	// time.Date may pick the later instant of a repeated local time; an
	// hour earlier showing the same wall clock means the time is ambiguous.
	if e := t.Add(-time.Hour); e.Day() == day && e.Hour() == hour && e.Minute() == minute {
		b.log.Warn("restrict: civil time is ambiguous around a DST transition, using the earlier instant",
			"wanted", fmt.Sprintf("%04d-%02d-%02d %02d:%02d", b.anchor.Year, b.anchor.Month, day, hour, minute),
			"got", e.Format(time.RFC3339))
		return e
	}
	if t.Hour() != hour || t.Minute() != minute {
		b.log.Warn("restrict: civil time fell in a DST gap, shifted",
			"wanted", fmt.Sprintf("%04d-%02d-%02d %02d:%02d", b.anchor.Year, b.anchor.Month, day, hour, minute),
			"got", t.Format(time.RFC3339))
	}
	return t
}

// DaysIn returns the number of days in the given civil month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// IsActive reports whether the restriction is in force: start <= now < end.
// Always false for records flagged inactive this month.
func (r *Record) IsActive(now time.Time) bool {
	if r.InactiveThisMonth {
		return false
	}
	return !now.Before(r.StartAt) && now.Before(r.EndAt)
}

// TimeUntilStart returns max(0, start - now).
func (r *Record) TimeUntilStart(now time.Time) time.Duration {
	if r.InactiveThisMonth {
		return 0
	}
	d := r.StartAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// TimeUntilEnd returns max(0, end - now).
func (r *Record) TimeUntilEnd(now time.Time) time.Duration {
	if r.InactiveThisMonth {
		return 0
	}
	d := r.EndAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// TimeUntilNextEnd returns the duration until the restriction's next
// deadline, rolling into following months when the anchor month's window
// has already passed or does not exist. ok is false when no occurrence is
// found within the next twelve months.
func (r *Record) TimeUntilNextEnd(now time.Time) (time.Duration, bool) {
	if !r.InactiveThisMonth && !r.EndAt.Before(now) {
		return r.EndAt.Sub(now), true
	}
	year, month := now.In(r.loc).Year(), now.In(r.loc).Month()
	for i := 0; i < 12; i++ {
		if r.DayOfMonth <= DaysIn(year, month) {
			next := time.Date(year, month, r.DayOfMonth, r.window.EndHour, r.window.EndMinute, 0, 0, r.loc)
			if !next.Before(now) {
				return next.Sub(now), true
			}
		}
		month++
		if month > time.December {
			month = time.January
			year++
		}
	}
	return 0, false
}

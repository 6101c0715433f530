package restrict

import (
	"fmt"
	"time"
)

// Bucket groups restrictions by how soon their next deadline falls, the
// grouping the mobile client presents.
type Bucket int

const (
	BucketNow Bucket = iota
	BucketWithin6Hours
	BucketWithin1Day
	BucketWithin1Month
	BucketInvalid
)

func (b Bucket) String() string {
	switch b {
	case BucketNow:
		return "now"
	case BucketWithin6Hours:
		return "within_6h"
	case BucketWithin1Day:
		return "within_1d"
	case BucketWithin1Month:
		return "within_1m"
	default:
		return "invalid"
	}
}

// BucketFor classifies the record by time remaining until its next
// deadline.
func BucketFor(r *Record, now time.Time) Bucket {
	remaining, ok := r.TimeUntilNextEnd(now)
	if !ok {
		return BucketInvalid
	}
	switch {
	case remaining <= 4*time.Hour:
		return BucketNow
	case remaining <= 6*time.Hour:
		return BucketWithin6Hours
	case remaining <= 24*time.Hour:
		return BucketWithin1Day
	case remaining <= 31*24*time.Hour:
		return BucketWithin1Month
	default:
		return BucketInvalid
	}
}

// FormatCountdown renders the remaining duration as "5d 02h 30m".
func FormatCountdown(r *Record, now time.Time) (string, bool) {
	remaining, ok := r.TimeUntilNextEnd(now)
	if !ok {
		return "", false
	}
	days := int(remaining.Hours()) / 24
	hours := int(remaining.Hours()) % 24
	minutes := int(remaining.Minutes()) % 60
	return fmt.Sprintf("%dd %02dh %02dm", days, hours, minutes), true
}

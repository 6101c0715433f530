// Package bench times the correlation algorithm variants against each
// other and cross-checks the indexed variants against brute-force.
package bench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/stadsdata/curbwatch/pkg/correlate"
	"github.com/stadsdata/curbwatch/pkg/model"
)

// ErrCorrectnessViolation is returned when an indexed variant reports a
// match set that is not a subset of the brute-force result.
var ErrCorrectnessViolation = errors.New("benchmark correctness violation")

// Result is one algorithm's measurement over the sample.
type Result struct {
	Algorithm    string
	Total        time.Duration
	MeanPerAddr  time.Duration
	Processed    int
	MatchesFound int
}

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	// SampleSize caps the number of addresses run per algorithm; zero
	// means the whole input.
	SampleSize int
	// Algorithms to run, in order. Defaults to correlate.Names.
	Algorithms []string
	// Cutoff in meters. Defaults to correlate.DefaultCutoffMeters.
	CutoffMeters float64
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if len(c.Algorithms) == 0 {
		c.Algorithms = correlate.Names
	}
	if c.CutoffMeters == 0 {
		c.CutoffMeters = correlate.DefaultCutoffMeters
	}
	if c.CutoffMeters < 0 {
		return errors.New("cutoff must be > 0")
	}
	return nil
}

// Harness runs the configured algorithms sequentially (so measurements do
// not contend with each other) while each run is internally parallel.
type Harness struct {
	cfg Config
}

func New(cfg Config) (*Harness, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Harness{cfg: cfg}, nil
}

// Run benchmarks every configured algorithm over the sample prefix and
// verifies that each indexed variant's match set is a subset of the
// brute-force match set on the same sample. A violation aborts with
// ErrCorrectnessViolation.
func (h *Harness) Run(ctx context.Context, addrs []model.Address, segments []model.Segment) ([]Result, error) {
	sample := addrs
	if h.cfg.SampleSize > 0 && h.cfg.SampleSize < len(addrs) {
		sample = addrs[:h.cfg.SampleSize]
	}

	baseline, err := h.matchSet(ctx, "brute", sample, segments)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(h.cfg.Algorithms))
	for _, name := range h.cfg.Algorithms {
		algo, err := correlate.New(name, segments, h.cfg.CutoffMeters)
		if err != nil {
			return nil, err
		}
		start := h.cfg.Clock.Now()
		matches, err := correlate.Run(ctx, sample, algo, correlate.RunOptions{})
		if err != nil {
			return nil, fmt.Errorf("benchmark %s: %w", name, err)
		}
		total := h.cfg.Clock.Now().Sub(start)

		found := 0
		for _, m := range matches {
			if m == nil {
				continue
			}
			found++
			if name == "brute" {
				continue
			}
			key := matchKey(m.AddressIndex, m.SegmentIndex)
			if _, ok := baseline[key]; !ok {
				h.cfg.Logger.Error("benchmark: match not present in brute-force baseline",
					"algorithm", name, "address_index", m.AddressIndex, "segment_index", m.SegmentIndex, "distance_m", m.DistanceM)
				return nil, fmt.Errorf("%w: %s matched (%d,%d) which brute-force did not",
					ErrCorrectnessViolation, name, m.AddressIndex, m.SegmentIndex)
			}
		}

		mean := time.Duration(0)
		if len(sample) > 0 {
			mean = total / time.Duration(len(sample))
		}
		results = append(results, Result{
			Algorithm:    name,
			Total:        total,
			MeanPerAddr:  mean,
			Processed:    len(sample),
			MatchesFound: found,
		})
		h.cfg.Logger.Info("benchmark: algorithm done",
			"algorithm", name, "total", total, "mean_per_addr", mean, "matches", found)
	}
	return results, nil
}

// matchSet runs one algorithm and collects its (address, segment) pairs.
func (h *Harness) matchSet(ctx context.Context, name string, sample []model.Address, segments []model.Segment) (map[uint64]struct{}, error) {
	algo, err := correlate.New(name, segments, h.cfg.CutoffMeters)
	if err != nil {
		return nil, err
	}
	matches, err := correlate.Run(ctx, sample, algo, correlate.RunOptions{})
	if err != nil {
		return nil, fmt.Errorf("baseline %s: %w", name, err)
	}
	set := make(map[uint64]struct{}, len(matches))
	for _, m := range matches {
		if m != nil {
			set[matchKey(m.AddressIndex, m.SegmentIndex)] = struct{}{}
		}
	}
	return set, nil
}

func matchKey(addrIdx, segIdx int) uint64 {
	return uint64(uint32(addrIdx))<<32 | uint64(uint32(segIdx))
}

// FormatTable renders the results the way the operator panel prints them.
func FormatTable(results []Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %-14s %-16s %-10s %-10s\n", "algorithm", "total", "mean/addr", "processed", "matches")
	b.WriteString(strings.Repeat("-", 64))
	b.WriteByte('\n')
	var fastest *Result
	for i := range results {
		r := &results[i]
		fmt.Fprintf(&b, "%-10s %-14s %-16s %-10d %-10d\n", r.Algorithm, r.Total, r.MeanPerAddr, r.Processed, r.MatchesFound)
		if fastest == nil || r.Total < fastest.Total {
			fastest = r
		}
	}
	if fastest != nil {
		fmt.Fprintf(&b, "\nfastest: %s (%s)\n", fastest.Algorithm, fastest.Total)
	}
	return b.String()
}

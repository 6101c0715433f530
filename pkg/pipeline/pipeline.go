// Package pipeline wires the checksum gate, the upstream fetcher, the
// correlation engine, the restriction model, and the materializer into
// one run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/stadsdata/curbwatch/pkg/correlate"
	"github.com/stadsdata/curbwatch/pkg/metrics"
	"github.com/stadsdata/curbwatch/pkg/model"
	"github.com/stadsdata/curbwatch/pkg/restrict"
)

// distanceSampleCount is how many match distances are logged at debug
// level per run, a quick sanity signal on the correlation quality.
const distanceSampleCount = 10

// Report summarizes one pipeline run.
type Report struct {
	RunID      string
	UpToDate   bool
	Addresses  int
	EnvLines   int
	FeeLines   int
	EnvMatches int
	FeeMatches int
	Records    int
	Rejections []restrict.Rejection
	Duration   time.Duration
}

type Pipeline struct {
	log   *slog.Logger
	clock clockwork.Clock
	cfg   Config
}

func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{log: cfg.Logger, clock: cfg.Clock, cfg: cfg}, nil
}

// Run executes the full pipeline. When the gate reports all sources
// unchanged and Force is unset, it returns early with UpToDate set and
// writes nothing.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString()}
	started := p.clock.Now()
	defer func() { report.Duration = p.clock.Now().Sub(started) }()

	log := p.log.With("run_id", report.RunID)

	if p.cfg.Gate != nil {
		changed, err := p.cfg.Gate.Check(ctx, p.cfg.Sources)
		if err != nil {
			return report, fmt.Errorf("checksum gate: %w", err)
		}
		if !changed && !p.cfg.Force {
			log.Info("pipeline: sources unchanged, skipping rebuild")
			report.UpToDate = true
			return report, nil
		}
	}

	addrs, envLines, feeLines, err := p.fetch(ctx, log)
	if err != nil {
		return report, err
	}
	report.Addresses = len(addrs)
	report.EnvLines = len(envLines)
	report.FeeLines = len(feeLines)

	envMatches, err := p.correlateLayer(ctx, log, "environmental", addrs, envLines)
	if err != nil {
		return report, err
	}
	feeMatches, err := p.correlateLayer(ctx, log, "fee", addrs, feeLines)
	if err != nil {
		return report, err
	}

	builder, err := restrict.NewBuilder(log, p.cfg.Timezone, p.cfg.Anchor)
	if err != nil {
		return report, fmt.Errorf("restriction builder: %w", err)
	}

	records := make([]*restrict.Record, 0, len(addrs))
	for i, m := range envMatches {
		if m == nil {
			continue
		}
		report.EnvMatches++
		rec, rej := builder.Build(i, addrs[i], envLines[m.SegmentIndex], m.DistanceM)
		if rej != nil {
			report.Rejections = append(report.Rejections, *rej)
			metrics.RecordsRejected.WithLabelValues(rej.Reason).Inc()
			continue
		}
		if fm := feeMatches[i]; fm != nil {
			report.FeeMatches++
			zone := feeLines[fm.SegmentIndex].Zone
			rec.Zone.Tariff = zone.Tariff
			rec.Zone.SlotCount = zone.SlotCount
			rec.Zone.ParkingType = zone.ParkingType
		}
		records = append(records, rec)
	}
	report.Records = len(records)
	log.Info("pipeline: records built",
		"records", len(records), "env_matches", report.EnvMatches,
		"fee_matches", report.FeeMatches, "rejections", len(report.Rejections))

	writeStart := p.clock.Now()
	if err := p.cfg.Writer.Write(records); err != nil {
		return report, fmt.Errorf("materialize: %w", err)
	}
	metrics.RunDuration.WithLabelValues("materialize").Observe(p.clock.Now().Sub(writeStart).Seconds())

	return report, nil
}

// fetch pulls the three layers concurrently.
func (p *Pipeline) fetch(ctx context.Context, log *slog.Logger) (addrs []model.Address, envLines, feeLines []model.Segment, err error) {
	start := p.clock.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		addrs, err = p.cfg.Fetcher.FetchAddresses(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		envLines, err = p.cfg.Fetcher.FetchEnvironmentalLines(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		feeLines, err = p.cfg.Fetcher.FetchFeeLines(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, nil, fmt.Errorf("fetch: %w", err)
	}
	metrics.RunDuration.WithLabelValues("fetch").Observe(p.clock.Now().Sub(start).Seconds())
	log.Info("pipeline: sources fetched",
		"addresses", len(addrs), "env_lines", len(envLines), "fee_lines", len(feeLines),
		"elapsed", p.clock.Now().Sub(start))
	return addrs, envLines, feeLines, nil
}

// correlateLayer runs the configured algorithm over one line layer,
// honoring the per-pass timeout.
func (p *Pipeline) correlateLayer(ctx context.Context, log *slog.Logger, layer string, addrs []model.Address, lines []model.Segment) ([]*model.Match, error) {
	if len(lines) == 0 {
		return make([]*model.Match, len(addrs)), nil
	}
	algo, err := correlate.New(p.cfg.Algorithm, lines, p.cfg.CutoffMeters)
	if err != nil {
		return nil, err
	}

	cctx := ctx
	if p.cfg.CorrelateTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, p.cfg.CorrelateTimeout)
		defer cancel()
	}

	var progress atomic.Int64
	start := p.clock.Now()
	matches, err := correlate.Run(cctx, addrs, algo, correlate.RunOptions{Progress: &progress})
	if err != nil {
		return nil, fmt.Errorf("correlate %s layer: %w", layer, err)
	}
	elapsed := p.clock.Now().Sub(start)
	metrics.RunDuration.WithLabelValues("correlate_" + layer).Observe(elapsed.Seconds())
	metrics.AddressesProcessed.Add(float64(len(addrs)))

	found := 0
	for _, m := range matches {
		if m != nil {
			found++
			if found <= distanceSampleCount {
				log.Debug("pipeline: match distance sample",
					"layer", layer, "address_index", m.AddressIndex, "distance_m", m.DistanceM)
			}
		}
	}
	metrics.MatchesFound.WithLabelValues(layer).Add(float64(found))
	log.Info("pipeline: layer correlated",
		"layer", layer, "algorithm", algo.Name(), "addresses", len(addrs),
		"matches", found, "elapsed", elapsed)
	return matches, nil
}

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/stadsdata/curbwatch/pkg/checksum"
	"github.com/stadsdata/curbwatch/pkg/correlate"
	"github.com/stadsdata/curbwatch/pkg/materialize"
	"github.com/stadsdata/curbwatch/pkg/model"
	"github.com/stadsdata/curbwatch/pkg/restrict"
)

// Fetcher is the upstream collaborator providing the three source layers.
type Fetcher interface {
	FetchAddresses(ctx context.Context) ([]model.Address, error)
	FetchEnvironmentalLines(ctx context.Context) ([]model.Segment, error)
	FetchFeeLines(ctx context.Context) ([]model.Segment, error)
}

// Writer is the columnar persistence collaborator.
type Writer interface {
	Write(records []*restrict.Record) error
}

type Config struct {
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Fetcher Fetcher
	Writer  Writer

	// Gate is the checksum gate; when set and Force is false, an
	// unchanged result short-circuits the run.
	Gate    *checksum.Gate
	Sources []checksum.Source
	Force   bool

	// Algorithm is one of correlate.Names. Defaults to "rtree".
	Algorithm string
	// CutoffMeters defaults to correlate.DefaultCutoffMeters.
	CutoffMeters float64
	// Timezone is the city's civil timezone name.
	Timezone string
	// Anchor is the civil month records are computed for; the zero value
	// means the clock's current month.
	Anchor restrict.Anchor
	// CorrelateTimeout bounds each correlation pass. Zero disables it.
	CorrelateTimeout time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Fetcher == nil {
		return errors.New("fetcher is required")
	}
	if c.Writer == nil {
		return errors.New("writer is required")
	}
	if c.Gate != nil && len(c.Sources) == 0 {
		return errors.New("sources are required when gate is set")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Algorithm == "" {
		c.Algorithm = "rtree"
	}
	if c.CutoffMeters == 0 {
		c.CutoffMeters = correlate.DefaultCutoffMeters
	}
	if c.CutoffMeters < 0 {
		return errors.New("cutoff must be > 0")
	}
	if c.Timezone == "" {
		c.Timezone = restrict.DefaultTimezone
	}
	if c.Anchor == (restrict.Anchor{}) {
		now := c.Clock.Now()
		c.Anchor = restrict.Anchor{Year: now.Year(), Month: now.Month()}
	}
	return nil
}

var _ Writer = (*materialize.Materializer)(nil)

package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadsdata/curbwatch/pkg/checksum"
	"github.com/stadsdata/curbwatch/pkg/logger"
	"github.com/stadsdata/curbwatch/pkg/model"
	"github.com/stadsdata/curbwatch/pkg/restrict"
)

type fakeFetcher struct {
	addrs    []model.Address
	envLines []model.Segment
	feeLines []model.Segment
	err      error
}

func (f *fakeFetcher) FetchAddresses(context.Context) ([]model.Address, error) {
	return f.addrs, f.err
}
func (f *fakeFetcher) FetchEnvironmentalLines(context.Context) ([]model.Segment, error) {
	return f.envLines, f.err
}
func (f *fakeFetcher) FetchFeeLines(context.Context) ([]model.Segment, error) {
	return f.feeLines, f.err
}

type captureWriter struct {
	records []*restrict.Record
	err     error
}

func (w *captureWriter) Write(records []*restrict.Record) error {
	w.records = records
	return w.err
}

func testFetcher() *fakeFetcher {
	return &fakeFetcher{
		addrs: []model.Address{
			{Coord: model.Point{13.0, 55.6}, Postal: "21145", Street: "Storgatan", Number: "10", FullAddress: "Storgatan 10"},
			{Coord: model.Point{13.5, 55.9}, Postal: "21231", Street: "Fjärrgatan", Number: "1", FullAddress: "Fjärrgatan 1"},
			{Coord: model.Point{13.0001, 55.6}, Postal: "21145", Street: "Storgatan", Number: "12", FullAddress: "Storgatan 12"},
		},
		envLines: []model.Segment{
			{
				Start: model.Point{13.0, 55.6}, End: model.Point{13.0003, 55.6},
				DayOfMonth: 12, TimeWindow: "0800-1200",
				Zone: model.ZoneInfo{FreeText: "Städdag zon A"},
			},
		},
		feeLines: []model.Segment{
			{
				Start: model.Point{13.0, 55.6}, End: model.Point{13.0003, 55.6},
				Zone: model.ZoneInfo{Tariff: "Taxa B", SlotCount: 6, ParkingType: "Längsgående"},
			},
		},
	}
}

func testConfig(f Fetcher, w Writer) Config {
	return Config{
		Logger:  logger.New(false),
		Fetcher: f,
		Writer:  w,
		Anchor:  restrict.Anchor{Year: 2025, Month: time.March},
	}
}

func TestPipelineRun(t *testing.T) {
	t.Parallel()

	t.Run("matched addresses become records with fee enrichment", func(t *testing.T) {
		t.Parallel()
		writer := &captureWriter{}
		p, err := New(testConfig(testFetcher(), writer))
		require.NoError(t, err)

		report, err := p.Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 3, report.Addresses)
		assert.Equal(t, 2, report.EnvMatches)
		assert.Equal(t, 2, report.Records)
		assert.Empty(t, report.Rejections)
		assert.NotEmpty(t, report.RunID)

		require.Len(t, writer.records, 2)
		rec := writer.records[0]
		assert.Equal(t, "Storgatan 10", rec.FullAddress)
		assert.Equal(t, 12, rec.DayOfMonth)
		assert.Equal(t, "Städdag zon A", rec.Zone.FreeText)
		// Fee layer contributes the tariff metadata.
		assert.Equal(t, "Taxa B", rec.Zone.Tariff)
		assert.Equal(t, uint64(6), rec.Zone.SlotCount)
	})

	t.Run("bad time window is rejected, run continues", func(t *testing.T) {
		t.Parallel()
		f := testFetcher()
		f.envLines[0].TimeWindow = "8-12"
		writer := &captureWriter{}
		p, err := New(testConfig(f, writer))
		require.NoError(t, err)

		report, err := p.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, report.Records)
		require.Len(t, report.Rejections, 2)
		assert.Equal(t, restrict.ReasonBadTimeWindow, report.Rejections[0].Reason)
	})

	t.Run("fetch failure aborts the run", func(t *testing.T) {
		t.Parallel()
		f := testFetcher()
		f.err = errors.New("service unavailable")
		p, err := New(testConfig(f, &captureWriter{}))
		require.NoError(t, err)

		_, err = p.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fetch")
	})

	t.Run("writer failure aborts the run", func(t *testing.T) {
		t.Parallel()
		writer := &captureWriter{err: errors.New("disk full")}
		p, err := New(testConfig(testFetcher(), writer))
		require.NoError(t, err)

		_, err = p.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "materialize")
	})

	t.Run("unchanged gate short-circuits the rebuild", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"features":[]}`))
		}))
		defer srv.Close()

		gate, err := checksum.New(checksum.Config{
			Logger:     logger.New(false),
			HTTPClient: srv.Client(),
			Path:       filepath.Join(t.TempDir(), "checksums.json"),
		})
		require.NoError(t, err)
		sources := []checksum.Source{{Name: "addresses", URL: srv.URL + "/a"}}

		writer := &captureWriter{}
		cfg := testConfig(testFetcher(), writer)
		cfg.Gate = gate
		cfg.Sources = sources
		p, err := New(cfg)
		require.NoError(t, err)

		// First run sees no prior state: rebuild.
		report, err := p.Run(context.Background())
		require.NoError(t, err)
		assert.False(t, report.UpToDate)
		require.Len(t, writer.records, 2)

		// Second run with identical upstream bytes: up to date, no write.
		writer.records = nil
		report, err = p.Run(context.Background())
		require.NoError(t, err)
		assert.True(t, report.UpToDate)
		assert.Nil(t, writer.records)
	})

	t.Run("force overrides an unchanged gate", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"features":[]}`))
		}))
		defer srv.Close()

		gate, err := checksum.New(checksum.Config{
			Logger:     logger.New(false),
			HTTPClient: srv.Client(),
			Path:       filepath.Join(t.TempDir(), "checksums.json"),
		})
		require.NoError(t, err)

		writer := &captureWriter{}
		cfg := testConfig(testFetcher(), writer)
		cfg.Gate = gate
		cfg.Sources = []checksum.Source{{Name: "addresses", URL: srv.URL + "/a"}}
		cfg.Force = true
		p, err := New(cfg)
		require.NoError(t, err)

		_, err = p.Run(context.Background())
		require.NoError(t, err)
		_, err = p.Run(context.Background())
		require.NoError(t, err)
		require.Len(t, writer.records, 2)
	})
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	t.Run("missing collaborators", func(t *testing.T) {
		t.Parallel()
		_, err := New(Config{})
		require.Error(t, err)
		_, err = New(Config{Logger: logger.New(false)})
		require.Error(t, err)
		_, err = New(Config{Logger: logger.New(false), Fetcher: &fakeFetcher{}})
		require.Error(t, err)
	})

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(&fakeFetcher{}, &captureWriter{})
		cfg.Anchor = restrict.Anchor{}
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "rtree", cfg.Algorithm)
		assert.Equal(t, 20.0, cfg.CutoffMeters)
		assert.Equal(t, restrict.DefaultTimezone, cfg.Timezone)
		assert.NotZero(t, cfg.Anchor.Year)
	})

	t.Run("gate without sources", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(&fakeFetcher{}, &captureWriter{})
		cfg.Gate = &checksum.Gate{}
		require.Error(t, cfg.Validate())
	})
}

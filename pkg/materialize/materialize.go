// Package materialize writes the restriction records into the columnar
// artifact the mobile client consumes. Rows are grouped by postal code,
// one row-group per group, in an order that is stable across runs so
// identical inputs produce identical bytes.
package materialize

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/stadsdata/curbwatch/pkg/restrict"
)

// Row is the artifact schema. Instants are RFC3339 strings carrying the
// civil timezone offset of record; they are nil (null in the artifact)
// for records flagged inactive in the anchor month.
type Row struct {
	Postal            string  `parquet:"postal,snappy"`
	Street            string  `parquet:"street,snappy"`
	Number            string  `parquet:"number,snappy"`
	FullAddress       string  `parquet:"full_address,snappy"`
	DayOfMonth        int32   `parquet:"day_of_month,snappy"`
	StartAt           *string `parquet:"start_at,optional,snappy"`
	EndAt             *string `parquet:"end_at,optional,snappy"`
	InactiveThisMonth bool    `parquet:"inactive_this_month,snappy"`
	DistanceM         float64 `parquet:"distance_m,snappy"`
	Tariff            *string `parquet:"tariff,optional,snappy"`
	SlotCount         *int64  `parquet:"slot_count,optional,snappy"`
	ParkingType       *string `parquet:"parking_type,optional,snappy"`
	FreeText          *string `parquet:"free_text,optional,snappy"`
}

type Config struct {
	Logger *slog.Logger
	// Path of the artifact file. The write goes to Path+".tmp" and is
	// renamed into place on success.
	Path string
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Path == "" {
		return errors.New("path is required")
	}
	return nil
}

type Materializer struct {
	log  *slog.Logger
	path string
}

func New(cfg Config) (*Materializer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Materializer{log: cfg.Logger, path: cfg.Path}, nil
}

// Write groups records by postal code (lexicographic), keeps insertion
// order within each group, and emits one row-group per group. Column
// statistics are suppressed to keep the output deterministic.
func (m *Materializer) Write(records []*restrict.Record) error {
	if len(records) == 0 {
		return errors.New("no records to materialize")
	}

	groups := make(map[string][]*restrict.Record)
	for _, r := range records {
		groups[r.Postal] = append(groups[r.Postal], r)
	}
	postals := make([]string, 0, len(groups))
	for p := range groups {
		postals = append(postals, p)
	}
	sort.Strings(postals)

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	defer os.Remove(tmp)

	// SkipPageBounds takes one column path per option.
	opts := make([]parquet.WriterOption, 0, 16)
	for _, col := range []string{
		"postal", "street", "number", "full_address", "day_of_month",
		"start_at", "end_at", "inactive_this_month", "distance_m",
		"tariff", "slot_count", "parking_type", "free_text",
	} {
		opts = append(opts, parquet.SkipPageBounds(col))
	}
	w := parquet.NewGenericWriter[Row](f, opts...)
	for _, postal := range postals {
		rows := make([]Row, 0, len(groups[postal]))
		for _, r := range groups[postal] {
			rows = append(rows, toRow(r))
		}
		if _, err := w.Write(rows); err != nil {
			f.Close()
			return fmt.Errorf("write row group %q: %w", postal, err)
		}
		// One row group per postal code.
		if err := w.Flush(); err != nil {
			f.Close()
			return fmt.Errorf("flush row group %q: %w", postal, err)
		}
	}
	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	m.log.Info("materialize: artifact written", "path", m.path, "rows", len(records), "row_groups", len(postals))
	return nil
}

// Read loads the artifact back, used by the round-trip tests and the
// verification server.
func Read(path string) ([]Row, error) {
	rows, err := parquet.ReadFile[Row](path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

func toRow(r *restrict.Record) Row {
	row := Row{
		Postal:            r.Postal,
		Street:            r.Street,
		Number:            r.Number,
		FullAddress:       r.FullAddress,
		DayOfMonth:        int32(r.DayOfMonth),
		InactiveThisMonth: r.InactiveThisMonth,
		DistanceM:         r.DistanceM,
	}
	if !r.InactiveThisMonth {
		row.StartAt = ptr(r.StartAt.Format(time.RFC3339))
		row.EndAt = ptr(r.EndAt.Format(time.RFC3339))
	}
	if r.Zone.Tariff != "" {
		row.Tariff = ptr(r.Zone.Tariff)
	}
	if r.Zone.SlotCount != 0 {
		row.SlotCount = ptr(int64(r.Zone.SlotCount))
	}
	if r.Zone.ParkingType != "" {
		row.ParkingType = ptr(r.Zone.ParkingType)
	}
	if r.Zone.FreeText != "" {
		row.FreeText = ptr(r.Zone.FreeText)
	}
	return row
}

func ptr[T any](v T) *T { return &v }

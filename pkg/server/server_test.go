package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadsdata/curbwatch/pkg/logger"
	"github.com/stadsdata/curbwatch/pkg/materialize"
	"github.com/stadsdata/curbwatch/pkg/model"
	"github.com/stadsdata/curbwatch/pkg/restrict"
)

func writeTestArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "restrictions.columnar")
	m, err := materialize.New(materialize.Config{Logger: logger.New(false), Path: path})
	require.NoError(t, err)

	b, err := restrict.NewBuilder(logger.New(false), restrict.DefaultTimezone, restrict.Anchor{Year: 2025, Month: time.March})
	require.NoError(t, err)
	rec, rej := b.Build(0, model.Address{
		Coord: model.Point{13.0, 55.6}, Postal: "21145",
		Street: "Storgatan", Number: "10", FullAddress: "Storgatan 10",
	}, model.Segment{
		Start: model.Point{13.0, 55.6}, End: model.Point{13.0002, 55.6},
		DayOfMonth: 12, TimeWindow: "0800-1200",
	}, 3.3)
	require.Nil(t, rej)
	require.NoError(t, m.Write([]*restrict.Record{rec}))
	return path
}

func newTestServer(t *testing.T, artifactPath string) *Server {
	t.Helper()
	s, err := New(Config{
		Logger:       logger.New(false),
		ListenAddr:   "127.0.0.1:0",
		ArtifactPath: artifactPath,
	})
	require.NoError(t, err)
	return s
}

func TestHandleMatches(t *testing.T) {
	t.Parallel()

	t.Run("serves artifact rows as json", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, writeTestArtifact(t))

		rr := httptest.NewRecorder()
		s.http.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/matches", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		var rows []materialize.Row
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rows))
		require.Len(t, rows, 1)
		assert.Equal(t, "Storgatan 10", rows[0].FullAddress)
		assert.Equal(t, int32(12), rows[0].DayOfMonth)
	})

	t.Run("missing artifact yields 503", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, filepath.Join(t.TempDir(), "absent.columnar"))

		rr := httptest.NewRecorder()
		s.http.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/matches", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}

func TestHandleIndex(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, writeTestArtifact(t))
	rr := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "curbwatch")
}

func TestRunShutdown(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, writeTestArtifact(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Give the listener a moment, then cancel and expect a clean exit.
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

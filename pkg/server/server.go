// Package server hosts the local visual-verification surface: a table page
// over the materialized artifact, the match data as JSON, and the
// prometheus metrics endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stadsdata/curbwatch/pkg/materialize"
)

type Config struct {
	Logger     *slog.Logger
	ListenAddr string
	// ArtifactPath is the columnar artifact the page visualizes.
	ArtifactPath string
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	if c.ArtifactPath == "" {
		return errors.New("artifact path is required")
	}
	return nil
}

type Server struct {
	log  *slog.Logger
	cfg  Config
	http *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{log: cfg.Logger, cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))
	r.Get("/", s.handleIndex)
	r.Get("/api/matches", s.handleMatches)
	r.Handle("/metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 30 * time.Second,
	}
	return s, nil
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server: listening", "addr", s.cfg.ListenAddr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	rows, err := materialize.Read(s.cfg.ArtifactPath)
	if err != nil {
		s.log.Error("server: failed to read artifact", "error", err)
		http.Error(w, "artifact not available, run correlate first", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rows); err != nil {
		s.log.Error("server: failed to encode matches", "error", err)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

const indexHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>curbwatch verification</title>
<style>
body { font-family: sans-serif; margin: 2rem; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 0.25rem 0.5rem; text-align: left; }
.inactive { color: #999; }
</style>
</head>
<body>
<h1>curbwatch matches</h1>
<p id="status">loading…</p>
<table id="matches" hidden>
<thead><tr><th>postal</th><th>address</th><th>day</th><th>start</th><th>end</th><th>distance (m)</th></tr></thead>
<tbody></tbody>
</table>
<script>
fetch('/api/matches').then(function (r) {
  if (!r.ok) throw new Error(r.statusText);
  return r.json();
}).then(function (rows) {
  var tbody = document.querySelector('#matches tbody');
  rows.forEach(function (row) {
    var tr = document.createElement('tr');
    if (row.InactiveThisMonth) tr.className = 'inactive';
    [row.Postal, row.FullAddress, row.DayOfMonth, row.StartAt || '-', row.EndAt || '-',
     row.DistanceM.toFixed(1)].forEach(function (v) {
      var td = document.createElement('td');
      td.textContent = v;
      tr.appendChild(td);
    });
    tbody.appendChild(tr);
  });
  document.getElementById('status').textContent = rows.length + ' rows';
  document.getElementById('matches').hidden = false;
}).catch(function (err) {
  document.getElementById('status').textContent = 'failed: ' + err.message;
});
</script>
</body>
</html>
`

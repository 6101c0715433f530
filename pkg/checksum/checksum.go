// Package checksum decides whether the upstream open-data sources changed
// since the previous run. It is the only core component that touches the
// network.
package checksum

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
)

// Source names an upstream dataset to watch.
type Source struct {
	Name string
	URL  string
}

// Entry is one persisted source record in checksums.json.
type Entry struct {
	URL       string    `json:"url"`
	SHA256    string    `json:"sha256"`
	CheckedAt time.Time `json:"checked_at"`
}

type state struct {
	Sources []Entry `json:"sources"`
}

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	// HTTPClient is used for the fetches. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Path of the persisted checksums.json.
	Path string
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Path == "" {
		return errors.New("path is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	return nil
}

// Gate compares current upstream content hashes to the previous run's.
type Gate struct {
	log    *slog.Logger
	clock  clockwork.Clock
	client *http.Client
	path   string
}

func New(cfg Config) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Gate{log: cfg.Logger, clock: cfg.Clock, client: cfg.HTTPClient, path: cfg.Path}, nil
}

// Check fetches every source, hashes the bodies, compares against the
// stored state, and persists the new state. It reports changed=true when
// any hash differs or no previous state exists.
func (g *Gate) Check(ctx context.Context, sources []Source) (changed bool, err error) {
	prev := map[string]string{}
	if old, err := g.load(); err == nil {
		for _, e := range old.Sources {
			prev[e.URL] = e.SHA256
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("load %s: %w", g.path, err)
	}

	now := g.clock.Now().UTC()
	next := state{Sources: make([]Entry, 0, len(sources))}
	for _, src := range sources {
		sum, err := g.fetchAndHash(ctx, src.URL)
		if err != nil {
			return false, fmt.Errorf("checksum %s: %w", src.Name, err)
		}
		next.Sources = append(next.Sources, Entry{URL: src.URL, SHA256: sum, CheckedAt: now})
		old, seen := prev[src.URL]
		if !seen || old != sum {
			g.log.Info("checksum: source changed", "source", src.Name, "sha256", sum, "previous_known", seen)
			changed = true
		} else {
			g.log.Debug("checksum: source unchanged", "source", src.Name)
		}
	}

	if err := g.save(next); err != nil {
		return changed, fmt.Errorf("save %s: %w", g.path, err)
	}
	return changed, nil
}

func (g *Gate) fetchAndHash(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	h := sha256.New()
	if _, err := io.Copy(h, resp.Body); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (g *Gate) load() (state, error) {
	var s state
	data, err := os.ReadFile(g.path)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, err
	}
	return s, nil
}

func (g *Gate) save(s state) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		return err
	}
	tmp := g.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, g.path)
}

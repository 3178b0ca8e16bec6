// Package prompts stores the pipeline's prompt templates. Templates live as
// embedded defaults, optionally overridden by files in a configured
// directory, and are served through a short-TTL read-through cache so edits
// on disk show up without a restart.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/specforge/specforge/pkg/logger"
)

//go:embed templates/*.tmpl
var defaultTemplates embed.FS

const (
	// DefaultCacheTTL bounds how stale an on-disk template edit can be.
	DefaultCacheTTL = 5 * time.Minute

	cacheMaxCost = 1 << 20 // total cached template bytes
)

// Store resolves templates by name. Lookup order: cache, override dir,
// embedded default.
type Store struct {
	dir    string
	ttl    time.Duration
	cache  *ristretto.Cache[string, string]
	ledger *Ledger
}

// Options configures a Store. Dir and Ledger are optional.
type Options struct {
	Dir      string
	CacheTTL time.Duration
	Ledger   *Ledger
}

func NewStore(opts Options) (*Store, error) {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: 1000,
		MaxCost:     cacheMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create template cache: %w", err)
	}

	return &Store{
		dir:    opts.Dir,
		ttl:    ttl,
		cache:  cache,
		ledger: opts.Ledger,
	}, nil
}

// Get returns the raw template text for name.
func (s *Store) Get(name string) (string, error) {
	if cached, ok := s.cache.Get(name); ok {
		return cached, nil
	}

	text, err := s.load(name)
	if err != nil {
		return "", err
	}

	s.cache.SetWithTTL(name, text, int64(len(text)), s.ttl)
	return text, nil
}

func (s *Store) load(name string) (string, error) {
	if strings.Contains(name, "/") || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid template name: %q", name)
	}

	if s.dir != "" {
		path := filepath.Join(s.dir, name+".tmpl")
		if data, err := os.ReadFile(path); err == nil {
			return string(data), nil
		}
	}

	data, err := defaultTemplates.ReadFile("templates/" + name + ".tmpl")
	if err != nil {
		return "", fmt.Errorf("unknown template: %q", name)
	}
	return string(data), nil
}

// Render interpolates vars into the named template.
func (s *Store) Render(name string, vars map[string]any) (string, error) {
	text, err := s.Get(name)
	if err != nil {
		return "", err
	}

	tmpl, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %q: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("failed to render template %q: %w", name, err)
	}
	return buf.String(), nil
}

// TrackUsage records one use of the named template. Best effort: a ledger
// write failure is logged, never surfaced to the pipeline.
func (s *Store) TrackUsage(name string, tokens int, costUSD float64) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Record(name, tokens, costUSD); err != nil {
		logger.WarnCF("prompts", "usage ledger write failed", map[string]any{
			"template": name,
			"error":    err.Error(),
		})
	}
}

// Invalidate drops one template from the cache. The next Get re-reads disk.
func (s *Store) Invalidate(name string) {
	s.cache.Del(name)
}

// Clear drops the whole cache.
func (s *Store) Clear() {
	s.cache.Clear()
}

// Close releases the cache and ledger.
func (s *Store) Close() {
	s.cache.Close()
	if s.ledger != nil {
		s.ledger.Close()
	}
}

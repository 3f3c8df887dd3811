// Package engine holds the four scraping engines (static, browser, api,
// pdf) behind a common Fetch contract, plus the shared fetch plumbing:
// SSRF-safe HTTP client, per-source rate limiting, robots.txt checks,
// authentication, and selector extraction.
package engine

import (
	"context"
	"fmt"

	"github.com/david/grant-scraper/internal/models"
)

// Engine fetches raw grants from one configured source. Implementations
// honor the source's rate limit and timeout and return per-item extraction
// failures as logged skips, not errors.
type Engine interface {
	Kind() models.EngineKind
	Fetch(ctx context.Context, src models.Source) ([]models.RawGrant, error)
}

// Factory maps engine kinds to constructed engines.
type Factory struct {
	engines map[models.EngineKind]Engine
}

func NewFactory() *Factory {
	return &Factory{engines: make(map[models.EngineKind]Engine)}
}

func (f *Factory) Register(e Engine) {
	f.engines[e.Kind()] = e
}

// Get returns the engine for kind, or an error naming the missing kind.
func (f *Factory) Get(kind models.EngineKind) (Engine, error) {
	e, ok := f.engines[kind]
	if !ok {
		return nil, fmt.Errorf("no engine registered for kind %q", kind)
	}
	return e, nil
}

// Kinds lists the registered engine kinds.
func (f *Factory) Kinds() []models.EngineKind {
	kinds := make([]models.EngineKind, 0, len(f.engines))
	for k := range f.engines {
		kinds = append(kinds, k)
	}
	return kinds
}

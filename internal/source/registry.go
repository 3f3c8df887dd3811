package source

import (
	"context"
	"embed"
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/david/grant-scraper/internal/models"
)

//go:embed config/sources.yaml
var sourcesYAML embed.FS

// Registry is the on-disk source configuration.
type Registry struct {
	Sources []models.Source `yaml:"sources"`
}

// LoadRegistry reads a sources file, preferring the path and falling back to
// the embedded default registry. Environment variables referenced in the
// file (e.g. ${GRANTS_API_KEY}) are expanded before parsing.
func LoadRegistry(path string) (*Registry, error) {
	var data []byte
	var err error
	if path != "" {
		data, err = os.ReadFile(path)
	}
	if path == "" || err != nil {
		data, err = sourcesYAML.ReadFile("config/sources.yaml")
		if err != nil {
			return nil, fmt.Errorf("reading source registry: %w", err)
		}
	}

	expanded := os.ExpandEnv(string(data))

	var reg Registry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, fmt.Errorf("parsing source registry: %w", err)
	}
	return &reg, nil
}

// Seed loads every registry entry into the manager without probing, so a
// daemon can start while sources are unreachable. Invalid entries are
// skipped and reported in the returned error list.
func (m *Manager) Seed(reg *Registry) []error {
	var failures []error
	now := m.clock.Now()

	for i := range reg.Sources {
		src := reg.Sources[i]
		errs, warns := ValidateConfig(src)
		for _, w := range warns {
			log.Printf("[source] %s: %s", src.ID, w)
		}
		if len(errs) > 0 {
			failures = append(failures, fmt.Errorf("source %s: %s", src.ID, strings.Join(errs, "; ")))
			continue
		}

		if src.Status == "" {
			src.Status = models.SourceActive
		}
		if src.Frequency == "" {
			src.Frequency = models.FreqDaily
		}
		src.CreatedAt = now
		src.UpdatedAt = now

		m.mu.Lock()
		if _, exists := m.sources[src.ID]; exists {
			m.mu.Unlock()
			failures = append(failures, fmt.Errorf("source %s: duplicate id", src.ID))
			continue
		}
		m.sources[src.ID] = &src
		m.mu.Unlock()
	}

	log.Printf("[source] seeded %d sources (%d rejected)", len(m.sources), len(failures))
	return failures
}

// SeedFromFile is LoadRegistry followed by Seed.
func (m *Manager) SeedFromFile(_ context.Context, path string) error {
	reg, err := LoadRegistry(path)
	if err != nil {
		return err
	}
	failures := m.Seed(reg)
	for _, f := range failures {
		log.Printf("[source] registry entry rejected: %v", f)
	}
	if len(m.ListActive()) == 0 && len(failures) > 0 {
		return fmt.Errorf("no usable sources in registry (%d rejected)", len(failures))
	}
	return nil
}

// Package source owns the registry of configured scrape sources: config
// validation, lifecycle (create, enable, disable), health probes, and the
// rolling per-source scrape metrics. The Manager is the only writer of
// source state; every other component works on copies.
package source

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/david/grant-scraper/internal/engine"
	"github.com/david/grant-scraper/internal/models"
	"github.com/david/grant-scraper/internal/ports"
)

const (
	healthTimeout     = 10 * time.Second
	staleAfterDefault = 24 * time.Hour
	failCheckAfter    = 3   // consecutive failures before a source is due for re-check
	highRateWarnRPM   = 100 // politeness warning threshold
)

// MetricsDelta is the outcome of one completed scrape against a source.
type MetricsDelta struct {
	Success   bool
	ParseMS   float64
	Error     string
	ScrapedAt time.Time
}

// Manager holds all configured sources and their health state.
type Manager struct {
	mu      sync.RWMutex
	sources map[string]*models.Source

	clock      ports.Clock
	staleAfter time.Duration

	// Client overrides the default SSRF-guarded health-check client.
	Client *http.Client
}

// NewManager returns an empty Manager using the given clock.
func NewManager(clock ports.Clock) *Manager {
	if clock == nil {
		clock = ports.RealClock()
	}
	return &Manager{
		sources:    make(map[string]*models.Source),
		clock:      clock,
		staleAfter: staleAfterDefault,
	}
}

// ValidateConfig checks a source configuration and returns hard errors and
// soft warnings. A source with any error must not be persisted.
func ValidateConfig(src models.Source) (errs, warns []string) {
	if strings.TrimSpace(src.ID) == "" {
		errs = append(errs, "id is required")
	}
	if strings.TrimSpace(src.Name) == "" {
		errs = append(errs, "name is required")
	}

	u, err := url.Parse(src.URL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		errs = append(errs, fmt.Sprintf("url %q is not an absolute URL", src.URL))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, fmt.Sprintf("url scheme %q is not http or https", u.Scheme))
	}

	if !models.ValidSourceType(src.Type) {
		errs = append(errs, fmt.Sprintf("unknown source type %q", src.Type))
	}
	if !models.ValidEngineKind(src.Engine) {
		errs = append(errs, fmt.Sprintf("unknown engine %q", src.Engine))
	}
	if src.Frequency != "" && !models.ValidFrequency(src.Frequency) {
		errs = append(errs, fmt.Sprintf("unknown frequency %q", src.Frequency))
	}

	if src.Engine == models.EngineStatic || src.Engine == models.EngineBrowser {
		if src.Selectors.Container == "" {
			errs = append(errs, "selectors.container is required for static and browser engines")
		}
		if src.Selectors.Title == "" {
			errs = append(errs, "selectors.title is required for static and browser engines")
		}
	}

	if src.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, "rate_limit.requests_per_minute must not be negative")
	}
	if src.RateLimit.MinDelayMS < 0 {
		errs = append(errs, "rate_limit.min_delay_ms must not be negative")
	}
	if src.RateLimit.RequestsPerMinute > highRateWarnRPM {
		warns = append(warns, fmt.Sprintf("requests_per_minute %d exceeds %d, check the source's terms", src.RateLimit.RequestsPerMinute, highRateWarnRPM))
	}
	if src.TimeoutSeconds < 0 {
		errs = append(errs, "timeout_seconds must not be negative")
	}

	errs = append(errs, validateAuth(src.Auth)...)
	return errs, warns
}

func validateAuth(auth *models.AuthConfig) []string {
	if auth == nil {
		return nil
	}
	required := map[models.AuthKind][]string{
		models.AuthBearer: {"token"},
		models.AuthBasic:  {"username", "password"},
		models.AuthAPIKey: {"key"},
		models.AuthOAuth2: {"client_id", "client_secret", "token_url"},
	}
	keys, ok := required[auth.Type]
	if !ok {
		return []string{fmt.Sprintf("unknown auth type %q", auth.Type)}
	}
	var errs []string
	for _, k := range keys {
		if strings.TrimSpace(auth.Credentials[k]) == "" {
			errs = append(errs, fmt.Sprintf("auth credential %q is required for %s authentication", k, auth.Type))
		}
	}
	return errs
}

// Create validates the config, probes the source once, and persists it as
// active. Validation errors and failed probes both reject the source.
func (m *Manager) Create(ctx context.Context, src models.Source) error {
	errs, warns := ValidateConfig(src)
	for _, w := range warns {
		log.Printf("[source] %s: %s", src.ID, w)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid source config: %s", strings.Join(errs, "; "))
	}

	m.mu.RLock()
	_, exists := m.sources[src.ID]
	m.mu.RUnlock()
	if exists {
		return fmt.Errorf("source %s already exists", src.ID)
	}

	health := m.probe(ctx, src.URL)
	if !health.Healthy {
		return fmt.Errorf("source %s failed health check: %s", src.ID, health.Error)
	}

	now := m.clock.Now()
	src.Status = models.SourceActive
	src.CreatedAt = now
	src.UpdatedAt = now

	m.mu.Lock()
	m.sources[src.ID] = &src
	m.mu.Unlock()

	log.Printf("[source] created %s (%s, %s engine) in %dms", src.ID, src.URL, src.Engine, health.ResponseTimeMS)
	return nil
}

// Get returns a copy of the source regardless of status.
func (m *Manager) Get(id string) (models.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.sources[id]
	if !ok {
		return models.Source{}, fmt.Errorf("source %s not found", id)
	}
	return *src, nil
}

// GetActive returns a copy of the source, failing if it is not active.
func (m *Manager) GetActive(id string) (models.Source, error) {
	src, err := m.Get(id)
	if err != nil {
		return models.Source{}, err
	}
	if src.Status != models.SourceActive {
		return models.Source{}, fmt.Errorf("source %s is %s, not active", id, src.Status)
	}
	return src, nil
}

// ListActive returns copies of all active sources ordered by ID.
func (m *Manager) ListActive() []models.Source {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Source, 0, len(m.sources))
	for _, src := range m.sources {
		if src.Status == models.SourceActive {
			out = append(out, *src)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Update is a partial update; nil fields keep their current value.
type Update struct {
	Name       *string
	URL        *string
	Frequency  *models.Frequency
	Selectors  *models.SelectorMap
	RateLimit  *models.RateLimit
	Headers    map[string]string
	Auth       *models.AuthConfig
	Pagination *models.PaginationConfig
}

// Apply merges the partial update into the source, re-validating the result.
func (m *Manager) Apply(id string, upd Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.sources[id]
	if !ok {
		return fmt.Errorf("source %s not found", id)
	}

	next := *src
	if upd.Name != nil {
		next.Name = *upd.Name
	}
	if upd.URL != nil {
		next.URL = *upd.URL
	}
	if upd.Frequency != nil {
		next.Frequency = *upd.Frequency
	}
	if upd.Selectors != nil {
		next.Selectors = *upd.Selectors
	}
	if upd.RateLimit != nil {
		next.RateLimit = *upd.RateLimit
	}
	if upd.Headers != nil {
		next.Headers = upd.Headers
	}
	if upd.Auth != nil {
		next.Auth = upd.Auth
	}
	if upd.Pagination != nil {
		next.Pagination = upd.Pagination
	}

	if errs, _ := ValidateConfig(next); len(errs) > 0 {
		return fmt.Errorf("invalid source update: %s", strings.Join(errs, "; "))
	}

	next.UpdatedAt = m.clock.Now()
	m.sources[id] = &next
	return nil
}

// Disable takes a source out of rotation, recording why.
func (m *Manager) Disable(id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.sources[id]
	if !ok {
		return fmt.Errorf("source %s not found", id)
	}
	src.Status = models.SourceInactive
	src.DisabledReason = reason
	src.UpdatedAt = m.clock.Now()
	log.Printf("[source] disabled %s: %s", id, reason)
	return nil
}

// Enable returns a source to rotation after a successful health probe.
func (m *Manager) Enable(ctx context.Context, id string) error {
	m.mu.RLock()
	src, ok := m.sources[id]
	var rawURL string
	if ok {
		rawURL = src.URL
	}
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("source %s not found", id)
	}

	health := m.probe(ctx, rawURL)
	if !health.Healthy {
		return fmt.Errorf("source %s still unhealthy, refusing to enable: %s", id, health.Error)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok = m.sources[id]
	if !ok {
		return fmt.Errorf("source %s not found", id)
	}
	src.Status = models.SourceActive
	src.DisabledReason = ""
	src.Metrics.ConsecutiveFails = 0
	src.UpdatedAt = m.clock.Now()
	log.Printf("[source] enabled %s (%dms)", id, health.ResponseTimeMS)
	return nil
}

// HealthCheck probes the source URL once and returns the result without
// changing source state.
func (m *Manager) HealthCheck(ctx context.Context, id string) (models.HealthResult, error) {
	src, err := m.Get(id)
	if err != nil {
		return models.HealthResult{}, err
	}
	return m.probe(ctx, src.URL), nil
}

// probe issues a HEAD request, falling back to GET when HEAD is rejected.
func (m *Manager) probe(ctx context.Context, rawURL string) models.HealthResult {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	client := m.Client
	if client == nil {
		client = engine.NewHTTPClient(healthTimeout, true)
	}

	start := time.Now()
	status, err := doProbe(ctx, client, http.MethodHead, rawURL)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		status, err = doProbe(ctx, client, http.MethodGet, rawURL)
	}
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		return models.HealthResult{Healthy: false, ResponseTimeMS: elapsed, Error: err.Error()}
	}
	res := models.HealthResult{
		Healthy:        status >= 200 && status < 400,
		StatusCode:     status,
		ResponseTimeMS: elapsed,
	}
	if !res.Healthy {
		res.Error = fmt.Sprintf("unexpected status %d", status)
	}
	return res
}

func doProbe(ctx context.Context, client *http.Client, method, rawURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("building probe request: %w", err)
	}
	req.Header.Set("User-Agent", engine.RandomUserAgent())
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// UpdateMetrics folds a completed scrape into the source's rolling counters.
// Three consecutive failures move the source into the error status.
func (m *Manager) UpdateMetrics(id string, delta MetricsDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.sources[id]
	if !ok {
		return fmt.Errorf("source %s not found", id)
	}

	met := &src.Metrics
	if delta.Success {
		met.SuccessCount++
		met.ConsecutiveFails = 0
		met.LastError = ""
	} else {
		met.FailCount++
		met.ConsecutiveFails++
		met.LastError = delta.Error
	}
	if total := met.SuccessCount + met.FailCount; total > 0 {
		met.SuccessRate = float64(met.SuccessCount) / float64(total)
		// Running average over all completed scrapes.
		met.AvgParseMS = met.AvgParseMS + (delta.ParseMS-met.AvgParseMS)/float64(total)
	}
	at := delta.ScrapedAt
	if at.IsZero() {
		at = m.clock.Now()
	}
	met.LastScrapedAt = &at

	if met.ConsecutiveFails >= failCheckAfter && src.Status == models.SourceActive {
		src.Status = models.SourceError
		log.Printf("[source] %s moved to error after %d consecutive failures: %s", id, met.ConsecutiveFails, met.LastError)
	}
	src.UpdatedAt = m.clock.Now()
	return nil
}

// DueForHealthCheck lists source IDs that need a probe: repeated failures,
// never scraped, or stale beyond the staleness window.
func (m *Manager) DueForHealthCheck() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.clock.Now()
	var due []string
	for id, src := range m.sources {
		if src.Status == models.SourceInactive {
			continue
		}
		switch {
		case src.Metrics.ConsecutiveFails >= failCheckAfter:
			due = append(due, id)
		case src.Metrics.LastScrapedAt == nil:
			due = append(due, id)
		case now.Sub(*src.Metrics.LastScrapedAt) > m.staleAfter:
			due = append(due, id)
		}
	}
	sort.Strings(due)
	return due
}

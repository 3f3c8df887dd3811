// Package obs collects operational signals: a structured error tracker and
// Prometheus metrics for the scraping pipeline.
package obs

import (
	"log"
	"sync"
	"time"

	"github.com/david/grant-scraper/internal/models"
	"github.com/david/grant-scraper/internal/ports"
)

const defaultRecentCap = 200

// ErrorRecord is one tracked error occurrence.
type ErrorRecord struct {
	Type       models.ErrorType `json:"type"`
	SourceID   string           `json:"source_id,omitempty"`
	Message    string           `json:"message"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// ErrorTracker keeps per-type and per-source counts plus a bounded ring of
// recent occurrences for the admin surface.
type ErrorTracker struct {
	mu        sync.Mutex
	clock     ports.Clock
	byType    map[models.ErrorType]int
	bySource  map[string]int
	recent    []ErrorRecord
	recentCap int
}

// NewErrorTracker returns an empty tracker.
func NewErrorTracker(clock ports.Clock) *ErrorTracker {
	if clock == nil {
		clock = ports.RealClock()
	}
	return &ErrorTracker{
		clock:     clock,
		byType:    make(map[models.ErrorType]int),
		bySource:  make(map[string]int),
		recentCap: defaultRecentCap,
	}
}

// Track records one error occurrence. Untagged errors are classified first.
func (t *ErrorTracker) Track(sourceID string, err error) ErrorRecord {
	rec := ErrorRecord{
		Type:       models.ClassifyError(err),
		SourceID:   sourceID,
		Message:    err.Error(),
		OccurredAt: t.clock.Now(),
	}

	t.mu.Lock()
	t.byType[rec.Type]++
	if sourceID != "" {
		t.bySource[sourceID]++
	}
	t.recent = append(t.recent, rec)
	if len(t.recent) > t.recentCap {
		t.recent = t.recent[len(t.recent)-t.recentCap:]
	}
	t.mu.Unlock()

	log.Printf("[errors] %s source=%s: %s", rec.Type, sourceID, rec.Message)
	return rec
}

// CountByType returns a copy of the per-type counters.
func (t *ErrorTracker) CountByType() map[models.ErrorType]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[models.ErrorType]int, len(t.byType))
	for k, v := range t.byType {
		out[k] = v
	}
	return out
}

// CountBySource returns a copy of the per-source counters.
func (t *ErrorTracker) CountBySource() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.bySource))
	for k, v := range t.bySource {
		out[k] = v
	}
	return out
}

// Recent returns up to n most recent records, newest last.
func (t *ErrorTracker) Recent(n int) []ErrorRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n <= 0 || n > len(t.recent) {
		n = len(t.recent)
	}
	out := make([]ErrorRecord, n)
	copy(out, t.recent[len(t.recent)-n:])
	return out
}

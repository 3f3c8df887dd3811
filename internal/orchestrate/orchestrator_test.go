package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/david/grant-scraper/internal/engine"
	"github.com/david/grant-scraper/internal/models"
	"github.com/david/grant-scraper/internal/ports"
	"github.com/david/grant-scraper/internal/source"
)

type fakeSources struct {
	mu      sync.Mutex
	sources map[string]models.Source
	deltas  []source.MetricsDelta
}

func newFakeSources(srcs ...models.Source) *fakeSources {
	f := &fakeSources{sources: make(map[string]models.Source)}
	for _, s := range srcs {
		f.sources[s.ID] = s
	}
	return f
}

func (f *fakeSources) GetActive(id string) (models.Source, error) {
	src, ok := f.sources[id]
	if !ok {
		return models.Source{}, fmt.Errorf("source %s not found", id)
	}
	return src, nil
}

func (f *fakeSources) UpdateMetrics(id string, delta source.MetricsDelta) error {
	f.mu.Lock()
	f.deltas = append(f.deltas, delta)
	f.mu.Unlock()
	return nil
}

type fakeEngine struct {
	kind  models.EngineKind
	raws  []models.RawGrant
	err   error
	calls int
}

func (e *fakeEngine) Kind() models.EngineKind { return e.kind }

func (e *fakeEngine) Fetch(context.Context, models.Source) ([]models.RawGrant, error) {
	e.calls++
	return e.raws, e.err
}

type fakeStore struct {
	mu         sync.Mutex
	byDupHash  map[string]models.Grant
	candidates []models.Grant
	upserted   []models.Grant
	upsertErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{byDupHash: make(map[string]models.Grant)}
}

func (s *fakeStore) Upsert(_ context.Context, g models.Grant) (ports.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return ports.UpsertResult{}, s.upsertErr
	}
	s.upserted = append(s.upserted, g)
	prev, ok := s.byDupHash[g.DuplicateHash]
	s.byDupHash[g.DuplicateHash] = g
	if !ok {
		return ports.UpsertResult{Action: ports.ActionInserted}, nil
	}
	if prev.ContentHash == g.ContentHash {
		return ports.UpsertResult{Action: ports.ActionSkipped}, nil
	}
	return ports.UpsertResult{Action: ports.ActionUpdated}, nil
}

func (s *fakeStore) FindByDuplicateHash(_ context.Context, hash string) (*models.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.byDupHash[hash]; ok {
		return &g, nil
	}
	return nil, nil
}

func (s *fakeStore) ListCandidatesForFunder(context.Context, string, int) ([]models.Grant, error) {
	return s.candidates, nil
}

type fakeAlerter struct {
	mu       sync.Mutex
	subjects []string
	severity []ports.Severity
}

func (a *fakeAlerter) Notify(_ context.Context, sev ports.Severity, subject, _ string) error {
	a.mu.Lock()
	a.subjects = append(a.subjects, subject)
	a.severity = append(a.severity, sev)
	a.mu.Unlock()
	return nil
}

func validRaw(title string) models.RawGrant {
	return models.RawGrant{
		Title:          title,
		Description:    "Funding to expand community garden plots and provide gardening education for residents.",
		Deadline:       "2026-09-30",
		FundingAmount:  "$10,000 to $50,000",
		Eligibility:    "Registered nonprofits",
		ApplicationURL: "https://grants.example.org/apply",
		FunderName:     "Green Futures Foundation",
		SourceURL:      "https://grants.example.org/listing",
		ScrapedAt:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func staticSource() models.Source {
	return models.Source{
		ID:     "src-1",
		Name:   "Example Grants",
		URL:    "https://grants.example.org",
		Type:   models.SourceFoundation,
		Engine: models.EngineStatic,
		Status: models.SourceActive,
	}
}

func newTestOrchestrator(cfg Config, eng *fakeEngine, store *fakeStore, alerter *fakeAlerter, sources *fakeSources) *Orchestrator {
	factory := engine.NewFactory()
	factory.Register(eng)
	return New(cfg, sources, factory, store, alerter, nil, nil)
}

func TestExecutePipeline(t *testing.T) {
	invalid := validRaw("Broken Entry Grant")
	invalid.Description = "too short"

	eng := &fakeEngine{
		kind: models.EngineStatic,
		raws: []models.RawGrant{
			validRaw("Community Garden Grant Program"),
			invalid,
			validRaw("Community Garden Grant Program"), // in-batch duplicate
			validRaw("Urban Orchard Grant Program"),
		},
	}
	store := newFakeStore()
	sources := newFakeSources(staticSource())
	o := newTestOrchestrator(Config{}, eng, store, &fakeAlerter{}, sources)

	job := &models.Job{ID: "j1", SourceID: "src-1"}
	result, err := o.Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result.TotalFound != 4 {
		t.Errorf("found = %d, want 4", result.TotalFound)
	}
	if result.TotalInserted != 2 {
		t.Errorf("inserted = %d, want 2", result.TotalInserted)
	}
	if got := result.Metadata["invalid"]; got != 1 {
		t.Errorf("invalid = %v, want 1", got)
	}
	if got := result.Metadata["batch_duplicates"]; got != 1 {
		t.Errorf("batch duplicates = %v, want 1", got)
	}
	if len(result.Errors) != 0 {
		t.Errorf("errors = %v", result.Errors)
	}
	for _, g := range store.upserted {
		if g.SourceID != "src-1" {
			t.Errorf("grant missing source id: %+v", g.Title)
		}
	}

	if len(sources.deltas) != 1 || !sources.deltas[0].Success {
		t.Errorf("metrics deltas = %+v, want one success", sources.deltas)
	}
}

func TestExecuteAuthErrorAlerts(t *testing.T) {
	eng := &fakeEngine{
		kind: models.EngineStatic,
		err:  models.NewScrapeError(models.ErrAuthentication, "credentials rejected", nil),
	}
	store := newFakeStore()
	alerter := &fakeAlerter{}
	sources := newFakeSources(staticSource())
	o := newTestOrchestrator(Config{}, eng, store, alerter, sources)

	result, err := o.Execute(context.Background(), &models.Job{ID: "j1", SourceID: "src-1"})
	if err == nil {
		t.Fatal("expected fetch error")
	}
	if len(result.Errors) != 1 || result.Errors[0].Type != models.ErrAuthentication {
		t.Fatalf("result errors = %v", result.Errors)
	}
	if len(alerter.subjects) != 1 || alerter.severity[0] != ports.SeverityCritical {
		t.Errorf("alerter = %v %v, want one critical alert", alerter.subjects, alerter.severity)
	}
	if !strings.Contains(alerter.subjects[0], "src-1") {
		t.Errorf("alert subject %q does not name the source", alerter.subjects[0])
	}
	if len(sources.deltas) != 1 || sources.deltas[0].Success {
		t.Errorf("metrics deltas = %+v, want one failure", sources.deltas)
	}
}

func TestExecuteNetworkErrorDoesNotAlert(t *testing.T) {
	eng := &fakeEngine{
		kind: models.EngineStatic,
		err:  errors.New("connection reset by peer"),
	}
	alerter := &fakeAlerter{}
	sources := newFakeSources(staticSource())
	o := newTestOrchestrator(Config{}, eng, newFakeStore(), alerter, sources)

	if _, err := o.Execute(context.Background(), &models.Job{ID: "j1", SourceID: "src-1"}); err == nil {
		t.Fatal("expected fetch error")
	}
	if len(alerter.subjects) != 0 {
		t.Errorf("network errors should not page: %v", alerter.subjects)
	}
}

func TestExecutePartialFetchRecordsPageErrors(t *testing.T) {
	eng := &fakeEngine{
		kind: models.EngineStatic,
		raws: []models.RawGrant{validRaw("Community Garden Grant Program")},
		err: models.PageErrors{
			{Type: models.ErrNetwork, SourceID: "src-1", Message: "page 2 failed"},
		},
	}
	store := newFakeStore()
	alerter := &fakeAlerter{}
	sources := newFakeSources(staticSource())
	o := newTestOrchestrator(Config{}, eng, store, alerter, sources)

	result, err := o.Execute(context.Background(), &models.Job{ID: "j1", SourceID: "src-1"})
	if err != nil {
		t.Fatalf("tolerated page failures must not fail the job: %v", err)
	}
	if result.TotalFound != 1 || result.TotalInserted != 1 {
		t.Errorf("found=%d inserted=%d, want 1/1", result.TotalFound, result.TotalInserted)
	}
	if len(result.Errors) != 1 || result.Errors[0].Type != models.ErrNetwork {
		t.Fatalf("result errors = %v, want the skipped page recorded", result.Errors)
	}
	if len(alerter.subjects) != 0 {
		t.Errorf("page failures should not page: %v", alerter.subjects)
	}
}

func TestExecuteUnknownSource(t *testing.T) {
	eng := &fakeEngine{kind: models.EngineStatic}
	o := newTestOrchestrator(Config{}, eng, newFakeStore(), &fakeAlerter{}, newFakeSources())

	result, err := o.Execute(context.Background(), &models.Job{ID: "j1", SourceID: "ghost"})
	if err == nil {
		t.Fatal("expected error for unknown source")
	}
	if len(result.Errors) != 1 {
		t.Errorf("result errors = %v", result.Errors)
	}
	if eng.calls != 0 {
		t.Error("engine invoked for unknown source")
	}
}

func TestExecuteCancelledBeforeStart(t *testing.T) {
	eng := &fakeEngine{kind: models.EngineStatic, raws: []models.RawGrant{validRaw("Some Grant Program")}}
	o := newTestOrchestrator(Config{}, eng, newFakeStore(), &fakeAlerter{}, newFakeSources(staticSource()))

	job := &models.Job{ID: "j1", SourceID: "src-1"}
	job.RequestCancel()

	if _, err := o.Execute(context.Background(), job); err == nil {
		t.Fatal("expected cancellation error")
	}
	if eng.calls != 0 {
		t.Error("engine invoked for cancelled job")
	}
}

func TestExecuteDatabaseErrorAlerts(t *testing.T) {
	eng := &fakeEngine{kind: models.EngineStatic, raws: []models.RawGrant{validRaw("Some Grant Program")}}
	store := newFakeStore()
	store.upsertErr = errors.New("pgx: connection closed")
	alerter := &fakeAlerter{}
	sources := newFakeSources(staticSource())
	o := newTestOrchestrator(Config{}, eng, store, alerter, sources)

	result, err := o.Execute(context.Background(), &models.Job{ID: "j1", SourceID: "src-1"})
	if err != nil {
		t.Fatalf("per-item store errors must not fail the job: %v", err)
	}
	if len(result.Errors) != 1 || result.Errors[0].Type != models.ErrDatabase {
		t.Fatalf("result errors = %v", result.Errors)
	}
	if len(alerter.subjects) != 1 {
		t.Errorf("database error should page, got %v", alerter.subjects)
	}
	if result.TotalInserted != 0 {
		t.Errorf("inserted = %d", result.TotalInserted)
	}
}

func TestExecuteCrossBatchMerge(t *testing.T) {
	eng := &fakeEngine{kind: models.EngineStatic, raws: []models.RawGrant{validRaw("Community Garden Grant Program")}}
	store := newFakeStore()
	alerter := &fakeAlerter{}
	sources := newFakeSources(staticSource())

	// Seed a known near-duplicate with a longer description.
	o := newTestOrchestrator(Config{EnableCrossBatch: true}, eng, store, alerter, sources)
	known, _ := o.processor.Process(validRaw("Community Garden Grant Program"))
	known.Description = known.Description + " The program also covers tool libraries, composting workshops, and seasonal planting guides."
	store.candidates = []models.Grant{known}

	result, err := o.Execute(context.Background(), &models.Job{ID: "j1", SourceID: "src-1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.TotalInserted != 1 {
		t.Fatalf("inserted = %d", result.TotalInserted)
	}
	merged := store.upserted[0]
	if !strings.Contains(merged.Description, "tool libraries") {
		t.Errorf("merge did not keep the longer description: %q", merged.Description)
	}
	if merged.ContentHash == "" || len(merged.ContentHash) != 64 {
		t.Errorf("merged content hash not regenerated: %q", merged.ContentHash)
	}
}

func TestExecuteClassifierStage(t *testing.T) {
	raw := validRaw("Rural Clinic Expansion Grant")
	raw.Description = "Funding for rural health clinics to expand patient capacity and public health outreach programs."
	eng := &fakeEngine{kind: models.EngineStatic, raws: []models.RawGrant{raw}}
	store := newFakeStore()
	o := newTestOrchestrator(Config{EnableClassifier: true}, eng, store, &fakeAlerter{}, newFakeSources(staticSource()))

	if _, err := o.Execute(context.Background(), &models.Job{ID: "j1", SourceID: "src-1"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	g := store.upserted[0]
	if g.Category != models.CategoryHealthcare {
		t.Errorf("category = %q, want healthcare", g.Category)
	}
	if len(g.Tags) == 0 {
		t.Error("classifier stage produced no tags")
	}
}

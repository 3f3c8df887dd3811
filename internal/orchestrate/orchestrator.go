// Package orchestrate runs the per-job scraping pipeline: engine fetch,
// processing, validation, classification, dedup, and persistence. Retry
// policy lives in the scheduler; the orchestrator reports outcomes and
// never retries on its own.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/david/grant-scraper/internal/classify"
	"github.com/david/grant-scraper/internal/dedup"
	"github.com/david/grant-scraper/internal/engine"
	"github.com/david/grant-scraper/internal/models"
	"github.com/david/grant-scraper/internal/obs"
	"github.com/david/grant-scraper/internal/ports"
	"github.com/david/grant-scraper/internal/process"
	"github.com/david/grant-scraper/internal/source"
	"github.com/david/grant-scraper/internal/validate"
)

const candidateLimit = 25

// SourceDirectory is the slice of the SourceManager the orchestrator needs.
type SourceDirectory interface {
	GetActive(id string) (models.Source, error)
	UpdateMetrics(id string, delta source.MetricsDelta) error
}

// Config toggles the optional pipeline stages.
type Config struct {
	MaxConcurrentSources int64
	EnableClassifier     bool
	EnableCrossBatch     bool
	// FetchTimeout bounds one engine fetch; zero means no bound beyond the
	// job context.
	FetchTimeout time.Duration
	// Processor tunes the processing stage (currency rates, normalization).
	Processor process.Options
}

// Orchestrator executes one job end to end.
type Orchestrator struct {
	cfg        Config
	sem        *semaphore.Weighted
	sources    SourceDirectory
	engines    *engine.Factory
	processor  *process.Processor
	validator  *validate.Validator
	classifier *classify.Classifier
	store      ports.GrantStore
	alerter    ports.Alerter
	tracker    *obs.ErrorTracker
	metrics    *obs.Metrics
}

// New wires an Orchestrator. Nil alerter, tracker, and metrics are replaced
// with no-op-equivalent defaults.
func New(cfg Config, sources SourceDirectory, engines *engine.Factory, store ports.GrantStore, alerter ports.Alerter, tracker *obs.ErrorTracker, metrics *obs.Metrics) *Orchestrator {
	if cfg.MaxConcurrentSources <= 0 {
		cfg.MaxConcurrentSources = 5
	}
	if tracker == nil {
		tracker = obs.NewErrorTracker(nil)
	}
	if metrics == nil {
		metrics = obs.NewMetrics()
	}
	return &Orchestrator{
		cfg:        cfg,
		sem:        semaphore.NewWeighted(cfg.MaxConcurrentSources),
		sources:    sources,
		engines:    engines,
		processor:  process.New(cfg.Processor),
		validator:  validate.New(),
		classifier: classify.New(),
		store:      store,
		alerter:    alerter,
		tracker:    tracker,
		metrics:    metrics,
	}
}

// Execute runs the pipeline for one job. The returned result is populated
// even when err is non-nil.
func (o *Orchestrator) Execute(ctx context.Context, job *models.Job) (models.ScrapingResult, error) {
	result := models.ScrapingResult{
		SourceID: job.SourceID,
		Metadata: map[string]interface{}{},
	}
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return result, fmt.Errorf("acquiring source slot: %w", err)
	}
	defer o.sem.Release(1)

	src, err := o.sources.GetActive(job.SourceID)
	if err != nil {
		o.recordError(ctx, &result, job.SourceID, err)
		return result, err
	}
	if job.CancelRequested() {
		return result, models.NewScrapeError(models.ErrValidation, "job cancelled before start", nil)
	}

	eng, err := o.engines.Get(src.Engine)
	if err != nil {
		o.recordError(ctx, &result, src.ID, err)
		return result, err
	}
	result.Metadata["engine"] = string(src.Engine)

	fetchCtx := ctx
	if o.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, o.cfg.FetchTimeout)
		defer cancel()
	}
	raws, err := eng.Fetch(fetchCtx, src)
	var pageErrs models.PageErrors
	if errors.As(err, &pageErrs) {
		// Partial fetch: the skipped pages are recorded, the job goes on.
		for _, pe := range pageErrs {
			o.recordError(ctx, &result, src.ID, pe)
		}
		err = nil
	}
	if err != nil {
		o.recordError(ctx, &result, src.ID, err)
		o.finish(src.ID, &result, start, false, err)
		return result, err
	}
	result.TotalFound = len(raws)

	if job.CancelRequested() {
		o.finish(src.ID, &result, start, false, nil)
		return result, models.NewScrapeError(models.ErrValidation, "job cancelled after fetch", nil)
	}

	grants, invalid := o.processBatch(src, raws, &result)
	result.Metadata["invalid"] = invalid

	before := len(grants)
	grants = dedup.DedupBatch(grants)
	result.Metadata["batch_duplicates"] = before - len(grants)

	if job.CancelRequested() {
		o.finish(src.ID, &result, start, false, nil)
		return result, models.NewScrapeError(models.ErrValidation, "job cancelled before store", nil)
	}

	o.persist(ctx, src, grants, &result)

	o.finish(src.ID, &result, start, len(result.Errors) == 0, nil)
	log.Printf("[orchestrator] %s: found=%d inserted=%d updated=%d skipped=%d errors=%d in %s",
		src.ID, result.TotalFound, result.TotalInserted, result.TotalUpdated, result.TotalSkipped, len(result.Errors), time.Since(start).Round(time.Millisecond))
	return result, nil
}

// processBatch runs process + validate + optional classify per item,
// skipping failures without aborting the job.
func (o *Orchestrator) processBatch(src models.Source, raws []models.RawGrant, result *models.ScrapingResult) (grants []models.Grant, invalid int) {
	for _, raw := range raws {
		grant, report := o.processor.Process(raw)
		grant.SourceID = src.ID
		if grant.Funder.Name == "" {
			grant.Funder.Name = src.Name
			grant.Funder.Type = src.Type
		}

		vr := o.validator.Validate(grant)
		if !vr.Valid {
			invalid++
			log.Printf("[orchestrator] %s: dropping invalid grant %q: %d errors (quality %d)", src.ID, grant.Title, len(vr.Errors), vr.QualityScore)
			continue
		}
		for _, warn := range report.Warnings {
			log.Printf("[orchestrator] %s: %q: %s", src.ID, grant.Title, warn)
		}

		if o.cfg.EnableClassifier {
			res := o.classifier.Classify(grant)
			grant.Category = res.Category
			grant.Tags = res.Tags
			grant.ContentHash = process.ContentHash(grant)
		}
		grants = append(grants, grant)
	}
	return grants, invalid
}

// persist upserts each grant, merging against near-duplicate known grants
// when cross-batch matching is on.
func (o *Orchestrator) persist(ctx context.Context, src models.Source, grants []models.Grant, result *models.ScrapingResult) {
	for i := range grants {
		grant := grants[i]

		if o.cfg.EnableCrossBatch {
			merged, err := o.crossBatchMerge(ctx, grant)
			if err != nil {
				o.recordError(ctx, result, src.ID, err)
			} else {
				grant = merged
			}
		}

		res, err := o.store.Upsert(ctx, grant)
		if err != nil {
			o.recordError(ctx, result, src.ID, models.NewScrapeError(models.ErrDatabase, fmt.Sprintf("upsert %q", grant.Title), err))
			continue
		}
		o.metrics.GrantHandled(src.ID, res.Action)
		switch res.Action {
		case ports.ActionInserted:
			result.TotalInserted++
		case ports.ActionUpdated:
			result.TotalUpdated++
			if res.Change != nil && res.Change.ChangeType == models.ChangeCritical {
				log.Printf("[orchestrator] %s: critical change on %q: %v", src.ID, grant.Title, res.Change.ChangedFields)
			}
		default:
			result.TotalSkipped++
		}
	}
}

// crossBatchMerge looks for a known near-duplicate and merges into it.
func (o *Orchestrator) crossBatchMerge(ctx context.Context, grant models.Grant) (models.Grant, error) {
	known, err := o.store.ListCandidatesForFunder(ctx, grant.Funder.Name, candidateLimit)
	if err != nil {
		return grant, models.NewScrapeError(models.ErrDatabase, "listing merge candidates", err)
	}
	matches := dedup.FindMatches(grant, known)
	if len(matches) == 0 {
		return grant, nil
	}
	best := matches[0]
	log.Printf("[orchestrator] merging %q into known grant %q (score %.2f: %v)", grant.Title, best.Known.Title, best.Score, best.Reasons)
	return dedup.Merge(best.Known, grant, process.ContentHash), nil
}

// recordError classifies, tracks, and counts one pipeline error.
// Authentication and database failures additionally page the alerter.
func (o *Orchestrator) recordError(ctx context.Context, result *models.ScrapingResult, sourceID string, err error) {
	t := models.ClassifyError(err)
	se := &models.ScrapeError{Type: t, SourceID: sourceID, Message: err.Error(), Err: err}
	result.Errors = append(result.Errors, se)

	o.tracker.Track(sourceID, se)
	o.metrics.ErrorOccurred(sourceID, t)

	if t == models.ErrAuthentication || t == models.ErrDatabase {
		if o.alerter != nil {
			subject := fmt.Sprintf("%s error on source %s", t, sourceID)
			if aerr := o.alerter.Notify(ctx, ports.SeverityCritical, subject, err.Error()); aerr != nil {
				log.Printf("[orchestrator] alert delivery failed: %v", aerr)
			}
		}
	}
}

// finish folds the outcome into source metrics and the duration histogram.
func (o *Orchestrator) finish(sourceID string, result *models.ScrapingResult, start time.Time, success bool, fatal error) {
	delta := source.MetricsDelta{
		Success: success,
		ParseMS: float64(time.Since(start).Milliseconds()),
	}
	if !success {
		if fatal != nil {
			delta.Error = fatal.Error()
		} else if len(result.Errors) > 0 {
			delta.Error = result.Errors[len(result.Errors)-1].Message
		}
	}
	if err := o.sources.UpdateMetrics(sourceID, delta); err != nil {
		log.Printf("[orchestrator] updating metrics for %s: %v", sourceID, err)
	}
	o.metrics.ScrapeCompleted(sourceID, time.Since(start).Seconds())
}

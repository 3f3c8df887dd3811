package orchestrate

import (
	"context"
	"testing"

	"github.com/david/grant-scraper/internal/models"
	"github.com/david/grant-scraper/internal/schedule"
)

func TestRunJobCompletesThroughScheduler(t *testing.T) {
	eng := &fakeEngine{kind: models.EngineStatic, raws: []models.RawGrant{validRaw("Community Garden Grant Program")}}
	o := newTestOrchestrator(Config{}, eng, newFakeStore(), &fakeAlerter{}, newFakeSources(staticSource()))
	sched := schedule.New(nil, schedule.Options{})
	r := NewRunner(RunnerOptions{}, sched, o, nil, nil)

	sched.Schedule("src-1", 5, 0)
	job := sched.NextReadyJob()
	if job == nil {
		t.Fatal("no job ready")
	}

	r.runJob(context.Background(), 0, job)

	if got := sched.Stats(); got.Completed != 1 || got.Running != 0 {
		t.Errorf("stats = %+v, want one completed", got)
	}
}

func TestRunJobFailureFeedsRetry(t *testing.T) {
	eng := &fakeEngine{kind: models.EngineStatic, err: models.NewScrapeError(models.ErrNetwork, "fetch failed", nil)}
	o := newTestOrchestrator(Config{}, eng, newFakeStore(), &fakeAlerter{}, newFakeSources(staticSource()))
	sched := schedule.New(nil, schedule.Options{RetryAttempts: 3})
	r := NewRunner(RunnerOptions{}, sched, o, nil, nil)

	sched.Schedule("src-1", 5, 0)
	job := sched.NextReadyJob()
	r.runJob(context.Background(), 0, job)

	if job.Status != models.JobPending || job.Attempts != 1 {
		t.Errorf("job = status %s attempts %d, want requeued for retry", job.Status, job.Attempts)
	}
}

func TestRunJobCancelled(t *testing.T) {
	eng := &fakeEngine{kind: models.EngineStatic}
	o := newTestOrchestrator(Config{}, eng, newFakeStore(), &fakeAlerter{}, newFakeSources(staticSource()))
	sched := schedule.New(nil, schedule.Options{})
	r := NewRunner(RunnerOptions{}, sched, o, nil, nil)

	sched.Schedule("src-1", 5, 0)
	job := sched.NextReadyJob()
	if err := sched.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	r.runJob(context.Background(), 0, job)

	if job.Status != models.JobCancelled {
		t.Errorf("status = %s, want cancelled", job.Status)
	}
	if got := sched.Stats(); got.Failed != 0 {
		t.Errorf("cancelled job landed in failed lane: %+v", got)
	}
}

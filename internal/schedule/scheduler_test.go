package schedule

import (
	"sync"
	"testing"
	"time"

	"github.com/david/grant-scraper/internal/models"
)

type fakeTimer struct {
	at time.Time
	ch chan time.Time
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	at := c.now.Add(d)
	if d <= 0 {
		ch <- at
		return ch
	}
	c.timers = append(c.timers, fakeTimer{at: at, ch: ch})
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var rest []fakeTimer
	for _, t := range c.timers {
		if !t.at.After(c.now) {
			t.ch <- c.now
		} else {
			rest = append(rest, t)
		}
	}
	c.timers = rest
	c.mu.Unlock()
}

func newTestScheduler(opts Options) (*Scheduler, *fakeClock) {
	clock := newFakeClock()
	return New(clock, opts), clock
}

func TestPrioritySelection(t *testing.T) {
	s, _ := newTestScheduler(Options{})

	s.Schedule("low", 1, 0)
	s.Schedule("high", 10, 0)
	s.Schedule("mid", 5, 0)

	want := []string{"high", "mid", "low"}
	for _, source := range want {
		job := s.NextReadyJob()
		if job == nil {
			t.Fatalf("no job ready, want %s", source)
		}
		if job.SourceID != source {
			t.Errorf("got %s, want %s", job.SourceID, source)
		}
		if job.Status != models.JobRunning || job.StartedAt == nil {
			t.Errorf("dequeued job not marked running: %+v", job)
		}
	}
	if job := s.NextReadyJob(); job != nil {
		t.Errorf("queue should be drained, got %s", job.SourceID)
	}
}

func TestFIFOWithinEqualPriority(t *testing.T) {
	s, clock := newTestScheduler(Options{})

	s.Schedule("first", 5, 0)
	clock.Advance(time.Second)
	s.Schedule("second", 5, 0)

	if job := s.NextReadyJob(); job.SourceID != "first" {
		t.Errorf("got %s, want first (earlier scheduled-at)", job.SourceID)
	}
	if job := s.NextReadyJob(); job.SourceID != "second" {
		t.Errorf("got %s, want second", job.SourceID)
	}
}

func TestDelayedJobBecomesReady(t *testing.T) {
	s, clock := newTestScheduler(Options{})

	s.Schedule("later", 5, time.Minute)
	if job := s.NextReadyJob(); job != nil {
		t.Fatalf("delayed job returned early: %s", job.SourceID)
	}

	clock.Advance(time.Minute)
	job := s.NextReadyJob()
	if job == nil || job.SourceID != "later" {
		t.Fatalf("delayed job not ready after delay elapsed: %+v", job)
	}
}

func TestDelayedJobDoesNotBlockReadyOnes(t *testing.T) {
	s, _ := newTestScheduler(Options{})

	s.Schedule("future-high", 10, time.Hour)
	s.Schedule("ready-low", 1, 0)

	job := s.NextReadyJob()
	if job == nil || job.SourceID != "ready-low" {
		t.Fatalf("ready job skipped: %+v", job)
	}
}

func TestRunningCap(t *testing.T) {
	s, _ := newTestScheduler(Options{MaxConcurrentJobs: 3})

	for i := 0; i < 4; i++ {
		s.Schedule("src", 5, 0)
	}

	var running []*models.Job
	for i := 0; i < 3; i++ {
		job := s.NextReadyJob()
		if job == nil {
			t.Fatalf("job %d not returned under cap", i)
		}
		running = append(running, job)
	}
	if job := s.NextReadyJob(); job != nil {
		t.Fatal("cap exceeded: fourth job returned")
	}

	if err := s.UpdateStatus(running[0].ID, models.JobCompleted, ""); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if job := s.NextReadyJob(); job == nil {
		t.Fatal("slot freed but no job returned")
	}
}

func TestRetryBackoffThenTerminal(t *testing.T) {
	s, clock := newTestScheduler(Options{RetryAttempts: 4})

	s.Schedule("flaky", 5, 0)

	wantDelays := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, want := range wantDelays {
		job := s.NextReadyJob()
		if job == nil {
			t.Fatalf("attempt %d: job not ready", i+1)
		}
		if err := s.UpdateStatus(job.ID, models.JobFailed, "boom"); err != nil {
			t.Fatalf("UpdateStatus: %v", err)
		}
		if job.RetryDelay != want {
			t.Errorf("attempt %d retry delay = %s, want %s", i+1, job.RetryDelay, want)
		}
		if job.Status != models.JobPending {
			t.Fatalf("attempt %d: job not requeued, status %s", i+1, job.Status)
		}
		if got := s.NextReadyJob(); got != nil {
			t.Fatalf("attempt %d: retry ready before backoff elapsed", i+1)
		}
		clock.Advance(want)
	}

	// Fourth attempt exhausts the budget.
	job := s.NextReadyJob()
	if job == nil {
		t.Fatal("final attempt not ready")
	}
	if err := s.UpdateStatus(job.ID, models.JobFailed, "boom"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if job.Status != models.JobFailed || job.Attempts != 4 {
		t.Errorf("job = status %s attempts %d, want failed/4", job.Status, job.Attempts)
	}
	if got := s.Stats(); got.Failed != 1 || got.Pending != 0 {
		t.Errorf("stats = %+v", got)
	}
}

func TestBackoffCap(t *testing.T) {
	s, _ := newTestScheduler(Options{})

	if got := s.backoff(1); got != time.Second {
		t.Errorf("backoff(1) = %s", got)
	}
	if got := s.backoff(3); got != 4*time.Second {
		t.Errorf("backoff(3) = %s", got)
	}
	if got := s.backoff(12); got != 5*time.Minute {
		t.Errorf("backoff(12) = %s, want the 5m cap", got)
	}
}

func TestCancelPendingJob(t *testing.T) {
	s, _ := newTestScheduler(Options{})

	keep := s.Schedule("keep", 5, 0)
	drop := s.Schedule("drop", 9, 0)

	if err := s.Cancel(drop.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if drop.Status != models.JobCancelled {
		t.Errorf("status = %s, want cancelled", drop.Status)
	}

	job := s.NextReadyJob()
	if job == nil || job.ID != keep.ID {
		t.Fatalf("got %+v, want the surviving job", job)
	}
	if s.NextReadyJob() != nil {
		t.Error("cancelled job still selectable")
	}
}

func TestCancelRunningJobSetsFlag(t *testing.T) {
	s, _ := newTestScheduler(Options{})

	s.Schedule("src", 5, 0)
	job := s.NextReadyJob()

	if err := s.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !job.CancelRequested() {
		t.Error("cancel flag not set on running job")
	}
	if job.Status != models.JobRunning {
		t.Errorf("running job pre-empted: %s", job.Status)
	}

	if err := s.UpdateStatus(job.ID, models.JobCancelled, "operator cancel"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if got := s.Stats(); got.Running != 0 {
		t.Errorf("running = %d after cancel", got.Running)
	}
}

func TestRecurringReschedules(t *testing.T) {
	s, clock := newTestScheduler(Options{})

	if _, err := s.ScheduleRecurring("daily-src", models.FreqDaily, 5); err != nil {
		t.Fatalf("ScheduleRecurring: %v", err)
	}
	if _, err := s.ScheduleRecurring("x", "fortnightly", 5); err == nil {
		t.Error("invalid frequency accepted")
	}

	job := s.NextReadyJob()
	if job == nil {
		t.Fatal("first occurrence not ready")
	}
	if err := s.UpdateStatus(job.ID, models.JobCompleted, ""); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	// The next occurrence exists but only becomes ready a day later.
	if got := s.Stats(); got.Pending != 1 {
		t.Fatalf("pending = %d, want rescheduled occurrence", got.Pending)
	}
	if s.NextReadyJob() != nil {
		t.Fatal("next occurrence ready too early")
	}
	clock.Advance(24 * time.Hour)
	next := s.NextReadyJob()
	if next == nil || next.SourceID != "daily-src" {
		t.Fatalf("next occurrence = %+v", next)
	}
	if next.ID == job.ID {
		t.Error("occurrence reused the finished job")
	}
}

func TestHealthCheckFailsStuckJobs(t *testing.T) {
	s, clock := newTestScheduler(Options{StuckTimeout: 30 * time.Minute, RetryAttempts: 3})

	s.Schedule("src", 5, 0)
	job := s.NextReadyJob()

	clock.Advance(10 * time.Minute)
	if stuck := s.HealthCheck(); len(stuck) != 0 {
		t.Fatalf("healthy job flagged: %v", stuck)
	}

	clock.Advance(25 * time.Minute)
	stuck := s.HealthCheck()
	if len(stuck) != 1 || stuck[0] != job.ID {
		t.Fatalf("stuck = %v, want [%s]", stuck, job.ID)
	}
	if job.Attempts != 1 || job.Status != models.JobPending {
		t.Errorf("stuck job not sent through retry: attempts %d status %s", job.Attempts, job.Status)
	}
}

func TestCleanupOldJobs(t *testing.T) {
	s, clock := newTestScheduler(Options{})

	old := s.Schedule("old", 5, 0)
	job := s.NextReadyJob()
	if err := s.UpdateStatus(job.ID, models.JobCompleted, ""); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	clock.Advance(48 * time.Hour)
	recent := s.Schedule("recent", 5, 0)
	job = s.NextReadyJob()
	if err := s.UpdateStatus(job.ID, models.JobCompleted, ""); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	removed := s.CleanupOldJobs(24 * time.Hour)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := s.Job(old.ID); ok {
		t.Error("old job still tracked")
	}
	if _, ok := s.Job(recent.ID); !ok {
		t.Error("recent job dropped")
	}
}

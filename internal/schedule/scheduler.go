// Package schedule owns the job queue: a priority heap of pending jobs, a
// capped running set, completed/failed lanes, and the retry/backoff machinery.
// All state is private to the Scheduler; workers interact through
// NextReadyJob and UpdateStatus only.
package schedule

import (
	"container/heap"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/david/grant-scraper/internal/models"
	"github.com/david/grant-scraper/internal/ports"
)

// Options bound the scheduler's concurrency and retry behavior.
type Options struct {
	MaxConcurrentJobs int
	RetryAttempts     int
	RetryBase         time.Duration
	BackoffMultiplier float64
	MaxRetryDelay     time.Duration
	StuckTimeout      time.Duration
}

// DefaultOptions mirror the daemon's configuration defaults.
func DefaultOptions() Options {
	return Options{
		MaxConcurrentJobs: 5,
		RetryAttempts:     3,
		RetryBase:         time.Second,
		BackoffMultiplier: 2,
		MaxRetryDelay:     5 * time.Minute,
		StuckTimeout:      30 * time.Minute,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxConcurrentJobs <= 0 {
		o.MaxConcurrentJobs = d.MaxConcurrentJobs
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = d.RetryAttempts
	}
	if o.RetryBase <= 0 {
		o.RetryBase = d.RetryBase
	}
	if o.BackoffMultiplier <= 1 {
		o.BackoffMultiplier = d.BackoffMultiplier
	}
	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = d.MaxRetryDelay
	}
	if o.StuckTimeout <= 0 {
		o.StuckTimeout = d.StuckTimeout
	}
	return o
}

// recurrence re-schedules a source after each completed run.
type recurrence struct {
	sourceID  string
	frequency models.Frequency
	priority  int
}

// Stats is a point-in-time snapshot of the queue lanes.
type Stats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Timers    int `json:"timers"`
}

// Scheduler is a single-producer multi-consumer job queue with priorities,
// retry backoff, and recurring schedules.
type Scheduler struct {
	mu sync.Mutex

	opts  Options
	clock ports.Clock

	pending   pendingQueue
	pendingIx map[string]*pqItem
	running   map[string]*models.Job
	completed []*models.Job
	failed    []*models.Job
	jobs      map[string]*models.Job
	recurring map[string]recurrence // jobID -> its recurrence
	timers    int

	notify chan struct{}
}

// New returns a Scheduler using the given clock for all time decisions.
func New(clock ports.Clock, opts Options) *Scheduler {
	if clock == nil {
		clock = ports.RealClock()
	}
	return &Scheduler{
		opts:      opts.withDefaults(),
		clock:     clock,
		pendingIx: make(map[string]*pqItem),
		running:   make(map[string]*models.Job),
		jobs:      make(map[string]*models.Job),
		recurring: make(map[string]recurrence),
		notify:    make(chan struct{}, 1),
	}
}

// Notifications pulses whenever a job may have become ready. Workers should
// poll NextReadyJob on pulse and on a coarse ticker.
func (s *Scheduler) Notifications() <-chan struct{} { return s.notify }

func (s *Scheduler) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Schedule enqueues a one-shot job for the source. With delay > 0 the job is
// held by a timer and becomes selectable once the delay elapses.
func (s *Scheduler) Schedule(sourceID string, priority int, delay time.Duration) *models.Job {
	now := s.clock.Now()
	job := &models.Job{
		ID:          uuid.NewString(),
		SourceID:    sourceID,
		ScheduledAt: now.Add(delay),
		Status:      models.JobPending,
		Priority:    models.ClampPriority(priority),
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.pendingIx[job.ID] = s.pending.push(job)
	if delay > 0 {
		s.timers++
	}
	s.mu.Unlock()

	if delay > 0 {
		go s.armTimer(delay)
	} else {
		s.signal()
	}
	log.Printf("[scheduler] scheduled job %s for %s (priority %d, delay %s)", job.ID, sourceID, job.Priority, delay)
	return job
}

// ScheduleRecurring enqueues the first run immediately and re-schedules the
// source at its frequency interval after each run finishes.
func (s *Scheduler) ScheduleRecurring(sourceID string, freq models.Frequency, priority int) (*models.Job, error) {
	if !models.ValidFrequency(freq) {
		return nil, fmt.Errorf("unknown frequency %q", freq)
	}
	job := s.Schedule(sourceID, priority, 0)
	s.mu.Lock()
	s.recurring[job.ID] = recurrence{sourceID: sourceID, frequency: freq, priority: priority}
	s.mu.Unlock()
	return job, nil
}

func (s *Scheduler) armTimer(delay time.Duration) {
	<-s.clock.After(delay)
	s.mu.Lock()
	if s.timers > 0 {
		s.timers--
	}
	s.mu.Unlock()
	s.signal()
}

// NextReadyJob atomically moves the best ready pending job to running and
// returns it. Returns nil when running is at cap or nothing is ready.
func (s *Scheduler) NextReadyJob() *models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.running) >= s.opts.MaxConcurrentJobs {
		return nil
	}

	now := s.clock.Now()
	var deferred []*pqItem
	var picked *pqItem
	for s.pending.Len() > 0 {
		item := heap.Pop(&s.pending).(*pqItem)
		if !item.job.ScheduledAt.After(now) {
			picked = item
			break
		}
		deferred = append(deferred, item)
	}
	for _, item := range deferred {
		heap.Push(&s.pending, item)
	}
	if picked == nil {
		return nil
	}

	job := picked.job
	delete(s.pendingIx, job.ID)
	started := now
	job.StartedAt = &started
	job.Status = models.JobRunning
	s.running[job.ID] = job
	return job
}

// UpdateStatus applies a worker-reported transition. Failed jobs with
// attempts remaining go back to pending after an exponential backoff.
func (s *Scheduler) UpdateStatus(jobID string, status models.JobStatus, errMsg string) error {
	s.mu.Lock()

	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %s not found", jobID)
	}

	var retryDelay time.Duration
	var rec *recurrence
	now := s.clock.Now()

	switch status {
	case models.JobCompleted:
		delete(s.running, jobID)
		job.Status = models.JobCompleted
		job.FinishedAt = &now
		s.completed = append(s.completed, job)
		rec = s.takeRecurrence(jobID)

	case models.JobFailed:
		delete(s.running, jobID)
		job.Attempts++
		job.LastError = errMsg
		if job.Attempts < s.opts.RetryAttempts && !job.CancelRequested() {
			retryDelay = s.backoff(job.Attempts)
			job.RetryDelay = retryDelay
			job.Status = models.JobPending
			job.StartedAt = nil
			job.ScheduledAt = now.Add(retryDelay)
			s.pendingIx[jobID] = s.pending.push(job)
			s.timers++
			log.Printf("[scheduler] job %s failed (attempt %d): %s, retrying in %s", jobID, job.Attempts, errMsg, retryDelay)
		} else {
			job.Status = models.JobFailed
			job.FinishedAt = &now
			s.failed = append(s.failed, job)
			rec = s.takeRecurrence(jobID)
			log.Printf("[scheduler] job %s failed permanently after %d attempts: %s", jobID, job.Attempts, errMsg)
		}

	case models.JobCancelled:
		job.RequestCancel()
		job.Status = models.JobCancelled
		job.FinishedAt = &now
		job.LastError = errMsg
		if item, ok := s.pendingIx[jobID]; ok {
			s.pending.remove(item)
			delete(s.pendingIx, jobID)
		}
		delete(s.running, jobID)
		s.takeRecurrence(jobID)

	default:
		s.mu.Unlock()
		return fmt.Errorf("unsupported transition to %q", status)
	}

	s.mu.Unlock()

	if retryDelay > 0 {
		go s.armTimer(retryDelay)
	}
	if rec != nil {
		next := s.Schedule(rec.sourceID, rec.priority, rec.frequency.Interval())
		s.mu.Lock()
		s.recurring[next.ID] = *rec
		s.mu.Unlock()
	}
	s.signal()
	return nil
}

// takeRecurrence pops the job's recurrence, if any. Caller holds s.mu.
func (s *Scheduler) takeRecurrence(jobID string) *recurrence {
	rec, ok := s.recurring[jobID]
	if !ok {
		return nil
	}
	delete(s.recurring, jobID)
	return &rec
}

func (s *Scheduler) backoff(attempt int) time.Duration {
	delay := s.opts.RetryBase
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * s.opts.BackoffMultiplier)
		if delay >= s.opts.MaxRetryDelay {
			return s.opts.MaxRetryDelay
		}
	}
	if delay > s.opts.MaxRetryDelay {
		delay = s.opts.MaxRetryDelay
	}
	return delay
}

// Cancel removes a pending job immediately or flags a running one; running
// jobs observe the flag at their next suspension point.
func (s *Scheduler) Cancel(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	if job.Terminal() {
		return fmt.Errorf("job %s already %s", jobID, job.Status)
	}

	job.RequestCancel()
	if item, ok := s.pendingIx[jobID]; ok {
		s.pending.remove(item)
		delete(s.pendingIx, jobID)
		now := s.clock.Now()
		job.Status = models.JobCancelled
		job.FinishedAt = &now
		s.takeRecurrence(jobID)
		log.Printf("[scheduler] cancelled pending job %s", jobID)
	} else {
		log.Printf("[scheduler] cancel requested for running job %s", jobID)
	}
	return nil
}

// Job returns the tracked job by ID.
func (s *Scheduler) Job(jobID string) (*models.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	return job, ok
}

// HealthCheck fails running jobs that have exceeded the stuck timeout and
// returns their IDs. Stuck jobs go through the normal retry path.
func (s *Scheduler) HealthCheck() []string {
	s.mu.Lock()
	now := s.clock.Now()
	var stuck []string
	for id, job := range s.running {
		if job.StartedAt != nil && now.Sub(*job.StartedAt) > s.opts.StuckTimeout {
			stuck = append(stuck, id)
		}
	}
	s.mu.Unlock()

	for _, id := range stuck {
		if err := s.UpdateStatus(id, models.JobFailed, fmt.Sprintf("stuck: running longer than %s", s.opts.StuckTimeout)); err != nil {
			log.Printf("[scheduler] failing stuck job %s: %v", id, err)
		}
	}
	return stuck
}

// CleanupOldJobs drops completed and failed jobs finished before now-maxAge
// and returns how many were removed.
func (s *Scheduler) CleanupOldJobs(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().Add(-maxAge)
	removed := 0
	keep := func(lane []*models.Job) []*models.Job {
		out := lane[:0]
		for _, job := range lane {
			if job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
				delete(s.jobs, job.ID)
				removed++
				continue
			}
			out = append(out, job)
		}
		return out
	}
	s.completed = keep(s.completed)
	s.failed = keep(s.failed)
	if removed > 0 {
		log.Printf("[scheduler] cleaned up %d old jobs", removed)
	}
	return removed
}

// Stats snapshots lane sizes for the admin surface.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Pending:   s.pending.Len(),
		Running:   len(s.running),
		Completed: len(s.completed),
		Failed:    len(s.failed),
		Timers:    s.timers,
	}
}

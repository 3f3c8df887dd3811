package orchestrate

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/david/grant-scraper/internal/models"
	"github.com/david/grant-scraper/internal/obs"
	"github.com/david/grant-scraper/internal/ports"
	"github.com/david/grant-scraper/internal/schedule"
)

// RunnerOptions size the worker pool and housekeeping cadence.
type RunnerOptions struct {
	Workers             int
	PollInterval        time.Duration
	HealthCheckInterval time.Duration
	JobRetention        time.Duration
}

func (o RunnerOptions) withDefaults() RunnerOptions {
	if o.Workers <= 0 {
		o.Workers = 5
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.HealthCheckInterval <= 0 {
		o.HealthCheckInterval = time.Minute
	}
	if o.JobRetention <= 0 {
		o.JobRetention = 24 * time.Hour
	}
	return o
}

// Runner drives N workers over the scheduler queue: NextReadyJob, Execute,
// UpdateStatus. It also runs the scheduler's periodic housekeeping.
type Runner struct {
	opts    RunnerOptions
	sched   *schedule.Scheduler
	orch    *Orchestrator
	clock   ports.Clock
	metrics *obs.Metrics

	// OnResult, when set, receives every finished job's result (e.g. for
	// scrape_runs accounting).
	OnResult func(ctx context.Context, jobID string, result models.ScrapingResult)
}

// NewRunner wires a Runner over the scheduler and orchestrator.
func NewRunner(opts RunnerOptions, sched *schedule.Scheduler, orch *Orchestrator, clock ports.Clock, metrics *obs.Metrics) *Runner {
	if clock == nil {
		clock = ports.RealClock()
	}
	if metrics == nil {
		metrics = obs.NewMetrics()
	}
	return &Runner{opts: opts.withDefaults(), sched: sched, orch: orch, clock: clock, metrics: metrics}
}

// Run blocks until ctx is cancelled, then waits for in-flight jobs.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < r.opts.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.worker(ctx, id)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.housekeeping(ctx)
	}()

	<-ctx.Done()
	log.Printf("[runner] shutting down, waiting for workers")
	wg.Wait()
}

func (r *Runner) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.sched.Notifications():
		case <-r.clock.After(r.opts.PollInterval):
		}

		for {
			job := r.sched.NextReadyJob()
			if job == nil {
				break
			}
			r.runJob(ctx, id, job)
		}
	}
}

func (r *Runner) runJob(ctx context.Context, workerID int, job *models.Job) {
	log.Printf("[runner] worker %d picked job %s (source %s)", workerID, job.ID, job.SourceID)
	r.metrics.JobStarted()

	result, err := r.orch.Execute(ctx, job)
	if r.OnResult != nil {
		r.OnResult(ctx, job.ID, result)
	}

	status := models.JobCompleted
	errMsg := ""
	switch {
	case job.CancelRequested():
		status = models.JobCancelled
		errMsg = "cancelled"
	case err != nil:
		status = models.JobFailed
		errMsg = err.Error()
	}
	r.metrics.JobFinished(status)

	if uerr := r.sched.UpdateStatus(job.ID, status, errMsg); uerr != nil {
		log.Printf("[runner] updating job %s: %v", job.ID, uerr)
	}
	if status == models.JobCompleted {
		log.Printf("[runner] job %s done: %d found, %d inserted", job.ID, result.TotalFound, result.TotalInserted)
	}
}

func (r *Runner) housekeeping(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(r.opts.HealthCheckInterval):
		}
		if stuck := r.sched.HealthCheck(); len(stuck) > 0 {
			log.Printf("[runner] failed %d stuck jobs: %v", len(stuck), stuck)
		}
		r.sched.CleanupOldJobs(r.opts.JobRetention)
	}
}

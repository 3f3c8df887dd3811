// scraperd is the scraping daemon: it seeds the source registry, schedules
// recurring scrapes, runs the worker pool, and serves /healthz and /metrics.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/david/grant-scraper/internal/alert"
	"github.com/david/grant-scraper/internal/config"
	"github.com/david/grant-scraper/internal/engine"
	"github.com/david/grant-scraper/internal/models"
	"github.com/david/grant-scraper/internal/obs"
	"github.com/david/grant-scraper/internal/orchestrate"
	"github.com/david/grant-scraper/internal/ports"
	"github.com/david/grant-scraper/internal/process"
	"github.com/david/grant-scraper/internal/schedule"
	"github.com/david/grant-scraper/internal/source"
	"github.com/david/grant-scraper/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	clock := ports.RealClock()

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[scraperd] database: %v", err)
	}
	defer pool.Close()
	if err := store.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("[scraperd] migrations: %v", err)
	}
	grantStore := store.New(pool)

	manager := source.NewManager(clock)
	if err := manager.SeedFromFile(ctx, cfg.SourcesFile); err != nil {
		log.Fatalf("[scraperd] source registry: %v", err)
	}

	limiter := engine.NewSourceLimiter()
	robots := engine.NewRobotsChecker()
	factory := engine.NewFactory()
	factory.Register(engine.NewStaticEngine(limiter, robots))
	factory.Register(engine.NewBrowserEngine(limiter))
	factory.Register(engine.NewAPIEngine(limiter))
	factory.Register(engine.NewPDFEngine(limiter, cfg.OCRLanguage))

	metrics := obs.NewMetrics()
	tracker := obs.NewErrorTracker(clock)

	var alerter ports.Alerter = alert.LogAlerter{}
	if cfg.SlackWebhookURL != "" {
		alerter = alert.Fanout{alert.LogAlerter{}, alert.NewSlackAlerter(cfg.SlackWebhookURL, "")}
	}

	sched := schedule.New(clock, schedule.Options{
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		RetryAttempts:     cfg.RetryAttempts,
		RetryBase:         cfg.RetryBaseDelay,
		MaxRetryDelay:     cfg.RetryMaxDelay,
		StuckTimeout:      cfg.StuckTimeout,
	})

	orch := orchestrate.New(orchestrate.Config{
		MaxConcurrentSources: int64(cfg.MaxConcurrentSrcs),
		EnableClassifier:     cfg.ClassifierEnabled,
		EnableCrossBatch:     cfg.CrossBatchDedup,
		FetchTimeout:         cfg.EngineTimeout,
		Processor:            process.Options{CurrencyRates: cfg.CurrencyRates},
	}, manager, factory, grantStore, alerter, tracker, metrics)

	runner := orchestrate.NewRunner(orchestrate.RunnerOptions{
		Workers:             cfg.MaxConcurrentJobs,
		HealthCheckInterval: cfg.HealthCheckInterval,
		JobRetention:        cfg.JobRetention,
	}, sched, orch, clock, metrics)
	runner.OnResult = func(ctx context.Context, jobID string, result models.ScrapingResult) {
		if err := grantStore.RecordRun(ctx, jobID, result); err != nil {
			log.Printf("[scraperd] recording run for job %s: %v", jobID, err)
		}
	}

	for _, src := range manager.ListActive() {
		if _, err := sched.ScheduleRecurring(src.ID, src.Frequency, 5); err != nil {
			log.Printf("[scraperd] scheduling %s: %v", src.ID, err)
		}
	}

	go persistSourceMetrics(ctx, manager, grantStore, cfg.HealthCheckInterval)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: routes(sched, tracker, metrics)}
	go func() {
		log.Printf("[scraperd] listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[scraperd] http server: %v", err)
		}
	}()

	runner.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[scraperd] shutdown: %v", err)
	}
	log.Printf("[scraperd] stopped")
}

func routes(sched *schedule.Scheduler, tracker *obs.ErrorTracker, metrics *obs.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"queue":  sched.Stats(),
			"errors": tracker.CountByType(),
		})
	})
	return mux
}

// persistSourceMetrics snapshots every source's rolling metrics to Postgres
// on the health-check cadence.
func persistSourceMetrics(ctx context.Context, manager *source.Manager, st *store.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, src := range manager.ListActive() {
			if err := st.SaveSourceMetrics(ctx, src); err != nil {
				log.Printf("[scraperd] persisting metrics for %s: %v", src.ID, err)
			}
		}
	}
}

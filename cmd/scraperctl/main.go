// scraperctl is the admin CLI: list-sources, scrape (one-shot), schedule,
// health, and stats.
//
// Exit codes: 0 success, 1 config/validation error, 2 runtime failure,
// 3 source not found.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/david/grant-scraper/internal/alert"
	"github.com/david/grant-scraper/internal/config"
	"github.com/david/grant-scraper/internal/engine"
	"github.com/david/grant-scraper/internal/models"
	"github.com/david/grant-scraper/internal/orchestrate"
	"github.com/david/grant-scraper/internal/process"
	"github.com/david/grant-scraper/internal/source"
	"github.com/david/grant-scraper/internal/store"
)

const (
	exitOK         = 0
	exitConfig     = 1
	exitRuntime    = 2
	exitNoSource   = 3
	usageText      = "usage: scraperctl <list-sources | scrape <source-id> | schedule <source-id> <frequency> | health <source-id> | stats>"
	scrapeDeadline = 10 * time.Minute
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, usageText)
		return exitConfig
	}

	cfg := config.Load()
	ctx := context.Background()

	switch args[0] {
	case "list-sources":
		return listSources(cfg)
	case "scrape":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: scraperctl scrape <source-id>")
			return exitConfig
		}
		return scrape(ctx, cfg, args[1])
	case "schedule":
		if len(args) != 3 {
			fmt.Fprintln(os.Stderr, "usage: scraperctl schedule <source-id> <frequency>")
			return exitConfig
		}
		return reschedule(cfg, args[1], models.Frequency(args[2]))
	case "health":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: scraperctl health <source-id>")
			return exitConfig
		}
		return health(ctx, cfg, args[1])
	case "stats":
		return stats(ctx, cfg)
	default:
		fmt.Fprintln(os.Stderr, usageText)
		return exitConfig
	}
}

func loadManager(cfg config.Config) (*source.Manager, error) {
	manager := source.NewManager(nil)
	if err := manager.SeedFromFile(context.Background(), cfg.SourcesFile); err != nil {
		return nil, err
	}
	return manager, nil
}

func listSources(cfg config.Config) int {
	reg, err := source.LoadRegistry(cfg.SourcesFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading registry: %v\n", err)
		return exitConfig
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"ID", "Name", "Engine", "Type", "Frequency", "URL"})
	for _, src := range reg.Sources {
		freq := src.Frequency
		if freq == "" {
			freq = models.FreqDaily
		}
		t.AppendRow(table.Row{src.ID, src.Name, src.Engine, src.Type, freq, src.URL})
	}
	t.Render()
	return exitOK
}

func scrape(ctx context.Context, cfg config.Config, sourceID string) int {
	manager, err := loadManager(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading sources: %v\n", err)
		return exitConfig
	}
	if _, err := manager.Get(sourceID); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitNoSource
	}

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database: %v\n", err)
		return exitRuntime
	}
	defer pool.Close()
	if err := store.ApplyMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "migrations: %v\n", err)
		return exitRuntime
	}
	grantStore := store.New(pool)

	limiter := engine.NewSourceLimiter()
	factory := engine.NewFactory()
	factory.Register(engine.NewStaticEngine(limiter, engine.NewRobotsChecker()))
	factory.Register(engine.NewBrowserEngine(limiter))
	factory.Register(engine.NewAPIEngine(limiter))
	factory.Register(engine.NewPDFEngine(limiter, cfg.OCRLanguage))

	orch := orchestrate.New(orchestrate.Config{
		MaxConcurrentSources: 1,
		EnableClassifier:     cfg.ClassifierEnabled,
		EnableCrossBatch:     cfg.CrossBatchDedup,
		FetchTimeout:         cfg.EngineTimeout,
		Processor:            process.Options{CurrencyRates: cfg.CurrencyRates},
	}, manager, factory, grantStore, alert.LogAlerter{}, nil, nil)

	ctx, cancel := context.WithTimeout(ctx, scrapeDeadline)
	defer cancel()

	job := &models.Job{ID: "manual-" + sourceID, SourceID: sourceID, Status: models.JobRunning, Priority: 10}
	result, err := orch.Execute(ctx, job)
	printResult(result)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scrape failed: %v\n", err)
		return exitRuntime
	}
	return exitOK
}

func printResult(result models.ScrapingResult) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Source", "Found", "Inserted", "Updated", "Skipped", "Errors", "Duration"})
	t.AppendRow(table.Row{
		result.SourceID, result.TotalFound, result.TotalInserted,
		result.TotalUpdated, result.TotalSkipped, len(result.Errors),
		result.Duration.Round(time.Millisecond),
	})
	t.Render()
	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "  error: %s\n", e.Error())
	}
}

// reschedule rewrites the source's frequency in the registry file; scraperd
// picks it up on restart.
func reschedule(cfg config.Config, sourceID string, freq models.Frequency) int {
	if !models.ValidFrequency(freq) {
		fmt.Fprintf(os.Stderr, "unknown frequency %q (hourly|daily|weekly|monthly)\n", freq)
		return exitConfig
	}
	reg, err := source.LoadRegistry(cfg.SourcesFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading registry: %v\n", err)
		return exitConfig
	}

	found := false
	for i := range reg.Sources {
		if reg.Sources[i].ID == sourceID {
			reg.Sources[i].Frequency = freq
			found = true
		}
	}
	if !found {
		fmt.Fprintf(os.Stderr, "source %s not found in %s\n", sourceID, cfg.SourcesFile)
		return exitNoSource
	}

	data, err := yaml.Marshal(reg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encoding registry: %v\n", err)
		return exitRuntime
	}
	if err := os.WriteFile(cfg.SourcesFile, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "writing registry: %v\n", err)
		return exitRuntime
	}
	fmt.Printf("source %s rescheduled to %s (restart scraperd to apply)\n", sourceID, freq)
	return exitOK
}

func health(ctx context.Context, cfg config.Config, sourceID string) int {
	manager, err := loadManager(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading sources: %v\n", err)
		return exitConfig
	}

	res, err := manager.HealthCheck(ctx, sourceID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return exitNoSource
		}
		fmt.Fprintf(os.Stderr, "health check: %v\n", err)
		return exitRuntime
	}

	status := "healthy"
	if !res.Healthy {
		status = "unhealthy"
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Source", "Status", "HTTP", "Response Time", "Error"})
	t.AppendRow(table.Row{sourceID, status, res.StatusCode, fmt.Sprintf("%dms", res.ResponseTimeMS), res.Error})
	t.Render()

	if !res.Healthy {
		return exitRuntime
	}
	return exitOK
}

func stats(ctx context.Context, cfg config.Config) int {
	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database: %v\n", err)
		return exitRuntime
	}
	defer pool.Close()

	rows, err := store.New(pool).SummarizeRuns(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stats: %v\n", err)
		return exitRuntime
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Source", "Runs", "Found", "Inserted", "Updated", "Errors", "Avg Duration", "Last Run"})
	for _, st := range rows {
		last := ""
		if st.LastFinishedAt != nil {
			last = st.LastFinishedAt.Format("2006-01-02 15:04")
		}
		t.AppendRow(table.Row{
			st.SourceID, st.Runs, st.TotalFound, st.TotalInserted, st.TotalUpdated,
			st.ErrorCount, fmt.Sprintf("%.0fms", st.AvgDurationMS), last,
		})
	}
	t.Render()
	return exitOK
}

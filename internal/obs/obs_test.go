package obs

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/david/grant-scraper/internal/models"
	"github.com/david/grant-scraper/internal/ports"
)

func TestErrorTrackerCountsAndClassifies(t *testing.T) {
	tr := NewErrorTracker(nil)

	tr.Track("src-a", models.NewScrapeError(models.ErrAuthentication, "401 from api", nil))
	tr.Track("src-a", errors.New("request timed out: rate limit exceeded"))
	tr.Track("src-b", errors.New("no containers matched selector div.grant"))

	byType := tr.CountByType()
	if byType[models.ErrAuthentication] != 1 || byType[models.ErrRateLimit] != 1 || byType[models.ErrContentChanged] != 1 {
		t.Errorf("byType = %v", byType)
	}
	bySource := tr.CountBySource()
	if bySource["src-a"] != 2 || bySource["src-b"] != 1 {
		t.Errorf("bySource = %v", bySource)
	}
}

func TestErrorTrackerRecentRing(t *testing.T) {
	tr := NewErrorTracker(nil)
	tr.recentCap = 5

	for i := 0; i < 8; i++ {
		tr.Track("src", fmt.Errorf("failure %d", i))
	}

	recent := tr.Recent(0)
	if len(recent) != 5 {
		t.Fatalf("recent = %d records, want 5", len(recent))
	}
	if recent[0].Message != "failure 3" || recent[4].Message != "failure 7" {
		t.Errorf("ring window wrong: first=%q last=%q", recent[0].Message, recent[4].Message)
	}

	last2 := tr.Recent(2)
	if len(last2) != 2 || last2[1].Message != "failure 7" {
		t.Errorf("Recent(2) = %v", last2)
	}
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.JobStarted()
	m.JobStarted()
	if got := testutil.ToFloat64(m.jobsRunning); got != 2 {
		t.Errorf("running = %v, want 2", got)
	}
	m.JobFinished(models.JobCompleted)
	if got := testutil.ToFloat64(m.jobsRunning); got != 1 {
		t.Errorf("running = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.jobsTotal.WithLabelValues("completed")); got != 1 {
		t.Errorf("completed total = %v", got)
	}

	m.GrantHandled("src-a", ports.ActionInserted)
	m.GrantHandled("src-a", ports.ActionInserted)
	m.GrantHandled("src-a", ports.ActionSkipped)
	if got := testutil.ToFloat64(m.grantsTotal.WithLabelValues("src-a", "inserted")); got != 2 {
		t.Errorf("inserted = %v", got)
	}

	m.ErrorOccurred("src-a", models.ErrNetwork)
	if got := testutil.ToFloat64(m.errorsTotal.WithLabelValues("network", "src-a")); got != 1 {
		t.Errorf("errors = %v", got)
	}
}

func TestMetricsHandlerServes(t *testing.T) {
	m := NewMetrics()
	m.ScrapeCompleted("src-a", 2.5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "scraper_scrape_duration_seconds") {
		t.Errorf("histogram missing from exposition:\n%s", body)
	}
}

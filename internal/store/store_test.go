package store

import (
	"strings"
	"testing"
	"time"

	"github.com/david/grant-scraper/internal/models"
	"github.com/david/grant-scraper/internal/ports"
)

func storedGrant() models.Grant {
	deadline := time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)
	return models.Grant{
		Title:         "Community Garden Grant Program",
		Description:   "Funding to expand community garden plots across the county.",
		Deadline:      &deadline,
		ContentHash:   strings.Repeat("a", 64),
		DuplicateHash: strings.Repeat("b", 32),
	}
}

func TestDecideAction(t *testing.T) {
	curr := storedGrant()

	action, change := decideAction(nil, curr)
	if action != ports.ActionInserted || change != nil {
		t.Errorf("no previous = %s/%v, want inserted", action, change)
	}

	same := curr
	action, change = decideAction(&same, curr)
	if action != ports.ActionSkipped || change != nil {
		t.Errorf("identical content = %s/%v, want skipped", action, change)
	}

	prev := curr
	prev.ContentHash = strings.Repeat("c", 64)
	later := prev.Deadline.Add(14 * 24 * time.Hour)
	prev.Deadline = &later
	action, change = decideAction(&prev, curr)
	if action != ports.ActionUpdated {
		t.Fatalf("changed content = %s, want updated", action)
	}
	if change == nil || change.ChangeType != models.ChangeCritical {
		t.Errorf("deadline change = %+v, want a critical record", change)
	}
}

func TestGrantColumnListMatchesScan(t *testing.T) {
	// scanGrant binds 22 destinations; the column list must stay in step.
	cols := strings.Split(grantCols, ",")
	if len(cols) != 22 {
		t.Errorf("grantCols has %d columns, scanGrant expects 22", len(cols))
	}
	for _, required := range []string{"content_hash", "duplicate_hash", "funder_name", "scraped_at"} {
		if !strings.Contains(grantCols, required) {
			t.Errorf("grantCols missing %s", required)
		}
	}
}

func TestNullable(t *testing.T) {
	if nullable("") != nil {
		t.Error("empty string should map to NULL")
	}
	if v := nullable("x"); v == nil || *v != "x" {
		t.Error("non-empty string lost")
	}
}

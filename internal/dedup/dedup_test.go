package dedup

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/david/grant-scraper/internal/models"
)

func TestDedupBatch(t *testing.T) {
	grants := []models.Grant{
		{Title: "A", DuplicateHash: "h1"},
		{Title: "B", DuplicateHash: "h2"},
		{Title: "A copy", DuplicateHash: "h1"},
		{Title: "C", DuplicateHash: "h3"},
		{Title: "B copy", DuplicateHash: "h2"},
	}
	out := DedupBatch(grants)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	if out[0].Title != "A" || out[1].Title != "B" || out[2].Title != "C" {
		t.Errorf("wrong survivors or order: %v", out)
	}

	seen := map[string]int{}
	for _, g := range out {
		seen[g.DuplicateHash]++
	}
	for h, n := range seen {
		if n > 1 {
			t.Errorf("hash %s appears %d times", h, n)
		}
	}
}

func TestDedupBatchEmpty(t *testing.T) {
	if out := DedupBatch(nil); len(out) != 0 {
		t.Errorf("DedupBatch(nil) = %v", out)
	}
}

func TestScoreStrongMatch(t *testing.T) {
	deadline := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	near := deadline.Add(3 * 24 * time.Hour)
	amt := int64(50000)
	a := models.Grant{
		Title:     "Community Health Initiative Grant",
		Funder:    models.Funder{Name: "Valley Health Foundation"},
		Deadline:  &deadline,
		AmountMax: &amt,
	}
	b := models.Grant{
		Title:     "Community Health Initiative Grants",
		Funder:    models.Funder{Name: "Valley Health Foundation"},
		Deadline:  &near,
		AmountMax: &amt,
	}
	score, reasons := Score(a, b)
	if score < MatchThreshold {
		t.Fatalf("score = %.2f, want >= %.2f", score, MatchThreshold)
	}
	if len(reasons) < 3 {
		t.Errorf("reasons = %v, want title, funder, deadline contributions", reasons)
	}
}

func TestScoreNonMatch(t *testing.T) {
	d1 := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	a1, a2 := int64(5000), int64(2000000)
	a := models.Grant{Title: "Rural Broadband Expansion", Funder: models.Funder{Name: "FCC"}, Deadline: &d1, AmountMax: &a1}
	b := models.Grant{Title: "Arts Fellowship for Emerging Sculptors", Funder: models.Funder{Name: "National Endowment"}, Deadline: &d2, AmountMax: &a2}
	score, _ := Score(a, b)
	if score >= MatchThreshold {
		t.Errorf("score = %.2f for unrelated grants, want < %.2f", score, MatchThreshold)
	}
}

func TestFindMatchesSorted(t *testing.T) {
	deadline := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	amt := int64(50000)
	candidate := models.Grant{Title: "Community Health Grant", Funder: models.Funder{Name: "Valley Foundation"}, Deadline: &deadline, AmountMax: &amt}
	known := []models.Grant{
		{Title: "Totally Different Program", Funder: models.Funder{Name: "Other Org"}},
		{Title: "Community Health Grant", Funder: models.Funder{Name: "Valley Foundation"}, Deadline: &deadline, AmountMax: &amt},
		{Title: "Community Health Grants", Funder: models.Funder{Name: "Valley Foundation"}, Deadline: &deadline, AmountMax: &amt},
	}
	matches := FindMatches(candidate, known)
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}
	if matches[0].Score < matches[1].Score {
		t.Error("matches not sorted best first")
	}
	if matches[0].Known.Title != "Community Health Grant" {
		t.Errorf("best match = %q, want exact title", matches[0].Known.Title)
	}
}

func TestDetectChangesIdenticalHashes(t *testing.T) {
	g := models.Grant{Title: "Same", ContentHash: "abc"}
	if rec := DetectChanges(g, g); rec != nil {
		t.Errorf("identical hashes produced record %+v", rec)
	}
}

func TestDetectChangesClassification(t *testing.T) {
	base := func() models.Grant {
		d := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
		min, max := int64(1000), int64(5000)
		return models.Grant{
			Title:          "Grant",
			Description:    "A description of this program.",
			Deadline:       &d,
			AmountMin:      &min,
			AmountMax:      &max,
			ApplicationURL: "https://example.org/apply",
			Funder:         models.Funder{Name: "Funder"},
			Category:       models.CategoryCommunity,
			ContentHash:    "hash-a",
		}
	}

	tests := []struct {
		name      string
		mutate    func(*models.Grant)
		wantField string
		wantType  models.ChangeType
	}{
		{"deadline", func(g *models.Grant) {
			d := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
			g.Deadline = &d
		}, "deadline", models.ChangeCritical},
		{"amount", func(g *models.Grant) {
			max := int64(9000)
			g.AmountMax = &max
		}, "amount_max", models.ChangeCritical},
		{"url", func(g *models.Grant) { g.ApplicationURL = "https://example.org/new" }, "application_url", models.ChangeCritical},
		{"title", func(g *models.Grant) { g.Title = "Renamed Grant" }, "title", models.ChangeMajor},
		{"funder", func(g *models.Grant) { g.Funder.Name = "New Funder" }, "funder", models.ChangeMajor},
		{"description", func(g *models.Grant) { g.Description = "Reworded description of the program." }, "description", models.ChangeMinor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := base()
			curr := base()
			tt.mutate(&curr)
			curr.ContentHash = "hash-b"

			rec := DetectChanges(prev, curr)
			if rec == nil {
				t.Fatal("no change record")
			}
			if rec.ChangeType != tt.wantType {
				t.Errorf("type = %s, want %s", rec.ChangeType, tt.wantType)
			}
			found := false
			for _, f := range rec.ChangedFields {
				if f == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("fields = %v, missing %s", rec.ChangedFields, tt.wantField)
			}
		})
	}
}

func TestDetectChangesCarriesGrantID(t *testing.T) {
	id := uuid.New()
	prev := models.Grant{Title: "Before", ContentHash: "a"}
	curr := models.Grant{ID: id, Title: "After", ContentHash: "b"}
	rec := DetectChanges(prev, curr)
	if rec == nil {
		t.Fatal("hashes differ, expected a record")
	}
	if rec.GrantID != id.String() {
		t.Errorf("GrantID = %q, want %q", rec.GrantID, id.String())
	}
}

func TestDetectChangesLocationOrderInsensitive(t *testing.T) {
	prev := models.Grant{ContentHash: "a", LocationEligibility: []string{"Texas", "California"}}
	curr := models.Grant{ContentHash: "b", LocationEligibility: []string{"California", "Texas"}}
	rec := DetectChanges(prev, curr)
	if rec == nil {
		t.Fatal("hashes differ, expected a record")
	}
	for _, f := range rec.ChangedFields {
		if f == "location_eligibility" {
			t.Error("reordered locations flagged as changed")
		}
	}
}

func TestMerge(t *testing.T) {
	d1 := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	min1, max1 := int64(1000), int64(40000)
	min2, max2 := int64(2000), int64(50000)

	a := models.Grant{
		Title:               "Health Grant",
		Description:         "Short.................................",
		Deadline:            &d1,
		AmountMin:           &min1,
		AmountMax:           &max1,
		LocationEligibility: []string{"California"},
		ConfidenceScore:     70,
		ApplicationURL:      "https://foundation.example.org/some/long/apply/path",
		Funder:              models.Funder{Name: "Foundation", Type: models.SourceFoundation},
	}
	b := models.Grant{
		Title:               "Community Health Improvement Grant",
		Description:         "A much longer description with substantially more detail about the program.",
		Deadline:            &d2,
		AmountMin:           &min2,
		AmountMax:           &max2,
		LocationEligibility: []string{"Texas"},
		ConfidenceScore:     90,
		ApplicationURL:      "https://grants.gov/apply",
		Funder:              models.Funder{Name: "Agency", Type: models.SourceGov},
	}

	rehashed := false
	merged := Merge(a, b, func(models.Grant) string {
		rehashed = true
		return "rehashed"
	})

	if merged.Title != b.Title {
		t.Errorf("title = %q, want longer title", merged.Title)
	}
	if merged.Deadline == nil || !merged.Deadline.Equal(d2) {
		t.Errorf("deadline = %v, want later %v", merged.Deadline, d2)
	}
	if *merged.AmountMin != 2000 || *merged.AmountMax != 50000 {
		t.Errorf("amounts = %d/%d, want 2000/50000", *merged.AmountMin, *merged.AmountMax)
	}
	if len(merged.LocationEligibility) != 2 {
		t.Errorf("locations = %v, want union", merged.LocationEligibility)
	}
	if merged.ConfidenceScore != 90 {
		t.Errorf("confidence = %d, want 90", merged.ConfidenceScore)
	}
	if merged.ApplicationURL != "https://grants.gov/apply" {
		t.Errorf("url = %q, want government URL", merged.ApplicationURL)
	}
	if !rehashed || merged.ContentHash != "rehashed" {
		t.Error("content hash not regenerated")
	}
}

func TestMergeURLTieBreakShorter(t *testing.T) {
	a := models.Grant{ApplicationURL: "https://example.org/grants/2026/apply/form", Funder: models.Funder{Type: models.SourceFoundation}}
	b := models.Grant{ApplicationURL: "https://example.org/apply", Funder: models.Funder{Type: models.SourceFoundation}}
	merged := Merge(a, b, nil)
	if merged.ApplicationURL != "https://example.org/apply" {
		t.Errorf("url = %q, want shorter", merged.ApplicationURL)
	}
}

func TestTitleSimilarity(t *testing.T) {
	if s := titleSimilarity("Community Grant", "Community Grant"); s != 1 {
		t.Errorf("identical similarity = %.2f, want 1", s)
	}
	if s := titleSimilarity("", ""); s != 1 {
		t.Errorf("empty similarity = %.2f, want 1", s)
	}
	if s := titleSimilarity("abc", ""); s != 0 {
		t.Errorf("one-empty similarity = %.2f, want 0", s)
	}
	if s := titleSimilarity("Community Grant", "community grant"); s != 1 {
		t.Errorf("case-insensitive similarity = %.2f, want 1", s)
	}
}

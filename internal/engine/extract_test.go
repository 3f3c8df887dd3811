package engine

import (
	"errors"
	"testing"

	"github.com/david/grant-scraper/internal/models"
)

const listingHTML = `
<html><body>
<div class="grant">
  <h3 class="title">Community Health Grant</h3>
  <p class="desc">Funding for rural health clinics.</p>
  <span class="deadline">March 15, 2026</span>
  <span class="amount">$10,000 - $50,000</span>
  <p class="elig">Registered nonprofits</p>
  <a class="apply" href="/apply/123">Apply</a>
  <span class="funder">Valley Health Foundation</span>
</div>
<div class="grant">
  <h3 class="title">Arts Education Grant</h3>
  <p class="desc">Support for school arts programs.</p>
  <a class="apply" href="https://other.example.org/apply">Apply</a>
</div>
<div class="grant"></div>
</body></html>`

func testSource() models.Source {
	return models.Source{
		ID:     "test-src",
		URL:    "https://grants.example.org/listing",
		Engine: models.EngineStatic,
		Selectors: models.SelectorMap{
			Container:      "div.grant",
			Title:          ".title",
			Description:    ".desc",
			Deadline:       ".deadline",
			Amount:         ".amount",
			Eligibility:    ".elig",
			ApplicationURL: "a.apply",
			FunderInfo:     ".funder",
		},
	}
}

func TestExtractFromHTML(t *testing.T) {
	grants, err := ExtractFromHTML(listingHTML, testSource())
	if err != nil {
		t.Fatalf("ExtractFromHTML: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("got %d grants, want 2 (empty container skipped)", len(grants))
	}

	g := grants[0]
	if g.Title != "Community Health Grant" {
		t.Errorf("title = %q", g.Title)
	}
	if g.Deadline != "March 15, 2026" {
		t.Errorf("deadline = %q", g.Deadline)
	}
	if g.FundingAmount != "$10,000 - $50,000" {
		t.Errorf("amount = %q", g.FundingAmount)
	}
	if g.ApplicationURL != "https://grants.example.org/apply/123" {
		t.Errorf("relative link not resolved: %q", g.ApplicationURL)
	}
	if g.FunderName != "Valley Health Foundation" {
		t.Errorf("funder = %q", g.FunderName)
	}
	if g.SourceURL != "https://grants.example.org/listing" {
		t.Errorf("source url = %q", g.SourceURL)
	}
	if _, ok := g.RawContent["html"]; !ok {
		t.Error("raw html not preserved")
	}

	if grants[1].ApplicationURL != "https://other.example.org/apply" {
		t.Errorf("absolute link rewritten: %q", grants[1].ApplicationURL)
	}
}

func TestExtractFromHTMLNoContainers(t *testing.T) {
	src := testSource()
	src.Selectors.Container = "div.nonexistent"
	_, err := ExtractFromHTML(listingHTML, src)
	if err == nil {
		t.Fatal("expected content-changed error")
	}
	var se *models.ScrapeError
	if !errors.As(err, &se) || se.Type != models.ErrContentChanged {
		t.Errorf("error = %v, want content-changed", err)
	}
}

func TestExtractFromHTMLMissingContainerSelector(t *testing.T) {
	src := testSource()
	src.Selectors.Container = ""
	if _, err := ExtractFromHTML(listingHTML, src); err == nil {
		t.Fatal("expected error for empty container selector")
	}
}

func TestRandomUserAgent(t *testing.T) {
	for i := 0; i < 20; i++ {
		ua := RandomUserAgent()
		if ua == "" {
			t.Fatal("empty user agent")
		}
	}
}

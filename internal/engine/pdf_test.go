package engine

import (
	"strings"
	"testing"
)

const noticeText = `Community Forestry Grant Program
Overview
The program funds urban tree planting and forest restoration projects
led by local organizations.

Eligibility
Registered nonprofits and municipalities may apply.

Funding
Awards range from $10,000 to $75,000 per project.

Deadline
Applications are due March 15, 2026.

Budget Categories
Personnel        $20,000   40%
Equipment        $15,000   30%
Supplies         $15,000   30%
`

func TestSplitSections(t *testing.T) {
	sections := splitSections(noticeText)
	titles := sectionTitles(sections)

	want := []string{"Overview", "Eligibility", "Funding", "Deadline", "Budget Categories"}
	for _, w := range want {
		found := false
		for _, title := range titles {
			if title == w {
				found = true
			}
		}
		if !found {
			t.Errorf("section %q not detected in %v", w, titles)
		}
	}
}

func TestFirstSectionMatching(t *testing.T) {
	sections := splitSections(noticeText)

	if got := firstSectionMatching(sections, "eligibility"); !strings.Contains(got, "nonprofits") {
		t.Errorf("eligibility = %q", got)
	}
	if got := firstSectionMatching(sections, "deadline", "due date"); !strings.Contains(got, "March 15, 2026") {
		t.Errorf("deadline = %q", got)
	}
	if got := firstSectionMatching(sections, "nonexistent"); got != "" {
		t.Errorf("missing section = %q, want empty", got)
	}
}

func TestExtractTables(t *testing.T) {
	tables := extractTables(noticeText)
	if len(tables) == 0 {
		t.Fatal("no tables found")
	}
	budget := tables[len(tables)-1]
	if len(budget) != 3 {
		t.Fatalf("budget rows = %d, want 3", len(budget))
	}
	if budget[0][0] != "Personnel" || budget[0][1] != "$20,000" {
		t.Errorf("first row = %v", budget[0])
	}
}

func TestNeedsOCR(t *testing.T) {
	e := NewPDFEngine(NewSourceLimiter(), "eng")

	if !e.needsOCR("short") {
		t.Error("short text should need OCR")
	}
	garbage := strings.Repeat("�#@!%^&*()", 30)
	if !e.needsOCR(garbage) {
		t.Error("garbled text should need OCR")
	}
	clean := strings.Repeat("This is perfectly readable grant documentation text. ", 10)
	if e.needsOCR(clean) {
		t.Error("clean text should not need OCR")
	}
}

func TestChooseText(t *testing.T) {
	long := strings.Repeat("native text ", 100)
	short := "ocr fragment"

	if got := chooseText(long, short); got != strings.TrimSpace(long) {
		t.Error("longer native text not preferred")
	}
	if got := chooseText(short, long); got != strings.TrimSpace(long) {
		t.Error("longer ocr text not preferred")
	}
	if got := chooseText("", short); got != short {
		t.Error("empty native should yield ocr")
	}

	a := strings.Repeat("a", 1000)
	b := strings.Repeat("b", 950)
	combined := chooseText(a, b)
	if !strings.Contains(combined, pdfTextSeparator) {
		t.Error("comparable texts should be concatenated with separator")
	}
}

func TestPickTitle(t *testing.T) {
	sections := splitSections(noticeText)

	if got := pickTitle(sections, pdfMetadata{Title: "Official Title"}, noticeText); got != "Official Title" {
		t.Errorf("metadata title not preferred: %q", got)
	}
	got := pickTitle(sections, pdfMetadata{}, noticeText)
	if got == "" {
		t.Error("no title picked without metadata")
	}
}

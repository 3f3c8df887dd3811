// Package validate applies the declarative rule table and business checks
// to canonical Grants before they reach the store.
package validate

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/david/grant-scraper/internal/models"
)

// rule is one declarative check against a Grant field. check returns an
// empty string when the rule passes.
type rule struct {
	field string
	check func(g models.Grant) string
}

const (
	titleMinLen = 5
	titleMaxLen = 300
	descMinLen  = 20
	descMaxLen  = 5000
)

var rules = []rule{
	{"title", func(g models.Grant) string {
		n := len(strings.TrimSpace(g.Title))
		switch {
		case n == 0:
			return "title is required"
		case n < titleMinLen:
			return fmt.Sprintf("title shorter than %d characters", titleMinLen)
		case n > titleMaxLen:
			return fmt.Sprintf("title longer than %d characters", titleMaxLen)
		}
		return ""
	}},
	{"description", func(g models.Grant) string {
		n := len(strings.TrimSpace(g.Description))
		switch {
		case n == 0:
			return "description is required"
		case n < descMinLen:
			return fmt.Sprintf("description shorter than %d characters", descMinLen)
		case n > descMaxLen:
			return fmt.Sprintf("description longer than %d characters", descMaxLen)
		}
		return ""
	}},
	{"amount_min", func(g models.Grant) string {
		if g.AmountMin != nil && *g.AmountMin < 0 {
			return "amount_min is negative"
		}
		return ""
	}},
	{"amount_max", func(g models.Grant) string {
		if g.AmountMax != nil && *g.AmountMax < 0 {
			return "amount_max is negative"
		}
		return ""
	}},
	{"amount_range", func(g models.Grant) string {
		if g.AmountMin != nil && g.AmountMax != nil && *g.AmountMin > *g.AmountMax {
			return "amount_min exceeds amount_max"
		}
		return ""
	}},
	{"application_url", func(g models.Grant) string {
		if g.ApplicationURL == "" {
			return ""
		}
		u, err := url.Parse(g.ApplicationURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return "application_url is not a valid absolute URL"
		}
		return ""
	}},
	{"category", func(g models.Grant) string {
		if !models.ValidCategory(g.Category) {
			return fmt.Sprintf("unknown category %q", g.Category)
		}
		return ""
	}},
	{"funder.type", func(g models.Grant) string {
		if g.Funder.Type != "" && !models.ValidSourceType(g.Funder.Type) {
			return fmt.Sprintf("unknown funder type %q", g.Funder.Type)
		}
		return ""
	}},
	{"confidence_score", func(g models.Grant) string {
		if g.ConfidenceScore < 0 || g.ConfidenceScore > 100 {
			return "confidence_score outside 0-100"
		}
		return ""
	}},
	{"content_hash", func(g models.Grant) string {
		if g.ContentHash != "" && len(g.ContentHash) != 64 {
			return "content_hash is not 64 hex chars"
		}
		return ""
	}},
	{"duplicate_hash", func(g models.Grant) string {
		if g.DuplicateHash != "" && len(g.DuplicateHash) != 32 {
			return "duplicate_hash is not 32 hex chars"
		}
		return ""
	}},
}

var placeholderRe = regexp.MustCompile(`(?i)\b(lorem ipsum|dolor sit amet|placeholder text|sample text|coming soon|tbd|to be determined)\b`)

// Validator runs the rule table plus business checks. Now is injectable so
// deadline checks stay deterministic in tests.
type Validator struct {
	Now func() time.Time
}

// New returns a Validator on the wall clock.
func New() *Validator {
	return &Validator{Now: func() time.Time { return time.Now().UTC() }}
}

// Validate checks one Grant and returns a full report. Errors make the
// record invalid; warnings are advisory only.
func (v *Validator) Validate(g models.Grant) models.ValidationReport {
	var report models.ValidationReport

	for _, r := range rules {
		if msg := r.check(g); msg != "" {
			report.Errors = append(report.Errors, models.ValidationError{Field: r.field, Message: msg})
		}
	}

	now := v.Now()
	if g.Deadline != nil {
		// Compare calendar days in the deadline's own zone; Truncate works
		// on UTC day boundaries and misfires near midnight elsewhere.
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, g.Deadline.Location())
		if g.Deadline.Before(today) {
			report.Warnings = append(report.Warnings, models.ValidationWarning{
				Field:      "deadline",
				Message:    "deadline is in the past",
				Suggestion: "verify the source still lists this opportunity",
			})
		} else if g.Deadline.After(now.AddDate(1, 0, 0)) {
			report.Warnings = append(report.Warnings, models.ValidationWarning{
				Field:   "deadline",
				Message: "deadline is more than a year away",
			})
		}
	}

	if g.AmountMin != nil && g.AmountMax != nil && *g.AmountMin > 0 && *g.AmountMax > *g.AmountMin*10 {
		report.Warnings = append(report.Warnings, models.ValidationWarning{
			Field:      "amount_max",
			Message:    "amount range spans more than 10x",
			Suggestion: "check for a parsing error in the funding text",
		})
	}

	if words := len(strings.Fields(g.Description)); words > 0 && words < 10 {
		report.Warnings = append(report.Warnings, models.ValidationWarning{
			Field:   "description",
			Message: "description has fewer than 10 words",
		})
	}

	if placeholderRe.MatchString(g.Description) || placeholderRe.MatchString(g.Title) {
		field := "description"
		if placeholderRe.MatchString(g.Title) {
			field = "title"
		}
		report.Warnings = append(report.Warnings, models.ValidationWarning{
			Field:      field,
			Message:    "placeholder text detected",
			Suggestion: "source page may be a template, not a real listing",
		})
	}

	if g.ConfidenceScore >= 90 && len(report.Errors) > 0 {
		report.Warnings = append(report.Warnings, models.ValidationWarning{
			Field:   "confidence_score",
			Message: "high confidence despite validation errors",
		})
	}

	report.Valid = len(report.Errors) == 0
	report.QualityScore = quality(len(report.Errors), len(report.Warnings))
	return report
}

func quality(errs, warns int) int {
	score := 100 - errs*20 - warns*5
	if score < 0 {
		return 0
	}
	return score
}

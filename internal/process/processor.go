// Package process turns untrusted RawGrant records from the engines into
// canonical Grants: text cleanup, money and date parsing, funder and
// category inference, and the two fingerprint hashes.
package process

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/david/grant-scraper/internal/models"
	"github.com/david/grant-scraper/internal/textutil"
)

// Options tune processing policy per instance.
type Options struct {
	// AggressiveNormalize also collapses repeated punctuation.
	AggressiveNormalize bool
	// CurrencyRates maps ISO codes to USD conversion factors.
	CurrencyRates map[string]float64
}

// Processor converts RawGrant records into canonical Grants.
type Processor struct {
	aggressive bool
	rates      map[string]float64
}

// New builds a Processor. Missing currency rates fall back to the static
// published table.
func New(opts Options) *Processor {
	rates := opts.CurrencyRates
	if len(rates) == 0 {
		rates = map[string]float64{
			"EUR": 1.10, "GBP": 1.27, "CAD": 0.73,
			"AUD": 0.65, "JPY": 0.0067, "CHF": 1.14,
		}
	}
	return &Processor{aggressive: opts.AggressiveNormalize, rates: rates}
}

const (
	errorPenalty   = 20
	warningPenalty = 5
)

// Process converts one RawGrant into a Grant plus a ProcessingReport. The
// Grant is returned even when the report carries errors; the validator
// decides what to drop.
func (p *Processor) Process(raw models.RawGrant) (models.Grant, models.ProcessingReport) {
	var report models.ProcessingReport

	g := models.Grant{
		ID:        uuid.New(),
		SourceURL: CanonicalizeURL(raw.SourceURL),
		ScrapedAt: raw.ScrapedAt,
	}
	if g.ScrapedAt.IsZero() {
		g.ScrapedAt = time.Now().UTC()
	}

	g.Title = NormalizeText(raw.Title, p.aggressive)
	g.Description = NormalizeText(raw.Description, p.aggressive)
	g.EligibilityCriteria = NormalizeText(raw.Eligibility, p.aggressive)

	if g.Title == "" {
		report.Errors = append(report.Errors, "title missing after normalization")
	}
	if g.Description == "" {
		report.Errors = append(report.Errors, "description missing after normalization")
	}

	if raw.FundingAmount != "" {
		min, max, warns := p.ParseMoney(raw.FundingAmount)
		g.AmountMin, g.AmountMax = min, max
		report.Warnings = append(report.Warnings, warns...)
	}

	if raw.Deadline != "" {
		if IsRollingDeadline(raw.Deadline) {
			g.IsRolling = true
		} else if t, err := ParseDeadline(raw.Deadline); err == nil {
			g.Deadline = &t
		} else {
			report.Warnings = append(report.Warnings, fmt.Sprintf("deadline not parsed: %v", err))
		}
	}

	if raw.ApplicationURL != "" {
		if u, ok := ValidateURL(raw.ApplicationURL); ok {
			g.ApplicationURL = CanonicalizeURL(u)
		} else {
			report.Warnings = append(report.Warnings, fmt.Sprintf("invalid application url %q dropped", raw.ApplicationURL))
		}
	}

	funderName := NormalizeText(raw.FunderName, p.aggressive)
	g.Funder = models.Funder{
		Name: funderName,
		Type: InferFunderType(raw.SourceURL, funderName),
	}
	contact := textutil.ExtractContactInfo(strings.Join([]string{g.Description, g.EligibilityCriteria}, "\n"))
	if len(contact.Emails) > 0 {
		g.Funder.ContactEmail = contact.Emails[0]
	}
	if len(contact.Websites) > 0 {
		g.Funder.Website = contact.Websites[0]
	}

	combined := strings.Join([]string{g.Title, g.Description, g.EligibilityCriteria}, " ")
	g.LocationEligibility = ExtractLocations(combined)
	g.Category = InferCategory(combined)

	g.ContentHash = ContentHash(g)
	g.DuplicateHash = DuplicateHash(g)

	report.QualityScore = qualityScore(len(report.Errors), len(report.Warnings))
	g.ConfidenceScore = report.QualityScore
	if len(report.Errors) > 0 && g.ConfidenceScore > 50 {
		g.ConfidenceScore = 50
	}

	return g, report
}

// qualityScore starts from 100 and pays a flat penalty per error and per
// warning, floored at 0.
func qualityScore(errs, warns int) int {
	score := 100 - errs*errorPenalty - warns*warningPenalty
	if score < 0 {
		return 0
	}
	return score
}

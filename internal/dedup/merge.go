package dedup

import (
	"sort"
	"strings"
	"time"

	"github.com/david/grant-scraper/internal/models"
)

// Hasher regenerates the content hash after a merge. The process package
// supplies the production implementation.
type Hasher func(models.Grant) string

// Merge combines a confirmed duplicate pair into one record. Preference
// rules: longer title and description, later deadline, larger amount
// bounds, union of locations, higher confidence score. The application URL
// tie-break prefers government sources, then the shorter URL. The content
// hash is regenerated on the merged record.
func Merge(a, b models.Grant, rehash Hasher) models.Grant {
	merged := a

	merged.Title = longer(a.Title, b.Title)
	merged.Description = longer(a.Description, b.Description)
	merged.EligibilityCriteria = longer(a.EligibilityCriteria, b.EligibilityCriteria)

	merged.Deadline = laterTime(a.Deadline, b.Deadline)
	merged.AmountMin = largerInt(a.AmountMin, b.AmountMin)
	merged.AmountMax = largerInt(a.AmountMax, b.AmountMax)

	merged.LocationEligibility = unionStrings(a.LocationEligibility, b.LocationEligibility)
	merged.Tags = unionStrings(a.Tags, b.Tags)

	if b.ConfidenceScore > a.ConfidenceScore {
		merged.ConfidenceScore = b.ConfidenceScore
	}

	merged.ApplicationURL = pickURL(a, b)
	if merged.Funder.Name == "" {
		merged.Funder = b.Funder
	}
	merged.IsRolling = a.IsRolling || b.IsRolling

	if rehash != nil {
		merged.ContentHash = rehash(merged)
	}
	return merged
}

func longer(a, b string) string {
	if len(strings.TrimSpace(b)) > len(strings.TrimSpace(a)) {
		return b
	}
	return a
}

func laterTime(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.After(*a) {
		return b
	}
	return a
}

func largerInt(a, b *int64) *int64 {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if *b > *a {
		return b
	}
	return a
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// pickURL keeps the URL from the government-sourced record when exactly one
// side is government, otherwise the shorter non-empty URL.
func pickURL(a, b models.Grant) string {
	if a.ApplicationURL == "" {
		return b.ApplicationURL
	}
	if b.ApplicationURL == "" {
		return a.ApplicationURL
	}
	aGov := a.Funder.Type == models.SourceGov
	bGov := b.Funder.Type == models.SourceGov
	if aGov != bGov {
		if aGov {
			return a.ApplicationURL
		}
		return b.ApplicationURL
	}
	if len(b.ApplicationURL) < len(a.ApplicationURL) {
		return b.ApplicationURL
	}
	return a.ApplicationURL
}

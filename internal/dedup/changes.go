package dedup

import (
	"sort"
	"time"

	"github.com/david/grant-scraper/internal/models"
)

var criticalFields = map[string]bool{
	"deadline":        true,
	"amount_min":      true,
	"amount_max":      true,
	"application_url": true,
}

var majorFields = map[string]bool{
	"title":                true,
	"eligibility_criteria": true,
	"category":             true,
	"funder":               true,
}

// DetectChanges compares two versions of the same grant. Identical content
// hashes return nil; otherwise the changed field names are collected and the
// change classified by the most severe field touched.
func DetectChanges(prev, curr models.Grant) *models.ChangeRecord {
	if prev.ContentHash == curr.ContentHash {
		return nil
	}

	var changed []string
	if prev.Title != curr.Title {
		changed = append(changed, "title")
	}
	if prev.Description != curr.Description {
		changed = append(changed, "description")
	}
	if !timesEqual(prev.Deadline, curr.Deadline) {
		changed = append(changed, "deadline")
	}
	if !int64sEqual(prev.AmountMin, curr.AmountMin) {
		changed = append(changed, "amount_min")
	}
	if !int64sEqual(prev.AmountMax, curr.AmountMax) {
		changed = append(changed, "amount_max")
	}
	if prev.EligibilityCriteria != curr.EligibilityCriteria {
		changed = append(changed, "eligibility_criteria")
	}
	if prev.ApplicationURL != curr.ApplicationURL {
		changed = append(changed, "application_url")
	}
	if prev.Funder.Name != curr.Funder.Name || prev.Funder.Type != curr.Funder.Type {
		changed = append(changed, "funder")
	}
	if prev.Category != curr.Category {
		changed = append(changed, "category")
	}
	if !setsEqual(prev.LocationEligibility, curr.LocationEligibility) {
		changed = append(changed, "location_eligibility")
	}

	record := &models.ChangeRecord{
		GrantID:       curr.ID.String(),
		PreviousHash:  prev.ContentHash,
		CurrentHash:   curr.ContentHash,
		ChangedFields: changed,
		ChangeType:    classifyChange(changed),
		DetectedAt:    time.Now().UTC(),
	}
	return record
}

func classifyChange(fields []string) models.ChangeType {
	severity := models.ChangeMinor
	for _, f := range fields {
		if criticalFields[f] {
			return models.ChangeCritical
		}
		if majorFields[f] {
			severity = models.ChangeMajor
		}
	}
	return severity
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func int64sEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// setsEqual compares string slices order-insensitively.
func setsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

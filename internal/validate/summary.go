package validate

import (
	"sort"

	"github.com/david/grant-scraper/internal/models"
)

// MessageCount pairs a validation message with how often it occurred.
type MessageCount struct {
	Message string
	Count   int
}

// Summary aggregates a batch of reports for dashboards.
type Summary struct {
	Total        int
	ValidCount   int
	InvalidCount int
	AvgQuality   float64
	TopErrors    []MessageCount
	TopWarnings  []MessageCount
}

// Summarize rolls up reports, keeping the topN most common error and
// warning messages.
func Summarize(reports []models.ValidationReport, topN int) Summary {
	s := Summary{Total: len(reports)}
	if len(reports) == 0 {
		return s
	}

	errCounts := make(map[string]int)
	warnCounts := make(map[string]int)
	qualitySum := 0
	for _, r := range reports {
		if r.Valid {
			s.ValidCount++
		} else {
			s.InvalidCount++
		}
		qualitySum += r.QualityScore
		for _, e := range r.Errors {
			errCounts[e.Message]++
		}
		for _, w := range r.Warnings {
			warnCounts[w.Message]++
		}
	}
	s.AvgQuality = float64(qualitySum) / float64(len(reports))
	s.TopErrors = topMessages(errCounts, topN)
	s.TopWarnings = topMessages(warnCounts, topN)
	return s
}

func topMessages(counts map[string]int, n int) []MessageCount {
	out := make([]MessageCount, 0, len(counts))
	for msg, c := range counts {
		out = append(out, MessageCount{Message: msg, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Message < out[j].Message
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Package dedup groups duplicate grants, matches candidates against known
// records, detects field-level changes between versions, and merges
// confirmed duplicates.
package dedup

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/david/grant-scraper/internal/models"
)

// MatchThreshold is the minimum weighted score for a cross-batch match.
const MatchThreshold = 0.8

// DedupBatch removes within-batch duplicates by duplicate-hash, keeping the
// first occurrence. Order is preserved.
func DedupBatch(grants []models.Grant) []models.Grant {
	seen := make(map[string]bool, len(grants))
	out := make([]models.Grant, 0, len(grants))
	for _, g := range grants {
		if g.DuplicateHash != "" && seen[g.DuplicateHash] {
			continue
		}
		seen[g.DuplicateHash] = true
		out = append(out, g)
	}
	return out
}

// Match is one cross-batch candidate pairing above the threshold.
type Match struct {
	Known   models.Grant
	Score   float64
	Reasons []string
}

const (
	weightTitle    = 0.4
	weightFunder   = 0.3
	weightDeadline = 0.2
	weightAmount   = 0.1

	deadlineWindow = 7 * 24 * time.Hour
)

// Score computes the weighted similarity between a candidate and a known
// grant, with a human-readable reasons list for whatever contributed.
func Score(candidate, known models.Grant) (float64, []string) {
	var score float64
	var reasons []string

	titleSim := titleSimilarity(candidate.Title, known.Title)
	score += titleSim * weightTitle
	if titleSim >= 0.8 {
		reasons = append(reasons, fmt.Sprintf("titles %.0f%% similar", titleSim*100))
	}

	if funderMatch(candidate.Funder.Name, known.Funder.Name) {
		score += weightFunder
		reasons = append(reasons, "same funder")
	}

	if deadlinesClose(candidate.Deadline, known.Deadline) {
		score += weightDeadline
		reasons = append(reasons, "deadlines within 7 days")
	}

	ratio := amountRatio(candidate, known)
	score += ratio * weightAmount
	if ratio >= 0.9 {
		reasons = append(reasons, "funding amounts align")
	}

	return score, reasons
}

// FindMatches scores a candidate against each known grant and returns every
// pairing at or above the threshold, best first.
func FindMatches(candidate models.Grant, known []models.Grant) []Match {
	var matches []Match
	for _, k := range known {
		s, reasons := Score(candidate, k)
		if s >= MatchThreshold {
			matches = append(matches, Match{Known: k, Score: s, Reasons: reasons})
		}
	}
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].Score > matches[j-1].Score; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
	return matches
}

// titleSimilarity is a normalized Levenshtein similarity in [0,1] over
// lowercased titles. Empty inputs compare equal to empty.
func titleSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" && b == "" {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	return 1 - float64(dist)/float64(longest)
}

func funderMatch(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return a == b
	}
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}

func deadlinesClose(a, b *time.Time) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	d := a.Sub(*b)
	if d < 0 {
		d = -d
	}
	return d <= deadlineWindow
}

// amountRatio compares the dominant amounts of two grants as smaller/larger.
// Both absent counts as a full match; one absent as no match.
func amountRatio(a, b models.Grant) float64 {
	av, aok := dominantAmount(a)
	bv, bok := dominantAmount(b)
	if !aok && !bok {
		return 1
	}
	if !aok || !bok {
		return 0
	}
	if av == 0 && bv == 0 {
		return 1
	}
	return math.Min(av, bv) / math.Max(av, bv)
}

func dominantAmount(g models.Grant) (float64, bool) {
	if g.AmountMax != nil {
		return float64(*g.AmountMax), true
	}
	if g.AmountMin != nil {
		return float64(*g.AmountMin), true
	}
	return 0, false
}

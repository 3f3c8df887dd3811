package textutil

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var sentenceRe = regexp.MustCompile(`[.!?]+\s`)

// TextQuality scores how usable a block of text is for extraction, in [0, 1].
// Length band, sentence structure, grant keyword density, and the share of
// special characters each contribute a quarter of the score.
func TextQuality(text string) float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	var score float64

	// Length band: too short carries nothing, too long is usually boilerplate.
	n := len(text)
	switch {
	case n >= 200 && n <= 5000:
		score += 0.25
	case n >= 50 && n < 200:
		score += 0.15
	case n > 5000 && n <= 20000:
		score += 0.15
	case n >= 20:
		score += 0.05
	}

	// Sentence structure.
	sentences := len(sentenceRe.FindAllString(text, -1)) + 1
	switch {
	case sentences >= 3:
		score += 0.25
	case sentences == 2:
		score += 0.15
	default:
		score += 0.05
	}

	// Grant keyword density.
	lower := strings.ToLower(text)
	hits := 0
	for _, kw := range []string{"grant", "funding", "deadline", "eligib", "apply", "award", "application", "proposal"} {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	switch {
	case hits >= 4:
		score += 0.25
	case hits >= 2:
		score += 0.18
	case hits == 1:
		score += 0.1
	}

	// Special-character ratio. Heavy markup residue or encoding damage
	// shows up as a high share of non-alphanumeric, non-space runes.
	special := 0
	total := 0
	for _, r := range text {
		total++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) && !strings.ContainsRune(".,;:'\"-()/$%&", r) {
			special++
		}
	}
	ratio := float64(special) / float64(total)
	switch {
	case ratio < 0.02:
		score += 0.25
	case ratio < 0.05:
		score += 0.15
	case ratio < 0.10:
		score += 0.08
	}

	if score > 1 {
		score = 1
	}
	return score
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"to": true, "of": true, "in": true, "on": true, "for": true, "with": true,
	"at": true, "by": true, "from": true, "as": true, "that": true, "this": true,
	"it": true, "its": true, "will": true, "may": true, "can": true, "must": true,
	"have": true, "has": true, "not": true, "all": true, "any": true, "more": true,
	"their": true, "your": true, "our": true, "we": true, "you": true, "they": true,
}

var grantTerms = map[string]bool{
	"grant": true, "grants": true, "funding": true, "award": true, "awards": true,
	"deadline": true, "eligibility": true, "eligible": true, "application": true,
	"applications": true, "proposal": true, "proposals": true, "applicants": true,
	"fellowship": true, "scholarship": true,
}

var wordRe = regexp.MustCompile(`[a-zA-Z][a-zA-Z'-]{2,}`)

// KeyPhrases returns up to k frequency-ranked terms from text, with stop
// words removed and grant-domain terms weighted double.
func KeyPhrases(text string, k int) []string {
	if k <= 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if stopWords[w] {
			continue
		}
		weight := 1
		if grantTerms[w] {
			weight = 2
		}
		counts[w] += weight
	}

	terms := make([]string, 0, len(counts))
	for w := range counts {
		terms = append(terms, w)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > k {
		terms = terms[:k]
	}
	return terms
}

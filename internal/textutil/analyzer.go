// Package textutil is a stateless pattern library for pulling grant fields
// out of free text. Every extractor returns a ranked candidate list; callers
// that only want the top hit use BestMatch.
package textutil

import (
	"regexp"
	"sort"
	"strings"
)

// FieldMatch is one extraction candidate for a field.
type FieldMatch struct {
	Value      string
	Confidence float64
	Pattern    string
}

type fieldPattern struct {
	name       string
	re         *regexp.Regexp
	confidence float64
	group      int // submatch index holding the value, 0 = whole match
}

var titlePatterns = []fieldPattern{
	{"labeled-title", regexp.MustCompile(`(?i)(?:grant|funding|award|opportunity)\s+title[:\s]+([^\n]{5,200})`), 0.9, 1},
	{"rfp-heading", regexp.MustCompile(`(?i)(?:request for proposals?|call for (?:proposals|applications))[:\s]+([^\n]{5,200})`), 0.85, 1},
	{"program-name", regexp.MustCompile(`(?i)^([A-Z][^\n]{10,150}(?:grant|fund|program|fellowship|initiative|award)s?)\s*$`), 0.7, 1},
	{"first-line", regexp.MustCompile(`\A\s*([^\n]{10,200})`), 0.4, 1},
}

var deadlinePatterns = []fieldPattern{
	{"labeled-deadline", regexp.MustCompile(`(?i)(?:deadline|due date|closing date|applications? (?:due|close)|submit by)[:\s]+([A-Za-z0-9, /.-]{6,40})`), 0.95, 1},
	{"iso-date", regexp.MustCompile(`\b(20\d{2}-\d{2}-\d{2})\b`), 0.8, 1},
	{"month-name-date", regexp.MustCompile(`(?i)\b((?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+20\d{2})\b`), 0.75, 1},
	{"day-month-date", regexp.MustCompile(`(?i)\b(\d{1,2}\s+(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+20\d{2})\b`), 0.75, 1},
	{"slash-date", regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/20\d{2})\b`), 0.6, 1},
}

var fundingPatterns = []fieldPattern{
	{"labeled-amount", regexp.MustCompile(`(?i)(?:award|funding|grant)\s+(?:amount|size|range)[:\s]+([$€£¥][\d,.]+(?:\s*(?:-|to)\s*[$€£¥]?[\d,.]+)?(?:\s*(?:million|k))?)`), 0.95, 1},
	{"currency-range", regexp.MustCompile(`([$€£¥][\d,.]+\s*(?:-|to|–)\s*[$€£¥]?[\d,.]+(?:\s*(?:million|k))?)`), 0.85, 1},
	{"up-to", regexp.MustCompile(`(?i)(up to [$€£¥][\d,.]+(?:\s*(?:million|k))?)`), 0.8, 1},
	{"single-amount", regexp.MustCompile(`([$€£¥][\d,]+(?:\.\d{2})?(?:\s*(?:million|k))?)`), 0.6, 1},
}

var eligibilityPatterns = []fieldPattern{
	{"labeled-eligibility", regexp.MustCompile(`(?i)(?:eligibility|eligible applicants?|who (?:can|may) apply)[:\s]+([^\n]{10,400})`), 0.9, 1},
	{"open-to", regexp.MustCompile(`(?i)\b(?:open to|available to|restricted to)\s+([^\n.]{10,300})`), 0.7, 1},
	{"must-be", regexp.MustCompile(`(?i)applicants? must (?:be|have)\s+([^\n.]{10,300})`), 0.65, 1},
}

var descriptionPatterns = []fieldPattern{
	{"labeled-description", regexp.MustCompile(`(?i)(?:description|overview|summary|about (?:this|the) (?:grant|program|opportunity))[:\s]+([^\n]{20,1000})`), 0.85, 1},
	{"purpose", regexp.MustCompile(`(?i)(?:purpose|objective)s?[:\s]+([^\n]{20,1000})`), 0.7, 1},
	{"long-paragraph", regexp.MustCompile(`(?m)^([^\n]{120,1000})$`), 0.4, 1},
}

var urlPatterns = []fieldPattern{
	{"apply-link", regexp.MustCompile(`(?i)(?:apply(?:\s+online)?|application|submit)\s+(?:at|here|via)?[:\s]*(https?://[^\s"'<>]+)`), 0.9, 1},
	{"bare-url", regexp.MustCompile(`(https?://[^\s"'<>]+)`), 0.6, 1},
	{"www-url", regexp.MustCompile(`\b(www\.[a-z0-9.-]+\.[a-z]{2,}(?:/[^\s"'<>]*)?)`), 0.45, 1},
}

func extract(text string, patterns []fieldPattern) []FieldMatch {
	var out []FieldMatch
	seen := make(map[string]bool)
	for _, p := range patterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			value := strings.TrimSpace(m[p.group])
			value = strings.Trim(value, " .,;")
			if value == "" {
				continue
			}
			key := strings.ToLower(value)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, FieldMatch{Value: value, Confidence: p.confidence, Pattern: p.name})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// ExtractTitles returns ranked title candidates.
func ExtractTitles(text string) []FieldMatch { return extract(text, titlePatterns) }

// ExtractDeadlines returns ranked deadline candidates.
func ExtractDeadlines(text string) []FieldMatch { return extract(text, deadlinePatterns) }

// ExtractFundingAmounts returns ranked funding-amount candidates.
func ExtractFundingAmounts(text string) []FieldMatch { return extract(text, fundingPatterns) }

// ExtractEligibility returns ranked eligibility candidates.
func ExtractEligibility(text string) []FieldMatch { return extract(text, eligibilityPatterns) }

// ExtractDescriptions returns ranked description candidates.
func ExtractDescriptions(text string) []FieldMatch { return extract(text, descriptionPatterns) }

// ExtractURLs returns ranked application-URL candidates.
func ExtractURLs(text string) []FieldMatch { return extract(text, urlPatterns) }

// BestMatch returns the highest-confidence candidate, or nil for an empty list.
func BestMatch(matches []FieldMatch) *FieldMatch {
	if len(matches) == 0 {
		return nil
	}
	best := matches[0]
	for _, m := range matches[1:] {
		if m.Confidence > best.Confidence {
			best = m
		}
	}
	return &best
}

var grantTypeKeywords = map[string][]string{
	"research":    {"research", "study", "scientific", "investigation", "laboratory", "r&d"},
	"education":   {"education", "school", "student", "scholarship", "teaching", "curriculum", "literacy"},
	"health":      {"health", "medical", "clinical", "disease", "patient", "hospital", "wellness"},
	"community":   {"community", "neighborhood", "local", "civic", "resident"},
	"environment": {"environment", "climate", "conservation", "sustainability", "wildlife", "renewable"},
	"arts":        {"arts", "artist", "museum", "music", "theater", "cultural", "heritage"},
	"technology":  {"technology", "software", "digital", "innovation", "startup", "engineering"},
}

// DetectGrantTypes returns the grant domains whose keywords appear in text.
func DetectGrantTypes(text string) []string {
	lower := strings.ToLower(text)
	var types []string
	for _, name := range []string{"research", "education", "health", "community", "environment", "arts", "technology"} {
		for _, kw := range grantTypeKeywords[name] {
			if strings.Contains(lower, kw) {
				types = append(types, name)
				break
			}
		}
	}
	return types
}

// ContactInfo holds contact details extracted from free text.
type ContactInfo struct {
	Emails   []string
	Phones   []string
	Websites []string
}

var (
	emailRe   = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	phoneRe   = regexp.MustCompile(`(?:\+?1[-. ]?)?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`)
	websiteRe = regexp.MustCompile(`https?://[^\s"'<>]+|\bwww\.[a-z0-9.-]+\.[a-z]{2,}[^\s"'<>]*`)
)

// ExtractContactInfo pulls emails, phone numbers, and websites out of text.
func ExtractContactInfo(text string) ContactInfo {
	info := ContactInfo{}
	seen := make(map[string]bool)
	add := func(dst *[]string, v string) {
		v = strings.Trim(v, " .,;")
		key := strings.ToLower(v)
		if v == "" || seen[key] {
			return
		}
		seen[key] = true
		*dst = append(*dst, v)
	}
	for _, m := range emailRe.FindAllString(text, -1) {
		add(&info.Emails, m)
	}
	for _, m := range phoneRe.FindAllString(text, -1) {
		add(&info.Phones, m)
	}
	for _, m := range websiteRe.FindAllString(text, -1) {
		add(&info.Websites, m)
	}
	return info
}

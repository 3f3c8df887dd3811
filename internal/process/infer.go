package process

import (
	"net/url"
	"sort"
	"strings"

	"github.com/david/grant-scraper/internal/models"
)

// InferFunderType guesses the funder type from the source URL's host and the
// funder name. Defaults to foundation when nothing stronger matches.
func InferFunderType(sourceURL, funderName string) models.SourceType {
	host := ""
	if u, err := url.Parse(sourceURL); err == nil {
		host = strings.ToLower(u.Hostname())
	}
	name := strings.ToLower(funderName)

	switch {
	case strings.HasSuffix(host, ".gov") || strings.Contains(host, ".gov.") ||
		strings.Contains(name, "department of") || strings.Contains(name, "ministry of") ||
		strings.Contains(name, "federal") || strings.Contains(name, "agency"):
		return models.SourceGov
	case strings.HasSuffix(host, "who.int") || strings.Contains(name, "world bank") ||
		strings.Contains(name, "united nations") || strings.Contains(name, "unicef") ||
		strings.Contains(name, "red cross") || strings.HasSuffix(host, ".int"):
		return models.SourceNGO
	case strings.Contains(name, " inc") || strings.Contains(name, " llc") ||
		strings.Contains(name, " corp") || strings.Contains(name, " ltd") ||
		strings.Contains(name, "company") || strings.Contains(name, "bank "):
		return models.SourceBusiness
	default:
		return models.SourceFoundation
	}
}

// ValidateURL accepts absolute http(s) URLs and bare host+path forms, which
// get an https scheme prepended. Anything without a parsable dotted host is
// rejected.
func ValidateURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	host := u.Hostname()
	if host == "" || !strings.Contains(host, ".") {
		return "", false
	}
	return u.String(), true
}

var trackingParams = []string{
	"fbclid", "gclid", "mc_cid", "mc_eid", "mkt_tok", "ref", "session", "s_cid",
}

// CanonicalizeURL lowercases the host and strips fragments and common
// tracking parameters so the same page always hashes the same way.
func CanonicalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for k := range q {
		if strings.HasPrefix(k, "utm_") {
			q.Del(k)
		}
	}
	for _, p := range trackingParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

var usStates = []string{
	"Alabama", "Alaska", "Arizona", "Arkansas", "California", "Colorado",
	"Connecticut", "Delaware", "Florida", "Georgia", "Hawaii", "Idaho",
	"Illinois", "Indiana", "Iowa", "Kansas", "Kentucky", "Louisiana",
	"Maine", "Maryland", "Massachusetts", "Michigan", "Minnesota",
	"Mississippi", "Missouri", "Montana", "Nebraska", "Nevada",
	"New Hampshire", "New Jersey", "New Mexico", "New York",
	"North Carolina", "North Dakota", "Ohio", "Oklahoma", "Oregon",
	"Pennsylvania", "Rhode Island", "South Carolina", "South Dakota",
	"Tennessee", "Texas", "Utah", "Vermont", "Virginia", "Washington",
	"West Virginia", "Wisconsin", "Wyoming",
}

var majorCities = []string{
	"New York City", "Los Angeles", "Chicago", "Houston", "Phoenix",
	"Philadelphia", "San Antonio", "San Diego", "Dallas", "Seattle",
	"Boston", "Atlanta", "Miami", "Denver", "Detroit",
}

var countriesAndRegions = []string{
	"United States", "Canada", "United Kingdom", "Australia", "Germany",
	"France", "India", "Kenya", "Nigeria", "South Africa", "Brazil", "Mexico",
	"Africa", "Asia", "Europe", "Latin America", "Middle East",
	"Sub-Saharan Africa", "Southeast Asia", "Global", "Nationwide", "Worldwide",
}

// ExtractLocations matches text against the known state, city, country, and
// region lists and returns every hit, deduplicated and sorted.
func ExtractLocations(text string) []string {
	lower := strings.ToLower(text)
	seen := make(map[string]bool)
	var hits []string
	for _, group := range [][]string{usStates, majorCities, countriesAndRegions} {
		for _, loc := range group {
			if seen[loc] {
				continue
			}
			if containsWord(lower, strings.ToLower(loc)) {
				seen[loc] = true
				hits = append(hits, loc)
			}
		}
	}
	sort.Strings(hits)
	return hits
}

// containsWord reports whether needle occurs in haystack on word boundaries,
// so "Iowa" does not match inside "Kiowa".
func containsWord(haystack, needle string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], needle)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(needle)
		beforeOK := start == 0 || !isWordByte(haystack[start-1])
		afterOK := end == len(haystack) || !isWordByte(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

var categoryKeywords = map[models.Category][]string{
	models.CategoryHealthcare: {
		"health", "medical", "clinic", "disease", "hospital", "patient",
		"public health", "mental health", "wellness",
	},
	models.CategoryEducation: {
		"education", "school", "student", "teacher", "curriculum",
		"scholarship", "literacy", "training", "stem",
	},
	models.CategoryEnvironment: {
		"environment", "climate", "conservation", "sustainability",
		"renewable", "wildlife", "pollution", "ecosystem",
	},
	models.CategorySocial: {
		"homeless", "poverty", "food security", "social services", "housing",
		"welfare", "disability", "elderly", "youth services",
	},
	models.CategoryArts: {
		"arts", "artist", "museum", "music", "theater", "cultural",
		"heritage", "humanities",
	},
	models.CategoryTechnology: {
		"technology", "software", "digital", "innovation", "startup",
		"broadband", "cybersecurity", "artificial intelligence",
	},
	models.CategoryResearch: {
		"research", "scientific", "laboratory", "study", "investigator",
		"fellowship", "r&d", "academic",
	},
	models.CategoryCommunity: {
		"community", "neighborhood", "civic", "local", "economic development",
		"infrastructure", "revitalization",
	},
}

// InferCategory picks the category whose keywords score highest over text.
// Multi-word keywords count double. Falls back to community development.
func InferCategory(text string) models.Category {
	lower := strings.ToLower(text)
	best := models.CategoryCommunity
	bestScore := 0
	for _, cat := range models.Categories() {
		score := 0
		for _, kw := range categoryKeywords[cat] {
			if !strings.Contains(lower, kw) {
				continue
			}
			if strings.Contains(kw, " ") {
				score += 2
			} else {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = cat
		}
	}
	return best
}

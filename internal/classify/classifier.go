// Package classify assigns the final category, tag set, and classification
// confidence to validated Grants.
package classify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/david/grant-scraper/internal/models"
)

const maxTags = 15

// Result is the classifier's verdict for one Grant.
type Result struct {
	Category   models.Category
	Tags       []string
	Confidence float64
	Reasoning  []string
}

// Classifier scores categories and tags from grant text. Now is injectable
// for deterministic urgency tagging in tests.
type Classifier struct {
	Now func() time.Time
}

// New returns a Classifier on the wall clock.
func New() *Classifier {
	return &Classifier{Now: func() time.Time { return time.Now().UTC() }}
}

var categorySignals = map[models.Category][]string{
	models.CategoryHealthcare:  {"health", "medical", "clinic", "disease", "hospital", "patient", "public health", "wellness"},
	models.CategoryEducation:   {"education", "school", "student", "teacher", "scholarship", "literacy", "curriculum", "stem"},
	models.CategoryEnvironment: {"environment", "climate", "conservation", "sustainability", "renewable", "wildlife", "ecosystem"},
	models.CategorySocial:      {"homeless", "poverty", "food security", "housing", "welfare", "disability", "social services"},
	models.CategoryArts:        {"arts", "artist", "museum", "music", "theater", "cultural", "heritage", "humanities"},
	models.CategoryTechnology:  {"technology", "software", "digital", "innovation", "broadband", "cybersecurity"},
	models.CategoryResearch:    {"research", "scientific", "laboratory", "investigator", "fellowship", "academic"},
	models.CategoryCommunity:   {"community", "neighborhood", "civic", "economic development", "infrastructure", "revitalization"},
}

var audienceTags = map[string][]string{
	"nonprofit":  {"nonprofit", "501(c)", "charitable organization", "ngo"},
	"university": {"university", "college", "higher education", "academic institution"},
	"school":     {"k-12", "elementary school", "high school", "school district"},
	"individual": {"individual applicant", "individuals may apply", "emerging artist", "early-career"},
	"government": {"municipalit", "local government", "state agencies", "tribal"},
	"startup":    {"startup", "small business", "entrepreneur"},
}

var regionTags = map[string][]string{
	"africa":        {"africa", "kenya", "nigeria", "ghana", "ethiopia"},
	"asia":          {"asia", "india", "indonesia", "vietnam", "philippines"},
	"latin-america": {"latin america", "brazil", "mexico", "colombia", "peru"},
	"europe":        {"europe", "european union"},
	"global":        {"global", "worldwide", "international", "any country"},
}

var thematicTags = map[string][]string{
	"emergency-relief":  {"emergency", "disaster", "relief", "crisis response"},
	"capacity-building": {"capacity building", "organizational development", "technical assistance"},
	"youth":             {"youth", "young people", "children", "adolescent"},
	"women":             {"women", "girls", "gender equity", "maternal"},
	"rural":             {"rural", "remote communities", "agricultural"},
	"climate":           {"climate", "carbon", "emissions", "resilience"},
	"equity":            {"equity", "underserved", "marginalized", "inclusion"},
}

const (
	smallGrantMax  = 50_000
	mediumGrantMax = 1_000_000
	urgentWindow   = 30 * 24 * time.Hour
)

// Classify produces the final category, the tag set (capped at 15), the
// classification confidence in [0,1], and a short reasoning trail.
func (c *Classifier) Classify(g models.Grant) Result {
	text := strings.ToLower(strings.Join([]string{
		g.Title, g.Description, g.EligibilityCriteria, g.Funder.Name,
	}, " "))

	res := Result{Category: g.Category}

	// Category: override the processor's guess only on stronger signal.
	bestCat, bestScore := g.Category, 0
	for _, cat := range models.Categories() {
		score := 0
		for _, kw := range categorySignals[cat] {
			if strings.Contains(text, kw) {
				if strings.Contains(kw, " ") {
					score += 2
				} else {
					score++
				}
			}
		}
		if score > bestScore {
			bestScore, bestCat = score, cat
		}
	}
	if bestScore >= 2 && bestCat != g.Category {
		res.Category = bestCat
		res.Reasoning = append(res.Reasoning, fmt.Sprintf("category changed from %s to %s on keyword evidence", g.Category, bestCat))
	} else {
		res.Reasoning = append(res.Reasoning, fmt.Sprintf("category %s retained", res.Category))
	}

	var tags []string
	addTag := func(tag, why string) {
		for _, t := range tags {
			if t == tag {
				return
			}
		}
		tags = append(tags, tag)
		if why != "" {
			res.Reasoning = append(res.Reasoning, why)
		}
	}

	// Size tag from the upper bound, falling back to the lower.
	if amount := upperAmount(g); amount != nil {
		switch {
		case *amount <= smallGrantMax:
			addTag("small-grant", fmt.Sprintf("award up to $%d is a small grant", *amount))
		case *amount <= mediumGrantMax:
			addTag("medium-grant", fmt.Sprintf("award up to $%d is a medium grant", *amount))
		default:
			addTag("large-grant", fmt.Sprintf("award up to $%d is a large grant", *amount))
		}
	}

	if g.Deadline != nil {
		until := g.Deadline.Sub(c.Now())
		if until > 0 && until <= urgentWindow {
			addTag("urgent-deadline", fmt.Sprintf("deadline %s is within 30 days", g.Deadline.Format("2006-01-02")))
		}
	}
	if g.IsRolling {
		addTag("rolling-deadline", "applications accepted on a rolling basis")
	}

	for _, group := range []map[string][]string{audienceTags, regionTags, thematicTags} {
		for _, tag := range sortedKeys(group) {
			for _, kw := range group[tag] {
				if strings.Contains(text, kw) {
					addTag(tag, "")
					break
				}
			}
		}
	}

	for _, loc := range g.LocationEligibility {
		if isUSState(loc) {
			addTag(stateTag(loc), "")
		}
	}

	if len(tags) > maxTags {
		tags = tags[:maxTags]
	}
	res.Tags = tags

	res.Confidence = confidence(bestScore, len(tags), g)
	if res.Confidence < 0.5 {
		res.Reasoning = append(res.Reasoning, fmt.Sprintf("low classification confidence %.2f, operator review suggested", res.Confidence))
	}
	if len(res.Reasoning) > 10 {
		res.Reasoning = res.Reasoning[:10]
	}
	return res
}

func upperAmount(g models.Grant) *int64 {
	if g.AmountMax != nil {
		return g.AmountMax
	}
	return g.AmountMin
}

// confidence grows with keyword evidence and tag coverage, discounted when
// the underlying extraction confidence was poor.
func confidence(catScore, tagCount int, g models.Grant) float64 {
	conf := 0.3
	switch {
	case catScore >= 5:
		conf += 0.4
	case catScore >= 3:
		conf += 0.3
	case catScore >= 1:
		conf += 0.15
	}
	if tagCount >= 3 {
		conf += 0.2
	} else if tagCount >= 1 {
		conf += 0.1
	}
	if g.ConfidenceScore < 50 {
		conf -= 0.2
	}
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var usStateSet = map[string]bool{
	"Alabama": true, "Alaska": true, "Arizona": true, "Arkansas": true,
	"California": true, "Colorado": true, "Connecticut": true, "Delaware": true,
	"Florida": true, "Georgia": true, "Hawaii": true, "Idaho": true,
	"Illinois": true, "Indiana": true, "Iowa": true, "Kansas": true,
	"Kentucky": true, "Louisiana": true, "Maine": true, "Maryland": true,
	"Massachusetts": true, "Michigan": true, "Minnesota": true, "Mississippi": true,
	"Missouri": true, "Montana": true, "Nebraska": true, "Nevada": true,
	"New Hampshire": true, "New Jersey": true, "New Mexico": true, "New York": true,
	"North Carolina": true, "North Dakota": true, "Ohio": true, "Oklahoma": true,
	"Oregon": true, "Pennsylvania": true, "Rhode Island": true, "South Carolina": true,
	"South Dakota": true, "Tennessee": true, "Texas": true, "Utah": true,
	"Vermont": true, "Virginia": true, "Washington": true, "West Virginia": true,
	"Wisconsin": true, "Wyoming": true,
}

func isUSState(loc string) bool { return usStateSet[loc] }

func stateTag(loc string) string {
	return strings.ReplaceAll(strings.ToLower(loc), " ", "-")
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Category is the closed set of grant categories.
type Category string

const (
	CategoryHealthcare  Category = "healthcare_public_health"
	CategoryEducation   Category = "education_training"
	CategoryEnvironment Category = "environment_sustainability"
	CategorySocial      Category = "social_services"
	CategoryArts        Category = "arts_culture"
	CategoryTechnology  Category = "technology_innovation"
	CategoryResearch    Category = "research_development"
	CategoryCommunity   Category = "community_development"
)

// Categories lists every valid category, in a stable order.
func Categories() []Category {
	return []Category{
		CategoryHealthcare, CategoryEducation, CategoryEnvironment,
		CategorySocial, CategoryArts, CategoryTechnology,
		CategoryResearch, CategoryCommunity,
	}
}

// ValidCategory reports whether c is one of the closed category set.
func ValidCategory(c Category) bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// RawGrant is the untrusted output of a scraping engine. String fields are
// empty when the engine could not extract them; SourceURL and ScrapedAt are
// always set. RawContent preserves engine-specific extras (original HTML,
// PDF metadata, table rows, per-section confidences).
type RawGrant struct {
	Title          string
	Description    string
	Deadline       string
	FundingAmount  string
	Eligibility    string
	ApplicationURL string
	FunderName     string
	SourceURL      string
	ScrapedAt      time.Time
	RawContent     map[string]interface{}
}

// Funder describes the organization behind a grant.
type Funder struct {
	Name         string     `json:"name"`
	Website      string     `json:"website,omitempty"`
	ContactEmail string     `json:"contact_email,omitempty"`
	Type         SourceType `json:"type"`
}

// Grant is the canonical, normalized record handed to the GrantStore.
type Grant struct {
	ID                  uuid.UUID  `json:"id"`
	Title               string     `json:"title"`
	Description         string     `json:"description"`
	Deadline            *time.Time `json:"deadline,omitempty"`
	AmountMin           *int64     `json:"amount_min,omitempty"`
	AmountMax           *int64     `json:"amount_max,omitempty"`
	EligibilityCriteria string     `json:"eligibility_criteria,omitempty"`
	ApplicationURL      string     `json:"application_url,omitempty"`
	Funder              Funder     `json:"funder"`
	Category            Category   `json:"category"`
	LocationEligibility []string   `json:"location_eligibility,omitempty"`
	ConfidenceScore     int        `json:"confidence_score"`
	ContentHash         string     `json:"content_hash"`
	DuplicateHash       string     `json:"duplicate_hash"`
	Tags                []string   `json:"tags,omitempty"`
	IsRolling           bool       `json:"is_rolling,omitempty"`
	SourceURL           string     `json:"source_url"`
	SourceID            string     `json:"source_id,omitempty"`
	ScrapedAt           time.Time  `json:"scraped_at"`
}

// ChangeType classifies how significant a content change is.
type ChangeType string

const (
	ChangeMinor    ChangeType = "minor"
	ChangeMajor    ChangeType = "major"
	ChangeCritical ChangeType = "critical"
)

// ChangeRecord captures the difference between two versions of one grant.
type ChangeRecord struct {
	GrantID       string     `json:"grant_id"`
	PreviousHash  string     `json:"previous_hash"`
	CurrentHash   string     `json:"current_hash"`
	ChangedFields []string   `json:"changed_fields"`
	ChangeType    ChangeType `json:"change_type"`
	DetectedAt    time.Time  `json:"detected_at"`
}

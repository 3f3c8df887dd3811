package models

import "time"

// SourceType is the closed set of funder/source kinds.
type SourceType string

const (
	SourceGov        SourceType = "government"
	SourceFoundation SourceType = "foundation"
	SourceBusiness   SourceType = "business"
	SourceNGO        SourceType = "ngo"
	SourceOther      SourceType = "other"
)

// ValidSourceType reports whether t is a known source type.
func ValidSourceType(t SourceType) bool {
	switch t {
	case SourceGov, SourceFoundation, SourceBusiness, SourceNGO, SourceOther:
		return true
	}
	return false
}

// EngineKind selects which scraping engine handles a source.
type EngineKind string

const (
	EngineStatic  EngineKind = "static"
	EngineBrowser EngineKind = "browser"
	EngineAPI     EngineKind = "api"
	EnginePDF     EngineKind = "pdf"
)

// ValidEngineKind reports whether k is a known engine kind.
func ValidEngineKind(k EngineKind) bool {
	switch k {
	case EngineStatic, EngineBrowser, EngineAPI, EnginePDF:
		return true
	}
	return false
}

// SourceStatus is the lifecycle state of a configured source.
type SourceStatus string

const (
	SourceActive   SourceStatus = "active"
	SourceInactive SourceStatus = "inactive"
	SourceError    SourceStatus = "error"
)

// Frequency is the recurring scrape cadence for a source.
type Frequency string

const (
	FreqHourly  Frequency = "hourly"
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
)

// Interval maps a frequency to its scheduling interval.
func (f Frequency) Interval() time.Duration {
	switch f {
	case FreqHourly:
		return time.Hour
	case FreqWeekly:
		return 7 * 24 * time.Hour
	case FreqMonthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// ValidFrequency reports whether f is a known frequency.
func ValidFrequency(f Frequency) bool {
	switch f {
	case FreqHourly, FreqDaily, FreqWeekly, FreqMonthly:
		return true
	}
	return false
}

// SelectorMap holds the CSS selectors used by the static and browser engines.
type SelectorMap struct {
	Container      string `yaml:"container,omitempty" json:"container,omitempty"`
	Title          string `yaml:"title,omitempty" json:"title,omitempty"`
	Description    string `yaml:"description,omitempty" json:"description,omitempty"`
	Deadline       string `yaml:"deadline,omitempty" json:"deadline,omitempty"`
	Amount         string `yaml:"amount,omitempty" json:"amount,omitempty"`
	Eligibility    string `yaml:"eligibility,omitempty" json:"eligibility,omitempty"`
	ApplicationURL string `yaml:"application_url,omitempty" json:"application_url,omitempty"`
	FunderInfo     string `yaml:"funder_info,omitempty" json:"funder_info,omitempty"`
	WaitFor        string `yaml:"wait_for,omitempty" json:"wait_for,omitempty"` // browser engine readiness selector
}

// RateLimit is the politeness budget for one source.
type RateLimit struct {
	RequestsPerMinute int  `yaml:"requests_per_minute,omitempty" json:"requests_per_minute,omitempty"`
	MinDelayMS        int  `yaml:"min_delay_ms,omitempty" json:"min_delay_ms,omitempty"`
	RespectRobots     bool `yaml:"respect_robots,omitempty" json:"respect_robots,omitempty"`
}

// AuthKind is the closed set of source authentication schemes.
type AuthKind string

const (
	AuthBearer AuthKind = "bearer"
	AuthBasic  AuthKind = "basic"
	AuthAPIKey AuthKind = "apikey"
	AuthOAuth2 AuthKind = "oauth2"
)

// AuthConfig describes how to authenticate against a source.
// Credential keys by scheme:
//
//	bearer: token
//	basic:  username, password
//	apikey: header (default X-API-Key), key
//	oauth2: client_id, client_secret, token_url, scopes (comma separated)
type AuthConfig struct {
	Type        AuthKind          `yaml:"type" json:"type"`
	Credentials map[string]string `yaml:"credentials" json:"credentials"`
}

// PaginationScheme selects how the API engine walks result pages.
type PaginationScheme string

const (
	PaginateOffset PaginationScheme = "offset"
	PaginateCursor PaginationScheme = "cursor"
	PaginatePage   PaginationScheme = "page"
)

// PaginationConfig drives the API engine's paging loop.
type PaginationConfig struct {
	Scheme      PaginationScheme `yaml:"scheme" json:"scheme"`
	PageSize    int              `yaml:"page_size,omitempty" json:"page_size,omitempty"`
	MaxPages    int              `yaml:"max_pages,omitempty" json:"max_pages,omitempty"`
	PageParam   string           `yaml:"page_param,omitempty" json:"page_param,omitempty"`     // page/offset query param name
	SizeParam   string           `yaml:"size_param,omitempty" json:"size_param,omitempty"`     // page-size query param name
	CursorParam string           `yaml:"cursor_param,omitempty" json:"cursor_param,omitempty"` // cursor query param name
	CursorPath  string           `yaml:"cursor_path,omitempty" json:"cursor_path,omitempty"`   // dotted path to next cursor in the response
	ItemsPath   string           `yaml:"items_path,omitempty" json:"items_path,omitempty"`     // dotted path to the item array in the response
}

// SourceMetrics is the rolling scrape health of one source.
type SourceMetrics struct {
	SuccessCount     int        `json:"success_count"`
	FailCount        int        `json:"fail_count"`
	ConsecutiveFails int        `json:"consecutive_fails"`
	AvgParseMS       float64    `json:"avg_parse_ms"`
	LastScrapedAt    *time.Time `json:"last_scraped_at,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	SuccessRate      float64    `json:"success_rate"`
}

// Source is a configured external endpoint to scrape. It is exclusively
// owned by the SourceManager; other components receive copies.
type Source struct {
	ID             string            `yaml:"id" json:"id"`
	Name           string            `yaml:"name" json:"name"`
	URL            string            `yaml:"url" json:"url"`
	Type           SourceType        `yaml:"type" json:"type"`
	Engine         EngineKind        `yaml:"engine" json:"engine"`
	Selectors      SelectorMap       `yaml:"selectors,omitempty" json:"selectors,omitempty"`
	RateLimit      RateLimit         `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Auth           *AuthConfig       `yaml:"auth,omitempty" json:"auth,omitempty"`
	Pagination     *PaginationConfig `yaml:"pagination,omitempty" json:"pagination,omitempty"`
	Status         SourceStatus      `yaml:"status,omitempty" json:"status"`
	DisabledReason string            `yaml:"-" json:"disabled_reason,omitempty"`
	Frequency      Frequency         `yaml:"frequency,omitempty" json:"frequency"`
	TimeoutSeconds int               `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	FollowRedirect *bool             `yaml:"follow_redirects,omitempty" json:"follow_redirects,omitempty"`
	UserAgents     []string          `yaml:"user_agents,omitempty" json:"user_agents,omitempty"`
	Metrics        SourceMetrics     `yaml:"-" json:"metrics"`
	CreatedAt      time.Time         `yaml:"-" json:"created_at"`
	UpdatedAt      time.Time         `yaml:"-" json:"updated_at"`
}

// Timeout returns the per-request timeout for the source.
func (s *Source) Timeout() time.Duration {
	if s.TimeoutSeconds > 0 {
		return time.Duration(s.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// FollowRedirects defaults to true unless explicitly disabled.
func (s *Source) FollowRedirects() bool {
	return s.FollowRedirect == nil || *s.FollowRedirect
}

package models

// ValidationError is a hard rule violation on one field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationWarning is a soft issue that does not invalidate the record.
type ValidationWarning struct {
	Field      string `json:"field"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ValidationReport is the outcome of validating a single Grant.
type ValidationReport struct {
	Valid        bool                `json:"valid"`
	Errors       []ValidationError   `json:"errors,omitempty"`
	Warnings     []ValidationWarning `json:"warnings,omitempty"`
	QualityScore int                 `json:"quality_score"`
}

// ProcessingReport accompanies the Grant produced from a RawGrant.
type ProcessingReport struct {
	Errors       []string `json:"errors,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	QualityScore int      `json:"quality_score"`
}

// HealthResult is a SourceManager health probe outcome.
type HealthResult struct {
	Healthy        bool   `json:"healthy"`
	StatusCode     int    `json:"status_code,omitempty"`
	ResponseTimeMS int64  `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
}

package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType is the closed scraping error taxonomy.
type ErrorType string

const (
	ErrNetwork        ErrorType = "network"
	ErrParsing        ErrorType = "parsing"
	ErrValidation     ErrorType = "validation"
	ErrRateLimit      ErrorType = "rate-limit"
	ErrAuthentication ErrorType = "authentication"
	ErrCaptcha        ErrorType = "captcha"
	ErrDatabase       ErrorType = "database"
	ErrContentChanged ErrorType = "content-changed"
)

// ScrapeError is an error tagged with its taxonomy type and originating source.
type ScrapeError struct {
	Type     ErrorType `json:"type"`
	SourceID string    `json:"source_id,omitempty"`
	Message  string    `json:"message"`
	Err      error     `json:"-"`
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *ScrapeError) Unwrap() error { return e.Err }

// NewScrapeError builds a tagged error wrapping cause (which may be nil).
func NewScrapeError(t ErrorType, message string, cause error) *ScrapeError {
	return &ScrapeError{Type: t, Message: message, Err: cause}
}

// PageErrors collects tolerated per-page failures from a paginated fetch.
// Engines return it alongside the items they did collect; callers record
// each entry without treating the fetch as failed.
type PageErrors []*ScrapeError

func (p PageErrors) Error() string {
	return fmt.Sprintf("%d page(s) failed during fetch", len(p))
}

// ClassifyError maps an arbitrary error onto the taxonomy using message and
// type heuristics. Already-tagged errors keep their type.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrNetwork
	}
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Type
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "captcha") || strings.Contains(msg, "challenge page"):
		return ErrCaptcha
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "credential") || strings.Contains(msg, "authentication"):
		return ErrAuthentication
	case strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "rate limit"):
		return ErrRateLimit
	case strings.Contains(msg, "sql") || strings.Contains(msg, "pgx") ||
		strings.Contains(msg, "database") || strings.Contains(msg, "constraint"):
		return ErrDatabase
	case strings.Contains(msg, "no containers matched") || strings.Contains(msg, "structure changed"):
		return ErrContentChanged
	case strings.Contains(msg, "parse") || strings.Contains(msg, "selector") ||
		strings.Contains(msg, "unmarshal") || strings.Contains(msg, "decode") ||
		strings.Contains(msg, "malformed") || strings.Contains(msg, "invalid character"):
		return ErrParsing
	case strings.Contains(msg, "invalid grant") || strings.Contains(msg, "validation"):
		return ErrValidation
	default:
		return ErrNetwork
	}
}

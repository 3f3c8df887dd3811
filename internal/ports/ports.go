// Package ports declares the narrow interfaces through which the ingestion
// core talks to the outside world. Implementations are injected at
// construction; tests supply fakes.
package ports

import (
	"context"
	"time"

	"github.com/david/grant-scraper/internal/models"
)

// UpsertAction is the outcome of a GrantStore upsert.
type UpsertAction string

const (
	ActionInserted UpsertAction = "inserted"
	ActionUpdated  UpsertAction = "updated"
	ActionSkipped  UpsertAction = "skipped"
)

// UpsertResult reports what the store did with a grant.
type UpsertResult struct {
	Action UpsertAction
	Change *models.ChangeRecord
}

// GrantStore is the persistence port consumed by the Orchestrator.
type GrantStore interface {
	Upsert(ctx context.Context, grant models.Grant) (UpsertResult, error)
	FindByDuplicateHash(ctx context.Context, hash string) (*models.Grant, error)
	ListCandidatesForFunder(ctx context.Context, funderName string, limit int) ([]models.Grant, error)
}

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alerter is the notification fan-out port.
type Alerter interface {
	Notify(ctx context.Context, severity Severity, subject, details string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

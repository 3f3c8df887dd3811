package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/david/grant-scraper/internal/dedup"
	"github.com/david/grant-scraper/internal/models"
	"github.com/david/grant-scraper/internal/ports"
)

// Store implements ports.GrantStore on Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps a connected pool.
func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

const grantCols = `id, title, description, deadline, amount_min, amount_max,
	eligibility_criteria, application_url,
	funder_name, funder_website, funder_contact_email, funder_type,
	category, location_eligibility, confidence_score,
	content_hash, duplicate_hash, tags, is_rolling,
	source_url, source_id, scraped_at`

func scanGrant(scan func(dest ...interface{}) error) (models.Grant, error) {
	var g models.Grant
	var deadline *time.Time
	var sourceID, eligibility, appURL, website, email *string

	err := scan(
		&g.ID, &g.Title, &g.Description, &deadline, &g.AmountMin, &g.AmountMax,
		&eligibility, &appURL,
		&g.Funder.Name, &website, &email, &g.Funder.Type,
		&g.Category, &g.LocationEligibility, &g.ConfidenceScore,
		&g.ContentHash, &g.DuplicateHash, &g.Tags, &g.IsRolling,
		&g.SourceURL, &sourceID, &g.ScrapedAt,
	)
	if err != nil {
		return g, err
	}
	g.Deadline = deadline
	if eligibility != nil {
		g.EligibilityCriteria = *eligibility
	}
	if appURL != nil {
		g.ApplicationURL = *appURL
	}
	if website != nil {
		g.Funder.Website = *website
	}
	if email != nil {
		g.Funder.ContactEmail = *email
	}
	if sourceID != nil {
		g.SourceID = *sourceID
	}
	return g, nil
}

// decideAction compares the incoming grant against the stored version with
// the same duplicate hash. Identical content is a skip; differing content is
// an update carrying a classified ChangeRecord.
func decideAction(prev *models.Grant, curr models.Grant) (ports.UpsertAction, *models.ChangeRecord) {
	if prev == nil {
		return ports.ActionInserted, nil
	}
	if prev.ContentHash == curr.ContentHash {
		return ports.ActionSkipped, nil
	}
	change := dedup.DetectChanges(*prev, curr)
	return ports.ActionUpdated, change
}

// Upsert inserts the grant or, when a record with the same duplicate hash
// exists, updates it if the content changed. Updates write a grant_changes
// row.
func (s *Store) Upsert(ctx context.Context, g models.Grant) (ports.UpsertResult, error) {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}

	prev, err := s.FindByDuplicateHash(ctx, g.DuplicateHash)
	if err != nil {
		return ports.UpsertResult{}, err
	}

	action, change := decideAction(prev, g)
	switch action {
	case ports.ActionInserted:
		if err := s.insert(ctx, g); err != nil {
			return ports.UpsertResult{}, err
		}
	case ports.ActionSkipped:
		if _, err := s.pool.Exec(ctx, `UPDATE grants SET scraped_at = $2, updated_at = NOW() WHERE id = $1`, prev.ID, g.ScrapedAt); err != nil {
			return ports.UpsertResult{}, fmt.Errorf("touching grant %s: %w", prev.ID, err)
		}
	case ports.ActionUpdated:
		g.ID = prev.ID
		if err := s.update(ctx, g); err != nil {
			return ports.UpsertResult{}, err
		}
		if change != nil {
			change.GrantID = prev.ID.String()
			if err := s.recordChange(ctx, *change); err != nil {
				return ports.UpsertResult{}, err
			}
		}
	}
	return ports.UpsertResult{Action: action, Change: change}, nil
}

func (s *Store) insert(ctx context.Context, g models.Grant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO grants (`+grantCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		g.ID, g.Title, g.Description, g.Deadline, g.AmountMin, g.AmountMax,
		nullable(g.EligibilityCriteria), nullable(g.ApplicationURL),
		g.Funder.Name, nullable(g.Funder.Website), nullable(g.Funder.ContactEmail), g.Funder.Type,
		g.Category, g.LocationEligibility, g.ConfidenceScore,
		g.ContentHash, g.DuplicateHash, g.Tags, g.IsRolling,
		g.SourceURL, nullable(g.SourceID), g.ScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting grant %q: %w", g.Title, err)
	}
	return nil
}

func (s *Store) update(ctx context.Context, g models.Grant) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE grants SET
			title = $2, description = $3, deadline = $4, amount_min = $5, amount_max = $6,
			eligibility_criteria = $7, application_url = $8,
			funder_name = $9, funder_website = $10, funder_contact_email = $11, funder_type = $12,
			category = $13, location_eligibility = $14, confidence_score = $15,
			content_hash = $16, tags = $17, is_rolling = $18,
			source_url = $19, source_id = $20, scraped_at = $21, updated_at = NOW()
		WHERE id = $1`,
		g.ID, g.Title, g.Description, g.Deadline, g.AmountMin, g.AmountMax,
		nullable(g.EligibilityCriteria), nullable(g.ApplicationURL),
		g.Funder.Name, nullable(g.Funder.Website), nullable(g.Funder.ContactEmail), g.Funder.Type,
		g.Category, g.LocationEligibility, g.ConfidenceScore,
		g.ContentHash, g.Tags, g.IsRolling,
		g.SourceURL, nullable(g.SourceID), g.ScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("updating grant %s: %w", g.ID, err)
	}
	return nil
}

func (s *Store) recordChange(ctx context.Context, c models.ChangeRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO grant_changes (grant_id, previous_hash, current_hash, changed_fields, change_type, detected_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		c.GrantID, c.PreviousHash, c.CurrentHash, c.ChangedFields, c.ChangeType, c.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("recording change for grant %s: %w", c.GrantID, err)
	}
	return nil
}

// FindByDuplicateHash returns the stored grant with that duplicate hash, or
// nil when absent.
func (s *Store) FindByDuplicateHash(ctx context.Context, hash string) (*models.Grant, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+grantCols+` FROM grants WHERE duplicate_hash = $1`, hash)
	g, err := scanGrant(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding grant by duplicate hash: %w", err)
	}
	return &g, nil
}

// ListCandidatesForFunder returns recent grants from one funder for
// cross-batch matching.
func (s *Store) ListCandidatesForFunder(ctx context.Context, funderName string, limit int) ([]models.Grant, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+grantCols+` FROM grants
		WHERE LOWER(funder_name) = LOWER($1)
		ORDER BY scraped_at DESC
		LIMIT $2`, funderName, limit)
	if err != nil {
		return nil, fmt.Errorf("listing candidates for %q: %w", funderName, err)
	}
	defer rows.Close()

	var out []models.Grant
	for rows.Next() {
		g, err := scanGrant(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning candidate: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// RecordRun writes one scrape_runs accounting row.
func (s *Store) RecordRun(ctx context.Context, jobID string, result models.ScrapingResult) error {
	var errsJSON []byte
	if len(result.Errors) > 0 {
		b, err := json.Marshal(result.Errors)
		if err != nil {
			return fmt.Errorf("encoding run errors: %w", err)
		}
		errsJSON = b
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scrape_runs (job_id, source_id, total_found, total_inserted, total_updated, total_skipped, error_count, errors, duration_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		jobID, result.SourceID, result.TotalFound, result.TotalInserted, result.TotalUpdated, result.TotalSkipped,
		len(result.Errors), errsJSON, result.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("recording scrape run: %w", err)
	}
	return nil
}

// SaveSourceMetrics persists a source's rolling metrics snapshot.
func (s *Store) SaveSourceMetrics(ctx context.Context, src models.Source) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sources (id, name, url, type, engine, status, success_count, fail_count, consecutive_fails, avg_parse_ms, success_rate, last_scraped_at, last_error, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, url = EXCLUDED.url, type = EXCLUDED.type,
			engine = EXCLUDED.engine, status = EXCLUDED.status,
			success_count = EXCLUDED.success_count, fail_count = EXCLUDED.fail_count,
			consecutive_fails = EXCLUDED.consecutive_fails, avg_parse_ms = EXCLUDED.avg_parse_ms,
			success_rate = EXCLUDED.success_rate, last_scraped_at = EXCLUDED.last_scraped_at,
			last_error = EXCLUDED.last_error, updated_at = NOW()`,
		src.ID, src.Name, src.URL, src.Type, src.Engine, src.Status,
		src.Metrics.SuccessCount, src.Metrics.FailCount, src.Metrics.ConsecutiveFails,
		src.Metrics.AvgParseMS, src.Metrics.SuccessRate, src.Metrics.LastScrapedAt, nullable(src.Metrics.LastError),
	)
	if err != nil {
		return fmt.Errorf("saving metrics for source %s: %w", src.ID, err)
	}
	return nil
}

// RunStats is the per-source rollup of scrape_runs rows.
type RunStats struct {
	SourceID       string
	Runs           int
	TotalFound     int
	TotalInserted  int
	TotalUpdated   int
	ErrorCount     int
	AvgDurationMS  float64
	LastFinishedAt *time.Time
}

// SummarizeRuns aggregates scrape_runs per source.
func (s *Store) SummarizeRuns(ctx context.Context) ([]RunStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT source_id, COUNT(*), COALESCE(SUM(total_found),0), COALESCE(SUM(total_inserted),0),
		       COALESCE(SUM(total_updated),0), COALESCE(SUM(error_count),0),
		       COALESCE(AVG(duration_ms),0), MAX(finished_at)
		FROM scrape_runs
		GROUP BY source_id
		ORDER BY source_id`)
	if err != nil {
		return nil, fmt.Errorf("summarizing runs: %w", err)
	}
	defer rows.Close()

	var out []RunStats
	for rows.Next() {
		var st RunStats
		if err := rows.Scan(&st.SourceID, &st.Runs, &st.TotalFound, &st.TotalInserted,
			&st.TotalUpdated, &st.ErrorCount, &st.AvgDurationMS, &st.LastFinishedAt); err != nil {
			return nil, fmt.Errorf("scanning run stats: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

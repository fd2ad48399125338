package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/codegrove/codesearch/internal/errs"
	"github.com/codegrove/codesearch/internal/models"
)

// Postgres is a Registry backed by a single "repositories" table; the
// schema lives in migrations/0001_init.up.sql and is applied with
// golang-migrate.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection pool against dsn and verifies it with
// a ping.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

const selectColumns = `
	id, name, source_url, kind, enabled, credentials_kind, credentials_values,
	default_branch, namespace, excluded_projects, excluded_patterns,
	auto_crawl, cron_expression, crawl_frequency_hours, max_crawl_duration_minutes,
	last_revisions, last_crawl_started_at, last_crawl_completed_at,
	last_crawl_duration_seconds, checkpoint`

func (p *Postgres) ListEnabled(ctx context.Context) ([]models.Repository, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM repositories WHERE enabled = true`)
	if err != nil {
		return nil, errs.NewDatabase("list enabled repositories", err)
	}
	defer rows.Close()

	var out []models.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, errs.NewDatabase("scan repository row", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) Get(ctx context.Context, id string) (models.Repository, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM repositories WHERE id = $1`, id)
	r, err := scanRepository(row)
	if err == sql.ErrNoRows {
		return models.Repository{}, errs.NewNotFound("repository " + id)
	}
	if err != nil {
		return models.Repository{}, errs.NewDatabase("get repository", err)
	}
	return r, nil
}

func (p *Postgres) UpdateCrawlState(ctx context.Context, id string, state models.CrawlState) error {
	revisions, err := json.Marshal(state.LastRevisions)
	if err != nil {
		return err
	}
	var checkpoint []byte
	if state.Checkpoint != nil {
		checkpoint, err = json.Marshal(state.Checkpoint)
		if err != nil {
			return err
		}
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE repositories
		SET last_revisions = $2, last_crawl_started_at = $3, last_crawl_completed_at = $4,
		    last_crawl_duration_seconds = $5, checkpoint = $6
		WHERE id = $1`,
		id, revisions, state.LastCrawlStartedAt, state.LastCrawlCompletedAt,
		state.LastCrawlDuration.Seconds(), checkpoint,
	)
	if err != nil {
		return errs.NewDatabase("update crawl state", err)
	}
	return checkRowsAffected(res, id)
}

func (p *Postgres) UpdateLastCrawled(ctx context.Context, id string, completedAt time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE repositories SET last_crawl_completed_at = $2 WHERE id = $1`, id, completedAt)
	if err != nil {
		return errs.NewDatabase("update last crawled", err)
	}
	return checkRowsAffected(res, id)
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errs.NewDatabase("check rows affected", err)
	}
	if n == 0 {
		return errs.NewNotFound("repository " + id)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRepository(row rowScanner) (models.Repository, error) {
	var r models.Repository
	var credKind sql.NullString
	var credValues, lastRevisions, checkpoint []byte
	var lastStarted, lastCompleted sql.NullTime
	var lastDurationSeconds sql.NullFloat64

	err := row.Scan(
		&r.ID, &r.Name, &r.SourceURL, &r.Kind, &r.Enabled, &credKind, &credValues,
		&r.DefaultBranch, &r.Namespace, pq.Array(&r.ExcludedProjects), pq.Array(&r.ExcludedPatterns),
		&r.AutoCrawl, &r.CronExpression, &r.CrawlFrequencyHours, &r.MaxCrawlDurationMinutes,
		&lastRevisions, &lastStarted, &lastCompleted, &lastDurationSeconds, &checkpoint,
	)
	if err != nil {
		return models.Repository{}, err
	}

	if credKind.Valid {
		r.Credentials.Kind = credKind.String
		if len(credValues) > 0 {
			_ = json.Unmarshal(credValues, &r.Credentials.Values)
		}
	}
	if len(lastRevisions) > 0 {
		_ = json.Unmarshal(lastRevisions, &r.State.LastRevisions)
	}
	if len(checkpoint) > 0 {
		r.State.Checkpoint = &models.ResumeCheckpoint{}
		_ = json.Unmarshal(checkpoint, r.State.Checkpoint)
	}
	if lastStarted.Valid {
		r.State.LastCrawlStartedAt = &lastStarted.Time
	}
	if lastCompleted.Valid {
		r.State.LastCrawlCompletedAt = &lastCompleted.Time
	}
	if lastDurationSeconds.Valid {
		r.State.LastCrawlDuration = time.Duration(lastDurationSeconds.Float64 * float64(time.Second))
	}

	return r, nil
}

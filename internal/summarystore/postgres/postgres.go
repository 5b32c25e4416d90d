package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/schematichub/overview-gateway/internal/summarystore"
)

var _ summarystore.Store = (*Store)(nil)

// Store implements summarystore.Store backed by PostgreSQL.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// PoolConfig sizes the connection pool. Zero values keep database/sql defaults.
type PoolConfig struct {
	MaxOpen         int
	MaxIdle         int
	LifetimeMinutes int
	IdleTimeMinutes int
}

// New opens a PostgreSQL-backed summary store using the provided DSN and pool settings.
func New(dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if pool.MaxOpen > 0 {
		db.SetMaxOpenConns(pool.MaxOpen)
	}
	if pool.MaxIdle > 0 {
		db.SetMaxIdleConns(pool.MaxIdle)
	}
	if pool.LifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(pool.LifetimeMinutes) * time.Minute)
	}
	if pool.IdleTimeMinutes > 0 {
		db.SetConnMaxIdleTime(time.Duration(pool.IdleTimeMinutes) * time.Minute)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS commit_summaries (
	repo_url TEXT NOT NULL,
	commit_hash TEXT NOT NULL,
	commit_date TIMESTAMPTZ,
	git_message TEXT NOT NULL DEFAULT '',
	image TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	overview TEXT NOT NULL DEFAULT '',
	blurb TEXT,
	description TEXT,
	parts JSONB NOT NULL DEFAULT '{}'::jsonb,
	changed_files TEXT[] NOT NULL DEFAULT '{}',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (repo_url, commit_hash)
);
CREATE INDEX IF NOT EXISTS idx_commit_summaries_repo_date ON commit_summaries(repo_url, commit_date);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get loads the summary for a commit; nil, nil when absent.
func (s *Store) Get(ctx context.Context, repoURL, commitHash string) (*summarystore.Summary, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT repo_url, commit_hash, commit_date, git_message, image, summary, overview, blurb, description, parts::text, changed_files, updated_at
FROM commit_summaries
WHERE repo_url = $1 AND commit_hash = $2`, repoURL, commitHash)

	var (
		sum         summarystore.Summary
		commitDate  sql.NullTime
		blurb, desc sql.NullString
		parts       string
	)
	err := row.Scan(&sum.RepoURL, &sum.CommitHash, &commitDate, &sum.GitMessage, &sum.Image, &sum.Summary,
		&sum.Overview, &blurb, &desc, &parts, pq.Array(&sum.ChangedFiles), &sum.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get summary: %w", err)
	}
	if commitDate.Valid {
		t := commitDate.Time.UTC()
		sum.CommitDate = &t
	}
	if blurb.Valid {
		sum.Blurb = &blurb.String
	}
	if desc.Valid {
		sum.Description = &desc.String
	}
	if sum.Parts, err = summarystore.DecodeParts(parts); err != nil {
		return nil, err
	}
	return &sum, nil
}

// Put upserts the summary.
func (s *Store) Put(ctx context.Context, sum summarystore.Summary) error {
	if err := sum.Validate(); err != nil {
		return err
	}
	parts, err := summarystore.EncodeParts(sum.Parts)
	if err != nil {
		return err
	}
	files := sum.ChangedFiles
	if files == nil {
		files = []string{}
	}
	updated := sum.UpdatedAt
	if updated.IsZero() {
		updated = s.now().UTC()
	}
	var commitDate sql.NullTime
	if sum.CommitDate != nil {
		commitDate = sql.NullTime{Time: sum.CommitDate.UTC(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO commit_summaries(repo_url, commit_hash, commit_date, git_message, image, summary, overview, blurb, description, parts, changed_files, updated_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $12)
ON CONFLICT (repo_url, commit_hash) DO UPDATE SET
	commit_date = EXCLUDED.commit_date,
	git_message = EXCLUDED.git_message,
	image = EXCLUDED.image,
	summary = EXCLUDED.summary,
	overview = EXCLUDED.overview,
	blurb = EXCLUDED.blurb,
	description = EXCLUDED.description,
	parts = EXCLUDED.parts,
	changed_files = EXCLUDED.changed_files,
	updated_at = EXCLUDED.updated_at`,
		sum.RepoURL, sum.CommitHash, commitDate, sum.GitMessage, sum.Image, sum.Summary, sum.Overview,
		nullString(sum.Blurb), nullString(sum.Description), parts, pq.Array(files), updated,
	)
	if err != nil {
		return fmt.Errorf("postgres: put summary: %w", err)
	}
	return nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

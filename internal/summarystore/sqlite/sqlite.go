package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/schematichub/overview-gateway/internal/summarystore"
)

var _ summarystore.Store = (*Store)(nil)

// Store implements summarystore.Store backed by SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create summary store directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	// one writer at a time keeps SQLITE_BUSY out of the batch loop
	db.SetMaxOpenConns(1)

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
	commit_date TIMESTAMP,
	git_message TEXT NOT NULL DEFAULT '',
	image TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	overview TEXT NOT NULL DEFAULT '',
	blurb TEXT,
	description TEXT,
	parts TEXT NOT NULL DEFAULT '{}',
	changed_files TEXT NOT NULL DEFAULT '[]',
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
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
SELECT repo_url, commit_hash, commit_date, git_message, image, summary, overview, blurb, description, parts, changed_files, updated_at
FROM commit_summaries
WHERE repo_url = ? AND commit_hash = ?`, repoURL, commitHash)

	var (
		sum         summarystore.Summary
		commitDate  sql.NullTime
		blurb, desc sql.NullString
		parts, files string
	)
	err := row.Scan(&sum.RepoURL, &sum.CommitHash, &commitDate, &sum.GitMessage, &sum.Image, &sum.Summary,
		&sum.Overview, &blurb, &desc, &parts, &files, &sum.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get summary: %w", err)
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
	if files != "" {
		if err := json.Unmarshal([]byte(files), &sum.ChangedFiles); err != nil {
			return nil, fmt.Errorf("sqlite: decode changed files: %w", err)
		}
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
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("sqlite: encode changed files: %w", err)
	}
	updated := sum.UpdatedAt
	if updated.IsZero() {
		updated = s.now().UTC()
	}
	var commitDate any
	if sum.CommitDate != nil {
		commitDate = sum.CommitDate.UTC()
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO commit_summaries(repo_url, commit_hash, commit_date, git_message, image, summary, overview, blurb, description, parts, changed_files, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(repo_url, commit_hash) DO UPDATE SET
	commit_date = excluded.commit_date,
	git_message = excluded.git_message,
	image = excluded.image,
	summary = excluded.summary,
	overview = excluded.overview,
	blurb = excluded.blurb,
	description = excluded.description,
	parts = excluded.parts,
	changed_files = excluded.changed_files,
	updated_at = excluded.updated_at`,
		sum.RepoURL, sum.CommitHash, commitDate, sum.GitMessage, sum.Image, sum.Summary, sum.Overview,
		nullString(sum.Blurb), nullString(sum.Description), parts, string(filesJSON), updated,
	)
	if err != nil {
		return fmt.Errorf("sqlite: put summary: %w", err)
	}
	return nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

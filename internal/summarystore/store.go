package summarystore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Summary is the stored generation state for one commit of one repository.
// Blurb and Description are nil until an overview has been generated.
type Summary struct {
	RepoURL      string            `json:"repo_url"`
	CommitHash   string            `json:"commit_hash"`
	CommitDate   *time.Time        `json:"commit_date,omitempty"`
	GitMessage   string            `json:"git_message"`
	Image        string            `json:"image,omitempty"`
	Summary      string            `json:"summary,omitempty"`
	Overview     string            `json:"overview,omitempty"`
	Blurb        *string           `json:"blurb,omitempty"`
	Description  *string           `json:"description,omitempty"`
	Parts        map[string]string `json:"parts,omitempty"`
	ChangedFiles []string          `json:"changed_files,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Store persists commit summaries keyed by (repo URL, commit hash).
type Store interface {
	// Get returns nil, nil when nothing is stored for the commit.
	Get(ctx context.Context, repoURL, commitHash string) (*Summary, error)
	// Put inserts or replaces the summary for its (RepoURL, CommitHash).
	Put(ctx context.Context, summary Summary) error
	Ping(ctx context.Context) error
	Close() error
}

// Validate checks the key fields required by every backend.
func (s Summary) Validate() error {
	if strings.TrimSpace(s.RepoURL) == "" {
		return fmt.Errorf("summarystore: repo url required")
	}
	if strings.TrimSpace(s.CommitHash) == "" {
		return fmt.Errorf("summarystore: commit hash required")
	}
	return nil
}

// EncodeParts serialises the parts map for storage as a JSON text column.
func EncodeParts(parts map[string]string) (string, error) {
	if len(parts) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("summarystore: encode parts: %w", err)
	}
	return string(data), nil
}

// DecodeParts is the inverse of EncodeParts. Empty input yields a nil map.
func DecodeParts(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "{}" || raw == "null" {
		return nil, nil
	}
	var parts map[string]string
	if err := json.Unmarshal([]byte(raw), &parts); err != nil {
		return nil, fmt.Errorf("summarystore: decode parts: %w", err)
	}
	return parts, nil
}

// StringPtr returns a pointer to v.
func StringPtr(v string) *string { return &v }

package history

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// SchematicExt marks files that count as schematic changes.
const SchematicExt = ".kicad_sch"

// Commit is one entry of a repository's schematic history.
type Commit struct {
	Hash    string     `json:"hash"`
	Date    *time.Time `json:"date,omitempty"`
	Message string     `json:"message"`
}

// Source reads commit history for a repository. Repositories are addressed
// as "owner/name" or a full clone URL.
type Source interface {
	// ListSchematicCommits returns commits touching schematic files, oldest first.
	ListSchematicCommits(ctx context.Context, repo string) ([]Commit, error)
	// ChangedFiles returns the schematic files touched by one commit.
	ChangedFiles(ctx context.Context, repo, hash string) ([]string, error)
	// LatestCommit returns the newest schematic commit, or nil when there is none.
	LatestCommit(ctx context.Context, repo string) (*Commit, error)
}

// IsSchematic reports whether name is a schematic file.
func IsSchematic(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), SchematicExt)
}

// ParseRepo splits a repository reference into owner and name. It accepts
// "owner/name", "github.com/owner/name" and http(s) or .git clone URLs.
func ParseRepo(repo string) (owner, name string, err error) {
	ref := strings.TrimSpace(repo)
	if u, perr := url.Parse(ref); perr == nil && u.Host != "" {
		ref = u.Path
	} else {
		ref = strings.TrimPrefix(ref, "github.com/")
	}
	ref = strings.TrimSuffix(strings.Trim(ref, "/"), ".git")
	segments := strings.Split(ref, "/")
	if len(segments) != 2 || segments[0] == "" || segments[1] == "" {
		return "", "", fmt.Errorf("history: invalid repository reference %q", repo)
	}
	return segments[0], segments[1], nil
}

// RepoKey normalises a repository reference to "owner/name" so cache keys and
// stored rows agree regardless of how the caller spelled the repository.
func RepoKey(repo string) string {
	owner, name, err := ParseRepo(repo)
	if err != nil {
		return strings.TrimSpace(repo)
	}
	return path.Join(owner, name)
}

// CloneURL is the canonical https clone URL used as the storage key for a
// repository's summaries.
func CloneURL(repo string) string {
	return "https://github.com/" + RepoKey(repo) + ".git"
}

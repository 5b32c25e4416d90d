package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/schematichub/overview-gateway/internal/history"
)

const (
	// DefaultBaseURL is the public GitHub REST API root.
	DefaultBaseURL = "https://api.github.com"

	defaultPerPage  = 100
	defaultMaxPages = 10
	maxErrorBody    = 2048
)

var _ history.Source = (*Source)(nil)

// Config configures the GitHub history source.
type Config struct {
	BaseURL    string
	Token      string // optional; raises the API quota
	PerPage    int
	MaxPages   int
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Source lists schematic commits through the GitHub REST API.
type Source struct {
	baseURL  string
	token    string
	perPage  int
	maxPages int
	client   *http.Client
	logger   *log.Logger

	mu    sync.Mutex
	files map[string][]string // "owner/name@sha" -> schematic files
}

// New creates a Source with defaults applied.
func New(cfg Config) *Source {
	base := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if cfg.PerPage <= 0 || cfg.PerPage > 100 {
		cfg.PerPage = defaultPerPage
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Source{
		baseURL:  base,
		token:    strings.TrimSpace(cfg.Token),
		perPage:  cfg.PerPage,
		maxPages: cfg.MaxPages,
		client:   client,
		logger:   cfg.Logger,
		files:    make(map[string][]string),
	}
}

type commitListItem struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Date *time.Time `json:"date"`
		} `json:"author"`
		Committer struct {
			Date *time.Time `json:"date"`
		} `json:"committer"`
	} `json:"commit"`
}

type commitDetail struct {
	SHA   string `json:"sha"`
	Files []struct {
		Filename string `json:"filename"`
		Status   string `json:"status"`
	} `json:"files"`
}

// ListSchematicCommits walks the commit list newest-first page by page, keeps
// commits that touch a schematic file and returns them oldest first.
func (s *Source) ListSchematicCommits(ctx context.Context, repo string) ([]history.Commit, error) {
	owner, name, err := history.ParseRepo(repo)
	if err != nil {
		return nil, err
	}

	var all []commitListItem
	for page := 1; page <= s.maxPages; page++ {
		q := url.Values{}
		q.Set("per_page", fmt.Sprint(s.perPage))
		q.Set("page", fmt.Sprint(page))
		var items []commitListItem
		if err := s.getJSON(ctx, fmt.Sprintf("/repos/%s/%s/commits?%s", owner, name, q.Encode()), &items); err != nil {
			return nil, fmt.Errorf("github: list commits: %w", err)
		}
		all = append(all, items...)
		if len(items) < s.perPage {
			break
		}
	}

	var commits []history.Commit
	for _, item := range all {
		files, err := s.ChangedFiles(ctx, repo, item.SHA)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			continue
		}
		date := item.Commit.Author.Date
		if date == nil {
			date = item.Commit.Committer.Date
		}
		commits = append(commits, history.Commit{
			Hash:    item.SHA,
			Date:    date,
			Message: strings.TrimSpace(item.Commit.Message),
		})
	}
	slices.Reverse(commits)
	if s.logger != nil {
		s.logger.Printf("github: %s/%s: %d of %d commits touch schematics", owner, name, len(commits), len(all))
	}
	return commits, nil
}

// ChangedFiles returns the schematic files of one commit.
func (s *Source) ChangedFiles(ctx context.Context, repo, hash string) ([]string, error) {
	owner, name, err := history.ParseRepo(repo)
	if err != nil {
		return nil, err
	}
	key := owner + "/" + name + "@" + hash
	s.mu.Lock()
	cached, ok := s.files[key]
	s.mu.Unlock()
	if ok {
		return append([]string(nil), cached...), nil
	}

	var detail commitDetail
	if err := s.getJSON(ctx, fmt.Sprintf("/repos/%s/%s/commits/%s", owner, name, url.PathEscape(hash)), &detail); err != nil {
		return nil, fmt.Errorf("github: commit %s: %w", hash, err)
	}
	files := []string{}
	for _, f := range detail.Files {
		if history.IsSchematic(f.Filename) {
			files = append(files, f.Filename)
		}
	}
	s.mu.Lock()
	s.files[key] = files
	s.mu.Unlock()
	return append([]string(nil), files...), nil
}

// LatestCommit returns the newest schematic commit.
func (s *Source) LatestCommit(ctx context.Context, repo string) (*history.Commit, error) {
	commits, err := s.ListSchematicCommits(ctx, repo)
	if err != nil {
		return nil, err
	}
	if len(commits) == 0 {
		return nil, nil
	}
	latest := commits[len(commits)-1]
	return &latest, nil
}

// StatusError is a non-success GitHub response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

func (s *Source) getJSON(ctx context.Context, pathAndQuery string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+pathAndQuery, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var msg struct {
			Message string `json:"message"`
		}
		text := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &msg) == nil && msg.Message != "" {
			text = msg.Message
		}
		return &StatusError{Status: resp.StatusCode, Body: text}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

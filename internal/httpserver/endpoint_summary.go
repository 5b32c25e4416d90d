package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/schematichub/overview-gateway/internal/history"
	"github.com/schematichub/overview-gateway/internal/openai"
	"github.com/schematichub/overview-gateway/internal/prompts"
)

type commitSummaryRequest struct {
	Repo   string `json:"repo"`
	Commit string `json:"commit"`
}

type commitSummaryResponse struct {
	Repo    string `json:"repo"`
	Commit  string `json:"commit"`
	Summary string `json:"summary"`
	Details string `json:"details"`
}

type repoSummaryRequest struct {
	Repo string `json:"repo"`
}

type repoSummaryResponse struct {
	Repo    string `json:"repo"`
	Summary string `json:"summary"`
	Details string `json:"details"`
}

type selectionSummaryRequest struct {
	Repo         string   `json:"repo"`
	Commit       string   `json:"commit"`
	ComponentIDs []string `json:"component_ids"`
}

type selectionSummaryResponse struct {
	Repo         string   `json:"repo"`
	Commit       string   `json:"commit"`
	ComponentIDs []string `json:"component_ids"`
	Summary      string   `json:"summary"`
	Details      string   `json:"details"`
}

const noContent = "No response content available"

// HandleCommitSummary asks the provider, single shot, to summarise one commit.
func (s *Server) HandleCommitSummary(w http.ResponseWriter, r *http.Request) {
	var in commitSummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return
	}
	in.Repo, in.Commit = strings.TrimSpace(in.Repo), strings.TrimSpace(in.Commit)
	if in.Repo == "" || in.Commit == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("repo and commit are required"))
		return
	}
	s.logger.Printf("commit summary requested for %s/%s", in.Repo, in.Commit)

	p := s.prompts.CommitSummary
	req := openai.ChatCompletionRequest{Model: s.summaryModel}
	if strings.TrimSpace(p.System) != "" {
		req.Messages = append(req.Messages, openai.SystemMessage(p.System))
	}
	repoKey := history.RepoKey(in.Repo)
	req.Messages = append(req.Messages, openai.UserMessage(prompts.Render(p.User, map[string]string{
		"repo":   repoKey,
		"commit": in.Commit,
		"url":    fmt.Sprintf("https://github.com/%s/commit/%s", repoKey, in.Commit),
	})))

	resp, err := s.chat.CreateCompletion(r.Context(), req)
	if err != nil {
		s.logger.Printf("commit summary %s/%s: %v", in.Repo, in.Commit, err)
		s.respondError(w, http.StatusInternalServerError, fmt.Errorf("failed to get AI summary: %w", err))
		return
	}
	summary, ok := resp.FirstContent()
	if !ok || summary == "" {
		summary = noContent
	}
	s.respondJSON(w, http.StatusOK, commitSummaryResponse{
		Repo:    in.Repo,
		Commit:  in.Commit,
		Summary: summary,
		Details: summary,
	})
}

// HandleRepoSummary describes the schematic files touched by the latest
// schematic commit of a repository. It is built from history alone.
func (s *Server) HandleRepoSummary(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondError(w, http.StatusInternalServerError, errors.New("commit history is not configured"))
		return
	}
	var in repoSummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return
	}
	if _, _, err := history.ParseRepo(in.Repo); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	latest, err := s.history.LatestCommit(r.Context(), in.Repo)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, fmt.Errorf("failed to fetch latest commit: %w", err))
		return
	}
	if latest == nil {
		s.respondJSON(w, http.StatusOK, repoSummaryResponse{
			Repo:    in.Repo,
			Summary: fmt.Sprintf("Repository %s has no schematic commits.", in.Repo),
			Details: "",
		})
		return
	}
	files, err := s.history.ChangedFiles(r.Context(), in.Repo, latest.Hash)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, fmt.Errorf("failed to fetch schematic files: %w", err))
		return
	}

	var details strings.Builder
	fmt.Fprintf(&details, "Repository overview for %s:\n\nLatest commit: %s\nSchematic files:\n", in.Repo, latest.Hash)
	for _, f := range files {
		fmt.Fprintf(&details, "  - %s\n", f)
	}
	s.respondJSON(w, http.StatusOK, repoSummaryResponse{
		Repo:    in.Repo,
		Summary: fmt.Sprintf("Repository %s touched %d schematic file(s) in its latest schematic commit.", in.Repo, len(files)),
		Details: details.String(),
	})
}

// HandleSelectionSummary describes a set of schematic components picked in a
// commit. No provider call is made.
func (s *Server) HandleSelectionSummary(w http.ResponseWriter, r *http.Request) {
	var in selectionSummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return
	}
	in.Repo, in.Commit = strings.TrimSpace(in.Repo), strings.TrimSpace(in.Commit)
	if in.Repo == "" || in.Commit == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("repo and commit are required"))
		return
	}
	if in.ComponentIDs == nil {
		in.ComponentIDs = []string{}
	}
	s.logger.Printf("selection summary requested for %s/%s with %d component(s)", in.Repo, in.Commit, len(in.ComponentIDs))

	short := in.Commit[:min(8, len(in.Commit))]
	s.respondJSON(w, http.StatusOK, selectionSummaryResponse{
		Repo:         in.Repo,
		Commit:       in.Commit,
		ComponentIDs: in.ComponentIDs,
		Summary:      fmt.Sprintf("Analysis of %d selected component(s) in commit %s.", len(in.ComponentIDs), short),
		Details:      fmt.Sprintf("Detailed analysis of selected components:\n\nSelected IDs: %s", strings.Join(in.ComponentIDs, ", ")),
	})
}

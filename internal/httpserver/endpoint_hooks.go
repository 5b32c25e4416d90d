package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/schematichub/overview-gateway/internal/history"
	"github.com/schematichub/overview-gateway/internal/overview"
)

// githubPushEvent is the part of a GitHub push payload the webhook logs.
type githubPushEvent struct {
	Ref        string `json:"ref"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Commits []struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"commits"`
}

// hookHandler runs the batch for the repository named by the wildcard path.
// Refresh and GitHub triggers drop cached history first.
func (s *Server) hookHandler(trigger overview.Trigger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repo := strings.Trim(chi.URLParam(r, "*"), "/")
		if _, _, err := history.ParseRepo(repo); err != nil {
			s.respondError(w, http.StatusBadRequest, err)
			return
		}
		s.logger.Printf("%s hook for repo %s", trigger, repo)

		if trigger == overview.TriggerGitHub {
			s.logPushEvent(r)
		}
		if trigger != overview.TriggerUpdate && s.cache != nil {
			s.cache.Invalidate(repo)
		}

		report, err := s.batch.Run(r.Context(), repo, trigger)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, fmt.Errorf("failed to fetch commits: %w", err))
			return
		}
		s.logger.Printf("hook processing complete for %s: processed=%d errors=%d", repo, report.Processed, len(report.Errors))
		s.respondJSON(w, http.StatusOK, report)
	}
}

// logPushEvent records the pushed commits. A missing or malformed payload
// does not stop the run.
func (s *Server) logPushEvent(r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 5<<20))
	if err != nil || len(strings.TrimSpace(string(data))) == 0 {
		return
	}
	var evt githubPushEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		s.debugf("github hook: ignoring undecodable payload: %v", err)
		return
	}
	s.logger.Printf("github push ref=%s repository=%s commits=%d", evt.Ref, evt.Repository.FullName, len(evt.Commits))
	for _, c := range evt.Commits {
		s.debugf("  commit %s - %q", c.ID, c.Message)
	}
}

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/schematichub/overview-gateway/internal/adapter"
	"github.com/schematichub/overview-gateway/internal/health"
	"github.com/schematichub/overview-gateway/internal/history"
	"github.com/schematichub/overview-gateway/internal/metrics"
	"github.com/schematichub/overview-gateway/internal/overview"
	"github.com/schematichub/overview-gateway/internal/prompts"
	"github.com/schematichub/overview-gateway/internal/ratelimit"
	"github.com/schematichub/overview-gateway/internal/relay"
)

// BatchRunner runs the overview batch for one repository.
// *overview.Orchestrator satisfies it.
type BatchRunner interface {
	Run(ctx context.Context, repo string, trigger overview.Trigger) (overview.Report, error)
}

// Invalidator drops cached history for a repository. *history.Cache
// satisfies it.
type Invalidator interface {
	Invalidate(repo string)
}

// Config wires the HTTP surface to the gateway's components.
type Config struct {
	Chat         adapter.StreamingChatAdapter
	Prompts      *prompts.Catalog
	ChatModel    string
	SummaryModel string
	Relay        relay.Options

	Batch   BatchRunner
	History history.Source
	Cache   Invalidator

	Health    *health.Checker
	Metrics   *metrics.Collector
	RateLimit *ratelimit.Middleware
}

// Server exposes the chat relay, the summary endpoints and the batch hooks.
type Server struct {
	chat         adapter.StreamingChatAdapter
	prompts      *prompts.Catalog
	chatModel    string
	summaryModel string
	relayOpts    relay.Options

	batch   BatchRunner
	history history.Source
	cache   Invalidator

	health    *health.Checker
	metrics   *metrics.Collector
	rateLimit *ratelimit.Middleware

	logger   *log.Logger
	logLevel string
}

// New creates a Server. Chat and Batch are required.
func New(cfg Config) (*Server, error) {
	if cfg.Chat == nil {
		return nil, errors.New("httpserver: chat adapter is required")
	}
	if cfg.Batch == nil {
		return nil, errors.New("httpserver: batch runner is required")
	}
	catalog := cfg.Prompts
	if catalog == nil {
		catalog = prompts.Default()
	}
	s := &Server{
		chat:         cfg.Chat,
		prompts:      catalog,
		chatModel:    firstNonEmpty(cfg.ChatModel, "grok-3-fast"),
		summaryModel: firstNonEmpty(cfg.SummaryModel, "grok-4-1-fast-reasoning"),
		relayOpts:    cfg.Relay,
		batch:        cfg.Batch,
		history:      cfg.History,
		cache:        cfg.Cache,
		health:       cfg.Health,
		metrics:      cfg.Metrics,
		rateLimit:    cfg.RateLimit,
		logger:       log.New(io.Discard, "", 0),
	}
	if s.metrics != nil && s.relayOpts.Observer == nil {
		s.relayOpts.Observer = s.metrics
	}
	return s, nil
}

// SetLogger configures server-level logger and verbosity ("debug", "info", ...).
func (s *Server) SetLogger(level string, logger *log.Logger) {
	s.logLevel = strings.ToLower(strings.TrimSpace(level))
	if logger != nil {
		s.logger = logger
		if s.relayOpts.Logger == nil {
			s.relayOpts.Logger = logger
		}
	}
}

func (s *Server) isDebug() bool { return s.logLevel == "debug" }
func (s *Server) debugf(format string, args ...any) {
	if s.logger != nil && s.isDebug() {
		s.logger.Printf("DEBUG "+format, args...)
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", s.HandleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		if s.rateLimit != nil {
			api.Use(s.rateLimit.Wrap)
		}
		api.Route("/grok", func(grok chi.Router) {
			grok.Get("/chat/stream", s.HandleChatStream)
			grok.Post("/chat/stream", s.HandleChatStream)
			grok.Post("/summary/commit", s.HandleCommitSummary)
			grok.Post("/summary/repo", s.HandleRepoSummary)
			grok.Post("/summary/selection", s.HandleSelectionSummary)
		})
		api.Route("/hook", func(hook chi.Router) {
			hook.Post("/update/*", s.hookHandler(overview.TriggerUpdate))
			hook.Post("/refresh/*", s.hookHandler(overview.TriggerRefresh))
			hook.Post("/github/*", s.hookHandler(overview.TriggerGitHub))
		})
	})
	return r
}

// instrument records request counts and latency by route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordRequest(route, status, time.Since(start))
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	code := "internal_error"
	if status >= 400 && status < 500 {
		code = "bad_request"
	}
	s.respondJSON(w, status, map[string]any{"error": code, "message": err.Error()})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

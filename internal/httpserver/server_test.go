package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schematichub/overview-gateway/internal/adapter"
	"github.com/schematichub/overview-gateway/internal/adapter/loopback"
	"github.com/schematichub/overview-gateway/internal/health"
	"github.com/schematichub/overview-gateway/internal/history"
	"github.com/schematichub/overview-gateway/internal/metrics"
	"github.com/schematichub/overview-gateway/internal/openai"
	"github.com/schematichub/overview-gateway/internal/overview"
	"github.com/schematichub/overview-gateway/internal/ratelimit"
	"github.com/schematichub/overview-gateway/internal/relay"
)

type fakeBatch struct {
	mu       sync.Mutex
	calls    []string
	triggers []overview.Trigger
	report   overview.Report
	err      error
}

func (f *fakeBatch) Run(ctx context.Context, repo string, trigger overview.Trigger) (overview.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, repo)
	f.triggers = append(f.triggers, trigger)
	if f.err != nil {
		return overview.Report{Repo: repo, Errors: []string{}}, f.err
	}
	report := f.report
	report.Repo = repo
	if report.Errors == nil {
		report.Errors = []string{}
	}
	return report, nil
}

type fakeCache struct {
	invalidated []string
}

func (f *fakeCache) Invalidate(repo string) { f.invalidated = append(f.invalidated, repo) }

type fakeHistory struct {
	commits []history.Commit
	files   map[string][]string
}

func (f *fakeHistory) ListSchematicCommits(context.Context, string) ([]history.Commit, error) {
	return f.commits, nil
}

func (f *fakeHistory) ChangedFiles(_ context.Context, _ string, hash string) ([]string, error) {
	return f.files[hash], nil
}

func (f *fakeHistory) LatestCommit(context.Context, string) (*history.Commit, error) {
	if len(f.commits) == 0 {
		return nil, nil
	}
	c := f.commits[len(f.commits)-1]
	return &c, nil
}

type failingStream struct {
	adapter.ChatAdapter
	err error
}

func (f failingStream) OpenStream(context.Context, openai.ChatCompletionRequest) (io.ReadCloser, error) {
	return nil, f.err
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, http.Handler) {
	t.Helper()
	cfg := Config{
		Chat:    loopback.New(),
		Batch:   &fakeBatch{report: overview.Report{Processed: 2, RunID: "run-1"}},
		Metrics: metrics.NewCollector(),
		Relay:   relay.Options{KeepAlive: time.Hour},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg)
	require.NoError(t, err)
	return srv, srv.Router()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// sseData returns the data payloads of every event in body.
func sseData(body string) []string {
	var out []string
	for _, block := range strings.Split(body, "\n\n") {
		var lines []string
		for _, line := range strings.Split(block, "\n") {
			if v, ok := strings.CutPrefix(line, "data: "); ok {
				lines = append(lines, v)
			}
		}
		if len(lines) > 0 {
			out = append(out, strings.Join(lines, "\n"))
		}
	}
	return out
}

func TestNewRequiresChatAndBatch(t *testing.T) {
	_, err := New(Config{Batch: &fakeBatch{}})
	assert.Error(t, err)
	_, err = New(Config{Chat: loopback.New()})
	assert.Error(t, err)
}

func TestChatStreamDefaultPrompt(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec := do(t, h, http.MethodGet, "/api/grok/chat/stream", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	data := sseData(rec.Body.String())
	require.NotEmpty(t, data)
	assert.Equal(t, "[DONE]", data[len(data)-1])
	text := strings.Join(data[:len(data)-1], "")
	assert.True(t, strings.HasPrefix(text, "[loopback] Give me a brief overview"), text)
}

func TestChatStreamPostMessages(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec := do(t, h, http.MethodPost, "/api/grok/chat/stream",
		`{"model":"grok-test","messages":[{"role":"user","content":"check the decoupling caps"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	data := sseData(rec.Body.String())
	require.NotEmpty(t, data)
	assert.Equal(t, "[loopback] check the decoupling caps", strings.Join(data[:len(data)-1], ""))
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "[DONE]"))
}

func TestChatStreamBadJSON(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec := do(t, h, http.MethodPost, "/api/grok/chat/stream", `{"messages":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatStreamConfigErrorIsJSON500(t *testing.T) {
	_, h := newTestServer(t, func(c *Config) {
		c.Chat = adapter.Unavailable{Err: &adapter.ConfigError{Provider: "xai", Field: "XAI_API_KEY"}}
	})
	rec := do(t, h, http.MethodGet, "/api/grok/chat/stream", "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal_error", body["error"])
	assert.Contains(t, body["message"], "XAI_API_KEY not configured")
}

func TestChatStreamOpenFailureBecomesErrorEvent(t *testing.T) {
	_, h := newTestServer(t, func(c *Config) {
		c.Chat = failingStream{ChatAdapter: loopback.New(), err: adapter.NewStatusError("xai", http.StatusUnauthorized, "")}
	})
	rec := do(t, h, http.MethodGet, "/api/grok/chat/stream", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "data: [ERROR: xai: API request failed with status 401 Unauthorized]\n\ndata: [DONE]\n\n", rec.Body.String())
}

func TestCommitSummary(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec := do(t, h, http.MethodPost, "/api/grok/summary/commit", `{"repo":"acme/board","commit":"abc123"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp commitSummaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "acme/board", resp.Repo)
	assert.Equal(t, "abc123", resp.Commit)
	assert.Equal(t, "[loopback] Search online for the changes in the commit https://github.com/acme/board/commit/abc123 and summarize the changes", resp.Summary)
	assert.Equal(t, resp.Summary, resp.Details)
}

func TestCommitSummaryValidation(t *testing.T) {
	_, h := newTestServer(t, nil)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/grok/summary/commit", `{"repo":"acme/board"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/grok/summary/commit", `nope`).Code)
}

func TestCommitSummaryProviderFailure(t *testing.T) {
	_, h := newTestServer(t, func(c *Config) {
		c.Chat = adapter.Unavailable{Err: errors.New("xai: send request: connection refused")}
	})
	rec := do(t, h, http.MethodPost, "/api/grok/summary/commit", `{"repo":"acme/board","commit":"abc"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestRepoSummary(t *testing.T) {
	hist := &fakeHistory{
		commits: []history.Commit{{Hash: "old"}, {Hash: "new"}},
		files:   map[string][]string{"new": {"power.kicad_sch", "mcu.kicad_sch"}},
	}
	_, h := newTestServer(t, func(c *Config) { c.History = hist })
	rec := do(t, h, http.MethodPost, "/api/grok/summary/repo", `{"repo":"acme/board"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp repoSummaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Summary, "2 schematic file(s)")
	assert.Contains(t, resp.Details, "Latest commit: new")
	assert.Contains(t, resp.Details, "  - mcu.kicad_sch\n")
}

func TestSelectionSummary(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec := do(t, h, http.MethodPost, "/api/grok/summary/selection",
		`{"repo":"acme/board","commit":"0123456789abcdef","component_ids":["R12","U3"]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp selectionSummaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"R12", "U3"}, resp.ComponentIDs)
	assert.Equal(t, "Analysis of 2 selected component(s) in commit 01234567.", resp.Summary)
	assert.Contains(t, resp.Details, "Selected IDs: R12, U3")

	rec = do(t, h, http.MethodPost, "/api/grok/summary/selection", `{"repo":"acme/board","commit":"abc"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Analysis of 0 selected component(s) in commit abc.", resp.Summary)
	assert.Empty(t, resp.ComponentIDs)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/grok/summary/selection", `{"repo":"acme/board"}`).Code)
}

func TestHookTriggers(t *testing.T) {
	tests := []struct {
		path        string
		trigger     overview.Trigger
		invalidated bool
	}{
		{"/api/hook/update/acme/board", overview.TriggerUpdate, false},
		{"/api/hook/refresh/acme/board", overview.TriggerRefresh, true},
		{"/api/hook/github/acme/board", overview.TriggerGitHub, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.trigger), func(t *testing.T) {
			batch := &fakeBatch{report: overview.Report{Processed: 1, Errors: []string{"Commit c: boom"}, RunID: "r"}}
			cache := &fakeCache{}
			_, h := newTestServer(t, func(c *Config) {
				c.Batch = batch
				c.Cache = cache
			})
			body := ""
			if tt.trigger == overview.TriggerGitHub {
				body = `{"ref":"refs/heads/main","repository":{"full_name":"acme/board"},"commits":[{"id":"c","message":"rev b"}]}`
			}
			rec := do(t, h, http.MethodPost, tt.path, body)

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			var report map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
			assert.Equal(t, "acme/board", report["repo"])
			assert.EqualValues(t, 1, report["processed"])
			assert.Equal(t, []any{"Commit c: boom"}, report["errors"])

			assert.Equal(t, []string{"acme/board"}, batch.calls)
			assert.Equal(t, []overview.Trigger{tt.trigger}, batch.triggers)
			if tt.invalidated {
				assert.Equal(t, []string{"acme/board"}, cache.invalidated)
			} else {
				assert.Empty(t, cache.invalidated)
			}
		})
	}
}

func TestHookListingFailure(t *testing.T) {
	_, h := newTestServer(t, func(c *Config) {
		c.Batch = &fakeBatch{err: errors.New("overview: list commits: github: 404")}
	})
	rec := do(t, h, http.MethodPost, "/api/hook/update/acme/board", "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal_error", body["error"])
	assert.True(t, strings.HasPrefix(body["message"], "failed to fetch commits:"), body["message"])
}

func TestHookRejectsBadRepo(t *testing.T) {
	batch := &fakeBatch{}
	_, h := newTestServer(t, func(c *Config) { c.Batch = batch })
	rec := do(t, h, http.MethodPost, "/api/hook/update/justone", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, batch.calls)
}

func TestHealth(t *testing.T) {
	up := health.New(health.Config{Stores: map[string]health.Pinger{
		"summary_store": pingerFunc(func(context.Context) error { return nil }),
	}})
	_, h := newTestServer(t, func(c *Config) { c.Health = up })
	rec := do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	down := health.New(health.Config{Stores: map[string]health.Pinger{
		"summary_store": pingerFunc(func(context.Context) error { return errors.New("closed") }),
	}})
	_, h = newTestServer(t, func(c *Config) { c.Health = down })
	rec = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
}

func TestMetricsRecordRoutes(t *testing.T) {
	_, h := newTestServer(t, nil)
	do(t, h, http.MethodGet, "/health", "")
	do(t, h, http.MethodGet, "/api/grok/chat/stream", "")

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `overview_gateway_http_requests_total{code="200",route="/health"} 1`)
	assert.Contains(t, body, `overview_gateway_http_requests_total{code="200",route="/api/grok/chat/stream"} 1`)
	assert.Contains(t, body, `overview_gateway_relay_events_total{kind="done"} 1`)
	assert.Contains(t, body, "overview_gateway_relay_streams_active 0")
}

func TestRateLimitedAPI(t *testing.T) {
	collector := metrics.NewCollector()
	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 0.001, Burst: 1})
	t.Cleanup(func() { _ = limiter.Close() })
	mw := ratelimit.NewMiddleware(limiter, true, nil).OnThrottle(func(*http.Request) { collector.RecordThrottled() })

	_, h := newTestServer(t, func(c *Config) {
		c.Metrics = collector
		c.RateLimit = mw
	})
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/hook/update/acme/board", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodPost, "/api/hook/update/acme/board", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)

	body := do(t, h, http.MethodGet, "/metrics", "").Body.String()
	assert.Contains(t, body, "overview_gateway_http_throttled_total 1")
}

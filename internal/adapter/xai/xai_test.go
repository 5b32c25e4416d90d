package xai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/schematichub/overview-gateway/internal/adapter"
	"github.com/schematichub/overview-gateway/internal/openai"
	"github.com/schematichub/overview-gateway/internal/testutil"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		wantErr     bool
		wantBase    string
		wantTimeout time.Duration
	}{
		{
			name:        "defaults",
			cfg:         Config{APIKey: "xai-test"},
			wantBase:    DefaultBaseURL,
			wantTimeout: time.Hour,
		},
		{
			name:        "custom base and timeout",
			cfg:         Config{APIKey: "xai-test", BaseURL: "http://localhost:9999/v1/", RequestTimeout: 30 * time.Second},
			wantBase:    "http://localhost:9999/v1",
			wantTimeout: 30 * time.Second,
		},
		{
			name:    "missing api key",
			cfg:     Config{BaseURL: DefaultBaseURL},
			wantErr: true,
		},
		{
			name:    "blank api key",
			cfg:     Config{APIKey: "   "},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.cfg)
			if tt.wantErr {
				var cfgErr *adapter.ConfigError
				if !errors.As(err, &cfgErr) {
					t.Fatalf("New() error = %v, want *adapter.ConfigError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() unexpected error = %v", err)
			}
			if a.BaseURL() != tt.wantBase {
				t.Errorf("BaseURL() = %q, want %q", a.BaseURL(), tt.wantBase)
			}
			if a.Timeout() != tt.wantTimeout {
				t.Errorf("Timeout() = %v, want %v", a.Timeout(), tt.wantTimeout)
			}
		})
	}
}

func TestCreateCompletion_Success(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer xai-test" {
			t.Errorf("Authorization = %q", got)
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Stream {
			t.Errorf("single-shot request must not set stream")
		}
		if req.Model != "grok-4" {
			t.Errorf("model = %q", req.Model)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","model":"grok-4","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hello there"}}]}`)
	}))

	a, err := New(Config{APIKey: "xai-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := a.CreateCompletion(context.Background(), openai.ChatCompletionRequest{
		Model:    "grok-4",
		Messages: []openai.ChatMessage{openai.UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("CreateCompletion: %v", err)
	}
	content, ok := resp.FirstContent()
	if !ok || content != "hello there" {
		t.Fatalf("FirstContent() = %q, %v", content, ok)
	}
}

func TestCreateCompletion_RateLimited(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"slow down","type":"requests","code":"too_many"}}`)
	}))

	a, err := New(Config{APIKey: "xai-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = a.CreateCompletion(context.Background(), openai.ChatCompletionRequest{
		Model:    "grok-4",
		Messages: []openai.ChatMessage{openai.UserMessage("hi")},
	})
	var rl *adapter.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("error = %v, want *adapter.RateLimitError", err)
	}
	if !strings.HasPrefix(err.Error(), "RATE LIMITED: XAI API returned 429") {
		t.Errorf("error text = %q", err.Error())
	}
	var te *adapter.TransportError
	if !errors.As(err, &te) || te.Status != http.StatusTooManyRequests {
		t.Errorf("rate limit error should unwrap to TransportError with status 429, got %v", te)
	}
}

func TestCreateCompletion_ServerError(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))

	a, err := New(Config{APIKey: "xai-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = a.CreateCompletion(context.Background(), openai.ChatCompletionRequest{
		Model:    "grok-4",
		Messages: []openai.ChatMessage{openai.UserMessage("hi")},
	})
	var te *adapter.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *adapter.TransportError", err)
	}
	if te.Status != http.StatusBadGateway {
		t.Errorf("status = %d", te.Status)
	}
	if adapter.IsRateLimited(err) {
		t.Errorf("502 must not be classified as rate limited: %v", err)
	}
}

func TestCreateCompletion_NoMessages(t *testing.T) {
	a, err := New(Config{APIKey: "xai-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = a.CreateCompletion(context.Background(), openai.ChatCompletionRequest{Model: "grok-4"})
	if err == nil || !strings.Contains(err.Error(), "no messages") {
		t.Fatalf("error = %v, want 'no messages'", err)
	}
}

func TestOpenStream_ReturnsBody(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accept := r.Header.Get("Accept"); accept != "text/event-stream" {
			t.Errorf("Accept = %q, want text/event-stream", accept)
		}
		var req openai.ChatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Errorf("stream flag not set")
		}
		testutil.SSEHandler(
			`data: {"choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
			`data: [DONE]`,
		)(w, r)
	}))

	a, err := New(Config{APIKey: "xai-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	body, err := a.OpenStream(context.Background(), openai.ChatCompletionRequest{
		Model:    "grok-3-fast",
		Messages: []openai.ChatMessage{openai.UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer body.Close()
	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(raw), "data: [DONE]") {
		t.Fatalf("body missing terminator: %q", raw)
	}
}

func TestOpenStream_ErrorStatus(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Invalid API key"}}`)
	}))

	a, err := New(Config{APIKey: "xai-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = a.OpenStream(context.Background(), openai.ChatCompletionRequest{
		Model:    "grok-3-fast",
		Messages: []openai.ChatMessage{openai.UserMessage("hi")},
	})
	if err == nil || !strings.Contains(err.Error(), "Invalid API key") {
		t.Fatalf("error = %v, want provider message", err)
	}
}

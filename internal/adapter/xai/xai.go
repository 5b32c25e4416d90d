package xai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/schematichub/overview-gateway/internal/adapter"
	"github.com/schematichub/overview-gateway/internal/openai"
)

const (
	providerName = "xai"

	// DefaultBaseURL is the xAI API root; requests go to <base>/chat/completions.
	DefaultBaseURL = "https://api.x.ai/v1"

	// DefaultTimeout bounds one whole provider call, body included.
	DefaultTimeout = time.Hour

	maxErrorBody = 4096
)

var _ adapter.StreamingChatAdapter = (*Adapter)(nil)

// Adapter sends chat completion requests to the xAI API.
type Adapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Config holds configuration for the xAI adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to DefaultBaseURL
	RequestTimeout time.Duration
	HTTPClient     *http.Client // optional; Timeout is overwritten with RequestTimeout
}

// New creates an Adapter. A missing API key is reported as *adapter.ConfigError.
func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &adapter.ConfigError{Provider: providerName, Field: "XAI_API_KEY"}
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := &http.Client{}
	if cfg.HTTPClient != nil {
		copied := *cfg.HTTPClient
		client = &copied
	}
	client.Timeout = timeout

	return &Adapter{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    baseURL,
		httpClient: client,
	}, nil
}

// BaseURL returns the configured API root.
func (a *Adapter) BaseURL() string { return a.baseURL }

// Timeout returns the per-call timeout.
func (a *Adapter) Timeout() time.Duration { return a.httpClient.Timeout }

// CreateCompletion sends a non-streaming chat completion request.
func (a *Adapter) CreateCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	req.Stream = false
	resp, err := a.do(ctx, req, "application/json")
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return openai.ChatCompletionResponse{}, &adapter.TransportError{Provider: providerName, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	var completion openai.ChatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("xai: unmarshal response: %w", err)
	}
	return completion, nil
}

// OpenStream sends a streaming request and returns the event-stream body once
// the provider has answered with a success status.
func (a *Adapter) OpenStream(ctx context.Context, req openai.ChatCompletionRequest) (io.ReadCloser, error) {
	req.Stream = true
	resp, err := a.do(ctx, req, "text/event-stream")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (a *Adapter) do(ctx context.Context, req openai.ChatCompletionRequest, accept string) (*http.Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("xai: no messages provided")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("xai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("xai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &adapter.TransportError{Provider: providerName, Err: fmt.Errorf("send request: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, adapter.NewStatusError(providerName, resp.StatusCode, errorMessage(data))
	}
	return resp, nil
}

// errorMessage prefers the provider's structured error message over the raw body.
func errorMessage(body []byte) string {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Code != "" {
			return fmt.Sprintf("%s (code=%s)", errResp.Error.Message, errResp.Error.Code)
		}
		return errResp.Error.Message
	}
	if len(body) == 0 {
		return ""
	}
	return string(body)
}

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/schematichub/overview-gateway/internal/adapter"
	"github.com/schematichub/overview-gateway/internal/openai"
	"github.com/schematichub/overview-gateway/internal/relay"
)

// chatStreamRequest is the optional POST body of /api/grok/chat/stream.
// Missing fields fall back to the configured chat prompt and model.
type chatStreamRequest struct {
	Model    string               `json:"model,omitempty"`
	Messages []openai.ChatMessage `json:"messages,omitempty"`
}

// HandleChatStream relays a streaming chat completion as Server-Sent Events.
// Configuration errors are answered with a JSON 500 before any event is sent;
// every later failure reaches the client as an [ERROR: ...] event followed by
// [DONE].
func (s *Server) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	req, err := s.chatRequest(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, errors.New("streaming unsupported by response writer"))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	body, openErr := s.chat.OpenStream(ctx, req)
	var cfgErr *adapter.ConfigError
	if errors.As(openErr, &cfgErr) {
		s.logger.Printf("chat stream: %v", openErr)
		s.respondError(w, http.StatusInternalServerError, fmt.Errorf("failed to initialize chat provider: %w", openErr))
		return
	}
	open := func(context.Context) (io.ReadCloser, error) { return body, openErr }

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if s.metrics != nil {
		s.metrics.StreamOpened()
		defer s.metrics.StreamClosed()
	}
	stream := relay.Start(ctx, open, s.relayOpts)
	s.debugf("chat stream %s started model=%s messages=%d", stream.ID(), req.Model, len(req.Messages))

	if err := relay.WriteSSE(w, flusher, stream); err != nil {
		s.debugf("chat stream %s: client went away: %v", stream.ID(), err)
		cancel()
		for range stream.Events() {
		}
	}
	s.debugf("chat stream %s finished", stream.ID())
}

func (s *Server) chatRequest(r *http.Request) (openai.ChatCompletionRequest, error) {
	req := openai.ChatCompletionRequest{Model: s.chatModel, Stream: true}

	var in chatStreamRequest
	if r.Method == http.MethodPost && r.Body != nil {
		data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			return req, fmt.Errorf("read request body: %w", err)
		}
		if len(strings.TrimSpace(string(data))) > 0 {
			if err := json.Unmarshal(data, &in); err != nil {
				return req, fmt.Errorf("invalid JSON body: %w", err)
			}
		}
	}
	if m := strings.TrimSpace(in.Model); m != "" {
		req.Model = m
	}
	if len(in.Messages) > 0 {
		req.Messages = in.Messages
		return req, nil
	}
	p := s.prompts.Chat
	if strings.TrimSpace(p.System) != "" {
		req.Messages = append(req.Messages, openai.SystemMessage(p.System))
	}
	req.Messages = append(req.Messages, openai.UserMessage(p.User))
	return req, nil
}

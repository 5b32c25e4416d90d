package loopback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/schematichub/overview-gateway/internal/adapter"
	"github.com/schematichub/overview-gateway/internal/openai"
)

var _ adapter.StreamingChatAdapter = (*Adapter)(nil)

// Adapter echoes the last user message back to the caller. It lets the
// gateway run end to end without provider credentials.
type Adapter struct {
	now func() time.Time
}

// New creates a loopback Adapter.
func New() *Adapter {
	return &Adapter{now: time.Now}
}

// CreateCompletion fabricates a deterministic completion.
func (a *Adapter) CreateCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	reply, err := a.reply(req)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}
	usage := openai.UsageBreakdown{
		PromptTokens:     len(req.Messages) * 10,
		CompletionTokens: len(reply) / 4,
		TotalTokens:      len(req.Messages)*10 + len(reply)/4,
	}
	return openai.ChatCompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: a.now().Unix(),
		Model:   req.Model,
		Choices: []openai.ChatCompletionChoice{{
			Index:        0,
			FinishReason: "stop",
			Message:      &openai.ChatMessage{Role: "assistant", Content: reply},
		}},
		Usage: &usage,
	}, nil
}

// OpenStream renders the echoed reply as an event stream, one word per
// chunk, terminated by [DONE].
func (a *Adapter) OpenStream(ctx context.Context, req openai.ChatCompletionRequest) (io.ReadCloser, error) {
	reply, err := a.reply(req)
	if err != nil {
		return nil, err
	}
	id := "chatcmpl-" + uuid.NewString()
	created := a.now().Unix()

	var buf bytes.Buffer
	words := strings.SplitAfter(reply, " ")
	for i, word := range words {
		delta := &openai.ChatMessageDelta{Content: word}
		if i == 0 {
			delta.Role = "assistant"
		}
		chunk := openai.ChatCompletionChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []openai.ChatCompletionChunkChoice{{Index: 0, Delta: delta}},
		}
		data, err := json.Marshal(chunk)
		if err != nil {
			return nil, fmt.Errorf("loopback: marshal chunk: %w", err)
		}
		fmt.Fprintf(&buf, "data: %s\n\n", data)
	}
	buf.WriteString("data: [DONE]\n\n")
	return io.NopCloser(&buf), nil
}

func (a *Adapter) reply(req openai.ChatCompletionRequest) (string, error) {
	if len(req.Messages) == 0 {
		return "", errors.New("loopback: no messages provided")
	}
	// find last user message; default to final message if none
	message := req.Messages[len(req.Messages)-1]
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if strings.EqualFold(req.Messages[i].Role, "user") {
			message = req.Messages[i]
			break
		}
	}
	return "[loopback] " + strings.TrimSpace(message.Content), nil
}

package adapter

import (
	"context"
	"io"

	"github.com/schematichub/overview-gateway/internal/openai"
)

// ChatAdapter performs single-shot chat completions against a provider.
type ChatAdapter interface {
	CreateCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// StreamingChatAdapter opens a streaming chat completion and hands back the raw
// event-stream body. Framing and decoding belong to the caller; the body must
// be closed by whoever consumes it.
type StreamingChatAdapter interface {
	ChatAdapter
	OpenStream(ctx context.Context, req openai.ChatCompletionRequest) (io.ReadCloser, error)
}

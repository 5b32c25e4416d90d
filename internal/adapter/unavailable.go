package adapter

import (
	"context"
	"io"

	"github.com/schematichub/overview-gateway/internal/openai"
)

var _ StreamingChatAdapter = Unavailable{}

// Unavailable stands in for a provider that could not be configured at
// startup. Every call fails with Err before any I/O, so the gateway can still
// serve its other endpoints.
type Unavailable struct {
	Err error
}

func (u Unavailable) CreateCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{}, u.Err
}

func (u Unavailable) OpenStream(context.Context, openai.ChatCompletionRequest) (io.ReadCloser, error) {
	return nil, u.Err
}

package openai

// ChatCompletionChunk represents one `data:` payload of a streaming response.
type ChatCompletionChunk struct {
	ID      string                      `json:"id"`
	Object  string                      `json:"object"`
	Created int64                       `json:"created"`
	Model   string                      `json:"model"`
	Choices []ChatCompletionChunkChoice `json:"choices"`
}

// ChatCompletionChunkChoice represents a choice in a streaming chunk.
type ChatCompletionChunkChoice struct {
	Index        int               `json:"index"`
	Delta        *ChatMessageDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

// ChatMessageDelta is the incremental content in a stream chunk. Empty
// strings mean the provider omitted the field.
type ChatMessageDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// FirstDelta returns the delta of the first choice, if any.
func (c *ChatCompletionChunk) FirstDelta() (ChatMessageDelta, bool) {
	if len(c.Choices) == 0 || c.Choices[0].Delta == nil {
		return ChatMessageDelta{}, false
	}
	return *c.Choices[0].Delta, true
}

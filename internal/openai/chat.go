package openai

// ChatCompletionRequest captures the subset of the chat completions request the
// gateway sends upstream.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

// ChatMessage follows the role/content schema (plain text only).
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: "system", Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Content: content}
}

// ChatCompletionResponse mirrors the non-streaming response schema.
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   *UsageBreakdown        `json:"usage,omitempty"`
}

// ChatCompletionChoice contains the generated message.
type ChatCompletionChoice struct {
	Index        int          `json:"index"`
	FinishReason string       `json:"finish_reason"`
	Message      *ChatMessage `json:"message"`
}

// UsageBreakdown reports token accounting when the provider includes it.
type UsageBreakdown struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FirstContent returns the content of the first choice's message, or false
// when the response carries none.
func (r ChatCompletionResponse) FirstContent() (string, bool) {
	if len(r.Choices) == 0 || r.Choices[0].Message == nil {
		return "", false
	}
	return r.Choices[0].Message.Content, true
}

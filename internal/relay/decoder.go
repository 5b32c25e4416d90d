package relay

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/schematichub/overview-gateway/internal/openai"
)

const (
	dataPrefix     = "data: "
	terminatorData = "[DONE]"
)

// OutcomeKind classifies one framed line.
type OutcomeKind int

const (
	// OutcomeIgnored covers lines without the data prefix, chunks without
	// choices and undecodable payloads (Err is set for the latter).
	OutcomeIgnored OutcomeKind = iota
	OutcomeData
	OutcomeTerminator
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeData:
		return "data"
	case OutcomeTerminator:
		return "terminator"
	default:
		return "ignored"
	}
}

// Outcome is the result of decoding one framed line.
type Outcome struct {
	Kind  OutcomeKind
	Delta openai.ChatMessageDelta
	Err   error
}

// Decode classifies a framed line from an OpenAI-compatible event stream.
func Decode(line string) Outcome {
	payload, ok := strings.CutPrefix(line, dataPrefix)
	if !ok {
		return Outcome{Kind: OutcomeIgnored}
	}
	payload = strings.TrimSpace(payload)
	if payload == terminatorData {
		return Outcome{Kind: OutcomeTerminator}
	}

	var chunk openai.ChatCompletionChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return Outcome{Kind: OutcomeIgnored, Err: fmt.Errorf("relay: decode chunk: %w", err)}
	}
	delta, ok := chunk.FirstDelta()
	if !ok {
		return Outcome{Kind: OutcomeIgnored}
	}
	return Outcome{Kind: OutcomeData, Delta: delta}
}

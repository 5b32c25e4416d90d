package hooks

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventType names a batch lifecycle transition.
type EventType string

const (
	EventBatchStarted     EventType = "overview.batch.started"
	EventBatchCompleted   EventType = "overview.batch.completed"
	EventBatchRateLimited EventType = "overview.batch.rate_limited"
	EventCommitProcessed  EventType = "overview.commit.processed"
)

// KnownEvents lists every event type the orchestrator emits, in lifecycle order.
var KnownEvents = []EventType{
	EventBatchStarted,
	EventCommitProcessed,
	EventBatchRateLimited,
	EventBatchCompleted,
}

// ParseEventType accepts a full event name or its short form
// ("batch.completed").
func ParseEventType(s string) (EventType, error) {
	s = strings.TrimSpace(s)
	for _, known := range KnownEvents {
		if s == string(known) || "overview."+s == string(known) {
			return known, nil
		}
	}
	return "", fmt.Errorf("hooks: unknown event %q", s)
}

// Event is one notification about a batch run.
type Event struct {
	ID         string
	Type       EventType
	OccurredAt time.Time
	Repo       string
	RunID      string
	Trigger    string // update, refresh, github or cli
	Metadata   map[string]any
}

// Env returns the variables exported to hook scripts alongside the JSON
// payload on stdin.
func (e Event) Env() []string {
	return []string{
		"OVERVIEW_HOOK_EVENT=" + string(e.Type),
		"OVERVIEW_HOOK_ID=" + e.ID,
		"OVERVIEW_HOOK_REPO=" + e.Repo,
		"OVERVIEW_HOOK_RUN_ID=" + e.RunID,
		"OVERVIEW_HOOK_TRIGGER=" + e.Trigger,
	}
}

type envelope struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Repo       string         `json:"repo"`
	RunID      string         `json:"run_id"`
	Trigger    string         `json:"trigger"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// MarshalEvent renders the JSON document written to hook scripts.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(envelope{
		ID:         e.ID,
		Type:       e.Type,
		OccurredAt: e.OccurredAt.UTC(),
		Repo:       e.Repo,
		RunID:      e.RunID,
		Trigger:    e.Trigger,
		Metadata:   e.Metadata,
	})
}

// UnmarshalEvent is the inverse of MarshalEvent, for scripts written in Go.
func UnmarshalEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("hooks: decode event: %w", err)
	}
	return Event{
		ID:         env.ID,
		Type:       env.Type,
		OccurredAt: env.OccurredAt,
		Repo:       env.Repo,
		RunID:      env.RunID,
		Trigger:    env.Trigger,
		Metadata:   env.Metadata,
	}, nil
}

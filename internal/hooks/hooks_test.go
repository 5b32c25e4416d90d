package hooks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"
)

func TestDispatcherEmitJoinsErrors(t *testing.T) {
	d := &Dispatcher{}
	var seen []string
	d.Register(func(_ context.Context, evt Event) error {
		seen = append(seen, "first:"+string(evt.Type))
		return nil
	})
	d.Register(func(_ context.Context, evt Event) error {
		seen = append(seen, "second:"+evt.Repo)
		return errors.New("second handler failed")
	})
	d.Register(func(context.Context, Event) error {
		seen = append(seen, "third")
		return nil
	})

	err := d.Emit(context.Background(), Event{Type: EventBatchCompleted, Repo: "acme/board"})
	if err == nil || !strings.Contains(err.Error(), "second handler failed") {
		t.Fatalf("expected joined error, got %v", err)
	}
	want := []string{"first:" + string(EventBatchCompleted), "second:acme/board", "third"}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Fatalf("handlers ran as %v, want %v", seen, want)
	}
}

func TestDispatcherRegisterForFilters(t *testing.T) {
	d := &Dispatcher{}
	var got []EventType
	d.RegisterFor(func(_ context.Context, evt Event) error {
		got = append(got, evt.Type)
		return nil
	}, EventBatchRateLimited)

	for _, typ := range KnownEvents {
		if err := d.Emit(context.Background(), Event{Type: typ}); err != nil {
			t.Fatalf("Emit(%s): %v", typ, err)
		}
	}
	if len(got) != 1 || got[0] != EventBatchRateLimited {
		t.Fatalf("filtered handler saw %v", got)
	}
}

func TestDispatcherIgnoresNilHandler(t *testing.T) {
	d := &Dispatcher{}
	d.Register(nil)
	d.RegisterFor(nil, EventBatchStarted)
	if d.Len() != 0 {
		t.Fatalf("nil handler should not be registered")
	}
	if err := d.Emit(context.Background(), Event{Type: EventBatchStarted}); err != nil {
		t.Fatalf("Emit with no handlers: %v", err)
	}
}

func TestParseEventType(t *testing.T) {
	cases := map[string]EventType{
		"overview.batch.completed": EventBatchCompleted,
		"batch.rate_limited":       EventBatchRateLimited,
		" commit.processed ":       EventCommitProcessed,
	}
	for in, want := range cases {
		got, err := ParseEventType(in)
		if err != nil || got != want {
			t.Fatalf("ParseEventType(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseEventType("batch.exploded"); err == nil {
		t.Fatalf("expected error for unknown event")
	}
}

func TestMarshalEventRoundTrip(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	in := Event{ID: "e1", Type: EventCommitProcessed, OccurredAt: at, Repo: "acme/board", RunID: "r1", Trigger: "update",
		Metadata: map[string]any{"commit": "abc123"}}
	data, err := MarshalEvent(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"run_id":"r1"`) {
		t.Fatalf("unexpected envelope %s", data)
	}
	out, err := UnmarshalEvent(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ID != in.ID || out.Type != in.Type || !out.OccurredAt.Equal(at) || out.Metadata["commit"] != "abc123" {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestConfigInstall(t *testing.T) {
	if err := (Config{Enabled: true}).Validate(); err == nil {
		t.Fatalf("expected validation error when enabled without script path")
	}

	d := &Dispatcher{}
	Config{}.Install(d)
	if d.Len() != 0 {
		t.Fatalf("disabled config must not register a handler")
	}
	cfg := Config{Enabled: true, ScriptPath: "/bin/true", Events: []EventType{EventBatchCompleted}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	cfg.Install(d)
	if d.Len() != 1 {
		t.Fatalf("expected one handler, got %d", d.Len())
	}
}

func helperScript(mode string) ScriptConfig {
	return ScriptConfig{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcessScript", "--"},
		Env:     map[string]string{"GO_WANT_HELPER_PROCESS": "1", "HELPER_MODE": mode},
		Timeout: 10 * time.Second,
	}
}

func TestScriptHandlerReceivesEvent(t *testing.T) {
	h := NewScriptHandler(helperScript("check"))
	err := h(context.Background(), Event{ID: "evt-script", Type: EventBatchRateLimited, Repo: "acme/board", RunID: "run-1", Trigger: "refresh"})
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
}

func TestScriptHandlerReportsStderr(t *testing.T) {
	h := NewScriptHandler(helperScript("fail"))
	err := h(context.Background(), Event{ID: "evt-fail", Type: EventBatchCompleted})
	if err == nil {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(err.Error(), "hook script refused") || !strings.Contains(err.Error(), string(EventBatchCompleted)) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestScriptHandlerWithoutCommand(t *testing.T) {
	if err := NewScriptHandler(ScriptConfig{})(context.Background(), Event{}); err == nil {
		t.Fatalf("expected error without command")
	}
}

func TestHelperProcessScript(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	if os.Getenv("HELPER_MODE") == "fail" {
		io.WriteString(os.Stderr, "hook script refused")
		os.Exit(1)
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		os.Exit(2)
	}
	evt, err := UnmarshalEvent(data)
	if err != nil {
		io.WriteString(os.Stderr, err.Error())
		os.Exit(3)
	}
	if evt.ID != os.Getenv("OVERVIEW_HOOK_ID") || string(evt.Type) != os.Getenv("OVERVIEW_HOOK_EVENT") {
		io.WriteString(os.Stderr, "env and payload disagree")
		os.Exit(4)
	}
	if os.Getenv("OVERVIEW_HOOK_REPO") != "acme/board" || os.Getenv("OVERVIEW_HOOK_TRIGGER") != "refresh" {
		io.WriteString(os.Stderr, "missing repo or trigger")
		os.Exit(5)
	}
	os.Exit(0)
}

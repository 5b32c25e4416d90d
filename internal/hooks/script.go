package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ScriptConfig describes an external command run for each event. The event
// is written to its stdin as JSON and summarised in OVERVIEW_HOOK_* variables.
type ScriptConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	Timeout time.Duration
}

const maxStderr = 512

// NewScriptHandler returns a Handler that runs cfg.Command once per event.
func NewScriptHandler(cfg ScriptConfig) Handler {
	return func(parent context.Context, evt Event) error {
		if cfg.Command == "" {
			return errors.New("hooks: command not configured")
		}
		payload, err := MarshalEvent(evt)
		if err != nil {
			return fmt.Errorf("hooks: marshal event: %w", err)
		}

		ctx := parent
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(parent, cfg.Timeout)
			defer cancel()
		}

		cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
		env := append(cmd.Environ(), evt.Env()...)
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
		cmd.Stdin = bytes.NewReader(payload)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			msg := strings.TrimSpace(stderr.String())
			if len(msg) > maxStderr {
				msg = msg[len(msg)-maxStderr:]
			}
			if msg != "" {
				return fmt.Errorf("hooks: %s %s: %w: %s", cfg.Command, evt.Type, err, msg)
			}
			return fmt.Errorf("hooks: %s %s: %w", cfg.Command, evt.Type, err)
		}
		return nil
	}
}

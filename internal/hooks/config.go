package hooks

import (
	"errors"
	"time"
)

// Config is the hooks_* block of gateway.ini.
type Config struct {
	Enabled    bool
	ScriptPath string
	ScriptArgs []string
	Env        map[string]string
	Timeout    time.Duration
	// Events restricts the script to these event types; empty means all.
	Events []EventType
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ScriptPath == "" {
		return errors.New("hooks: hooks_script_path required when hooks are enabled")
	}
	return nil
}

// Install registers the configured script on d. It is a no-op when hooks are
// disabled.
func (c Config) Install(d *Dispatcher) {
	if !c.Enabled || d == nil {
		return
	}
	d.RegisterFor(NewScriptHandler(ScriptConfig{
		Command: c.ScriptPath,
		Args:    c.ScriptArgs,
		Env:     c.Env,
		Timeout: c.Timeout,
	}), c.Events...)
}

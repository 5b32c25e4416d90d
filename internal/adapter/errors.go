package adapter

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ConfigError reports missing or invalid provider configuration. It is raised
// before any network I/O takes place.
type ConfigError struct {
	Provider string
	Field    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s not configured", e.Provider, e.Field)
}

// TransportError covers connection failures, timeouts and non-success statuses
// returned by a provider. Status is zero when no HTTP response was received.
type TransportError struct {
	Provider string
	Status   int
	Body     string
	Err      error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("%s: API request failed with status %d %s: %s", e.Provider, e.Status, http.StatusText(e.Status), e.Body)
	case e.Status != 0:
		return fmt.Sprintf("%s: API request failed with status %d %s", e.Provider, e.Status, http.StatusText(e.Status))
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	default:
		return e.Provider + ": transport failure"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// RateLimitError is a TransportError signalled by HTTP 429.
type RateLimitError struct {
	TransportError
}

func (e *RateLimitError) Error() string {
	body := e.Body
	if body == "" {
		body = "Unknown error"
	}
	return fmt.Sprintf("RATE LIMITED: %s API returned 429. Response: %s", strings.ToUpper(e.Provider), body)
}

func (e *RateLimitError) Unwrap() error { return &e.TransportError }

// NewStatusError builds the typed error for a non-success upstream status.
func NewStatusError(provider string, status int, body string) error {
	te := TransportError{Provider: provider, Status: status, Body: strings.TrimSpace(body)}
	if status == http.StatusTooManyRequests {
		return &RateLimitError{TransportError: te}
	}
	return &te
}

// IsRateLimited reports whether err indicates provider rate limiting: a typed
// RateLimitError, or any error whose description mentions 429 or "rate".
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "rate")
}

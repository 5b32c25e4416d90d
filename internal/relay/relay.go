package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultBuffer is the outbound channel capacity.
	DefaultBuffer = 16
	// DefaultKeepAlive is the idle interval after which a keep-alive is injected.
	DefaultKeepAlive = 15 * time.Second

	readBufferSize = 8 * 1024
)

// EventKind distinguishes outbound events.
type EventKind int

const (
	EventContent EventKind = iota
	EventError
	EventDone
	EventKeepAlive
)

func (k EventKind) String() string {
	switch k {
	case EventContent:
		return "content"
	case EventError:
		return "error"
	case EventDone:
		return "done"
	case EventKeepAlive:
		return "keep_alive"
	default:
		return "unknown"
	}
}

// Event is one unit delivered to the downstream client.
type Event struct {
	Kind    EventKind
	Payload string
}

// State tracks the lifecycle of a Stream.
type State int

const (
	StateStreaming State = iota
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	default:
		return "terminated"
	}
}

// Opener opens the upstream event stream. The returned body is closed by the
// relay.
type Opener func(ctx context.Context) (io.ReadCloser, error)

// Observer receives relay telemetry. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveEvent(kind EventKind)
	ObserveDecodeError(err error)
}

// Options tunes a relay stream. Zero values select the defaults.
type Options struct {
	Buffer    int
	KeepAlive time.Duration
	Logger    *log.Logger
	Observer  Observer
}

// Stream is a running relay. Consumers range over Events until it closes.
type Stream struct {
	id       string
	events   chan Event
	finished chan struct{}
	logger   *log.Logger
	observer Observer

	mu       sync.Mutex
	state    State
	lastEmit time.Time // last event handed to the channel, keep-alives included
}

// Start opens the upstream through open and relays it until the terminator,
// end of input, an upstream error, or cancellation of ctx. Exactly one
// EventDone is delivered last unless ctx is cancelled, in which case the
// channel closes without further sends.
func Start(ctx context.Context, open Opener, opts Options) *Stream {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	s := &Stream{
		id:       uuid.NewString(),
		events:   make(chan Event, opts.Buffer),
		finished: make(chan struct{}),
		logger:   opts.Logger,
		observer: opts.Observer,
		lastEmit: time.Now(),
	}
	go s.produce(ctx, open)
	go s.keepAlive(ctx, opts.KeepAlive)
	return s
}

// ID identifies the stream in logs.
func (s *Stream) ID() string { return s.id }

// Events returns the outbound channel. It is closed after the final event.
func (s *Stream) Events() <-chan Event { return s.events }

// Done is closed once the stream has terminated.
func (s *Stream) Done() <-chan struct{} { return s.finished }

// State reports the current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stream) produce(ctx context.Context, open Opener) {
	body, err := open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.finish(ctx, nil)
			return
		}
		s.logf("stream %s: open upstream: %v", s.id, err)
		s.finish(ctx, err)
		return
	}

	closeBody := sync.OnceFunc(func() { _ = body.Close() })
	stop := context.AfterFunc(ctx, closeBody)
	defer stop()
	defer closeBody()

	var framer Framer
	buf := make([]byte, readBufferSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, line := range framer.Feed(buf[:n]) {
				terminated, ok := s.handleLine(ctx, line)
				if !ok {
					s.finish(ctx, nil)
					return
				}
				if terminated {
					closeBody()
					s.finish(ctx, nil)
					return
				}
			}
		}
		if readErr == nil {
			continue
		}
		switch {
		case ctx.Err() != nil:
			s.finish(ctx, nil)
		case errors.Is(readErr, io.EOF):
			if line := framer.Flush(); line != "" {
				if _, ok := s.handleLine(ctx, line); !ok {
					s.finish(ctx, nil)
					return
				}
			}
			s.finish(ctx, nil)
		default:
			s.logf("stream %s: read upstream: %v", s.id, readErr)
			s.finish(ctx, readErr)
		}
		return
	}
}

// handleLine decodes one framed line. It reports whether the terminator was
// seen and whether the downstream is still listening.
func (s *Stream) handleLine(ctx context.Context, line string) (terminated bool, ok bool) {
	out := Decode(line)
	switch out.Kind {
	case OutcomeTerminator:
		return true, true
	case OutcomeData:
		if out.Delta.Content == "" {
			return false, true
		}
		return false, s.send(ctx, Event{Kind: EventContent, Payload: out.Delta.Content})
	default:
		if out.Err != nil {
			s.logf("stream %s: %v", s.id, out.Err)
			if s.observer != nil {
				s.observer.ObserveDecodeError(out.Err)
			}
		}
		return false, true
	}
}

func (s *Stream) send(ctx context.Context, ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStreaming {
		return false
	}
	return s.sendLocked(ctx, ev)
}

func (s *Stream) sendLocked(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		s.lastEmit = time.Now()
		s.observe(ev.Kind)
		return true
	case <-ctx.Done():
		return false
	}
}

// finish emits the optional error event and the single terminal event, then
// closes the channel. Nothing more is sent once ctx is cancelled.
func (s *Stream) finish(ctx context.Context, upstreamErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return
	}
	s.state = StateDraining
	if ctx.Err() == nil {
		sent := true
		if upstreamErr != nil {
			sent = s.sendLocked(ctx, Event{Kind: EventError, Payload: fmt.Sprintf("[ERROR: %v]", upstreamErr)})
		}
		if sent {
			s.sendLocked(ctx, Event{Kind: EventDone, Payload: terminatorData})
		}
	}
	s.state = StateTerminated
	close(s.events)
	close(s.finished)
}

// keepAlive sends a keep-alive once the stream has been silent for a full
// interval. Every emitted event restarts the wait.
func (s *Stream) keepAlive(ctx context.Context, interval time.Duration) {
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.finished:
			return
		case <-timer.C:
			timer.Reset(s.pingIfIdle(interval))
		}
	}
}

// pingIfIdle returns how long to wait before the next check.
func (s *Stream) pingIfIdle(interval time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idle := time.Since(s.lastEmit); idle < interval {
		return interval - idle
	}
	if s.state == StateStreaming {
		select {
		case s.events <- Event{Kind: EventKeepAlive, Payload: "keep-alive"}:
			s.observe(EventKeepAlive)
		default:
		}
	}
	s.lastEmit = time.Now()
	return interval
}

func (s *Stream) observe(kind EventKind) {
	if s.observer != nil {
		s.observer.ObserveEvent(kind)
	}
}

func (s *Stream) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

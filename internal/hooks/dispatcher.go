package hooks

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// Handler reacts to an Event.
type Handler func(context.Context, Event) error

type registration struct {
	handler Handler
	only    []EventType
}

// Dispatcher fans events out to registered handlers. The zero value is ready
// to use.
type Dispatcher struct {
	mu   sync.RWMutex
	regs []registration
}

// Register adds a handler that receives every event. Handlers run
// sequentially in registration order.
func (d *Dispatcher) Register(h Handler) {
	d.RegisterFor(h)
}

// RegisterFor adds a handler that only receives the listed event types. An
// empty list means all events.
func (d *Dispatcher) RegisterFor(h Handler, types ...EventType) {
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs = append(d.regs, registration{handler: h, only: slices.Clone(types)})
}

// Len reports how many handlers are registered.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.regs)
}

// Emit delivers the event to every interested handler. A failing handler does
// not stop the others; all failures are joined.
func (d *Dispatcher) Emit(ctx context.Context, event Event) error {
	d.mu.RLock()
	regs := slices.Clone(d.regs)
	d.mu.RUnlock()

	var errs []error
	for _, r := range regs {
		if len(r.only) > 0 && !slices.Contains(r.only, event.Type) {
			continue
		}
		if err := r.handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

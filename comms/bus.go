package comms

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryBus is a thread-safe in-process event bus.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry // subscriber ID -> handlers
	history  []*Event
	maxHist  int
	nextID   int
}

type handlerEntry struct {
	id      int
	handler Handler
}

var _ Bus = (*InMemoryBus)(nil)

// NewInMemoryBus creates an InMemoryBus keeping at most maxHistory events.
// A non-positive maxHistory uses 1000.
func NewInMemoryBus(maxHistory int) *InMemoryBus {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &InMemoryBus{
		handlers: make(map[string][]handlerEntry),
		maxHist:  maxHistory,
	}
}

// Publish records e and calls every handler it is visible to. Handlers run
// outside the lock, so a handler may publish.
func (b *InMemoryBus) Publish(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	b.mu.Lock()
	b.history = append(b.history, e)
	if len(b.history) > b.maxHist {
		b.history = b.history[len(b.history)-b.maxHist:]
	}

	var targets []Handler
	for id, entries := range b.handlers {
		if !e.VisibleTo(id) {
			continue
		}
		for _, h := range entries {
			targets = append(targets, h.handler)
		}
	}
	b.mu.Unlock()

	var errs []error
	for _, h := range targets {
		if err := h(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish %s: %d handler error(s): %w", e.Type, len(errs), errors.Join(errs...))
	}
	return nil
}

// Subscribe registers handler for events visible to id.
func (b *InMemoryBus) Subscribe(id string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	entryID := b.nextID
	b.handlers[id] = append(b.handlers[id], handlerEntry{id: entryID, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.handlers[id]
		filtered := entries[:0]
		for _, e := range entries {
			if e.id != entryID {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) == 0 {
			delete(b.handlers, id)
		} else {
			b.handlers[id] = filtered
		}
	}
}

// History returns the most recent limit events visible to id in
// chronological order. A non-positive limit returns everything retained.
func (b *InMemoryBus) History(id string, limit int) ([]*Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []*Event{}
	for i := len(b.history) - 1; i >= 0; i-- {
		e := b.history[i]
		if e.VisibleTo(id) {
			result = append(result, e)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	for l, r := 0, len(result)-1; l < r; l, r = l+1, r-1 {
		result[l], result[r] = result[r], result[l]
	}
	return result, nil
}

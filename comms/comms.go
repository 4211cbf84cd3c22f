// Package comms carries task lifecycle events to interested subscribers.
package comms

import (
	"context"
	"time"
)

// EventType identifies what happened.
type EventType string

const (
	TaskCreated      EventType = "task_created"
	TaskUpdated      EventType = "task_updated"
	TaskDeleted      EventType = "task_deleted"
	TaskMaterialized EventType = "task_materialized"
	TasksArchived    EventType = "tasks_archived"
	TemplateCreated  EventType = "template_created"
)

// Everyone subscribes to every event regardless of audience.
const Everyone = "*"

// Event is a single lifecycle notification.
type Event struct {
	ID       string            `json:"id"`
	Type     EventType         `json:"type"`
	From     string            `json:"from"`               // actor that caused the event, empty for the engine
	Audience []string          `json:"audience,omitempty"` // empty means broadcast
	TaskID   string            `json:"task_id,omitempty"`
	Subject  string            `json:"subject"`
	Count    int               `json:"count,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Time     time.Time         `json:"time"`
}

// Broadcast reports whether e goes to every subscriber.
func (e *Event) Broadcast() bool { return len(e.Audience) == 0 }

// VisibleTo reports whether subscriber id receives e.
func (e *Event) VisibleTo(id string) bool {
	if id == Everyone || e.Broadcast() || e.From == id {
		return true
	}
	for _, a := range e.Audience {
		if a == id {
			return true
		}
	}
	return false
}

// Handler processes an event.
type Handler func(ctx context.Context, e *Event) error

// Bus fans lifecycle events out to subscribers.
type Bus interface {
	// Publish delivers e to every subscriber it is visible to.
	Publish(ctx context.Context, e *Event) error

	// Subscribe registers a handler for events visible to id. Returns an
	// unsubscribe function.
	Subscribe(id string, handler Handler) (unsubscribe func())

	// History returns recent events visible to id, oldest first.
	History(id string, limit int) ([]*Event, error)
}

// Package events publishes widget lifecycle notifications.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies a lifecycle transition
type Type string

const (
	// TypeLoaded is published when a widget finished importing
	TypeLoaded Type = "loaded"

	// TypeFailed is published when an import failed
	TypeFailed Type = "failed"

	// TypeUnloaded is published when a cached widget was evicted
	TypeUnloaded Type = "unloaded"
)

// Event is a single lifecycle notification
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	WidgetID  string    `json:"widgetId"`
	Version   string    `json:"version,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent creates an event with a fresh id and the current time
func NewEvent(eventType Type, widgetID string) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		WidgetID:  widgetID,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher delivers lifecycle events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops every event
type NopPublisher struct{}

// Publish implements Publisher
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events of the given type for widgetID
func (r *Recorder) OfType(eventType Type, widgetID string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == eventType && e.WidgetID == widgetID {
			out = append(out, e)
		}
	}
	return out
}

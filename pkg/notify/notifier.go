// Package notify delivers best-effort events to the surrounding
// application's notification infrastructure.
package notify

import "context"

// Dispatcher is the fire-and-forget notification interface. Implementations
// must never block the caller on delivery failure.
type Dispatcher interface {
	Notify(ctx context.Context, event string, payload map[string]interface{})
}

// Noop discards every event.
type Noop struct{}

// Notify implements Dispatcher.
func (Noop) Notify(ctx context.Context, event string, payload map[string]interface{}) {}

// Recorder captures events in memory, for tests.
type Recorder struct {
	Events []RecordedEvent
}

// RecordedEvent is one captured notification.
type RecordedEvent struct {
	Event   string
	Payload map[string]interface{}
}

// Notify implements Dispatcher.
func (r *Recorder) Notify(ctx context.Context, event string, payload map[string]interface{}) {
	r.Events = append(r.Events, RecordedEvent{Event: event, Payload: payload})
}

package domain

import "time"

// EventKind tags entries on the engine event bus.
type EventKind string

const (
	EventLog            EventKind = "log"
	EventEngineStarted  EventKind = "engine_started"
	EventEngineStopped  EventKind = "engine_stopped"
	EventCircuitBreaker EventKind = "circuit_breaker"
	EventPanicClose     EventKind = "panic_close"
	EventFill           EventKind = "fill"
	EventQuote          EventKind = "quote"
)

// EngineEvent is a single operator-visible event.
type EngineEvent struct {
	ID      string         `json:"id"`
	Kind    EventKind      `json:"kind"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
	Time    time.Time      `json:"time"`
}

// EventPublisher fans engine events out to observers.
type EventPublisher interface {
	PublishEvent(ev EngineEvent)
}

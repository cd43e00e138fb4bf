package domain

import "time"

// EventType identifies what happened to a run.
type EventType string

const (
	EventTypeRunSubmitted  EventType = "run.submitted"
	EventTypeRunStarted    EventType = "run.started"
	EventTypeRunCompleted  EventType = "run.completed"
	EventTypeRunFailed     EventType = "run.failed"
	EventTypeRunCancelled  EventType = "run.cancelled"
	EventTypeStepStarted   EventType = "step.started"
	EventTypeStepCompleted EventType = "step.completed"
	EventTypeStepFailed    EventType = "step.failed"
)

// Event topics.
const (
	TopicRunEvents  = "run.events"
	TopicStepEvents = "step.events"
)

// Event is published on the event bus.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	RunID     string         `json:"run_id"`
	Step      StepName       `json:"step,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

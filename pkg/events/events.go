// Package events defines the contract between the external
// agent-execution engine and the hub. The engine publishes execution
// progress through a Publisher; the hub consumes the events and fans
// them out to the matching channels. The engine itself lives outside
// this repository.
package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the lifecycle stage of an execution event.
type EventType string

const (
	ExecutionStarted   EventType = "execution_started"
	ExecutionUpdated   EventType = "execution_updated"
	ExecutionProgress  EventType = "execution_progress"
	ExecutionCompleted EventType = "execution_completed"
	ExecutionFailed    EventType = "execution_failed"
)

// Event is one execution-progress event emitted by the engine, tagged
// with the execution id and the owning team/user.
type Event struct {
	Type        EventType       `json:"type"`
	ExecutionID string          `json:"executionId"`
	UserID      string          `json:"userId,omitempty"`
	TeamID      string          `json:"teamId,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Publisher is what the hub exposes to the execution engine.
type Publisher interface {
	PublishExecutionEvent(event *Event)
}

// Package stream provides an in-process event broker for run lifecycle
// events. It bridges the ext hooks to subscribers via topic-based pub/sub.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Run events.
	EventRunStarted   EventType = "run.started"
	EventRunWaiting   EventType = "run.waiting"
	EventRunSucceeded EventType = "run.succeeded"
	EventRunFailed    EventType = "run.failed"
	EventRunAborted   EventType = "run.aborted"
	EventRunRetried   EventType = "run.retried"
	EventTickFailed   EventType = "run.tick_failed"

	// Step events.
	EventStepStarted  EventType = "step.started"
	EventStepFinished EventType = "step.finished"
	EventStepTimedOut EventType = "step.timed_out"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the run-specific channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// RunEventData is the payload for run lifecycle events.
type RunEventData struct {
	RunID      string `json:"run_id"`
	Name       string `json:"name"`
	State      string `json:"state"`
	Attempt    int    `json:"attempt"`
	Ticks      int    `json:"ticks"`
	Message    string `json:"message,omitempty"`
	ElapsedMs  int64  `json:"elapsed_ms,omitempty"`
	Error      string `json:"error,omitempty"`
	NextTickAt string `json:"next_tick_at,omitempty"`
	RetryOf    string `json:"retry_of,omitempty"`
}

// StepEventData is the payload for step lifecycle events.
type StepEventData struct {
	RunID     string `json:"run_id"`
	RunName   string `json:"run_name"`
	Step      string `json:"step"`
	State     string `json:"state"`
	Message   string `json:"message,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	TimedOut  bool   `json:"timed_out,omitempty"`
}

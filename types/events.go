package types

import "time"

type EventType string

const (
	EventRunStarted      EventType = "run.started"
	EventNodeStarted     EventType = "node.started"
	EventNodeCompleted   EventType = "node.completed"
	EventNodeFailed      EventType = "node.failed"
	EventCheckpointSaved EventType = "checkpoint.saved"
	EventRunCompleted    EventType = "run.completed"
	EventRunFailed       EventType = "run.failed"
)

type Event struct {
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	RunID      string    `json:"runId,omitempty"`
	UserID     string    `json:"userId,omitempty"`
	Node       string    `json:"node,omitempty"`
	ToolName   string    `json:"toolName,omitempty"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"durationMs,omitempty"`
}

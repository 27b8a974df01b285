package observe

import (
	"strings"

	"github.com/ragline/ragline/types"
)

// FromRuntimeEvent converts a pipeline runtime event into an observe event.
func FromRuntimeEvent(in types.Event) Event {
	e := Event{
		Timestamp:  in.Timestamp,
		RunID:      in.RunID,
		UserID:     in.UserID,
		Name:       in.Node,
		ToolName:   in.ToolName,
		Message:    in.Message,
		Error:      in.Error,
		DurationMs: in.DurationMs,
		Attributes: map[string]any{
			"eventType": string(in.Type),
		},
	}

	eventType := string(in.Type)
	switch {
	case strings.HasPrefix(eventType, "node."):
		e.Kind = KindNode
	case strings.HasPrefix(eventType, "checkpoint."):
		e.Kind = KindCheckpoint
	case strings.HasPrefix(eventType, "run."):
		e.Kind = KindRun
	default:
		e.Kind = KindCustom
	}

	switch {
	case strings.HasSuffix(eventType, "started"):
		e.Status = StatusStarted
	case strings.HasSuffix(eventType, "failed"):
		e.Status = StatusFailed
	default:
		e.Status = StatusCompleted
	}

	e.Normalize()
	return e
}

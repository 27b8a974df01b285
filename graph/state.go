// Package graph drives one user turn through the reasoning pipeline:
// rewrite, retrieve, optional widening, tool selection and execution, and
// answer synthesis. Nodes are pure functions returning deltas; the executor
// owns the single authoritative state and applies them.
package graph

import (
	"github.com/ragline/ragline/types"
)

// Delta is a partial state update produced by one node. Nil pointer fields
// mean "unchanged"; slice fields append, except Docs which replaces the
// working set when SetDocs is true.
type Delta struct {
	RewrittenQuery   *string
	IsComplex        *bool
	SuggestedQueries []string
	SelectedTool     *string
	ToolInput        map[string]any
	WidenAttempted   *bool
	ToolResults      []types.ToolResult

	Docs    []types.Document
	SetDocs bool

	Messages      []types.Message
	GeneratedText *string
	IsFinalState  *bool
	TokenCounts   *types.TokenCounts
	Errors        []types.NodeError
}

// Apply merges the delta into state. Error entries accumulate; a later
// failure never erases an earlier record.
func (d Delta) Apply(state *types.AgentState) {
	if d.RewrittenQuery != nil {
		state.Tasks.RewrittenQuery = *d.RewrittenQuery
	}
	if d.IsComplex != nil {
		state.Tasks.IsComplex = *d.IsComplex
	}
	if len(d.SuggestedQueries) > 0 {
		state.Tasks.SuggestedQueries = d.SuggestedQueries
	}
	if d.SelectedTool != nil {
		state.Tasks.SelectedTool = *d.SelectedTool
	}
	if d.ToolInput != nil {
		state.Tasks.ToolInput = d.ToolInput
	}
	if d.WidenAttempted != nil {
		state.Tasks.WidenAttempted = *d.WidenAttempted
	}
	if len(d.ToolResults) > 0 {
		state.Tasks.ToolResults = append(state.Tasks.ToolResults, d.ToolResults...)
	}
	if d.SetDocs {
		state.Docs = d.Docs
	}
	if len(d.Messages) > 0 {
		state.Messages = append(state.Messages, d.Messages...)
	}
	if d.GeneratedText != nil {
		state.GeneratedText = *d.GeneratedText
	}
	if d.IsFinalState != nil {
		state.Metadata.IsFinalState = *d.IsFinalState
	}
	if d.TokenCounts != nil {
		state.Metadata.TokenCounts = *d.TokenCounts
	}
	if len(d.Errors) > 0 {
		state.Metadata.Errors = append(state.Metadata.Errors, d.Errors...)
	}
}

// StateSnapshot is one streaming emission: the state as of a completed node.
// Terminal marks the last snapshot before the channel closes.
type StateSnapshot struct {
	Node     string           `json:"node"`
	State    types.AgentState `json:"state"`
	Terminal bool             `json:"terminal"`
}

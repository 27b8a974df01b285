package types

import (
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// DocumentMetadata describes where a retrieved document came from and how
// well it matched the query.
type DocumentMetadata struct {
	Source         string  `json:"source,omitempty"`
	URL            string  `json:"url,omitempty"`
	RelevanceScore float64 `json:"relevanceScore"`
}

type Document struct {
	ID       string           `json:"id"`
	Title    string           `json:"title,omitempty"`
	Body     string           `json:"body"`
	Metadata DocumentMetadata `json:"metadata"`
}

// ToolResult records one tool invocation. Exactly one of Output and Error
// is meaningful: Output is nil whenever Error is set.
type ToolResult struct {
	ToolName      string         `json:"toolName"`
	Input         map[string]any `json:"input,omitempty"`
	Output        *string        `json:"output,omitempty"`
	Error         string         `json:"error,omitempty"`
	ExecutionTime time.Duration  `json:"executionTime"`
}

func (r ToolResult) Succeeded() bool {
	return r.Error == "" && r.Output != nil
}

// NodeError is one contained node failure. Errors accumulate on the run
// metadata; a later failure never erases an earlier record.
type NodeError struct {
	Node      string    `json:"node"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type TokenCounts struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

type RunMetadata struct {
	StartTime    time.Time        `json:"startTime"`
	NodeTimings  map[string]int64 `json:"nodeTimings,omitempty"` // milliseconds per node
	TokenCounts  TokenCounts      `json:"tokenCounts"`
	Errors       []NodeError      `json:"errors,omitempty"`
	IsFinalState bool             `json:"isFinalState"`
}

// Options are caller-supplied knobs for a single run.
type Options struct {
	EnhanceContext  bool    `json:"enhanceContext,omitempty"`
	MaxContextItems int     `json:"maxContextItems,omitempty"`
	MaxTokens       int     `json:"maxTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

// Tasks is the pipeline scratch space: what the rewrite step produced, what
// the tool router decided, and every tool invocation so far.
type Tasks struct {
	RewrittenQuery   string         `json:"rewrittenQuery,omitempty"`
	IsComplex        bool           `json:"isComplex,omitempty"`
	SuggestedQueries []string       `json:"suggestedQueries,omitempty"`
	SelectedTool     string         `json:"selectedTool,omitempty"`
	ToolInput        map[string]any `json:"toolInput,omitempty"`
	ToolResults      []ToolResult   `json:"toolResults,omitempty"`
	WidenAttempted   bool           `json:"widenAttempted,omitempty"`
}

// AgentState is the unit of work threaded through the pipeline. UserID is
// immutable for the run's lifetime; Messages are append-only, while Docs
// holds the latest retrieval pass.
type AgentState struct {
	RunID         string      `json:"runId"`
	UserID        string      `json:"userId"`
	Messages      []Message   `json:"messages"`
	Tasks         Tasks       `json:"tasks"`
	Docs          []Document  `json:"docs,omitempty"`
	GeneratedText string      `json:"generatedText,omitempty"`
	Metadata      RunMetadata `json:"metadata"`
	Options       Options     `json:"options"`
}

// LastUserMessage returns the most recent user turn, or "" when there is none.
func (s *AgentState) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

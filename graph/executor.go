package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ragline/ragline/checkpoint"
	"github.com/ragline/ragline/llm"
	"github.com/ragline/ragline/observe"
	"github.com/ragline/ragline/retrieval"
	"github.com/ragline/ragline/tools"
	"github.com/ragline/ragline/types"
)

// Executor runs the pipeline. One instance serves many concurrent runs;
// per-run state lives entirely in AgentState, never on the executor.
type Executor struct {
	deps        Deps
	checkpoints checkpoint.Store
	sink        observe.Sink
}

type Option func(*executorConfig)

type executorConfig struct {
	checkpoints checkpoint.Store
	sink        observe.Sink
	llmTimeout  time.Duration
	toolTimeout time.Duration
}

// WithCheckpoints enables durable state: Put after every node, Get on
// Resume. Without it runs are memory-only.
func WithCheckpoints(store checkpoint.Store) Option {
	return func(c *executorConfig) { c.checkpoints = store }
}

func WithSink(sink observe.Sink) Option {
	return func(c *executorConfig) {
		if sink != nil {
			c.sink = sink
		}
	}
}

func WithLLMTimeout(timeout time.Duration) Option {
	return func(c *executorConfig) {
		if timeout > 0 {
			c.llmTimeout = timeout
		}
	}
}

func WithToolTimeout(timeout time.Duration) Option {
	return func(c *executorConfig) {
		if timeout > 0 {
			c.toolTimeout = timeout
		}
	}
}

// New builds an executor. The client is wrapped so model failures degrade
// to fallbacks, and the searcher so retrieval failures read as empty result
// sets; collaborator unavailability never aborts a run.
func New(client llm.Client, searcher retrieval.Searcher, registry *tools.Registry, opts ...Option) (*Executor, error) {
	cfg := executorConfig{
		sink:       observe.NoopSink{},
		llmTimeout: llm.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}

	toolOpts := []tools.ExecutorOption{tools.WithObserver(cfg.sink)}
	if cfg.toolTimeout > 0 {
		toolOpts = append(toolOpts, tools.WithTimeout(cfg.toolTimeout))
	}
	executor, err := tools.NewSecureExecutor(registry, toolOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build tool executor: %w", err)
	}

	return &Executor{
		deps: Deps{
			LLM:      llm.WithFallback(client, cfg.llmTimeout),
			Searcher: retrieval.Safe(searcher),
			Registry: registry,
			Tools:    executor,
		},
		checkpoints: cfg.checkpoints,
		sink:        cfg.sink,
	}, nil
}

// Run drives initial through the pipeline to the terminal node and returns
// the final state. The only error it returns is cancellation.
func (e *Executor) Run(ctx context.Context, initial types.AgentState) (types.AgentState, error) {
	state := initial
	return e.execute(ctx, &state, nil)
}

// RunStream is Run with incremental delivery: each completed node pushes a
// snapshot, the terminal snapshot is marked, then the channel closes. The
// consumer cancels via ctx.
func (e *Executor) RunStream(ctx context.Context, initial types.AgentState) <-chan StateSnapshot {
	out := make(chan StateSnapshot, 1)
	go func() {
		defer close(out)
		state := initial
		_, _ = e.execute(ctx, &state, func(snapshot StateSnapshot) bool {
			select {
			case out <- snapshot:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return out
}

// Resume continues a checkpointed run. A missing or undecryptable
// checkpoint is a cold start, never an error.
func (e *Executor) Resume(ctx context.Context, runID string, newMessage *types.Message) (types.AgentState, error) {
	state := e.loadOrColdStart(ctx, runID, newMessage)
	return e.execute(ctx, &state, nil)
}

func (e *Executor) ResumeStream(ctx context.Context, runID string, newMessage *types.Message) <-chan StateSnapshot {
	out := make(chan StateSnapshot, 1)
	go func() {
		defer close(out)
		state := e.loadOrColdStart(ctx, runID, newMessage)
		_, _ = e.execute(ctx, &state, func(snapshot StateSnapshot) bool {
			select {
			case out <- snapshot:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return out
}

func (e *Executor) loadOrColdStart(ctx context.Context, runID string, newMessage *types.Message) types.AgentState {
	var state types.AgentState
	if e.checkpoints != nil {
		if cp, err := e.checkpoints.Get(ctx, runID); err == nil {
			state = cp.State
		}
	}
	state.RunID = runID
	resetForTurn(&state)
	if newMessage != nil {
		m := *newMessage
		if m.Role == "" {
			m.Role = types.RoleUser
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = time.Now().UTC()
		}
		state.Messages = append(state.Messages, m)
	}
	return state
}

// resetForTurn clears the previous turn's working state while keeping the
// conversation itself.
func resetForTurn(state *types.AgentState) {
	state.Tasks = types.Tasks{}
	state.Docs = nil
	state.GeneratedText = ""
	state.Metadata = types.RunMetadata{}
}

// execute is the shared run loop. push, when non-nil, delivers snapshots
// after every node; returning false from push aborts the loop.
func (e *Executor) execute(ctx context.Context, state *types.AgentState, push func(StateSnapshot) bool) (types.AgentState, error) {
	prepare(state)
	e.emit(ctx, observe.Event{
		RunID:  state.RunID,
		UserID: state.UserID,
		Kind:   observe.KindRun,
		Status: observe.StatusStarted,
	})

	current := NodeSplitRewrite
	for {
		// Cancellation is cooperative and checked between nodes only; a
		// node's own timeout governs its worst-case latency.
		if err := ctx.Err(); err != nil {
			e.emit(ctx, observe.Event{
				RunID:  state.RunID,
				UserID: state.UserID,
				Kind:   observe.KindRun,
				Status: observe.StatusFailed,
				Error:  err.Error(),
			})
			return *state, err
		}

		e.runNode(ctx, current, nodeFor(current), state)
		terminal := current == NodeGenerateAnswer
		if terminal {
			finalize(state)
		}
		e.saveCheckpoint(ctx, state)

		if push != nil && !push(StateSnapshot{Node: current, State: *state, Terminal: terminal}) {
			return *state, ctx.Err()
		}
		if terminal {
			break
		}
		current = nextNode(current, *state)
	}

	e.emit(ctx, observe.Event{
		RunID:      state.RunID,
		UserID:     state.UserID,
		Kind:       observe.KindRun,
		Status:     observe.StatusCompleted,
		DurationMs: time.Since(state.Metadata.StartTime).Milliseconds(),
	})
	return *state, nil
}

func nodeFor(name string) NodeFunc {
	switch name {
	case NodeSplitRewrite:
		return splitRewrite
	case NodeRetrieve:
		return retrieve
	case NodeDynamicWiden:
		return dynamicWiden
	case NodeToolRouter:
		return toolRouter
	case NodeRunTool:
		return runTool
	default:
		return generateAnswer
	}
}

func nextNode(current string, state types.AgentState) string {
	switch current {
	case NodeSplitRewrite:
		return NodeRetrieve
	case NodeRetrieve:
		switch routeAfterRetrieve(state) {
		case RouteWiden:
			return NodeDynamicWiden
		case RouteTool:
			return NodeToolRouter
		default:
			return NodeGenerateAnswer
		}
	case NodeDynamicWiden:
		return NodeRetrieve
	case NodeToolRouter:
		if routeAfterTool(state) == RouteRunTool {
			return NodeRunTool
		}
		return NodeGenerateAnswer
	default:
		return NodeGenerateAnswer
	}
}

func prepare(state *types.AgentState) {
	if state.RunID == "" {
		state.RunID = uuid.NewString()
	}
	if state.Metadata.StartTime.IsZero() {
		state.Metadata.StartTime = time.Now().UTC()
	}
	if state.Metadata.NodeTimings == nil {
		state.Metadata.NodeTimings = map[string]int64{}
	}
}

// finalize guarantees the terminal contract: GeneratedText is always set
// and the state is marked final, even when the terminal node itself failed.
func finalize(state *types.AgentState) {
	if state.GeneratedText == "" {
		state.GeneratedText = llm.FallbackAnswer
		state.Messages = append(state.Messages, types.Message{
			Role:      types.RoleAssistant,
			Content:   llm.FallbackAnswer,
			Timestamp: time.Now().UTC(),
		})
	}
	state.Metadata.IsFinalState = true
}

// saveCheckpoint persists after a node. A failed Put is reported to the
// sink and the run continues memory-only.
func (e *Executor) saveCheckpoint(ctx context.Context, state *types.AgentState) {
	if e.checkpoints == nil {
		return
	}
	event := observe.Event{
		RunID:  state.RunID,
		UserID: state.UserID,
		Kind:   observe.KindCheckpoint,
		Status: observe.StatusCompleted,
	}
	if err := e.checkpoints.Put(ctx, state.RunID, *state); err != nil {
		event.Status = observe.StatusFailed
		event.Error = err.Error()
	}
	e.emit(ctx, event)
}

func (e *Executor) emit(ctx context.Context, event observe.Event) {
	if e.sink == nil {
		return
	}
	event.Normalize()
	_ = e.sink.Emit(ctx, event)
}

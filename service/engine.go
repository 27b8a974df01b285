// Package service is the transport-agnostic engine surface. Conversational
// operations degrade to a safe answer on internal failure; administrative
// operations return explicit errors.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ragline/ragline/checkpoint"
	"github.com/ragline/ragline/graph"
	"github.com/ragline/ragline/observe"
	"github.com/ragline/ragline/retention"
	"github.com/ragline/ragline/types"
)

// ChatRequest starts or restarts a conversation turn. RunID, when set,
// overrides any run ID already present on the initial state.
type ChatRequest struct {
	InitialState types.AgentState `json:"initialState"`
	RunID        string           `json:"runId,omitempty"`
}

type Engine struct {
	executor         *graph.Executor
	checkpoints      checkpoint.Store
	retention        *retention.Manager
	sink             observe.Sink
	checkpointMaxAge time.Duration
}

type Option func(*Engine)

// WithCheckpointStore enables the stats and cleanup operations; the
// executor carries its own reference for run persistence.
func WithCheckpointStore(store checkpoint.Store) Option {
	return func(e *Engine) { e.checkpoints = store }
}

func WithRetentionManager(manager *retention.Manager) Option {
	return func(e *Engine) { e.retention = manager }
}

func WithSink(sink observe.Sink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

func WithCheckpointMaxAge(maxAge time.Duration) Option {
	return func(e *Engine) {
		if maxAge > 0 {
			e.checkpointMaxAge = maxAge
		}
	}
}

func New(executor *graph.Executor, opts ...Option) (*Engine, error) {
	if executor == nil {
		return nil, fmt.Errorf("graph executor is required")
	}
	e := &Engine{
		executor:         executor,
		sink:             observe.NoopSink{},
		checkpointMaxAge: retention.DefaultCheckpointMaxAge,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// GenerateChatResponse runs one turn to completion and returns the final
// state. The only error is cancellation; everything else degrades inside
// the pipeline.
func (e *Engine) GenerateChatResponse(ctx context.Context, req ChatRequest) (types.AgentState, error) {
	state := req.InitialState
	if req.RunID != "" {
		state.RunID = req.RunID
	}
	final, err := e.executor.Run(ctx, state)
	if err != nil {
		return final, err
	}
	e.trackConversation(ctx, final)
	return final, nil
}

// GenerateChatStream is GenerateChatResponse with incremental snapshots.
// The channel closes after the terminal snapshot.
func (e *Engine) GenerateChatStream(ctx context.Context, req ChatRequest) <-chan graph.StateSnapshot {
	state := req.InitialState
	if req.RunID != "" {
		state.RunID = req.RunID
	}
	upstream := e.executor.RunStream(ctx, state)
	return e.trackStream(ctx, upstream)
}

// ResumeChatSession continues a prior run; a missing checkpoint is a cold
// start.
func (e *Engine) ResumeChatSession(ctx context.Context, runID string, newMessage *types.Message) (types.AgentState, error) {
	if runID == "" {
		return types.AgentState{}, fmt.Errorf("run id is required")
	}
	final, err := e.executor.Resume(ctx, runID, newMessage)
	if err != nil {
		return final, err
	}
	e.trackConversation(ctx, final)
	return final, nil
}

func (e *Engine) ResumeChatStream(ctx context.Context, runID string, newMessage *types.Message) <-chan graph.StateSnapshot {
	upstream := e.executor.ResumeStream(ctx, runID, newMessage)
	return e.trackStream(ctx, upstream)
}

func (e *Engine) GetCheckpointStats(ctx context.Context) (checkpoint.Stats, error) {
	if e.checkpoints == nil {
		return checkpoint.Stats{CheckpointsByUser: map[string]int{}}, nil
	}
	return e.checkpoints.GetStats(ctx)
}

// CleanupCheckpoints deletes checkpoints past the configured maximum age.
func (e *Engine) CleanupCheckpoints(ctx context.Context) (int, error) {
	if e.checkpoints == nil {
		return 0, nil
	}
	return e.checkpoints.Cleanup(ctx, e.checkpointMaxAge)
}

func (e *Engine) GetDataRetentionStats(ctx context.Context) (retention.Stats, error) {
	if e.retention == nil {
		return retention.Stats{
			RecordsByCategory: map[string]int{},
			RecordsByUser:     map[string]int{},
		}, nil
	}
	return e.retention.GetStats(ctx)
}

func (e *Engine) CleanupExpiredData(ctx context.Context) (int, error) {
	if e.retention == nil {
		return 0, nil
	}
	return e.retention.CleanupExpiredData(ctx)
}

func (e *Engine) DeleteUserData(ctx context.Context, userID string) (int, error) {
	if e.retention == nil {
		if e.checkpoints == nil {
			return 0, nil
		}
		return e.checkpoints.DeleteByUser(ctx, userID)
	}
	return e.retention.DeleteUserData(ctx, userID)
}

func (e *Engine) RecordConsent(ctx context.Context, userID, category string, durationDays int) error {
	if e.retention == nil {
		return fmt.Errorf("no retention manager configured")
	}
	return e.retention.RecordConsent(ctx, userID, category, durationDays)
}

// NewSweeper builds a retention sweeper over the engine's own manager,
// checkpoint store, and sink. Caller options are applied last and win.
func (e *Engine) NewSweeper(opts ...retention.SweeperOption) (*retention.Sweeper, error) {
	if e.retention == nil {
		return nil, fmt.Errorf("no retention manager configured")
	}
	base := []retention.SweeperOption{
		retention.WithSweepCheckpoints(e.checkpoints),
		retention.WithSweeperSink(e.sink),
		retention.WithCheckpointMaxAge(e.checkpointMaxAge),
	}
	return retention.NewSweeper(e.retention, append(base, opts...)...)
}

// trackConversation registers the finished run's checkpoint with the
// retention manager. Best effort: tracking failure never fails the turn.
func (e *Engine) trackConversation(ctx context.Context, state types.AgentState) {
	if e.retention == nil || state.RunID == "" || state.UserID == "" {
		return
	}
	_, err := e.retention.RegisterArtifact(ctx, state.UserID, retention.CategoryConversation, state.RunID, time.Now().UTC())
	if err != nil {
		_ = e.sink.Emit(ctx, observe.Event{
			RunID:  state.RunID,
			UserID: state.UserID,
			Kind:   observe.KindRetention,
			Status: observe.StatusFailed,
			Name:   "registerArtifact",
			Error:  err.Error(),
		})
	}
}

// trackStream forwards snapshots and registers the artifact once the
// terminal snapshot passes through.
func (e *Engine) trackStream(ctx context.Context, upstream <-chan graph.StateSnapshot) <-chan graph.StateSnapshot {
	out := make(chan graph.StateSnapshot, 1)
	go func() {
		defer close(out)
		for snapshot := range upstream {
			if snapshot.Terminal {
				e.trackConversation(ctx, snapshot.State)
			}
			select {
			case out <- snapshot:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/ragline/ragline/observe"
	"github.com/ragline/ragline/types"
)

// runNode invokes one node under the standard wrapper: timing is recorded
// either way, a failure is swallowed into a NodeError delta, and one
// observe event is emitted per invocation. It never returns an error; only
// cancellation between nodes ends a run early.
func (e *Executor) runNode(ctx context.Context, name string, fn NodeFunc, state *types.AgentState) {
	started := time.Now()
	e.emit(ctx, observe.Event{
		RunID:  state.RunID,
		UserID: state.UserID,
		Kind:   observe.KindNode,
		Status: observe.StatusStarted,
		Name:   name,
	})

	delta, err := invokeNode(ctx, fn, state, &e.deps)
	elapsed := time.Since(started)

	if state.Metadata.NodeTimings == nil {
		state.Metadata.NodeTimings = map[string]int64{}
	}
	state.Metadata.NodeTimings[name] = elapsed.Milliseconds()

	status := observe.StatusCompleted
	errMsg := ""
	if err != nil {
		status = observe.StatusFailed
		errMsg = err.Error()
		delta = Delta{Errors: []types.NodeError{{
			Node:      name,
			Message:   err.Error(),
			Timestamp: time.Now().UTC(),
		}}}
	}
	delta.Apply(state)

	e.emit(ctx, observe.Event{
		RunID:      state.RunID,
		UserID:     state.UserID,
		Kind:       observe.KindNode,
		Status:     status,
		Name:       name,
		Error:      errMsg,
		DurationMs: elapsed.Milliseconds(),
	})
}

func invokeNode(ctx context.Context, fn NodeFunc, state *types.AgentState, d *Deps) (delta Delta, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node panicked: %v", r)
		}
	}()
	return fn(ctx, state, d)
}

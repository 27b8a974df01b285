package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ragline/ragline/observe"
	"github.com/ragline/ragline/types"
)

const defaultToolTimeout = 30 * time.Second

// SecureExecutor invokes registry entries against untrusted input. Every
// failure mode, including unknown tools, bad input, panics, and timeouts,
// comes back as a ToolResult with Error set; the run path never sees a Go
// error from Execute.
type SecureExecutor struct {
	registry *Registry
	timeout  time.Duration
	sink     observe.Sink
}

type ExecutorOption func(*SecureExecutor)

func WithTimeout(timeout time.Duration) ExecutorOption {
	return func(e *SecureExecutor) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

func WithObserver(sink observe.Sink) ExecutorOption {
	return func(e *SecureExecutor) {
		if sink != nil {
			e.sink = sink
		}
	}
}

func NewSecureExecutor(registry *Registry, opts ...ExecutorOption) (*SecureExecutor, error) {
	if registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	e := &SecureExecutor{
		registry: registry,
		timeout:  defaultToolTimeout,
		sink:     observe.NoopSink{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Trace carries run identity into tool telemetry.
type Trace struct {
	RunID  string
	UserID string
}

func (e *SecureExecutor) Execute(ctx context.Context, toolName string, input map[string]any, trace Trace) types.ToolResult {
	started := time.Now()
	result := types.ToolResult{
		ToolName: toolName,
		Input:    input,
	}

	finish := func(result types.ToolResult) types.ToolResult {
		result.ExecutionTime = time.Since(started)
		status := observe.StatusCompleted
		if result.Error != "" {
			status = observe.StatusFailed
		}
		_ = e.sink.Emit(ctx, observe.Event{
			RunID:      trace.RunID,
			UserID:     trace.UserID,
			Kind:       observe.KindTool,
			Status:     status,
			ToolName:   toolName,
			Error:      result.Error,
			DurationMs: result.ExecutionTime.Milliseconds(),
		})
		return result
	}

	def, ok := e.registry.Get(toolName)
	if !ok {
		result.Error = fmt.Sprintf("unknown tool %q", toolName)
		return finish(result)
	}

	validated, err := ValidateInput(def, input)
	if err != nil {
		result.Error = err.Error()
		return finish(result)
	}
	result.Input = validated

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		output, err := def.Execute(execCtx, validated)
		done <- outcome{output: output, err: err}
	}()

	select {
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			result.Error = fmt.Sprintf("tool %q timed out after %s", toolName, e.timeout)
		} else {
			result.Error = fmt.Sprintf("tool %q canceled: %v", toolName, execCtx.Err())
		}
		return finish(result)
	case out := <-done:
		if out.err != nil {
			result.Error = out.err.Error()
			return finish(result)
		}
		result.Output = &out.output
		return finish(result)
	}
}

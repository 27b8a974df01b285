package tools

import (
	"context"
	"strings"
	"testing"
	"time"
)

func testExecutor(t *testing.T, registry *Registry, opts ...ExecutorOption) *SecureExecutor {
	t.Helper()
	e, err := NewSecureExecutor(registry, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestExecuteUnknownTool(t *testing.T) {
	e := testExecutor(t, NewRegistry())
	result := e.Execute(context.Background(), "ghost", nil, Trace{})
	if result.Error == "" || result.Output != nil {
		t.Fatalf("result = %+v", result)
	}
	if !strings.Contains(result.Error, "unknown tool") {
		t.Fatalf("error = %q", result.Error)
	}
}

func TestExecuteValidationFailure(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Definition{
		Name:       "echo",
		Parameters: []Parameter{{Name: "text", Type: TypeString, Required: true}},
		Execute:    noopExecute,
	})
	e := testExecutor(t, r)

	result := e.Execute(context.Background(), "echo", map[string]any{}, Trace{})
	if result.Error == "" || result.Output != nil {
		t.Fatalf("result = %+v", result)
	}
	if !strings.Contains(result.Error, "required parameter") {
		t.Fatalf("error = %q", result.Error)
	}
}

func TestExecutePanicContained(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Definition{
		Name: "boom",
		Execute: func(context.Context, map[string]any) (string, error) {
			panic("kaboom")
		},
	})
	e := testExecutor(t, r)

	result := e.Execute(context.Background(), "boom", nil, Trace{})
	if result.Error == "" || !strings.Contains(result.Error, "kaboom") {
		t.Fatalf("result = %+v", result)
	}
}

func TestExecuteTimeout(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Definition{
		Name: "slow",
		Execute: func(ctx context.Context, _ map[string]any) (string, error) {
			select {
			case <-time.After(time.Second):
				return "late", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	})
	e := testExecutor(t, r, WithTimeout(10*time.Millisecond))

	result := e.Execute(context.Background(), "slow", nil, Trace{})
	if result.Output != nil {
		t.Fatalf("output = %v", *result.Output)
	}
	if !strings.Contains(result.Error, "timed out") {
		t.Fatalf("error = %q", result.Error)
	}
	if result.ExecutionTime <= 0 {
		t.Fatal("execution time not recorded")
	}
}

func TestExecuteSuccess(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Definition{
		Name:       "echo",
		Parameters: []Parameter{{Name: "text", Type: TypeString, Required: true}},
		Execute: func(_ context.Context, input map[string]any) (string, error) {
			return input["text"].(string), nil
		},
	})
	e := testExecutor(t, r)

	result := e.Execute(context.Background(), "echo", map[string]any{"text": "hi"}, Trace{RunID: "r1"})
	if !result.Succeeded() {
		t.Fatalf("result = %+v", result)
	}
	if *result.Output != "hi" {
		t.Fatalf("output = %q", *result.Output)
	}
}

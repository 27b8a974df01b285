// Package otel bridges the observe.Sink to OpenTelemetry tracing.
//
// It converts engine observe.Event objects into OTel spans so that runs,
// pipeline nodes, tool calls, and retention sweeps are visible in any
// OpenTelemetry-compatible backend (Jaeger, Zipkin, Grafana, etc.).
package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ragline/ragline/observe"
)

const instrumentationName = "github.com/ragline/ragline"

// Sink implements observe.Sink by emitting OpenTelemetry spans.
type Sink struct {
	tracer trace.Tracer
}

// NewSink creates an OTel sink using the given TracerProvider.
// If tp is nil, it uses a noop tracer provider.
func NewSink(tp trace.TracerProvider) *Sink {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Sink{
		tracer: tp.Tracer(instrumentationName),
	}
}

// Emit converts an observe.Event into an OTel span.
func (s *Sink) Emit(_ context.Context, event observe.Event) error {
	event.Normalize()

	spanName := spanNameFor(event)
	ctx := context.Background()
	startTime := event.Timestamp

	_, span := s.tracer.Start(ctx, spanName, trace.WithTimestamp(startTime))

	attrs := []attribute.KeyValue{
		attribute.String("engine.event.kind", string(event.Kind)),
	}
	if event.RunID != "" {
		attrs = append(attrs, attribute.String("engine.run.id", event.RunID))
	}
	if event.UserID != "" {
		attrs = append(attrs, attribute.String("engine.user.id", event.UserID))
	}
	if event.Name != "" {
		attrs = append(attrs, attribute.String("engine.event.name", event.Name))
	}
	if event.ToolName != "" {
		attrs = append(attrs, attribute.String("engine.tool.name", event.ToolName))
	}
	if event.Status != "" {
		attrs = append(attrs, attribute.String("engine.status", string(event.Status)))
	}
	if event.Message != "" {
		attrs = append(attrs, attribute.String("engine.message", truncate(event.Message, 1024)))
	}
	if event.DurationMs > 0 {
		attrs = append(attrs, attribute.Int64("engine.duration_ms", event.DurationMs))
	}
	for k, v := range event.Attributes {
		attrs = append(attrs, attribute.String("engine.attr."+k, fmt.Sprintf("%v", v)))
	}

	span.SetAttributes(attrs...)

	if event.Status == observe.StatusFailed {
		span.SetStatus(codes.Error, event.Error)
		if event.Error != "" {
			span.RecordError(fmt.Errorf("%s", event.Error))
		}
	} else if event.Status == observe.StatusCompleted {
		span.SetStatus(codes.Ok, "")
	}

	endTime := startTime
	if event.DurationMs > 0 {
		endTime = startTime.Add(time.Duration(event.DurationMs) * time.Millisecond)
	}
	span.End(trace.WithTimestamp(endTime))
	return nil
}

func spanNameFor(event observe.Event) string {
	switch event.Kind {
	case observe.KindRun:
		return "engine.run"
	case observe.KindNode:
		if event.Name != "" {
			return "engine.node." + event.Name
		}
		return "engine.node.step"
	case observe.KindTool:
		if event.ToolName != "" {
			return "engine.tool." + event.ToolName
		}
		return "engine.tool.call"
	case observe.KindCheckpoint:
		return "engine.checkpoint"
	case observe.KindRetention:
		if event.Name != "" {
			return "engine.retention." + event.Name
		}
		return "engine.retention.sweep"
	default:
		if event.Name != "" {
			return "engine." + event.Name
		}
		return "engine.event"
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

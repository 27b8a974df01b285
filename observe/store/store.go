package store

import (
	"context"
	"time"

	"github.com/ragline/ragline/observe"
)

type ListQuery struct {
	Limit  int
	Offset int
}

type MetricsQuery struct {
	Since *time.Time
}

type MetricsSummary struct {
	RunsStarted   int64 `json:"runsStarted"`
	RunsCompleted int64 `json:"runsCompleted"`
	RunsFailed    int64 `json:"runsFailed"`
	NodeFailures  int64 `json:"nodeFailures"`
	ToolCalls     int64 `json:"toolCalls"`
	ToolFailures  int64 `json:"toolFailures"`
	Checkpoints   int64 `json:"checkpoints"`
}

type Store interface {
	SaveEvent(ctx context.Context, event observe.Event) error
	ListEventsByRun(ctx context.Context, runID string, query ListQuery) ([]observe.Event, error)
	ListEventsByUser(ctx context.Context, userID string, query ListQuery) ([]observe.Event, error)
	AggregateMetrics(ctx context.Context, query MetricsQuery) (MetricsSummary, error)
	Close() error
}

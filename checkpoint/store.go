// Package checkpoint defines durable, encrypted persistence for conversation
// state, keyed by run identifier. Backends live in the sqlite and redis
// subpackages; both store AgentState sealed by the Codec in this package.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/ragline/ragline/types"
)

var (
	ErrNotFound = errors.New("checkpoint: not found")
	// ErrDecrypt is returned by the codec when a stored blob cannot be
	// opened with the configured key. Callers on the run path treat it as
	// a cold start, never as a fatal error.
	ErrDecrypt = errors.New("checkpoint: decrypt failed")
)

// Checkpoint is one persisted snapshot of AgentState. Version increments on
// every Put; it exists for external auditing, not concurrency control.
type Checkpoint struct {
	RunID     string           `json:"runId"`
	UserID    string           `json:"userId"`
	State     types.AgentState `json:"state"`
	Version   int              `json:"version"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// Filter narrows List/Scan passes.
type Filter struct {
	UserID    string
	OlderThan *time.Time
	Limit     int
}

type Stats struct {
	TotalCheckpoints  int            `json:"totalCheckpoints"`
	OldestCheckpoint  *time.Time     `json:"oldestCheckpoint,omitempty"`
	NewestCheckpoint  *time.Time     `json:"newestCheckpoint,omitempty"`
	AverageStateSize  int            `json:"averageStateSize"`
	CheckpointsByUser map[string]int `json:"checkpointsByUser"`
}

// ErrStopScan stops a Scan early without reporting an error.
var ErrStopScan = errors.New("checkpoint: stop scan")

type Store interface {
	// Initialize sets up backing storage. Idempotent; an unreachable
	// backend is a fatal construction error.
	Initialize(ctx context.Context) error

	Get(ctx context.Context, runID string) (Checkpoint, error)

	// Put upserts the state for runID and increments the version.
	Put(ctx context.Context, runID string, state types.AgentState) error

	// Scan streams matching checkpoints in a single pass. The callback may
	// return ErrStopScan to end the pass early.
	Scan(ctx context.Context, filter Filter, fn func(Checkpoint) error) error

	// List materializes a single Scan pass, bounded by filter.Limit.
	List(ctx context.Context, filter Filter) ([]Checkpoint, error)

	// Delete removes the checkpoint for runID. Deleting a missing
	// checkpoint is not an error; the bool reports whether one existed.
	Delete(ctx context.Context, runID string) (bool, error)

	// DeleteByUser removes every checkpoint owned by userID and reports
	// how many were removed.
	DeleteByUser(ctx context.Context, userID string) (int, error)

	GetStats(ctx context.Context) (Stats, error)

	// Cleanup deletes checkpoints whose last update is older than maxAge.
	// Safe to call concurrently with Put for unrelated run IDs.
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)

	Close() error
}

// Package retention manages data-lifecycle obligations for conversation
// state: consent recording, expiry-based cleanup, and explicit user-data
// deletion. It owns the records; the checkpoint store owns the artifacts.
package retention

import (
	"context"
	"fmt"
	"time"
)

// Consent duration bounds in days. Roughly five years at the top.
const (
	MinConsentDays = 1
	MaxConsentDays = 1825
)

// DefaultRetention applies to records with no matching consent.
const DefaultRetention = 30 * 24 * time.Hour

// Well-known data categories. Categories are open-ended; these are the
// ones the engine itself writes.
const (
	CategoryConversation = "conversation"
	CategoryDocument     = "document"
	CategoryToolResult   = "tool_result"
)

// ConsentRecord is a time-bounded grant controlling how long a data
// category may be retained. Records are append-only; the latest grant for
// a (user, category) pair wins.
type ConsentRecord struct {
	UserID       string    `json:"userId"`
	DataCategory string    `json:"dataCategory"`
	GrantedAt    time.Time `json:"grantedAt"`
	DurationDays int       `json:"durationDays"`
}

// DataRecord tracks one stored artifact for expiry-based deletion.
// ArtifactID names the underlying artifact; for conversation state it is
// the checkpoint's run ID.
type DataRecord struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Category   string    `json:"category"`
	ArtifactID string    `json:"artifactId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Stats struct {
	TotalRecords      int            `json:"totalRecords"`
	RecordsByCategory map[string]int `json:"recordsByCategory"`
	RecordsByUser     map[string]int `json:"recordsByUser"`
	OldestRecord      *time.Time     `json:"oldestRecord,omitempty"`
	NewestRecord      *time.Time     `json:"newestRecord,omitempty"`
}

// ValidationError reports an out-of-range or malformed argument. It is a
// caller mistake, surfaced as-is rather than absorbed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("retention: %s: %s", e.Field, e.Message)
}

// Backend is the storage the manager runs on. The sqlite subpackage is the
// durable implementation; Memory backs tests.
type Backend interface {
	Initialize(ctx context.Context) error

	AppendConsent(ctx context.Context, record ConsentRecord) error

	// LatestConsent returns the newest grant for the pair, if any.
	LatestConsent(ctx context.Context, userID, category string) (ConsentRecord, bool, error)

	AddRecord(ctx context.Context, record DataRecord) error

	// ScanRecords streams every data record in a single pass.
	ScanRecords(ctx context.Context, fn func(DataRecord) error) error

	// DeleteRecord removes one data record; missing is not an error.
	DeleteRecord(ctx context.Context, id string) (bool, error)

	// DeleteUser removes the user's consent and data records and reports
	// how many rows went.
	DeleteUser(ctx context.Context, userID string) (int, error)

	Stats(ctx context.Context) (Stats, error)

	Close() error
}

package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ragline/ragline/checkpoint"
	"github.com/ragline/ragline/observe"
)

// Manager enforces retention policy over the backend's records and the
// checkpoint store's artifacts.
type Manager struct {
	backend          Backend
	checkpoints      checkpoint.Store
	sink             observe.Sink
	defaultRetention time.Duration
}

type ManagerOption func(*Manager)

// WithCheckpointStore links artifact deletion to the checkpoint store.
// Without it the manager only maintains its own records.
func WithCheckpointStore(store checkpoint.Store) ManagerOption {
	return func(m *Manager) { m.checkpoints = store }
}

func WithSink(sink observe.Sink) ManagerOption {
	return func(m *Manager) {
		if sink != nil {
			m.sink = sink
		}
	}
}

func WithDefaultRetention(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.defaultRetention = d
		}
	}
}

func NewManager(backend Backend, opts ...ManagerOption) (*Manager, error) {
	if backend == nil {
		return nil, fmt.Errorf("retention backend is required")
	}
	m := &Manager{
		backend:          backend,
		sink:             observe.NoopSink{},
		defaultRetention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// RegisterDataRecord tracks a stored artifact for later expiry. Returns
// the record ID.
func (m *Manager) RegisterDataRecord(ctx context.Context, userID, category string, createdAt time.Time) (string, error) {
	if userID == "" {
		return "", &ValidationError{Field: "userId", Message: "must not be empty"}
	}
	if category == "" {
		return "", &ValidationError{Field: "category", Message: "must not be empty"}
	}
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	record := DataRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Category:  category,
		CreatedAt: createdAt,
	}
	if err := m.backend.AddRecord(ctx, record); err != nil {
		return "", fmt.Errorf("failed to register data record: %w", err)
	}
	return record.ID, nil
}

// RegisterArtifact is RegisterDataRecord with an artifact link, so cleanup
// can delete the underlying checkpoint too.
func (m *Manager) RegisterArtifact(ctx context.Context, userID, category, artifactID string, createdAt time.Time) (string, error) {
	if artifactID == "" {
		return "", &ValidationError{Field: "artifactId", Message: "must not be empty"}
	}
	if userID == "" {
		return "", &ValidationError{Field: "userId", Message: "must not be empty"}
	}
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	record := DataRecord{
		ID:         uuid.NewString(),
		UserID:     userID,
		Category:   category,
		ArtifactID: artifactID,
		CreatedAt:  createdAt,
	}
	if err := m.backend.AddRecord(ctx, record); err != nil {
		return "", fmt.Errorf("failed to register data record: %w", err)
	}
	return record.ID, nil
}

func (m *Manager) GetStats(ctx context.Context) (Stats, error) {
	return m.backend.Stats(ctx)
}

// RecordConsent stores a new grant. DurationDays outside [1, 1825] is a
// validation failure, never silently clamped.
func (m *Manager) RecordConsent(ctx context.Context, userID, category string, durationDays int) error {
	if userID == "" {
		return &ValidationError{Field: "userId", Message: "must not be empty"}
	}
	if category == "" {
		return &ValidationError{Field: "category", Message: "must not be empty"}
	}
	if durationDays < MinConsentDays || durationDays > MaxConsentDays {
		return &ValidationError{
			Field:   "durationDays",
			Message: fmt.Sprintf("must be between %d and %d, got %d", MinConsentDays, MaxConsentDays, durationDays),
		}
	}
	record := ConsentRecord{
		UserID:       userID,
		DataCategory: category,
		GrantedAt:    time.Now().UTC(),
		DurationDays: durationDays,
	}
	if err := m.backend.AppendConsent(ctx, record); err != nil {
		return fmt.Errorf("failed to record consent: %w", err)
	}
	return nil
}

// CleanupExpiredData deletes every record whose retention window has
// passed, plus its linked checkpoint. Each record's deletion is
// independent; one failure never aborts the batch.
func (m *Manager) CleanupExpiredData(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	var expired []DataRecord
	err := m.backend.ScanRecords(ctx, func(record DataRecord) error {
		window, err := m.retentionFor(ctx, record.UserID, record.Category)
		if err != nil {
			return err
		}
		if now.After(record.CreatedAt.Add(window)) {
			expired = append(expired, record)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan retention records: %w", err)
	}

	deleted := 0
	for _, record := range expired {
		if err := m.deleteRecord(ctx, record); err != nil {
			m.emit(ctx, observe.Event{
				UserID: record.UserID,
				Kind:   observe.KindRetention,
				Status: observe.StatusFailed,
				Name:   "cleanupExpiredData",
				Error:  err.Error(),
			})
			continue
		}
		deleted++
	}

	m.emit(ctx, observe.Event{
		Kind:    observe.KindRetention,
		Status:  observe.StatusCompleted,
		Name:    "cleanupExpiredData",
		Message: fmt.Sprintf("deleted %d expired records", deleted),
	})
	return deleted, nil
}

func (m *Manager) deleteRecord(ctx context.Context, record DataRecord) error {
	if record.ArtifactID != "" && m.checkpoints != nil {
		// Not-found is fine: the artifact may already be gone.
		if _, err := m.checkpoints.Delete(ctx, record.ArtifactID); err != nil {
			return fmt.Errorf("failed to delete checkpoint %s: %w", record.ArtifactID, err)
		}
	}
	if _, err := m.backend.DeleteRecord(ctx, record.ID); err != nil {
		return fmt.Errorf("failed to delete retention record %s: %w", record.ID, err)
	}
	return nil
}

// retentionFor computes the window for a record: the latest matching
// consent's duration, or the system default when none exists.
func (m *Manager) retentionFor(ctx context.Context, userID, category string) (time.Duration, error) {
	consent, ok, err := m.backend.LatestConsent(ctx, userID, category)
	if err != nil {
		return 0, err
	}
	if !ok {
		return m.defaultRetention, nil
	}
	return time.Duration(consent.DurationDays) * 24 * time.Hour, nil
}

// DeleteUserData purges everything the engine holds for a user: consent
// records, retention records, and checkpoints. It re-scans until a full
// pass deletes nothing, so writes racing the purge still get caught.
func (m *Manager) DeleteUserData(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, &ValidationError{Field: "userId", Message: "must not be empty"}
	}

	total := 0
	for {
		deleted, err := m.backend.DeleteUser(ctx, userID)
		if err != nil {
			return total, fmt.Errorf("failed to delete retention data for %s: %w", userID, err)
		}
		checkpoints := 0
		if m.checkpoints != nil {
			checkpoints, err = m.checkpoints.DeleteByUser(ctx, userID)
			if err != nil {
				return total, fmt.Errorf("failed to delete checkpoints for %s: %w", userID, err)
			}
		}
		total += deleted + checkpoints
		if deleted == 0 && checkpoints == 0 {
			break
		}
	}

	m.emit(ctx, observe.Event{
		UserID:  userID,
		Kind:    observe.KindRetention,
		Status:  observe.StatusCompleted,
		Name:    "deleteUserData",
		Message: fmt.Sprintf("deleted %d items", total),
	})
	return total, nil
}

func (m *Manager) emit(ctx context.Context, event observe.Event) {
	if m.sink == nil {
		return
	}
	event.Normalize()
	_ = m.sink.Emit(ctx, event)
}

// Package sqlite is the durable retention backend: consent and retention
// records in their own tables, separate from checkpoint storage.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ragline/ragline/retention"
)

//go:embed schema.sql
var schemaSQL string

const defaultBusyTimeout = 5 * time.Second

type Store struct {
	db          *sql.DB
	busyTimeout time.Duration
	enableWAL   bool
}

type Option func(*Store)

func WithBusyTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout >= 0 {
			s.busyTimeout = timeout
		}
	}
}

func WithWAL(enabled bool) Option {
	return func(s *Store) {
		s.enableWAL = enabled
	}
}

func New(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	s := &Store{
		busyTimeout: defaultBusyTimeout,
		enableWAL:   true,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s.db = db
	if err := s.Initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Initialize(ctx context.Context) error {
	if s.busyTimeout > 0 {
		ms := int(s.busyTimeout / time.Millisecond)
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)); err != nil {
			return fmt.Errorf("failed to set busy_timeout: %w", err)
		}
	}
	if s.enableWAL {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable wal: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (s *Store) AppendConsent(ctx context.Context, record retention.ConsentRecord) error {
	const q = `
INSERT INTO consent_records (user_id, data_category, granted_at, duration_days)
VALUES (?, ?, ?, ?);
`
	_, err := s.db.ExecContext(ctx, q,
		record.UserID,
		record.DataCategory,
		record.GrantedAt.UTC().Format(time.RFC3339Nano),
		record.DurationDays,
	)
	if err != nil {
		return fmt.Errorf("failed to append consent: %w", err)
	}
	return nil
}

func (s *Store) LatestConsent(ctx context.Context, userID, category string) (retention.ConsentRecord, bool, error) {
	const q = `
SELECT user_id, data_category, granted_at, duration_days
FROM consent_records
WHERE user_id = ? AND data_category = ?
ORDER BY id DESC
LIMIT 1;
`
	var (
		record     retention.ConsentRecord
		grantedRaw string
	)
	err := s.db.QueryRowContext(ctx, q, userID, category).Scan(
		&record.UserID,
		&record.DataCategory,
		&grantedRaw,
		&record.DurationDays,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return retention.ConsentRecord{}, false, nil
		}
		return retention.ConsentRecord{}, false, fmt.Errorf("failed to load consent: %w", err)
	}
	if record.GrantedAt, err = parseRequiredTime(grantedRaw); err != nil {
		return retention.ConsentRecord{}, false, fmt.Errorf("failed to parse consent granted_at: %w", err)
	}
	return record, true, nil
}

func (s *Store) AddRecord(ctx context.Context, record retention.DataRecord) error {
	const q = `
INSERT INTO retention_records (id, user_id, category, artifact_id, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`
	_, err := s.db.ExecContext(ctx, q,
		record.ID,
		record.UserID,
		record.Category,
		record.ArtifactID,
		record.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to add retention record: %w", err)
	}
	return nil
}

func (s *Store) ScanRecords(ctx context.Context, fn func(retention.DataRecord) error) error {
	if fn == nil {
		return fmt.Errorf("scan callback is required")
	}
	const q = `
SELECT id, user_id, category, artifact_id, created_at
FROM retention_records
ORDER BY created_at ASC;
`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to scan retention records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			record     retention.DataRecord
			createdRaw string
		)
		if err := rows.Scan(&record.ID, &record.UserID, &record.Category, &record.ArtifactID, &createdRaw); err != nil {
			return fmt.Errorf("failed to scan retention row: %w", err)
		}
		if record.CreatedAt, err = parseRequiredTime(createdRaw); err != nil {
			return fmt.Errorf("failed to parse retention created_at: %w", err)
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate retention records: %w", err)
	}
	return nil
}

func (s *Store) DeleteRecord(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM retention_records WHERE id = ?;", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete retention record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count deleted records: %w", err)
	}
	return n > 0, nil
}

func (s *Store) DeleteUser(ctx context.Context, userID string) (int, error) {
	total := 0
	for _, q := range []string{
		"DELETE FROM consent_records WHERE user_id = ?;",
		"DELETE FROM retention_records WHERE user_id = ?;",
	} {
		res, err := s.db.ExecContext(ctx, q, userID)
		if err != nil {
			return total, fmt.Errorf("failed to delete user data: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to count deleted rows: %w", err)
		}
		total += int(n)
	}
	return total, nil
}

func (s *Store) Stats(ctx context.Context) (retention.Stats, error) {
	stats := retention.Stats{
		RecordsByCategory: map[string]int{},
		RecordsByUser:     map[string]int{},
	}

	const totals = `
SELECT COUNT(*), MIN(created_at), MAX(created_at)
FROM retention_records;
`
	var (
		oldestRaw sql.NullString
		newestRaw sql.NullString
	)
	if err := s.db.QueryRowContext(ctx, totals).Scan(&stats.TotalRecords, &oldestRaw, &newestRaw); err != nil {
		return retention.Stats{}, fmt.Errorf("failed to aggregate retention stats: %w", err)
	}
	if oldestRaw.Valid && oldestRaw.String != "" {
		t, err := parseRequiredTime(oldestRaw.String)
		if err != nil {
			return retention.Stats{}, fmt.Errorf("failed to parse oldest record time: %w", err)
		}
		stats.OldestRecord = &t
	}
	if newestRaw.Valid && newestRaw.String != "" {
		t, err := parseRequiredTime(newestRaw.String)
		if err != nil {
			return retention.Stats{}, fmt.Errorf("failed to parse newest record time: %w", err)
		}
		stats.NewestRecord = &t
	}

	for _, agg := range []struct {
		query string
		into  map[string]int
	}{
		{"SELECT category, COUNT(*) FROM retention_records GROUP BY category;", stats.RecordsByCategory},
		{"SELECT user_id, COUNT(*) FROM retention_records GROUP BY user_id;", stats.RecordsByUser},
	} {
		rows, err := s.db.QueryContext(ctx, agg.query)
		if err != nil {
			return retention.Stats{}, fmt.Errorf("failed to group retention records: %w", err)
		}
		for rows.Next() {
			var (
				key   string
				count int
			)
			if err := rows.Scan(&key, &count); err != nil {
				rows.Close()
				return retention.Stats{}, fmt.Errorf("failed to scan group row: %w", err)
			}
			agg.into[key] = count
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return retention.Stats{}, fmt.Errorf("failed to iterate group rows: %w", err)
		}
		rows.Close()
	}
	return stats, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func parseRequiredTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

var _ retention.Backend = (*Store)(nil)

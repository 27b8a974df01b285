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

	"github.com/ragline/ragline/checkpoint"
	"github.com/ragline/ragline/types"
)

//go:embed schema.sql
var schemaSQL string

const (
	defaultBusyTimeout = 5 * time.Second
	defaultLimit       = 100
)

type Store struct {
	db          *sql.DB
	codec       *checkpoint.Codec
	busyTimeout time.Duration
	enableWAL   bool
	maxOpenConn int
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

func WithMaxOpenConns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxOpenConn = n
		}
	}
}

func New(path string, codec *checkpoint.Codec, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if codec == nil {
		return nil, fmt.Errorf("checkpoint codec is required")
	}

	s := &Store{
		codec:       codec,
		busyTimeout: defaultBusyTimeout,
		enableWAL:   true,
		maxOpenConn: 1,
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
	db.SetMaxOpenConns(s.maxOpenConn)
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

func (s *Store) Put(ctx context.Context, runID string, state types.AgentState) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run_id is required")
	}
	blob, err := s.codec.Seal(state)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	const q = `
INSERT INTO checkpoints (run_id, user_id, state, version, created_at, updated_at)
VALUES (?, ?, ?, 1, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
  user_id=excluded.user_id,
  state=excluded.state,
  version=checkpoints.version + 1,
  updated_at=excluded.updated_at;
`
	if _, err := s.db.ExecContext(ctx, q, runID, state.UserID, blob, now, now); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, runID string) (checkpoint.Checkpoint, error) {
	if strings.TrimSpace(runID) == "" {
		return checkpoint.Checkpoint{}, fmt.Errorf("run_id is required")
	}

	const q = `
SELECT run_id, user_id, state, version, created_at, updated_at
FROM checkpoints
WHERE run_id = ?;
`
	var (
		record     checkpoint.Checkpoint
		blob       []byte
		createdRaw string
		updatedRaw string
	)
	err := s.db.QueryRowContext(ctx, q, runID).Scan(
		&record.RunID,
		&record.UserID,
		&blob,
		&record.Version,
		&createdRaw,
		&updatedRaw,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
		}
		return checkpoint.Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	state, err := s.codec.Open(blob)
	if err != nil {
		// A blob sealed under a different key reads as a cold start.
		return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
	}
	record.State = state
	if record.CreatedAt, err = parseRequiredTime(createdRaw); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("failed to parse checkpoint created_at: %w", err)
	}
	if record.UpdatedAt, err = parseRequiredTime(updatedRaw); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("failed to parse checkpoint updated_at: %w", err)
	}
	return record, nil
}

func (s *Store) Scan(ctx context.Context, filter checkpoint.Filter, fn func(checkpoint.Checkpoint) error) error {
	if fn == nil {
		return fmt.Errorf("scan callback is required")
	}

	var (
		where []string
		args  []any
	)
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.OlderThan != nil {
		where = append(where, "updated_at < ?")
		args = append(args, filter.OlderThan.UTC().Format(time.RFC3339Nano))
	}

	q := `
SELECT run_id, user_id, state, version, created_at, updated_at
FROM checkpoints
`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("failed to scan checkpoints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			record     checkpoint.Checkpoint
			blob       []byte
			createdRaw string
			updatedRaw string
		)
		if err := rows.Scan(
			&record.RunID,
			&record.UserID,
			&blob,
			&record.Version,
			&createdRaw,
			&updatedRaw,
		); err != nil {
			return fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		state, err := s.codec.Open(blob)
		if err != nil {
			// Undecryptable rows are invisible to scans, same as Get.
			continue
		}
		record.State = state
		if record.CreatedAt, err = parseRequiredTime(createdRaw); err != nil {
			return fmt.Errorf("failed to parse checkpoint created_at: %w", err)
		}
		if record.UpdatedAt, err = parseRequiredTime(updatedRaw); err != nil {
			return fmt.Errorf("failed to parse checkpoint updated_at: %w", err)
		}
		if err := fn(record); err != nil {
			if errors.Is(err, checkpoint.ErrStopScan) {
				return nil
			}
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate checkpoints: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, filter checkpoint.Filter) ([]checkpoint.Checkpoint, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	out := make([]checkpoint.Checkpoint, 0, filter.Limit)
	err := s.Scan(ctx, filter, func(c checkpoint.Checkpoint) error {
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, runID string) (bool, error) {
	if strings.TrimSpace(runID) == "" {
		return false, fmt.Errorf("run_id is required")
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE run_id = ?;", runID)
	if err != nil {
		return false, fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count deleted checkpoints: %w", err)
	}
	return n > 0, nil
}

func (s *Store) DeleteByUser(ctx context.Context, userID string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("user_id is required")
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE user_id = ?;", userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted checkpoints: %w", err)
	}
	return int(n), nil
}

func (s *Store) GetStats(ctx context.Context) (checkpoint.Stats, error) {
	stats := checkpoint.Stats{CheckpointsByUser: map[string]int{}}

	const totals = `
SELECT COUNT(*), COALESCE(AVG(LENGTH(state)), 0), MIN(created_at), MAX(created_at)
FROM checkpoints;
`
	var (
		avgSize   float64
		oldestRaw sql.NullString
		newestRaw sql.NullString
	)
	if err := s.db.QueryRowContext(ctx, totals).Scan(&stats.TotalCheckpoints, &avgSize, &oldestRaw, &newestRaw); err != nil {
		return checkpoint.Stats{}, fmt.Errorf("failed to aggregate checkpoint stats: %w", err)
	}
	stats.AverageStateSize = int(avgSize)
	if oldestRaw.Valid && oldestRaw.String != "" {
		t, err := parseRequiredTime(oldestRaw.String)
		if err != nil {
			return checkpoint.Stats{}, fmt.Errorf("failed to parse oldest checkpoint time: %w", err)
		}
		stats.OldestCheckpoint = &t
	}
	if newestRaw.Valid && newestRaw.String != "" {
		t, err := parseRequiredTime(newestRaw.String)
		if err != nil {
			return checkpoint.Stats{}, fmt.Errorf("failed to parse newest checkpoint time: %w", err)
		}
		stats.NewestCheckpoint = &t
	}

	rows, err := s.db.QueryContext(ctx, "SELECT user_id, COUNT(*) FROM checkpoints GROUP BY user_id;")
	if err != nil {
		return checkpoint.Stats{}, fmt.Errorf("failed to count checkpoints by user: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			userID string
			count  int
		)
		if err := rows.Scan(&userID, &count); err != nil {
			return checkpoint.Stats{}, fmt.Errorf("failed to scan user count: %w", err)
		}
		stats.CheckpointsByUser[userID] = count
	}
	if err := rows.Err(); err != nil {
		return checkpoint.Stats{}, fmt.Errorf("failed to iterate user counts: %w", err)
	}
	return stats, nil
}

func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, fmt.Errorf("maxAge must be positive")
	}
	cutoff := time.Now().UTC().Add(-maxAge).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE updated_at < ?;", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleaned checkpoints: %w", err)
	}
	return int(n), nil
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

var _ checkpoint.Store = (*Store)(nil)

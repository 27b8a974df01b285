package redis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ragline/ragline/checkpoint"
	"github.com/ragline/ragline/types"
)

const (
	defaultPrefix = "ragline"
	defaultLimit  = 100
	scanBatch     = 200
)

// envelope is the stored value: checkpoint metadata in the clear, the
// sealed AgentState as base64 ciphertext.
type envelope struct {
	RunID     string    `json:"runId"`
	UserID    string    `json:"userId"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Sealed    string    `json:"sealed"`
	StateSize int       `json:"stateSize"`
}

type Store struct {
	client   *goredis.Client
	codec    *checkpoint.Codec
	ttl      time.Duration
	prefix   string
	addr     string
	db       int
	password string
}

type Option func(*Store)

func WithPassword(password string) Option {
	return func(s *Store) { s.password = password }
}

func WithDB(db int) Option {
	return func(s *Store) { s.db = db }
}

// WithTTL expires idle checkpoints from redis itself, independent of the
// retention manager's explicit cleanup.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = strings.TrimSpace(prefix)
		}
	}
}

func WithClient(client *goredis.Client) Option {
	return func(s *Store) {
		if client != nil {
			s.client = client
		}
	}
}

func New(addr string, codec *checkpoint.Codec, opts ...Option) (*Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if codec == nil {
		return nil, fmt.Errorf("checkpoint codec is required")
	}

	s := &Store{
		codec:  codec,
		prefix: defaultPrefix,
		addr:   addr,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = goredis.NewClient(&goredis.Options{
			Addr:     s.addr,
			Password: s.password,
			DB:       s.db,
		})
	}

	if err := s.Initialize(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Initialize(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
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
	now := time.Now().UTC()

	env := envelope{
		RunID:     runID,
		UserID:    state.UserID,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		Sealed:    base64.StdEncoding.EncodeToString(blob),
		StateSize: len(blob),
	}

	// Carry forward version and creation time from the previous write.
	prevRaw, err := s.client.Get(ctx, s.checkpointKey(runID)).Result()
	if err == nil && prevRaw != "" {
		var prev envelope
		if json.Unmarshal([]byte(prevRaw), &prev) == nil {
			env.Version = prev.Version + 1
			if !prev.CreatedAt.IsZero() {
				env.CreatedAt = prev.CreatedAt
			}
		}
	} else if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("failed to read previous checkpoint: %w", err)
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint envelope: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.checkpointKey(runID), string(raw), s.ttl)
	if state.UserID != "" {
		pipe.SAdd(ctx, s.userIndexKey(state.UserID), runID)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.userIndexKey(state.UserID), s.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save checkpoint in redis: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, runID string) (checkpoint.Checkpoint, error) {
	if strings.TrimSpace(runID) == "" {
		return checkpoint.Checkpoint{}, fmt.Errorf("run_id is required")
	}
	raw, err := s.client.Get(ctx, s.checkpointKey(runID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
		}
		return checkpoint.Checkpoint{}, fmt.Errorf("failed to load checkpoint from redis: %w", err)
	}
	record, err := s.decodeEnvelope(raw)
	if err != nil {
		// Corrupt or re-keyed entries read as a cold start.
		return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
	}
	return record, nil
}

func (s *Store) Scan(ctx context.Context, filter checkpoint.Filter, fn func(checkpoint.Checkpoint) error) error {
	if fn == nil {
		return fmt.Errorf("scan callback is required")
	}

	emitted := 0
	emit := func(record checkpoint.Checkpoint) error {
		if filter.UserID != "" && record.UserID != filter.UserID {
			return nil
		}
		if filter.OlderThan != nil && !record.UpdatedAt.Before(*filter.OlderThan) {
			return nil
		}
		if err := fn(record); err != nil {
			return err
		}
		emitted++
		if filter.Limit > 0 && emitted >= filter.Limit {
			return checkpoint.ErrStopScan
		}
		return nil
	}

	var scanErr error
	if filter.UserID != "" {
		runIDs, err := s.client.SMembers(ctx, s.userIndexKey(filter.UserID)).Result()
		if err != nil {
			return fmt.Errorf("failed to list user checkpoints: %w", err)
		}
		scanErr = s.emitByRunIDs(ctx, runIDs, emit)
	} else {
		var cursor uint64
		for {
			keys, next, err := s.client.Scan(ctx, cursor, s.checkpointPattern(), scanBatch).Result()
			if err != nil {
				return fmt.Errorf("failed to scan checkpoint keys: %w", err)
			}
			runIDs := make([]string, 0, len(keys))
			for _, key := range keys {
				if id := s.runIDFromKey(key); id != "" {
					runIDs = append(runIDs, id)
				}
			}
			if scanErr = s.emitByRunIDs(ctx, runIDs, emit); scanErr != nil {
				break
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}
	if scanErr != nil && !errors.Is(scanErr, checkpoint.ErrStopScan) {
		return scanErr
	}
	return nil
}

func (s *Store) emitByRunIDs(ctx context.Context, runIDs []string, emit func(checkpoint.Checkpoint) error) error {
	if len(runIDs) == 0 {
		return nil
	}
	keys := make([]string, len(runIDs))
	for i, id := range runIDs {
		keys[i] = s.checkpointKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("failed to mget checkpoints: %w", err)
	}
	for _, raw := range values {
		if raw == nil {
			continue
		}
		record, err := s.decodeEnvelope(fmt.Sprintf("%v", raw))
		if err != nil {
			continue
		}
		if err := emit(record); err != nil {
			return err
		}
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

	// Read the envelope first so the user index entry goes with it.
	raw, err := s.client.Get(ctx, s.checkpointKey(runID)).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return false, fmt.Errorf("failed to read checkpoint before delete: %w", err)
	}
	if err == nil && raw != "" {
		var env envelope
		if json.Unmarshal([]byte(raw), &env) == nil && env.UserID != "" {
			_ = s.client.SRem(ctx, s.userIndexKey(env.UserID), runID).Err()
		}
	}

	n, err := s.client.Del(ctx, s.checkpointKey(runID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return n > 0, nil
}

func (s *Store) DeleteByUser(ctx context.Context, userID string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("user_id is required")
	}

	deleted := 0
	// The index is authoritative for indexed writes; a full key scan
	// afterwards catches anything written before the index existed.
	runIDs, err := s.client.SMembers(ctx, s.userIndexKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list user checkpoints: %w", err)
	}
	for _, runID := range runIDs {
		ok, err := s.Delete(ctx, runID)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	_ = s.client.Del(ctx, s.userIndexKey(userID)).Err()

	err = s.Scan(ctx, checkpoint.Filter{}, func(c checkpoint.Checkpoint) error {
		if c.UserID != userID {
			return nil
		}
		ok, err := s.Delete(ctx, c.RunID)
		if err != nil {
			return err
		}
		if ok {
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, err
	}
	return deleted, nil
}

func (s *Store) GetStats(ctx context.Context) (checkpoint.Stats, error) {
	stats := checkpoint.Stats{CheckpointsByUser: map[string]int{}}
	totalSize := 0
	err := s.Scan(ctx, checkpoint.Filter{}, func(c checkpoint.Checkpoint) error {
		stats.TotalCheckpoints++
		stats.CheckpointsByUser[c.UserID]++
		created := c.CreatedAt
		if stats.OldestCheckpoint == nil || created.Before(*stats.OldestCheckpoint) {
			t := created
			stats.OldestCheckpoint = &t
		}
		if stats.NewestCheckpoint == nil || created.After(*stats.NewestCheckpoint) {
			t := created
			stats.NewestCheckpoint = &t
		}
		return nil
	})
	if err != nil {
		return checkpoint.Stats{}, err
	}

	// Size comes from the envelope, so re-read sizes in one pass.
	var cursor uint64
	for {
		keys, next, scanErr := s.client.Scan(ctx, cursor, s.checkpointPattern(), scanBatch).Result()
		if scanErr != nil {
			return checkpoint.Stats{}, fmt.Errorf("failed to scan checkpoint sizes: %w", scanErr)
		}
		if len(keys) > 0 {
			values, mgetErr := s.client.MGet(ctx, keys...).Result()
			if mgetErr != nil {
				return checkpoint.Stats{}, fmt.Errorf("failed to read checkpoint sizes: %w", mgetErr)
			}
			for _, raw := range values {
				if raw == nil {
					continue
				}
				var env envelope
				if json.Unmarshal([]byte(fmt.Sprintf("%v", raw)), &env) == nil {
					totalSize += env.StateSize
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if stats.TotalCheckpoints > 0 {
		stats.AverageStateSize = totalSize / stats.TotalCheckpoints
	}
	return stats, nil
}

func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, fmt.Errorf("maxAge must be positive")
	}
	cutoff := time.Now().UTC().Add(-maxAge)
	deleted := 0
	err := s.Scan(ctx, checkpoint.Filter{OlderThan: &cutoff}, func(c checkpoint.Checkpoint) error {
		ok, err := s.Delete(ctx, c.RunID)
		if err != nil {
			return err
		}
		if ok {
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, err
	}
	return deleted, nil
}

func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) decodeEnvelope(raw string) (checkpoint.Checkpoint, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("failed to decode checkpoint envelope: %w", err)
	}
	blob, err := base64.StdEncoding.DecodeString(env.Sealed)
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("failed to decode sealed state: %w", err)
	}
	state, err := s.codec.Open(blob)
	if err != nil {
		return checkpoint.Checkpoint{}, err
	}
	return checkpoint.Checkpoint{
		RunID:     env.RunID,
		UserID:    env.UserID,
		State:     state,
		Version:   env.Version,
		CreatedAt: env.CreatedAt,
		UpdatedAt: env.UpdatedAt,
	}, nil
}

func (s *Store) checkpointKey(runID string) string {
	return fmt.Sprintf("%s:ckpt:%s", s.prefix, runID)
}

func (s *Store) checkpointPattern() string {
	return fmt.Sprintf("%s:ckpt:*", s.prefix)
}

func (s *Store) runIDFromKey(key string) string {
	prefix := fmt.Sprintf("%s:ckpt:", s.prefix)
	if !strings.HasPrefix(key, prefix) {
		return ""
	}
	return strings.TrimPrefix(key, prefix)
}

func (s *Store) userIndexKey(userID string) string {
	return fmt.Sprintf("%s:ckptidx:user:%s", s.prefix, userID)
}

var _ checkpoint.Store = (*Store)(nil)

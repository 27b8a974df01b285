package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ragline/ragline/checkpoint"
	"github.com/ragline/ragline/observe"
)

const (
	// DefaultSweepSchedule runs the sweep hourly.
	DefaultSweepSchedule = "0 * * * *"
	// DefaultCheckpointMaxAge bounds checkpoint lifetime independently of
	// per-record consent.
	DefaultCheckpointMaxAge = 30 * 24 * time.Hour
)

// SweepResult summarizes one sweep pass.
type SweepResult struct {
	ExpiredRecords     int       `json:"expiredRecords"`
	ExpiredCheckpoints int       `json:"expiredCheckpoints"`
	SweptAt            time.Time `json:"sweptAt"`
}

// Sweeper runs retention cleanup on a cron schedule. Manual Trigger works
// whether or not the schedule is running.
type Sweeper struct {
	mu               sync.Mutex
	cron             *cron.Cron
	manager          *Manager
	checkpoints      checkpoint.Store
	sink             observe.Sink
	schedule         string
	checkpointMaxAge time.Duration
	started          bool
	lastResult       *SweepResult
}

type SweeperOption func(*Sweeper)

func WithSchedule(expr string) SweeperOption {
	return func(s *Sweeper) {
		if expr != "" {
			s.schedule = expr
		}
	}
}

func WithCheckpointMaxAge(maxAge time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if maxAge > 0 {
			s.checkpointMaxAge = maxAge
		}
	}
}

func WithSweepCheckpoints(store checkpoint.Store) SweeperOption {
	return func(s *Sweeper) { s.checkpoints = store }
}

func WithSweeperSink(sink observe.Sink) SweeperOption {
	return func(s *Sweeper) {
		if sink != nil {
			s.sink = sink
		}
	}
}

func NewSweeper(manager *Manager, opts ...SweeperOption) (*Sweeper, error) {
	if manager == nil {
		return nil, fmt.Errorf("retention manager is required")
	}
	s := &Sweeper{
		cron:             cron.New(),
		manager:          manager,
		sink:             observe.NoopSink{},
		schedule:         DefaultSweepSchedule,
		checkpointMaxAge: DefaultCheckpointMaxAge,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start registers the schedule and begins running. Non-blocking.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	_, err := s.cron.AddFunc(s.schedule, func() {
		_, _ = s.Trigger(context.Background())
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.started = true
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
// The wait happens outside the mutex: a running sweep takes it to record
// its result, so holding it here would block both sides.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	c := s.cron
	s.mu.Unlock()
	<-c.Stop().Done()
}

// Trigger runs one sweep immediately, regardless of the schedule.
func (s *Sweeper) Trigger(ctx context.Context) (SweepResult, error) {
	result := SweepResult{SweptAt: time.Now().UTC()}

	expired, err := s.manager.CleanupExpiredData(ctx)
	if err != nil {
		s.emitFailure(ctx, err)
		return result, err
	}
	result.ExpiredRecords = expired

	if s.checkpoints != nil {
		cleaned, err := s.checkpoints.Cleanup(ctx, s.checkpointMaxAge)
		if err != nil {
			s.emitFailure(ctx, err)
			return result, err
		}
		result.ExpiredCheckpoints = cleaned
	}

	s.mu.Lock()
	s.lastResult = &result
	s.mu.Unlock()

	_ = s.sink.Emit(ctx, observe.Event{
		Kind:    observe.KindRetention,
		Status:  observe.StatusCompleted,
		Name:    "sweep",
		Message: fmt.Sprintf("records=%d checkpoints=%d", result.ExpiredRecords, result.ExpiredCheckpoints),
	})
	return result, nil
}

// LastResult reports the most recent completed sweep, if any.
func (s *Sweeper) LastResult() (SweepResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastResult == nil {
		return SweepResult{}, false
	}
	return *s.lastResult, true
}

func (s *Sweeper) emitFailure(ctx context.Context, err error) {
	_ = s.sink.Emit(ctx, observe.Event{
		Kind:   observe.KindRetention,
		Status: observe.StatusFailed,
		Name:   "sweep",
		Error:  err.Error(),
	})
}

package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ragline/ragline/checkpoint"
)

// fakeCheckpoints tracks deletions and can fail specific run IDs.
type fakeCheckpoints struct {
	checkpoint.Store
	data    map[string]string // runID -> userID
	failOn  map[string]bool
	deleted []string
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{data: map[string]string{}, failOn: map[string]bool{}}
}

func (f *fakeCheckpoints) Delete(_ context.Context, runID string) (bool, error) {
	if f.failOn[runID] {
		return false, fmt.Errorf("simulated delete failure for %s", runID)
	}
	if _, ok := f.data[runID]; !ok {
		return false, nil
	}
	delete(f.data, runID)
	f.deleted = append(f.deleted, runID)
	return true, nil
}

func (f *fakeCheckpoints) DeleteByUser(_ context.Context, userID string) (int, error) {
	n := 0
	for runID, owner := range f.data {
		if owner == userID {
			delete(f.data, runID)
			n++
		}
	}
	return n, nil
}

func (f *fakeCheckpoints) GetStats(context.Context) (checkpoint.Stats, error) {
	stats := checkpoint.Stats{TotalCheckpoints: len(f.data), CheckpointsByUser: map[string]int{}}
	for _, owner := range f.data {
		stats.CheckpointsByUser[owner]++
	}
	return stats, nil
}

func testManager(t *testing.T, opts ...ManagerOption) (*Manager, *Memory) {
	t.Helper()
	backend := NewMemory()
	m, err := NewManager(backend, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return m, backend
}

func TestRecordConsentBounds(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	cases := []struct {
		days int
		ok   bool
	}{
		{0, false},
		{1, true},
		{30, true},
		{1825, true},
		{1826, false},
		{-5, false},
	}
	for _, tc := range cases {
		err := m.RecordConsent(ctx, "u1", CategoryConversation, tc.days)
		if tc.ok && err != nil {
			t.Fatalf("days=%d rejected: %v", tc.days, err)
		}
		if !tc.ok {
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("days=%d: err = %v, want ValidationError", tc.days, err)
			}
		}
	}
}

func TestLatestConsentWins(t *testing.T) {
	m, backend := testManager(t)
	ctx := context.Background()

	if err := m.RecordConsent(ctx, "u1", CategoryConversation, 10); err != nil {
		t.Fatal(err)
	}
	if err := m.RecordConsent(ctx, "u1", CategoryConversation, 90); err != nil {
		t.Fatal(err)
	}
	consent, ok, err := backend.LatestConsent(ctx, "u1", CategoryConversation)
	if err != nil || !ok {
		t.Fatalf("consent lookup: %v %v", ok, err)
	}
	if consent.DurationDays != 90 {
		t.Fatalf("latest consent = %d days, want 90", consent.DurationDays)
	}
}

func TestCleanupExpiredDataDefaultWindow(t *testing.T) {
	store := newFakeCheckpoints()
	store.data["run-old"] = "u1"
	store.data["run-new"] = "u1"

	m, _ := testManager(t, WithCheckpointStore(store))
	ctx := context.Background()

	// No consent recorded: the 30 day default applies.
	if _, err := m.RegisterArtifact(ctx, "u1", CategoryConversation, "run-old", time.Now().Add(-31*24*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RegisterArtifact(ctx, "u1", CategoryConversation, "run-new", time.Now().Add(-1*24*time.Hour)); err != nil {
		t.Fatal(err)
	}

	deleted, err := m.CleanupExpiredData(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	if _, ok := store.data["run-old"]; ok {
		t.Fatal("expired checkpoint survived")
	}
	if _, ok := store.data["run-new"]; !ok {
		t.Fatal("fresh checkpoint deleted")
	}
}

func TestCleanupHonorsConsentDuration(t *testing.T) {
	store := newFakeCheckpoints()
	store.data["r1"] = "u1"

	m, _ := testManager(t, WithCheckpointStore(store))
	ctx := context.Background()

	// 45 days old but consent allows 90.
	if err := m.RecordConsent(ctx, "u1", CategoryConversation, 90); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RegisterArtifact(ctx, "u1", CategoryConversation, "r1", time.Now().Add(-45*24*time.Hour)); err != nil {
		t.Fatal(err)
	}

	deleted, err := m.CleanupExpiredData(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 0 {
		t.Fatalf("deleted = %d, want 0", deleted)
	}
}

func TestCleanupPartialFailureContinues(t *testing.T) {
	store := newFakeCheckpoints()
	store.data["bad"] = "u1"
	store.data["good"] = "u1"
	store.failOn["bad"] = true

	m, backend := testManager(t, WithCheckpointStore(store))
	ctx := context.Background()

	old := time.Now().Add(-60 * 24 * time.Hour)
	if _, err := m.RegisterArtifact(ctx, "u1", CategoryConversation, "bad", old); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RegisterArtifact(ctx, "u1", CategoryConversation, "good", old); err != nil {
		t.Fatal(err)
	}

	deleted, err := m.CleanupExpiredData(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1 despite the failing record", deleted)
	}
	stats, err := backend.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// The failed record stays behind for the next pass.
	if stats.TotalRecords != 1 {
		t.Fatalf("records remaining = %d, want 1", stats.TotalRecords)
	}
}

func TestCleanupIdempotent(t *testing.T) {
	store := newFakeCheckpoints()
	store.data["r1"] = "u1"

	m, _ := testManager(t, WithCheckpointStore(store))
	ctx := context.Background()

	if _, err := m.RegisterArtifact(ctx, "u1", CategoryConversation, "r1", time.Now().Add(-60*24*time.Hour)); err != nil {
		t.Fatal(err)
	}

	first, err := m.CleanupExpiredData(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first != 1 {
		t.Fatalf("first pass deleted %d, want 1", first)
	}
	second, err := m.CleanupExpiredData(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second != 0 {
		t.Fatalf("second pass deleted %d, want 0", second)
	}
}

func TestDeleteUserDataExhaustive(t *testing.T) {
	store := newFakeCheckpoints()
	store.data["r1"] = "u1"
	store.data["r2"] = "u1"
	store.data["r3"] = "u2"

	m, backend := testManager(t, WithCheckpointStore(store))
	ctx := context.Background()

	if err := m.RecordConsent(ctx, "u1", CategoryConversation, 30); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RegisterArtifact(ctx, "u1", CategoryConversation, "r1", time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RegisterArtifact(ctx, "u2", CategoryConversation, "r3", time.Now()); err != nil {
		t.Fatal(err)
	}

	deleted, err := m.DeleteUserData(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if deleted == 0 {
		t.Fatal("nothing deleted")
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.CheckpointsByUser["u1"] != 0 {
		t.Fatalf("u1 checkpoints remain: %v", stats.CheckpointsByUser)
	}
	if stats.CheckpointsByUser["u2"] != 1 {
		t.Fatalf("u2 checkpoints touched: %v", stats.CheckpointsByUser)
	}

	backendStats, err := backend.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if backendStats.RecordsByUser["u1"] != 0 {
		t.Fatalf("u1 retention records remain: %v", backendStats.RecordsByUser)
	}
	if _, ok, _ := backend.LatestConsent(ctx, "u1", CategoryConversation); ok {
		t.Fatal("u1 consent survived purge")
	}
}

func TestGetStats(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	if _, err := m.RegisterDataRecord(ctx, "u1", CategoryConversation, time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RegisterDataRecord(ctx, "u1", CategoryDocument, time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RegisterDataRecord(ctx, "u2", CategoryConversation, time.Now()); err != nil {
		t.Fatal(err)
	}

	stats, err := m.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalRecords != 3 {
		t.Fatalf("total = %d", stats.TotalRecords)
	}
	if stats.RecordsByCategory[CategoryConversation] != 2 {
		t.Fatalf("by category = %v", stats.RecordsByCategory)
	}
	if stats.RecordsByUser["u1"] != 2 {
		t.Fatalf("by user = %v", stats.RecordsByUser)
	}
	if stats.OldestRecord == nil || stats.NewestRecord == nil {
		t.Fatal("oldest/newest missing")
	}
}

func TestSweeperTrigger(t *testing.T) {
	store := newFakeCheckpoints()
	store.data["r1"] = "u1"

	m, _ := testManager(t, WithCheckpointStore(store))
	ctx := context.Background()
	if _, err := m.RegisterArtifact(ctx, "u1", CategoryConversation, "r1", time.Now().Add(-60*24*time.Hour)); err != nil {
		t.Fatal(err)
	}

	sweeper, err := NewSweeper(m)
	if err != nil {
		t.Fatal(err)
	}
	result, err := sweeper.Trigger(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.ExpiredRecords != 1 {
		t.Fatalf("result = %+v", result)
	}
	if last, ok := sweeper.LastResult(); !ok || last.ExpiredRecords != 1 {
		t.Fatalf("LastResult = %+v %v", last, ok)
	}
}

// blockingBackend stalls ScanRecords until released, so a sweep can be
// held in flight while the test exercises Stop.
type blockingBackend struct {
	*Memory
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingBackend) ScanRecords(ctx context.Context, fn func(DataRecord) error) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.Memory.ScanRecords(ctx, fn)
}

func TestSweeperStopWaitsForRunningSweep(t *testing.T) {
	backend := &blockingBackend{
		Memory:  NewMemory(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	m, err := NewManager(backend)
	if err != nil {
		t.Fatal(err)
	}

	sweeper, err := NewSweeper(m, WithSchedule("@every 1s"))
	if err != nil {
		t.Fatal(err)
	}
	if err := sweeper.Start(); err != nil {
		t.Fatal(err)
	}

	<-backend.entered // a scheduled sweep is now in flight

	stopped := make(chan struct{})
	go func() {
		sweeper.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a sweep was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(backend.release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the sweep finished")
	}
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	m, _ := testManager(t)
	sweeper, err := NewSweeper(m, WithSchedule("not a cron expr"))
	if err != nil {
		t.Fatal(err)
	}
	if err := sweeper.Start(); err == nil {
		sweeper.Stop()
		t.Fatal("bad schedule accepted")
	}
}

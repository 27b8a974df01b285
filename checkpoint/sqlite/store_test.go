package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ragline/ragline/checkpoint"
	"github.com/ragline/ragline/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	codec, err := checkpoint.NewCodec([]byte("test secret"))
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(filepath.Join(t.TempDir(), "checkpoints.db"), codec)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testState(runID, userID string) types.AgentState {
	return types.AgentState{
		RunID:  runID,
		UserID: userID,
		Messages: []types.Message{
			{Role: types.RoleUser, Content: "hello from " + userID},
		},
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "r1", testState("r1", "u1")); err != nil {
		t.Fatal(err)
	}
	cp, err := s.Get(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if cp.RunID != "r1" || cp.UserID != "u1" || cp.Version != 1 {
		t.Fatalf("checkpoint = %+v", cp)
	}
	if len(cp.State.Messages) != 1 || cp.State.Messages[0].Content != "hello from u1" {
		t.Fatalf("state = %+v", cp.State)
	}
}

func TestGetMissing(t *testing.T) {
	s := testStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPutIncrementsVersion(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Put(ctx, "r1", testState("r1", "u1")); err != nil {
			t.Fatal(err)
		}
	}
	cp, err := s.Get(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if cp.Version != 3 {
		t.Fatalf("version = %d, want 3", cp.Version)
	}
	if !cp.UpdatedAt.After(cp.CreatedAt) && !cp.UpdatedAt.Equal(cp.CreatedAt) {
		t.Fatalf("updated_at %v before created_at %v", cp.UpdatedAt, cp.CreatedAt)
	}
}

func TestWrongKeyReadsAsColdStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	codecA, err := checkpoint.NewCodec([]byte("key a"))
	if err != nil {
		t.Fatal(err)
	}
	sa, err := New(path, codecA)
	if err != nil {
		t.Fatal(err)
	}
	if err := sa.Put(context.Background(), "r1", testState("r1", "u1")); err != nil {
		t.Fatal(err)
	}
	_ = sa.Close()

	codecB, err := checkpoint.NewCodec([]byte("key b"))
	if err != nil {
		t.Fatal(err)
	}
	sb, err := New(path, codecB)
	if err != nil {
		t.Fatal(err)
	}
	defer sb.Close()

	if _, err := sb.Get(context.Background(), "r1"); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListAndScanFilter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, pair := range []struct{ run, user string }{
		{"r1", "u1"}, {"r2", "u1"}, {"r3", "u2"},
	} {
		if err := s.Put(ctx, pair.run, testState(pair.run, pair.user)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.List(ctx, checkpoint.Filter{UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("List(u1) = %d checkpoints", len(got))
	}

	count := 0
	err = s.Scan(ctx, checkpoint.Filter{}, func(checkpoint.Checkpoint) error {
		count++
		if count == 2 {
			return checkpoint.ErrStopScan
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("scan visited %d, want early stop at 2", count)
	}
}

func TestDeleteAndDeleteByUser(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, pair := range []struct{ run, user string }{
		{"r1", "u1"}, {"r2", "u1"}, {"r3", "u2"},
	} {
		if err := s.Put(ctx, pair.run, testState(pair.run, pair.user)); err != nil {
			t.Fatal(err)
		}
	}

	existed, err := s.Delete(ctx, "r3")
	if err != nil || !existed {
		t.Fatalf("Delete(r3) = %v, %v", existed, err)
	}
	existed, err = s.Delete(ctx, "r3")
	if err != nil || existed {
		t.Fatalf("second Delete(r3) = %v, %v", existed, err)
	}

	n, err := s.DeleteByUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("DeleteByUser = %d, want 2", n)
	}
	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalCheckpoints != 0 {
		t.Fatalf("stats after purge = %+v", stats)
	}
}

func TestGetStats(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalCheckpoints != 0 || stats.OldestCheckpoint != nil {
		t.Fatalf("empty stats = %+v", stats)
	}

	for _, pair := range []struct{ run, user string }{
		{"r1", "u1"}, {"r2", "u1"}, {"r3", "u2"},
	} {
		if err := s.Put(ctx, pair.run, testState(pair.run, pair.user)); err != nil {
			t.Fatal(err)
		}
	}

	stats, err = s.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalCheckpoints != 3 {
		t.Fatalf("total = %d", stats.TotalCheckpoints)
	}
	if stats.CheckpointsByUser["u1"] != 2 || stats.CheckpointsByUser["u2"] != 1 {
		t.Fatalf("by user = %v", stats.CheckpointsByUser)
	}
	if stats.AverageStateSize <= 0 {
		t.Fatalf("average size = %d", stats.AverageStateSize)
	}
	if stats.OldestCheckpoint == nil || stats.NewestCheckpoint == nil {
		t.Fatal("oldest/newest missing")
	}
}

func TestCleanupDeletesOnlyOld(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "old", testState("old", "u1")); err != nil {
		t.Fatal(err)
	}
	// Backdate the row; Cleanup measures age from updated_at.
	past := time.Now().UTC().Add(-48 * time.Hour).Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, "UPDATE checkpoints SET updated_at = ? WHERE run_id = 'old';", past); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "fresh", testState("fresh", "u1")); err != nil {
		t.Fatal(err)
	}

	n, err := s.Cleanup(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("cleanup deleted %d, want 1", n)
	}
	if _, err := s.Get(ctx, "old"); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Fatal("old checkpoint survived cleanup")
	}
	if _, err := s.Get(ctx, "fresh"); err != nil {
		t.Fatalf("fresh checkpoint lost: %v", err)
	}
}

func TestCleanupConcurrentWithPut(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_ = s.Put(ctx, "hot", testState("hot", "u1"))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_, _ = s.Cleanup(ctx, time.Hour)
		}
	}()
	wg.Wait()

	if _, err := s.Get(ctx, "hot"); err != nil {
		t.Fatalf("hot run lost during concurrent cleanup: %v", err)
	}
}

package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return repo
}

func TestIncrementAndGetState(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	threshold := 3

	// First increment creates the row.
	count, prev, next, err := repo.IncrementAndGetState(ctx, "u1", "photosynthesis", threshold)
	if err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected count 1, got %d", count)
	}
	if prev != domain.TopicInactive || next != domain.TopicInactive {
		t.Errorf("expected Inactive->Inactive, got %s->%s", prev, next)
	}

	// Counts 2 and 3 stay below or at the threshold.
	for want := 2; want <= threshold; want++ {
		count, prev, next, err = repo.IncrementAndGetState(ctx, "u1", "photosynthesis", threshold)
		if err != nil {
			t.Fatalf("increment failed: %v", err)
		}
		if count != want {
			t.Errorf("expected count %d, got %d", want, count)
		}
		if next != domain.TopicInactive {
			t.Errorf("count %d should stay Inactive, got %s", count, next)
		}
	}

	// Count 4 exceeds the threshold: exactly here the state flips.
	count, prev, next, err = repo.IncrementAndGetState(ctx, "u1", "photosynthesis", threshold)
	if err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if count != 4 {
		t.Errorf("expected count 4, got %d", count)
	}
	if prev != domain.TopicInactive || next != domain.TopicActive {
		t.Errorf("expected Inactive->Active transition, got %s->%s", prev, next)
	}

	// Further increments never report another transition.
	_, prev, next, err = repo.IncrementAndGetState(ctx, "u1", "photosynthesis", threshold)
	if err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if prev != domain.TopicActive || next != domain.TopicActive {
		t.Errorf("expected Active->Active, got %s->%s", prev, next)
	}
}

func TestIncrementNormalizesTopic(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if _, _, _, err := repo.IncrementAndGetState(ctx, "u1", "  Photosynthesis ", 3); err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if _, _, _, err := repo.IncrementAndGetState(ctx, "u1", "photosynthesis", 3); err != nil {
		t.Fatalf("increment failed: %v", err)
	}

	counts, err := repo.GetCounts(ctx, "u1")
	if err != nil {
		t.Fatalf("GetCounts failed: %v", err)
	}
	if counts["photosynthesis"] != 2 {
		t.Errorf("expected normalized topic count 2, got %v", counts)
	}
}

// TestConcurrentIncrementsNoLostUpdates verifies the core consistency
// property: N concurrent increments for the same (user, topic) pair yield
// exactly N, and the Active transition is reported exactly once.
//
// Run with: go test -race ./internal/store/...
func TestConcurrentIncrementsNoLostUpdates(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()
	threshold := 3

	const workers = 20
	var wg sync.WaitGroup
	transitions := make(chan struct{}, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, prev, next, err := repo.IncrementAndGetState(ctx, "u1", "glycolysis", threshold)
			if err != nil {
				t.Errorf("concurrent increment failed: %v", err)
				return
			}
			if prev != next {
				transitions <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(transitions)

	counts, err := repo.GetCounts(ctx, "u1")
	if err != nil {
		t.Fatalf("GetCounts failed: %v", err)
	}
	if counts["glycolysis"] != workers {
		t.Errorf("lost updates: expected count %d, got %d", workers, counts["glycolysis"])
	}

	got := 0
	for range transitions {
		got++
	}
	if got != 1 {
		t.Errorf("expected exactly 1 state transition, observed %d", got)
	}
}

func TestTwoConcurrentStrugglesCountExactlyTwo(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, _, err := repo.IncrementAndGetState(ctx, "u2", "osmosis", 3); err != nil {
				t.Errorf("increment failed: %v", err)
			}
		}()
	}
	wg.Wait()

	counts, err := repo.GetCounts(ctx, "u2")
	if err != nil {
		t.Fatalf("GetCounts failed: %v", err)
	}
	if counts["osmosis"] != 2 {
		t.Errorf("expected count 2, got %d", counts["osmosis"])
	}
}

func TestResetTopic(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, _, _, err := repo.IncrementAndGetState(ctx, "u1", "mitosis", 3); err != nil {
			t.Fatalf("increment failed: %v", err)
		}
	}

	record, err := repo.GetRecord(ctx, "u1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if record.States["mitosis"] != domain.TopicActive {
		t.Fatalf("expected Active before reset, got %s", record.States["mitosis"])
	}

	if err := repo.ResetTopic(ctx, "u1", "mitosis"); err != nil {
		t.Fatalf("ResetTopic failed: %v", err)
	}

	record, err = repo.GetRecord(ctx, "u1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if record.Counts["mitosis"] != 0 {
		t.Errorf("expected count 0 after reset, got %d", record.Counts["mitosis"])
	}
	if record.States["mitosis"] != domain.TopicInactive {
		t.Errorf("expected Inactive after reset, got %s", record.States["mitosis"])
	}
}

func TestGetCountsUnknownUser(t *testing.T) {
	repo := newTestStore(t)

	counts, err := repo.GetCounts(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetCounts failed: %v", err)
	}
	if len(counts) != 0 {
		t.Errorf("expected empty counts, got %v", counts)
	}
}

func TestStudentUpsert(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	student := &domain.Student{
		UserID:      "u1",
		DisplayName: "Jordan",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.UpsertStudent(ctx, student); err != nil {
		t.Fatalf("UpsertStudent failed: %v", err)
	}

	student.DisplayName = "Jordan L."
	if err := repo.UpsertStudent(ctx, student); err != nil {
		t.Fatalf("UpsertStudent update failed: %v", err)
	}

	got, err := repo.GetStudent(ctx, "u1")
	if err != nil {
		t.Fatalf("GetStudent failed: %v", err)
	}
	if got == nil || got.DisplayName != "Jordan L." {
		t.Errorf("expected updated display name, got %+v", got)
	}

	missing, err := repo.GetStudent(ctx, "nobody")
	if err != nil {
		t.Fatalf("GetStudent failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown student, got %+v", missing)
	}
}

// TestReadsWrapScanFailures corrupts a stored count so row scanning fails,
// then checks the read paths report ErrStoreUnavailable like every other
// driver failure.
func TestReadsWrapScanFailures(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if _, _, _, err := repo.IncrementAndGetState(ctx, "u1", "meiosis", 3); err != nil {
		t.Fatalf("increment failed: %v", err)
	}

	s, ok := repo.(*SQLiteStore)
	if !ok {
		t.Fatalf("expected *SQLiteStore, got %T", repo)
	}
	if _, err := s.db.Exec(`UPDATE struggle_counts SET count = 'corrupt' WHERE user_id = 'u1'`); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	if _, err := repo.GetCounts(ctx, "u1"); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable from GetCounts, got %v", err)
	}
	if _, err := repo.GetRecord(ctx, "u1"); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable from GetRecord, got %v", err)
	}
}

func TestStoreUnavailableAfterClose(t *testing.T) {
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	_, _, _, err = repo.IncrementAndGetState(context.Background(), "u1", "topic", 3)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}

	_, err = repo.GetCounts(context.Background(), "u1")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable from GetCounts, got %v", err)
	}
}

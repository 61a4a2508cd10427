// Package outboxtest is a behaviour suite shared by every outbox backend.
package outboxtest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/accountbook/internal/domain"
	"github.com/dvloznov/accountbook/internal/outbox"
	"github.com/google/go-cmp/cmp"
)

// Factory creates an empty store configured with opts.
type Factory func(t *testing.T, opts outbox.Options) outbox.Store

var (
	lunch = domain.Draft{Category: "식비", Date: "2025-10-19", Amount: 24500, Note: "점심"}
	bus   = domain.Draft{Category: "교통", Date: "2025-10-19", Amount: 1450}
)

// Run exercises the Store contract against newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("ClaimEmpty", func(t *testing.T) { testClaimEmpty(t, newStore) })
	t.Run("StageAppendsToPending", func(t *testing.T) { testStageAppends(t, newStore) })
	t.Run("ClaimIsAtMostOnce", func(t *testing.T) { testClaimAtMostOnce(t, newStore) })
	t.Run("ConcurrentClaims", func(t *testing.T) { testConcurrentClaims(t, newStore) })
	t.Run("UsersAreIsolated", func(t *testing.T) { testUsersIsolated(t, newStore) })
	t.Run("Capacity", func(t *testing.T) { testCapacity(t, newStore) })
	t.Run("DeleteOnSuccessRetries", func(t *testing.T) { testDeleteOnSuccess(t, newStore) })
	t.Run("CompleteKeepsTrimmedDrafts", func(t *testing.T) { testCompleteTrims(t, newStore) })
	t.Run("BudgetLatestWins", func(t *testing.T) { testBudget(t, newStore) })
	t.Run("Purge", func(t *testing.T) { testPurge(t, newStore) })
}

func testClaimEmpty(t *testing.T, newStore Factory) {
	s := newStore(t, outbox.Options{})
	b, err := s.Claim(context.Background(), "u1", outbox.KindMission)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if b != nil {
		t.Errorf("Claim on empty store returned %+v", b)
	}
}

func testStageAppends(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, outbox.Options{})

	first, err := s.Stage(ctx, "u1", outbox.KindMission, []domain.Draft{lunch})
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	second, err := s.Stage(ctx, "u1", outbox.KindMission, []domain.Draft{bus})
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("second stage created a new batch %s, want append to %s", second.ID, first.ID)
	}

	claimed, err := s.Claim(ctx, "u1", outbox.KindMission)
	if err != nil || claimed == nil {
		t.Fatalf("Claim = %v, %v", claimed, err)
	}
	if diff := cmp.Diff([]domain.Draft{lunch, bus}, claimed.Drafts); diff != "" {
		t.Errorf("claimed drafts mismatch (-want +got):\n%s", diff)
	}
	if claimed.Status != outbox.StatusMigrating || claimed.Attempts != 1 {
		t.Errorf("claimed status=%s attempts=%d", claimed.Status, claimed.Attempts)
	}
}

func testClaimAtMostOnce(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, outbox.Options{})

	if _, err := s.Stage(ctx, "u1", outbox.KindMission, []domain.Draft{lunch}); err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	b, err := s.Claim(ctx, "u1", outbox.KindMission)
	if err != nil || b == nil {
		t.Fatalf("Claim = %v, %v", b, err)
	}
	if again, err := s.Claim(ctx, "u1", outbox.KindMission); err != nil || again != nil {
		t.Fatalf("second Claim while migrating = %v, %v", again, err)
	}

	// Staging during migration starts a new batch.
	if _, err := s.Stage(ctx, "u1", outbox.KindMission, []domain.Draft{bus}); err != nil {
		t.Fatalf("Stage during migration failed: %v", err)
	}

	if err := s.Complete(ctx, b, errors.New("create failed")); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	next, err := s.Claim(ctx, "u1", outbox.KindMission)
	if err != nil || next == nil {
		t.Fatalf("Claim after complete = %v, %v", next, err)
	}
	if diff := cmp.Diff([]domain.Draft{bus}, next.Drafts); diff != "" {
		t.Errorf("failed batch resurfaced under delete-on-attempt (-want +got):\n%s", diff)
	}
}

func testConcurrentClaims(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, outbox.Options{})
	if _, err := s.Stage(ctx, "u1", outbox.KindMission, []domain.Draft{lunch}); err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := s.Claim(ctx, "u1", outbox.KindMission)
			if err != nil {
				t.Errorf("Claim failed: %v", err)
				return
			}
			if b != nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("%d concurrent claims succeeded, want 1", wins)
	}
}

func testUsersIsolated(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, outbox.Options{})

	if _, err := s.Stage(ctx, "u1", outbox.KindMission, []domain.Draft{lunch}); err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if b, err := s.Claim(ctx, "u2", outbox.KindMission); err != nil || b != nil {
		t.Errorf("other user's Claim = %v, %v", b, err)
	}
	if b, err := s.Claim(ctx, "u1", outbox.KindBudget); err != nil || b != nil {
		t.Errorf("other kind's Claim = %v, %v", b, err)
	}
}

func testCapacity(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, outbox.Options{Capacity: 2})

	if _, err := s.Stage(ctx, "u1", outbox.KindMission, []domain.Draft{lunch, bus}); err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if _, err := s.Stage(ctx, "u1", outbox.KindMission, []domain.Draft{lunch}); !errors.Is(err, outbox.ErrOutboxFull) {
		t.Errorf("Stage over capacity error = %v, want ErrOutboxFull", err)
	}
}

func testDeleteOnSuccess(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, outbox.Options{Policy: outbox.DeleteOnSuccess, MaxAttempts: 2})

	if _, err := s.Stage(ctx, "u1", outbox.KindMission, []domain.Draft{lunch}); err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	for attempt := 1; attempt <= 2; attempt++ {
		b, err := s.Claim(ctx, "u1", outbox.KindMission)
		if err != nil || b == nil {
			t.Fatalf("attempt %d: Claim = %v, %v", attempt, b, err)
		}
		if b.Attempts != attempt {
			t.Errorf("attempt %d: Attempts = %d", attempt, b.Attempts)
		}
		if err := s.Complete(ctx, b, errors.New("offline")); err != nil {
			t.Fatalf("attempt %d: Complete failed: %v", attempt, err)
		}
	}

	if b, err := s.Claim(ctx, "u1", outbox.KindMission); err != nil || b != nil {
		t.Errorf("batch survived MaxAttempts: %v, %v", b, err)
	}
}

func testCompleteTrims(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, outbox.Options{Policy: outbox.DeleteOnSuccess, MaxAttempts: 3})

	if _, err := s.Stage(ctx, "u1", outbox.KindMission, []domain.Draft{lunch, bus}); err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	b, err := s.Claim(ctx, "u1", outbox.KindMission)
	if err != nil || b == nil {
		t.Fatalf("Claim = %v, %v", b, err)
	}

	b.Drafts = []domain.Draft{lunch}
	if err := s.Complete(ctx, b, errors.New("offline")); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	again, err := s.Claim(ctx, "u1", outbox.KindMission)
	if err != nil || again == nil {
		t.Fatalf("Claim after failure = %v, %v", again, err)
	}
	if again.ID != b.ID {
		t.Errorf("reclaimed batch %s, want %s", again.ID, b.ID)
	}
	if diff := cmp.Diff([]domain.Draft{lunch}, again.Drafts); diff != "" {
		t.Errorf("Drafts mismatch (-want +got):\n%s", diff)
	}
}

func testBudget(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, outbox.Options{})

	if _, err := s.StageBudget(ctx, "u1", domain.Budget{Month: "2025-10", Category: "식비", Amount: 100000}); err != nil {
		t.Fatalf("StageBudget failed: %v", err)
	}
	if _, err := s.StageBudget(ctx, "u1", domain.Budget{Month: "2025-10", Category: "식비", Amount: 300000}); err != nil {
		t.Fatalf("StageBudget failed: %v", err)
	}

	b, err := s.Claim(ctx, "u1", outbox.KindBudget)
	if err != nil || b == nil || b.Budget == nil {
		t.Fatalf("Claim budget = %v, %v", b, err)
	}
	if b.Budget.Amount != 300000 {
		t.Errorf("budget amount = %d, want latest 300000", b.Budget.Amount)
	}
	if again, _ := s.Claim(ctx, "u1", outbox.KindBudget); again != nil {
		t.Errorf("second budget batch pending: %+v", again)
	}
}

func testPurge(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, outbox.Options{})

	if _, err := s.Stage(ctx, "u1", outbox.KindMission, []domain.Draft{lunch}); err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	b, _ := s.Claim(ctx, "u1", outbox.KindMission)
	if err := s.Complete(ctx, b, nil); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if _, err := s.Stage(ctx, "u1", outbox.KindMission, []domain.Draft{bus}); err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	n, err := s.Purge(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Purge removed %d batches, want 1", n)
	}
	if pending, _ := s.Claim(ctx, "u1", outbox.KindMission); pending == nil {
		t.Error("Purge removed a pending batch")
	}
}

package outbox

import (
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/accountbook/internal/domain"
)

func TestResolve(t *testing.T) {
	failure := errors.New("create failed")

	tests := []struct {
		name        string
		opts        Options
		attempts    int
		runErr      error
		wantStatus  Status
		wantDropped bool
	}{
		{"success consumes", Options{}, 1, nil, StatusConsumed, false},
		{"attempt policy consumes failures", Options{Policy: DeleteOnAttempt}, 1, failure, StatusConsumed, true},
		{"success policy retries", Options{Policy: DeleteOnSuccess, MaxAttempts: 3}, 1, failure, StatusPending, false},
		{"success policy gives up", Options{Policy: DeleteOnSuccess, MaxAttempts: 3}, 3, failure, StatusConsumed, true},
		{"success policy success", Options{Policy: DeleteOnSuccess}, 2, nil, StatusConsumed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Batch{Status: StatusMigrating, Attempts: tt.attempts}
			dropped := Resolve(b, tt.runErr, tt.opts, time.Now())
			if b.Status != tt.wantStatus || dropped != tt.wantDropped {
				t.Errorf("Resolve() status=%s dropped=%v, want %s %v", b.Status, dropped, tt.wantStatus, tt.wantDropped)
			}
			if tt.runErr != nil && b.LastError != tt.runErr.Error() {
				t.Errorf("LastError = %q", b.LastError)
			}
		})
	}
}

func TestAppend_Capacity(t *testing.T) {
	b := &Batch{}
	d := domain.Draft{Category: "식비", Date: "2025-10-19", Amount: 1}

	if err := Append(b, []domain.Draft{d, d}, 3, time.Now()); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := Append(b, []domain.Draft{d, d}, 3, time.Now()); !errors.Is(err, ErrOutboxFull) {
		t.Errorf("Append over capacity error = %v, want ErrOutboxFull", err)
	}
	if len(b.Drafts) != 2 {
		t.Errorf("rejected append changed the batch: %d drafts", len(b.Drafts))
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy(""); err != nil || p != DeleteOnAttempt {
		t.Errorf("ParsePolicy(\"\") = %s, %v", p, err)
	}
	if p, err := ParsePolicy("delete_on_success"); err != nil || p != DeleteOnSuccess {
		t.Errorf("ParsePolicy(delete_on_success) = %s, %v", p, err)
	}
	if _, err := ParsePolicy("never"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestNewBatch_TimeOrderedIDs(t *testing.T) {
	now := time.Now()
	a, err := NewBatch("u1", KindMission, now)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewBatch("u1", KindMission, now)
	if err != nil {
		t.Fatal(err)
	}
	if domain.CompareIDs(a.ID, b.ID) >= 0 {
		t.Errorf("ids not increasing: %s then %s", a.ID, b.ID)
	}
	if a.Status != StatusPending {
		t.Errorf("new batch status = %s", a.Status)
	}
}

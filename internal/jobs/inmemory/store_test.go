package inmemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/accountbook/internal/importer"
	"github.com/dvloznov/accountbook/internal/jobs"
	"github.com/google/go-cmp/cmp"
)

func TestStore_CopySemantics(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	job := &jobs.ImportJob{JobID: "j1", UserID: "u1", Result: &importer.Result{IDs: []string{"1"}}}
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob() error = %v", err)
	}
	job.Status = jobs.JobStatusFailed
	job.Result.IDs[0] = "changed"

	got, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Status != "" || got.Result.IDs[0] != "1" {
		t.Errorf("stored job was mutated through caller pointer: %+v", got)
	}
}

func TestStore_GetJobNotFound(t *testing.T) {
	_, err := NewStore().GetJob(context.Background(), "missing")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("GetJob() error = %v, want ErrJobNotFound", err)
	}
	err = NewStore().UpdateJobStatus(context.Background(), "missing", jobs.JobStatusFailed, "x")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("UpdateJobStatus() error = %v, want ErrJobNotFound", err)
	}
}

func TestStore_SaveRequiresID(t *testing.T) {
	if err := NewStore().SaveJob(context.Background(), &jobs.ImportJob{}); err == nil {
		t.Error("SaveJob() without id should fail")
	}
}

func TestStore_ListJobs(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC)

	seed := []*jobs.ImportJob{
		{JobID: "a", UserID: "u1", Status: jobs.JobStatusCompleted, CreatedAt: base},
		{JobID: "b", UserID: "u1", Status: jobs.JobStatusFailed, CreatedAt: base.Add(time.Minute)},
		{JobID: "c", UserID: "u2", Status: jobs.JobStatusCompleted, CreatedAt: base.Add(2 * time.Minute)},
		{JobID: "d", UserID: "u1", Status: jobs.JobStatusCompleted, CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, j := range seed {
		if err := s.SaveJob(ctx, j); err != nil {
			t.Fatalf("SaveJob() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{name: "all newest first", want: []string{"d", "c", "b", "a"}},
		{name: "by user", filter: jobs.JobFilter{UserID: "u1"}, want: []string{"d", "b", "a"}},
		{name: "by status", filter: jobs.JobFilter{Status: jobs.JobStatusCompleted}, want: []string{"d", "c", "a"}},
		{name: "limit and offset", filter: jobs.JobFilter{Limit: 2, Offset: 1}, want: []string{"c", "b"}},
		{name: "offset past end", filter: jobs.JobFilter{Offset: 10}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListJobs() error = %v", err)
			}
			ids := []string{}
			for _, j := range got {
				ids = append(ids, j.JobID)
			}
			if diff := cmp.Diff(tt.want, ids); diff != "" {
				t.Errorf("ListJobs() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

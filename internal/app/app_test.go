package app

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dvloznov/accountbook/internal/config"
	"github.com/dvloznov/accountbook/internal/dailyflag"
	"github.com/dvloznov/accountbook/internal/domain"
	"github.com/dvloznov/accountbook/internal/jobs"
	"github.com/dvloznov/accountbook/internal/ledger"
	"github.com/dvloznov/accountbook/internal/ledger/ledgertest"
	"github.com/dvloznov/accountbook/internal/logger"
	"github.com/dvloznov/accountbook/internal/missions"
	"github.com/dvloznov/accountbook/internal/outbox"
	"github.com/dvloznov/accountbook/internal/outbox/inmemory"
	"github.com/google/go-cmp/cmp"
)

const sampleCSV = "date,category,amount,memo\n2025-10-19,식비,24500,점심\n2025-10-20,교통,1450,버스\n"

// MockStorage is a mock implementation of gcs.StorageService.
type MockStorage struct {
	FetchFunc  func(ctx context.Context, uri string) ([]byte, error)
	UploadFunc func(ctx context.Context, bucket, object string, r io.Reader) error
}

func (m *MockStorage) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return m.FetchFunc(ctx, uri)
}

func (m *MockStorage) Upload(ctx context.Context, bucket, object string, r io.Reader) error {
	if m.UploadFunc != nil {
		return m.UploadFunc(ctx, bucket, object, r)
	}
	return nil
}

func newTestApp(t *testing.T) (*App, map[string]*ledgertest.MockClient, *inmemory.Store) {
	t.Helper()
	clients := map[string]*ledgertest.MockClient{}
	ledgerFor := func(userID string) ledger.Client {
		c := &ledgertest.MockClient{
			CreateEntriesFunc: func(ctx context.Context, drafts []domain.Draft) (any, error) {
				data := []any{}
				for i := range drafts {
					data = append(data, map[string]any{"id": userID + "-" + string(rune('a'+i))})
				}
				return map[string]any{"data": data}, nil
			},
		}
		clients[userID] = c
		return c
	}
	store := inmemory.NewStore(outbox.Options{})
	a := NewWithParts(config.Default(), logger.New(), ledgerFor, &ledgertest.MockPoints{}, store, dailyflag.NewMemoryStore())
	return a, clients, store
}

func missionFixture() missions.Mission {
	return missions.Mission{
		ID:      "walk-10k",
		Title:   "만보 걷기",
		Points:  30,
		Expense: &domain.Draft{Category: "교통", Date: "2025-10-19", Amount: 0},
	}
}

func TestApp_SessionIsCachedPerUser(t *testing.T) {
	a, clients, _ := newTestApp(t)

	s1 := a.Session("u1")
	if a.Session("u1") != s1 {
		t.Error("Session() returned a new session for the same user")
	}
	if a.Session("u2") == s1 {
		t.Error("Session() shared a session across users")
	}
	if len(clients) != 2 {
		t.Errorf("created %d ledger clients, want 2", len(clients))
	}
}

func TestApp_ImportSourceLocalFile(t *testing.T) {
	a, clients, _ := newTestApp(t)
	path := filepath.Join(t.TempDir(), "october.csv")
	if err := os.WriteFile(path, []byte(sampleCSV), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	res, err := a.ImportSource(context.Background(), "u1", path, "")
	if err != nil {
		t.Fatalf("ImportSource() error = %v", err)
	}
	if diff := cmp.Diff([]string{"u1-a", "u1-b"}, res.IDs); diff != "" {
		t.Errorf("IDs mismatch (-want +got):\n%s", diff)
	}
	if res.NotesAttached != 2 {
		t.Errorf("NotesAttached = %d, want 2", res.NotesAttached)
	}
	if clients["u1"].CreateCalls() != 1 {
		t.Errorf("CreateCalls = %d, want 1", clients["u1"].CreateCalls())
	}
}

func TestApp_HandleJob(t *testing.T) {
	a, _, _ := newTestApp(t)
	path := filepath.Join(t.TempDir(), "october.csv")
	if err := os.WriteFile(path, []byte(sampleCSV), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	job := &jobs.ImportJob{JobID: "job-1", UserID: "u1", Source: path}
	if err := a.HandleJob(context.Background(), job); err != nil {
		t.Fatalf("HandleJob() error = %v", err)
	}
	if job.Result == nil || job.Result.Imported != 2 {
		t.Fatalf("Result = %+v, want 2 imported", job.Result)
	}

	missing := &jobs.ImportJob{JobID: "job-2", UserID: "u1", Source: filepath.Join(t.TempDir(), "none.csv")}
	if err := a.HandleJob(context.Background(), missing); err == nil {
		t.Error("HandleJob() with a missing file succeeded")
	}
	if missing.Result != nil {
		t.Errorf("Result = %+v, want nil on failure", missing.Result)
	}
}

func TestApp_ImportSourceFromGCS(t *testing.T) {
	a, _, _ := newTestApp(t)
	var fetched string
	a.SetStorage(&MockStorage{FetchFunc: func(ctx context.Context, uri string) ([]byte, error) {
		fetched = uri
		return []byte(sampleCSV), nil
	}})

	res, err := a.ImportSource(context.Background(), "u1", "gs://bucket/imports/october.csv", "")
	if err != nil {
		t.Fatalf("ImportSource() error = %v", err)
	}
	if fetched != "gs://bucket/imports/october.csv" || res.Imported != 2 {
		t.Errorf("fetched %q, imported %d", fetched, res.Imported)
	}
}

func TestApp_ImportSourceFetchError(t *testing.T) {
	a, _, _ := newTestApp(t)
	boom := errors.New("access denied")
	a.SetStorage(&MockStorage{FetchFunc: func(ctx context.Context, uri string) ([]byte, error) {
		return nil, boom
	}})

	if _, err := a.ImportSource(context.Background(), "u1", "gs://bucket/x.csv", ""); !errors.Is(err, boom) {
		t.Errorf("ImportSource() error = %v, want wrapped fetch error", err)
	}
}

func TestApp_Upload(t *testing.T) {
	a, _, _ := newTestApp(t)
	path := filepath.Join(t.TempDir(), "october.csv")
	if err := os.WriteFile(path, []byte(sampleCSV), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	var gotBucket, gotObject, gotBody string
	a.SetStorage(&MockStorage{UploadFunc: func(ctx context.Context, bucket, object string, r io.Reader) error {
		data, err := io.ReadAll(r)
		gotBucket, gotObject, gotBody = bucket, object, string(data)
		return err
	}})

	if err := a.Upload(context.Background(), path, "gs://imports/u1/october.csv"); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if gotBucket != "imports" || gotObject != "u1/october.csv" || gotBody != sampleCSV {
		t.Errorf("uploaded to %s/%s with %d bytes", gotBucket, gotObject, len(gotBody))
	}

	if err := a.Upload(context.Background(), path, "/tmp/october.csv"); err == nil {
		t.Error("Upload() to a non-gs:// target succeeded")
	}
}

func TestApp_MissionStagedThenMigratedOnActivate(t *testing.T) {
	a, clients, _ := newTestApp(t)
	ctx := context.Background()

	_, err := a.Missions.Complete(ctx, "u1", missionFixture())
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	month := domain.Month{Year: 2025, Month: time.October}
	report, err := a.Session("u1").Book.Activate(ctx, month)
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if report.Migrated != 1 {
		t.Errorf("Migrated = %d, want 1", report.Migrated)
	}
	if clients["u1"].CreateCalls() != 1 {
		t.Errorf("CreateCalls = %d, want 1", clients["u1"].CreateCalls())
	}
}

func TestApp_Compact(t *testing.T) {
	a, _, store := newTestApp(t)
	ctx := context.Background()

	if _, err := store.Stage(ctx, "u1", outbox.KindMission, []domain.Draft{{Category: "식비", Date: "2025-10-19", Amount: 1}}); err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	b, err := store.Claim(ctx, "u1", outbox.KindMission)
	if err != nil || b == nil {
		t.Fatalf("Claim() = %v, %v", b, err)
	}
	if err := store.Complete(ctx, b, nil); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	n, err := a.Compact(ctx, time.Now().Add(a.Config.Worker.RetainConsumed+time.Hour))
	if err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Compact() purged %d, want 1", n)
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dvloznov/accountbook/internal/app"
	"github.com/dvloznov/accountbook/internal/config"
	"github.com/dvloznov/accountbook/internal/dailyflag"
	"github.com/dvloznov/accountbook/internal/domain"
	"github.com/dvloznov/accountbook/internal/jobs"
	jobsmem "github.com/dvloznov/accountbook/internal/jobs/inmemory"
	"github.com/dvloznov/accountbook/internal/ledger"
	"github.com/dvloznov/accountbook/internal/ledger/ledgertest"
	"github.com/dvloznov/accountbook/internal/logger"
	"github.com/dvloznov/accountbook/internal/outbox"
	"github.com/dvloznov/accountbook/internal/outbox/inmemory"
	"github.com/google/go-cmp/cmp"
)

type testServer struct {
	handler http.Handler
	app     *app.App
	jobs    *jobsmem.Store
	points  *ledgertest.MockPoints
}

func newTestServer(t *testing.T, defaultUser string) *testServer {
	t.Helper()
	ledgerFor := func(userID string) ledger.Client {
		next := 0
		return &ledgertest.MockClient{
			CreateEntriesFunc: func(ctx context.Context, drafts []domain.Draft) (any, error) {
				data := []any{}
				for range drafts {
					next++
					data = append(data, map[string]any{"id": next})
				}
				return map[string]any{"data": data}, nil
			},
		}
	}
	points := &ledgertest.MockPoints{}
	a := app.NewWithParts(config.Default(), logger.New(), ledgerFor, points,
		inmemory.NewStore(outbox.Options{}), dailyflag.NewMemoryStore())

	store := jobsmem.NewStore()
	queue := jobsmem.NewQueue(16, store)
	t.Cleanup(func() { queue.Close() })

	h := NewRouter(Deps{
		Sessions:    a,
		Missions:    a.Missions,
		Publisher:   queue,
		Jobs:        store,
		DefaultUser: defaultUser,
	}, logger.New())
	return &testServer{handler: h, app: a, jobs: store, points: points}
}

func (s *testServer) do(t *testing.T, method, path, user string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return out
}

const csvBody = "date,category,amount,memo\n2025-10-19,식비,24500,점심\n2025-10-20,교통,1450,버스\n"

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t, "")
	rec := s.do(t, http.MethodGet, "/health", "", nil, "")
	if rec.Code != http.StatusOK || decode(t, rec)["status"] != "healthy" {
		t.Errorf("health = %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID response header")
	}
}

func TestRouter_RequiresUser(t *testing.T) {
	s := newTestServer(t, "")
	rec := s.do(t, http.MethodGet, "/api/ledger", "", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}

	withDefault := newTestServer(t, "default")
	rec = withDefault.do(t, http.MethodGet, "/api/ledger?month=2025-10", "", nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("status with default user = %d, want 200", rec.Code)
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t, "")
	rec := s.do(t, http.MethodGet, "/api/imports", "u1", nil, "")
	if rec.Code != http.StatusMethodNotAllowed || decode(t, rec)["error"] != "Method not allowed" {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_ImportRawBody(t *testing.T) {
	s := newTestServer(t, "")
	rec := s.do(t, http.MethodPost, "/api/imports", "u1", []byte(csvBody), "text/csv")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	if diff := cmp.Diff([]any{"1", "2"}, out["ids"]); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if out["notes_attached"] != float64(2) {
		t.Errorf("notes_attached = %v", out["notes_attached"])
	}
}

func TestRouter_ImportMultipart(t *testing.T) {
	s := newTestServer(t, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "october.csv")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte(csvBody))
	mw.Close()

	rec := s.do(t, http.MethodPost, "/api/imports", "u1", buf.Bytes(), mw.FormDataContentType())
	if rec.Code != http.StatusOK || decode(t, rec)["imported"] != float64(2) {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_ImportRejectsBadInput(t *testing.T) {
	s := newTestServer(t, "")
	tests := []struct {
		name string
		body string
	}{
		{"missing columns", "date,amount\n2025-10-19,1\n"},
		{"no valid rows", "date,category,amount\n2025-10-19,식비,abc\n"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/imports", "u1", []byte(tt.body), "text/csv")
			if rec.Code != http.StatusUnprocessableEntity {
				t.Errorf("status = %d, want 422: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRouter_EnqueueImportAndJobs(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(t, http.MethodPost, "/api/imports/jobs", "u1", []byte(`{"source":"/etc/passwd"}`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("local source status = %d, want 400", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/api/imports/jobs", "u1", []byte(`{"source":"gs://bucket/october.csv"}`), "application/json")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("enqueue status = %d: %s", rec.Code, rec.Body.String())
	}
	jobID, _ := decode(t, rec)["job_id"].(string)
	if jobID == "" {
		t.Fatal("no job_id in response")
	}

	rec = s.do(t, http.MethodGet, "/api/jobs/"+jobID, "u1", nil, "")
	if rec.Code != http.StatusOK || decode(t, rec)["source"] != "gs://bucket/october.csv" {
		t.Errorf("get job = %d %s", rec.Code, rec.Body.String())
	}
	if rec := s.do(t, http.MethodGet, "/api/jobs/"+jobID, "u2", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("other user's job status = %d, want 404", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/api/jobs", "u1", nil, "")
	if rec.Code != http.StatusOK || decode(t, rec)["count"] != float64(1) {
		t.Errorf("list jobs = %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodGet, "/api/jobs", "u2", nil, "")
	if decode(t, rec)["count"] != float64(0) {
		t.Errorf("u2 sees other users' jobs: %s", rec.Body.String())
	}

	job, err := s.jobs.GetJob(context.Background(), jobID)
	if err != nil || job.UserID != "u1" || job.Status != jobs.JobStatusPending {
		t.Errorf("stored job = %+v, %v", job, err)
	}
}

func TestRouter_MissionStagedThenMigratedByLedgerView(t *testing.T) {
	s := newTestServer(t, "")

	mission := `{"id":"walk","title":"만보 걷기","points":30,"expense":{"category":"교통","date":"2025-10-19","amount":0}}`
	rec := s.do(t, http.MethodPost, "/api/missions/complete", "u1", []byte(mission), "application/json")
	if rec.Code != http.StatusOK || decode(t, rec)["delivery"] != "staged" {
		t.Fatalf("complete = %d %s", rec.Code, rec.Body.String())
	}
	if s.points.Balance("u1") != 30 {
		t.Errorf("balance = %d, want 30", s.points.Balance("u1"))
	}

	rec = s.do(t, http.MethodGet, "/api/ledger?month=2025-10", "u1", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ledger status = %d: %s", rec.Code, rec.Body.String())
	}
	migration, _ := decode(t, rec)["migration"].(map[string]any)
	if migration["migrated"] != float64(1) {
		t.Errorf("migration = %v, want 1 migrated", migration)
	}

	rec = s.do(t, http.MethodPost, "/api/missions/complete", "u1", []byte(mission), "application/json")
	if decode(t, rec)["delivery"] != "published" {
		t.Errorf("second completion with active view: %s", rec.Body.String())
	}
}

func TestRouter_MissionValidation(t *testing.T) {
	s := newTestServer(t, "")
	rec := s.do(t, http.MethodPost, "/api/missions/complete", "u1",
		[]byte(`{"id":"m","points":10,"expense":{"category":"","date":"2025-10-19","amount":1}}`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	rec = s.do(t, http.MethodPost, "/api/missions/complete", "u1", []byte(`{`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestRouter_DailyDrawOncePerDay(t *testing.T) {
	s := newTestServer(t, "")
	first := s.do(t, http.MethodPost, "/api/missions/daily-draw", "u1", nil, "")
	if first.Code != http.StatusOK || decode(t, first)["claimed"] != true {
		t.Fatalf("first draw = %d %s", first.Code, first.Body.String())
	}
	second := s.do(t, http.MethodPost, "/api/missions/daily-draw", "u1", nil, "")
	if second.Code != http.StatusConflict {
		t.Errorf("second draw status = %d, want 409", second.Code)
	}
	other := s.do(t, http.MethodPost, "/api/missions/daily-draw", "u2", nil, "")
	if other.Code != http.StatusOK {
		t.Errorf("other user draw status = %d, want 200", other.Code)
	}
}

func TestRouter_Budgets(t *testing.T) {
	s := newTestServer(t, "")
	tests := []struct {
		body string
		want int
	}{
		{`{"month":"2025-10","category":"식비","amount":300000}`, http.StatusOK},
		{`{"month":"October","category":"식비","amount":1}`, http.StatusBadRequest},
		{`{"month":"2025-10","category":"식비","amount":-1}`, http.StatusBadRequest},
	}
	for i, tt := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/budgets", "u1", []byte(tt.body), "application/json")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestRouter_RedeemPoints(t *testing.T) {
	s := newTestServer(t, "")
	s.points.RedeemFunc = func(ctx context.Context, userID string, n int, reason string) error {
		if n > 100 {
			return &ledger.StatusError{Method: http.MethodPost, Path: "/api/points/redeem", Code: http.StatusConflict, Body: "insufficient"}
		}
		return nil
	}
	tests := []struct {
		name string
		body string
		want int
	}{
		{"ok", `{"points":40,"reason":"coffee"}`, http.StatusOK},
		{"zero points", `{"points":0,"reason":"coffee"}`, http.StatusBadRequest},
		{"no reason", `{"points":10}`, http.StatusBadRequest},
		{"over balance", `{"points":500,"reason":"tablet"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/points/redeem", "u1", []byte(tt.body), "application/json")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
	if got := s.points.Balance("u1"); got != -40 {
		t.Errorf("balance = %d, want -40", got)
	}
}

func TestRouter_UpdateEntryValidation(t *testing.T) {
	s := newTestServer(t, "")
	rec := s.do(t, http.MethodPut, "/api/ledger/entries/7", "u1",
		[]byte(`{"category":"식비","date":"19/10/2025","amount":1}`), "application/json")
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "YYYY-MM-DD") {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPut, "/api/ledger/entries/7", "u1",
		[]byte(`{"category":"식비","date":"2025-10-19","amount":1,"note":"점심"}`), "application/json")
	if rec.Code != http.StatusOK || decode(t, rec)["id"] != "7" {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}

	if rec := s.do(t, http.MethodDelete, "/api/ledger/entries/7", "u1", nil, ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}
}

package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/accountbook/internal/domain"
	"github.com/dvloznov/accountbook/internal/normalize"
	"github.com/google/go-cmp/cmp"
)

func TestHTTPClient_CreateEntriesStripsNotes(t *testing.T) {
	var got []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/expenses" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.Write([]byte(`{"data":[{"id":1},{"id":2}]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", "secret", 0)
	resp, err := c.CreateEntries(context.Background(), []domain.Draft{
		{Category: "식비", Date: "2025-10-19", Amount: 24500, Note: "점심"},
		{Category: "교통", Date: "2025-10-19", Amount: 1450},
	})
	if err != nil {
		t.Fatalf("CreateEntries failed: %v", err)
	}

	for _, item := range got {
		if _, ok := item["memo"]; ok {
			t.Errorf("create body carried a note: %v", item)
		}
	}
	ids := []string{}
	for _, e := range normalize.Entries(resp) {
		ids = append(ids, e.ID)
	}
	if diff := cmp.Diff([]string{"1", "2"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
}

func TestHTTPClient_LoadEntriesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		want := map[string]string{"startDate": "2025-10-01", "endDate": "2025-10-31", "page": "2", "size": "100"}
		for k, v := range want {
			if q.Get(k) != v {
				t.Errorf("query %s = %q, want %q", k, q.Get(k), v)
			}
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 0)
	start := civil.Date{Year: 2025, Month: 10, Day: 1}
	end := civil.Date{Year: 2025, Month: 10, Day: 31}
	if _, err := c.LoadEntries(context.Background(), start, end, Page{Number: 2}); err != nil {
		t.Fatalf("LoadEntries failed: %v", err)
	}
}

func TestHTTPClient_UpdateEntryUsesQueryOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/expenses/42" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if len(body) != 0 {
			t.Errorf("expected empty body, got %q", body)
		}
		if r.URL.Query().Get("amount") != "3000" || r.URL.Query().Get("category") != "교통" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 0)
	err := c.UpdateEntry(context.Background(), domain.LedgerEntry{ID: "42", Category: "교통", Date: "2025-10-19", Amount: 3000})
	if err != nil {
		t.Fatalf("UpdateEntry failed: %v", err)
	}
}

func TestHTTPClient_LoadNotePlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("그냥 메모"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 0)
	resp, err := c.LoadNote(context.Background(), "7")
	if err != nil {
		t.Fatalf("LoadNote failed: %v", err)
	}
	if got := normalize.Text(resp); got != "그냥 메모" {
		t.Errorf("note = %q", got)
	}
}

func TestHTTPClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 0)
	err := c.Award(context.Background(), "u1", 10, "mission")

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusBadGateway || statusErr.Body != "boom" {
		t.Errorf("unexpected status error %+v", statusErr)
	}
}

func TestHTTPClient_ForUserSendsHeader(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get(UserHeader))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	base := NewHTTPClient(srv.URL, "", 0)
	if err := base.ForUser("u1").DeleteEntry(context.Background(), "7"); err != nil {
		t.Fatalf("DeleteEntry failed: %v", err)
	}
	if err := base.DeleteEntry(context.Background(), "8"); err != nil {
		t.Fatalf("DeleteEntry failed: %v", err)
	}
	if diff := cmp.Diff([]string{"u1", ""}, seen); diff != "" {
		t.Errorf("user headers mismatch (-want +got):\n%s", diff)
	}
}

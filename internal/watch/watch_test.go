package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestIsImportFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"october.csv", true},
		{"OCTOBER.CSV", true},
		{"book.xlsx", true},
		{"book.xls", false},
		{"notes.txt", false},
		{".csv.swp", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsImportFile(tt.name); got != tt.want {
				t.Errorf("IsImportFile(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestWatcher_ReportsSettledFilesOnce(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	seen := map[string]int{}
	done := make(chan struct{}, 4)
	w := New(dir, 100*time.Millisecond, func(ctx context.Context, path string) {
		mu.Lock()
		seen[filepath.Base(path)]++
		mu.Unlock()
		done <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(dir, "october.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := f.WriteString("date,category,amount\n"); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	f.Close()
	if err := os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("handler was not called")
	}
	// Allow a second, unwanted report to surface.
	time.Sleep(300 * time.Millisecond)

	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen["october.csv"] != 1 {
		t.Errorf("october.csv reported %d times, want 1", seen["october.csv"])
	}
	if seen["ignored.txt"] != 0 {
		t.Error("non-import file was reported")
	}
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "missing"), 0, func(context.Context, string) {})
	if err := w.Run(context.Background()); err == nil {
		t.Error("Run() on a missing directory succeeded")
	}
}

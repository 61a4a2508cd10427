package normalize

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRecords_ContainerShapes(t *testing.T) {
	body := `[{"id": 1, "category": "식비"}, {"id": 2, "category": "교통"}]`
	shapes := map[string]string{
		"bare":    body,
		"content": `{"content": ` + body + `, "totalPages": 1}`,
		"data":    `{"data": ` + body + `}`,
		"items":   `{"items": ` + body + `}`,
		"results": `{"results": ` + body + `}`,
		"nested":  `{"success": true, "data": {"content": ` + body + `}}`,
	}

	want := Decode([]byte(body))
	if len(want) != 2 {
		t.Fatalf("bare list decoded to %d records, want 2", len(want))
	}

	for name, shape := range shapes {
		t.Run(name, func(t *testing.T) {
			got := Decode([]byte(shape))
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Decode(%s) mismatch (-want +got):\n%s", name, diff)
			}
		})
	}
}

func TestRecords_Priority(t *testing.T) {
	v := map[string]any{
		"results": []any{map[string]any{"id": "r"}},
		"content": []any{map[string]any{"id": "c"}},
	}
	got := Records(v)
	if len(got) != 1 || got[0]["id"] != "c" {
		t.Errorf("Records() = %v, want content field to win", got)
	}
}

func TestRecords_Unrecognized(t *testing.T) {
	tests := []struct {
		name string
		in   any
	}{
		{"nil", nil},
		{"scalar", 42.0},
		{"string", "ok"},
		{"object without container", map[string]any{"ok": true}},
		{"container holding scalar", map[string]any{"data": "nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Records(tt.in)
			if got == nil || len(got) != 0 {
				t.Errorf("Records(%v) = %v, want empty non-nil list", tt.in, got)
			}
		})
	}
}

func TestRecords_SkipsNonObjects(t *testing.T) {
	got := Records([]any{map[string]any{"id": "a"}, "junk", 3.0, nil})
	if len(got) != 1 {
		t.Errorf("Records() kept %d records, want 1", len(got))
	}
}

func TestDecode_InvalidJSON(t *testing.T) {
	if got := Decode([]byte("{not json")); len(got) != 0 {
		t.Errorf("Decode(invalid) = %v, want empty", got)
	}
	if got := Decode(nil); len(got) != 0 {
		t.Errorf("Decode(nil) = %v, want empty", got)
	}
}

package csvimport

import "testing"

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"2025-10-19", "2025-10-19", true},
		{"2025-1-5", "2025-01-05", true},
		{"2025.1.5", "2025-01-05", true},
		{"2025/12/31", "2025-12-31", true},
		{"2025.10.19 13:45", "2025-10-19", true},
		{" 2024/2/29 ", "2024-02-29", true},
		{"2025-02-30", "", false},
		{"2025-13-01", "", false},
		{"19/10/2025", "", false},
		{"yesterday", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := NormalizeDate(tt.raw)
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("NormalizeDate(%q) = %q, %v; want %q, %v", tt.raw, got, ok, tt.want, tt.wantOK)
			}
			if !ok {
				return
			}
			again, ok := NormalizeDate(got)
			if !ok || again != got {
				t.Errorf("NormalizeDate is not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw    string
		want   int64
		wantOK bool
	}{
		{"24500", 24500, true},
		{"24,500원", 24500, true},
		{"₩ 3,200", 3200, true},
		{"+500", 500, true},
		{"-3000", -3000, true},
		{"₩-1,000", -1000, true},
		{"1-2", 12, true},
		{"abc", 0, false},
		{"", 0, false},
		{"-", 0, false},
		{"99999999999999999999", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseAmount(tt.raw)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseAmount(%q) = %d, %v; want %d, %v", tt.raw, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestClassifyCategory(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		memo     string
		want     string
	}{
		{"cafe keyword", "스타벅스 커피", "", "카페/간식"},
		{"canonical passes through", "식비", "", "식비"},
		{"case insensitive", "COFFEE", "", "카페/간식"},
		{"memo fallback", "카드결제", "동네 약국", "의료/건강"},
		{"category cell wins over memo", "택시", "커피 마시러", "교통"},
		{"blank defaults", "", "", "기타"},
		{"unmatched defaults", "잡화", "", "기타"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyCategory(tt.raw, tt.memo); got != tt.want {
				t.Errorf("ClassifyCategory(%q, %q) = %q, want %q", tt.raw, tt.memo, got, tt.want)
			}
		})
	}
}

func TestCategories(t *testing.T) {
	got := Categories()
	if len(got) != 11 {
		t.Fatalf("Categories() returned %d entries, want 11", len(got))
	}
	if got[len(got)-1] != "기타" {
		t.Errorf("last category = %q, want catch-all", got[len(got)-1])
	}
}

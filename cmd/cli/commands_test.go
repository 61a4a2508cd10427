package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dvloznov/accountbook/internal/domain"
)

func TestFormatKRW(t *testing.T) {
	tests := []struct {
		amount int64
		digits string
	}{
		{0, "0"},
		{1450, "1,450"},
		{24500, "24,500"},
		{1234567, "1,234,567"},
	}
	for _, tt := range tests {
		t.Run(tt.digits, func(t *testing.T) {
			got := formatKRW(tt.amount)
			if !strings.Contains(got, tt.digits) || !strings.Contains(got, "\u20a9") {
				t.Errorf("formatKRW(%d) = %q, want %s with a won sign", tt.amount, got, tt.digits)
			}
		})
	}
}

func TestPrintLedger(t *testing.T) {
	var buf bytes.Buffer
	month, _ := domain.ParseMonth("2025-10")
	printLedger(&buf, month, []domain.LedgerEntry{
		{ID: "1", Category: "식비", Date: "2025-10-19", Amount: 24500, Note: "점심"},
		{ID: "2", Category: "교통", Date: "2025-10-20", Amount: 1450},
	})

	out := buf.String()
	for _, want := range []string{"2025-10 (2 entries)", "점심", "24,500", "Total", "25,950"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestOptionalMonth(t *testing.T) {
	m, err := optionalMonth("")
	if err != nil || m != nil {
		t.Errorf("optionalMonth(\"\") = %v, %v; want nil, nil", m, err)
	}
	m, err = optionalMonth("2025-10")
	if err != nil || m == nil || m.String() != "2025-10" {
		t.Errorf("optionalMonth(2025-10) = %v, %v", m, err)
	}
	if _, err := optionalMonth("October"); err == nil {
		t.Error("optionalMonth(October) succeeded")
	}
}

func TestCommandLineParsing(t *testing.T) {
	var parsed struct {
		Globals
		Commands
	}
	parser, err := kong.New(&parsed, kong.Name("accountbook"), kong.Exit(func(int) { t.Fatal("parser exited") }))
	if err != nil {
		t.Fatalf("kong.New() error = %v", err)
	}

	ctx, err := parser.Parse([]string{"--user", "u1", "migrate", "--month", "2025-10"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if ctx.Command() != "migrate" {
		t.Errorf("command = %q, want migrate", ctx.Command())
	}
	if parsed.User != "u1" || parsed.Migrate.Month != "2025-10" {
		t.Errorf("parsed user %q month %q", parsed.User, parsed.Migrate.Month)
	}
	if parsed.Timeout != 5*time.Minute {
		t.Errorf("timeout = %v, want default 5m", parsed.Timeout)
	}
}

package csvimport

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

var datePrefix = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})`)

// NormalizeDate accepts YYYY-M-D, YYYY.M.D or YYYY/M/D (optionally followed
// by a time) and renders zero-padded YYYY-MM-DD.
func NormalizeDate(raw string) (string, bool) {
	s := strings.NewReplacer(".", "-", "/", "-").Replace(strings.TrimSpace(raw))
	m := datePrefix.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}

	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])

	d := civil.Date{Year: year, Month: time.Month(month), Day: day}
	if !d.IsValid() {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day), true
}

// ParseAmount keeps digits and a leading minus, then parses an integer.
// It reports false when no digits remain or the value overflows.
func ParseAmount(raw string) (int64, bool) {
	var (
		digits   strings.Builder
		negative bool
		seen     bool
	)
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
			seen = true
		case r == '-' && !seen && !negative:
			negative = true
		}
	}
	if digits.Len() == 0 {
		return 0, false
	}

	n, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return 0, false
	}
	if negative {
		n = -n
	}
	return n, true
}

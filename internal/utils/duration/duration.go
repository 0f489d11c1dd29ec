// Package duration parses staff-entered durations like "1d12h" and renders them for players.
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	errs "github.com/Inpuzah/stafftools/internal/errors"
)

const DateLayout = "01/02/2006 15:04:05"

var (
	tokenPattern = regexp.MustCompile(`(\d+)([smhdw])`)
	fullPattern  = regexp.MustCompile(`^(\d+[smhdw])+$`)

	unitSeconds = map[string]int64{
		"s": 1,
		"m": 60,
		"h": 60 * 60,
		"d": 24 * 60 * 60,
		"w": 7 * 24 * 60 * 60,
	}
)

// ParseMinutes returns the duration in whole minutes, 0 meaning permanent.
// Bare numbers are minutes and partial minutes round up.
func ParseMinutes(input string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	switch s {
	case "":
		return 0, fmt.Errorf("%w: empty duration", errs.ErrInvalidInput)
	case "perm", "permanent", "0":
		return 0, nil
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%w: negative duration %q", errs.ErrInvalidInput, input)
		}
		return n, nil
	}

	if !fullPattern.MatchString(s) {
		return 0, fmt.Errorf("%w: malformed duration %q", errs.ErrInvalidInput, input)
	}
	var seconds int64
	for _, m := range tokenPattern.FindAllStringSubmatch(s, -1) {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: duration %q: %v", errs.ErrInvalidInput, input, err)
		}
		seconds += n * unitSeconds[m[2]]
	}
	if seconds == 0 {
		return 0, fmt.Errorf("%w: zero length duration %q", errs.ErrInvalidInput, input)
	}
	return (seconds + 59) / 60, nil
}

// FormatMinutes renders a punishment length, "Permanent" for zero.
func FormatMinutes(minutes int64) string {
	if minutes <= 0 {
		return "Permanent"
	}
	return Format(time.Duration(minutes) * time.Minute)
}

// Format renders d as "2 days 3 hours 5 minutes". Seconds only show up below one minute.
func Format(d time.Duration) string {
	if d < 0 {
		return "Permanent"
	}
	total := int64(d / time.Second)
	if total < 60 {
		return plural(total, "second")
	}
	days := total / 86400
	hours := total % 86400 / 3600
	minutes := total % 3600 / 60

	parts := make([]string, 0, 3)
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	return strings.Join(parts, " ")
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

package duration

import (
	"errors"
	"testing"
	"time"

	errs "github.com/Inpuzah/stafftools/internal/errors"
)

func TestParseMinutes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "perm", want: 0},
		{in: "Permanent", want: 0},
		{in: "0", want: 0},
		{in: "30", want: 30},
		{in: "30m", want: 30},
		{in: "1h30m", want: 90},
		{in: "2d", want: 2 * 24 * 60},
		{in: "1w", want: 7 * 24 * 60},
		{in: "90s", want: 2},
		{in: "1s", want: 1},
		{in: " 7d ", want: 7 * 24 * 60},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "10x", wantErr: true},
		{in: "1h foo", wantErr: true},
		{in: "0m", wantErr: true},
		{in: "-5", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseMinutes(tc.in)
		if tc.wantErr {
			if !errors.Is(err, errs.ErrInvalidInput) {
				t.Fatalf("parse %q: expected ErrInvalidInput, got %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("parse %q: got %d want %d", tc.in, got, tc.want)
		}
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   time.Duration
		want string
	}{
		{in: -1, want: "Permanent"},
		{in: 0, want: "0 seconds"},
		{in: 45 * time.Second, want: "45 seconds"},
		{in: time.Minute, want: "1 minute"},
		{in: 90 * time.Minute, want: "1 hour 30 minutes"},
		{in: 49*time.Hour + 5*time.Minute, want: "2 days 1 hour 5 minutes"},
		{in: 7 * 24 * time.Hour, want: "7 days"},
	}
	for _, tc := range cases {
		if got := Format(tc.in); got != tc.want {
			t.Fatalf("format %v: got %q want %q", tc.in, got, tc.want)
		}
	}

	if got := FormatMinutes(0); got != "Permanent" {
		t.Fatalf("unexpected permanent format: %q", got)
	}
	if got := FormatMinutes(30); got != "30 minutes" {
		t.Fatalf("unexpected minutes format: %q", got)
	}
}

package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func TestConsoleFormatterOrdersFields(t *testing.T) {
	t.Parallel()

	entry := &log.Entry{
		Logger:  log.New(),
		Level:   log.WarnLevel,
		Time:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Message: "store failed\nretrying",
		Data: log.Fields{
			"type":   "BAN",
			"object": "Engine",
			"error":  errors.New("disk full"),
			"id":     42,
		},
	}

	out, err := (&ConsoleFormatter{NoColor: true}).Format(entry)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	line := string(out)
	want := `level=WARN ts=2024-01-02 03:04:05.000 object="Engine" error="disk full" id=42 type="BAN" msg="store failed\nretrying"` + "\n"
	if line != want {
		t.Fatalf("unexpected line:\n got %q\nwant %q", line, want)
	}
	if strings.Count(line, "\n") != 1 {
		t.Fatalf("formatted entry must be a single line")
	}
}

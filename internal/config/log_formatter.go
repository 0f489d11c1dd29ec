package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	colorRed         = 31
	colorGreen       = 32
	colorYellow      = 33
	colorBlue        = 36
	colorGray        = 37
	colorLightGreen  = 92
	colorLightYellow = 93
	colorCyan        = 96
)

// ConsoleFormatter prints logrus entries as colored key=value pairs.
// The "object" field is printed first, the remaining fields in key order.
type ConsoleFormatter struct {
	NoColor bool
}

func (f *ConsoleFormatter) Format(entry *log.Entry) ([]byte, error) {
	var b strings.Builder

	b.WriteString(f.key("level"))
	b.WriteByte('=')
	b.WriteString(f.paint(levelColor(entry.Level), strings.ToUpper(entry.Level.String())[:4]))
	b.WriteByte(' ')
	b.WriteString(f.key("ts"))
	b.WriteByte('=')
	b.WriteString(f.paint(colorLightYellow, entry.Time.Format("2006-01-02 15:04:05.000")))

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == "object" || keys[j] == "object" {
			return keys[i] == "object"
		}
		return keys[i] < keys[j]
	})

	for _, k := range keys {
		s := renderValue(entry.Data[k])
		if s == "" {
			continue
		}
		valueColor := colorCyan
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			valueColor = colorGreen
		} else if strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"") {
			valueColor = colorLightYellow
		}
		b.WriteByte(' ')
		b.WriteString(f.key(k))
		b.WriteByte('=')
		b.WriteString(f.paint(valueColor, s))
	}

	b.WriteByte(' ')
	b.WriteString(f.key("msg"))
	b.WriteByte('=')
	b.WriteString(f.paint(colorLightGreen, strconv.Quote(entry.Message)))

	output := strings.NewReplacer("\r", "\\r", "\n", "\\n").Replace(b.String())
	return []byte(output + "\n"), nil
}

func (f *ConsoleFormatter) key(k string) string {
	return f.paint(colorCyan, k)
}

func (f *ConsoleFormatter) paint(color int, s string) string {
	if f.NoColor {
		return s
	}
	return fmt.Sprintf("\x1b[%dm%s\x1b[0m", color, s)
}

func levelColor(level log.Level) int {
	switch level {
	case log.DebugLevel, log.TraceLevel:
		return colorGray
	case log.WarnLevel:
		return colorYellow
	case log.ErrorLevel, log.FatalLevel, log.PanicLevel:
		return colorRed
	default:
		return colorBlue
	}
}

func renderValue(val any) string {
	if err, ok := val.(error); ok {
		return strconv.Quote(err.Error())
	}
	if m, err := json.Marshal(val); err == nil {
		return string(m)
	}
	return ""
}

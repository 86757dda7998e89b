package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"
)

// maxAttrRunes caps free-text attributes (queries, model output) so one
// log line stays readable.
const maxAttrRunes = 300

func NewJSONLogger(service, level string) *slog.Logger {
	return newJSONLogger(os.Stdout, service, level)
}

func newJSONLogger(w io.Writer, service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: replaceAttr,
	})
	return slog.New(handler).With("service", service)
}

func replaceAttr(_ []string, attr slog.Attr) slog.Attr {
	switch attr.Value.Kind() {
	case slog.KindDuration:
		return slog.Float64(attr.Key+"_ms", float64(attr.Value.Duration())/float64(time.Millisecond))
	case slog.KindString:
		s := attr.Value.String()
		if utf8.RuneCountInString(s) > maxAttrRunes {
			runes := []rune(s)
			return slog.String(attr.Key, string(runes[:maxAttrRunes])+"...")
		}
	}
	return attr
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

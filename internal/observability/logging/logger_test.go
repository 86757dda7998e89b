package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestJSONLoggerAddsServiceAndConvertsDurations(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf, "rag-api", "info")

	logger.Info("episode_finished", "elapsed", 1500*time.Millisecond, "iterations", 2)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["service"] != "rag-api" || line["msg"] != "episode_finished" {
		t.Fatalf("unexpected log line: %v", line)
	}
	if line["elapsed_ms"] != 1500.0 {
		t.Fatalf("expected elapsed_ms 1500, got %v", line["elapsed_ms"])
	}
}

func TestJSONLoggerTruncatesLongStrings(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf, "rag-api", "info")

	logger.Warn("review_unparseable", "output", strings.Repeat("x", 1000))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	output, _ := line["output"].(string)
	if len(output) != maxAttrRunes+3 || !strings.HasSuffix(output, "...") {
		t.Fatalf("expected truncated output, got %d chars", len(output))
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf, "rag-api", "warn")

	logger.Info("state_transition")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at warn level, got %s", buf.String())
	}
	if parseLevel("DEBUG") != -4 {
		t.Fatalf("expected debug level")
	}
}

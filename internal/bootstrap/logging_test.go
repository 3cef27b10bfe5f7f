package bootstrap

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

// TestNewLoggerLevels checks level parsing and JSON output.
func TestNewLoggerLevels(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for name, want := range cases {
		if got := parseLevel(name); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", name, got, want)
		}
	}

	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown", "job_id", "abc")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if record["msg"] != "shown" || record["job_id"] != "abc" {
		t.Fatalf("record = %v", record)
	}
}

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewComponentLogger(New(&buf, "info", "json"), "sttpool")
	logger.Debug("hidden")
	logger.Info("pool_ready", "workers", 4)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["msg"] != "pool_ready" || entry["component"] != "sttpool" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestNewTextFallback(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "debug", "yaml").Debug("call_finished", "call_sid", "CA1")
	if !strings.Contains(buf.String(), "msg=call_finished") || !strings.Contains(buf.String(), "call_sid=CA1") {
		t.Fatalf("expected text output, got %q", buf.String())
	}
}

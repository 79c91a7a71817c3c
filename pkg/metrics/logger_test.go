package metrics

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerObserverWritesSortedTags(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := NewMultiObserver(nil, NewLoggerObserver(log))

	obs.RecordEvent(MetricsEvent{
		Name:  EventStageLatency,
		Value: 42,
		Tags:  map[string]string{"stage": "stt", "call_sid": "CA1"},
	})
	line := buf.String()
	if !strings.Contains(line, "msg=metric_stage_latency") || !strings.Contains(line, "value=42") {
		t.Fatalf("unexpected line: %s", line)
	}
	if strings.Index(line, "call_sid=CA1") > strings.Index(line, "stage=stt") {
		t.Fatalf("expected tags in key order: %s", line)
	}

	buf.Reset()
	quiet := NewLoggerObserver(slog.New(slog.NewTextHandler(&buf, nil)))
	quiet.RecordEvent(MetricsEvent{Name: EventBargeIn})
	if buf.Len() != 0 {
		t.Fatalf("debug events must be skipped at info level: %s", buf.String())
	}
}

package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestTimelineObserverWritesPerCallJSONL(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)

	obs.RecordEvent(MetricsEvent{Name: EventStageLatency, Time: time.Now(), Value: 42, Tags: map[string]string{"call_sid": "CA1", "stage": "transcribe"}})
	obs.RecordEvent(MetricsEvent{Name: EventBargeIn, Time: time.Now(), Tags: map[string]string{"call_sid": "CA/2"}})
	obs.RecordEvent(MetricsEvent{Name: EventActiveCalls, Time: time.Now(), Value: 3})
	obs.RecordEvent(MetricsEvent{Name: EventCallEnded, Time: time.Now(), Tags: map[string]string{"call_sid": "CA1", "status": "completed"}})

	b, err := os.ReadFile(filepath.Join(dir, "CA1.jsonl"))
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], `"stage":"transcribe"`) || !strings.Contains(lines[1], EventCallEnded) {
		t.Fatalf("unexpected trace: %s", b)
	}
	obs.mu.Lock()
	_, open := obs.files["CA1"]
	obs.mu.Unlock()
	if open {
		t.Fatalf("expected trace closed after call end")
	}
	if _, err := os.Stat(filepath.Join(dir, "CA_2.jsonl")); err != nil {
		t.Fatalf("expected sanitized file name: %v", err)
	}
	if err := obs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Fatalf("events without call_sid must not create files, got %d", len(entries))
	}
}

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPrometheusObserverExportsEvents(t *testing.T) {
	p := NewPrometheusObserver("voicedesk")
	p.RecordEvent(MetricsEvent{Name: EventPoolBusy, Time: time.Now(), Value: 2})
	p.RecordEvent(MetricsEvent{Name: EventStageLatency, Value: 120, Tags: map[string]string{"stage": "transcribe"}})
	p.RecordEvent(MetricsEvent{Name: EventPipelineRun, Tags: map[string]string{"outcome": "interrupted"}})
	p.RecordEvent(MetricsEvent{Name: "ignored"})

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)
	for _, want := range []string{
		"voicedesk_stt_pool_busy_workers 2",
		`voicedesk_stage_latency_ms_count{stage="transcribe"} 1`,
		`voicedesk_pipeline_runs_total{outcome="interrupted"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}

func TestSamplingObserverKeepsEveryNth(t *testing.T) {
	mem := NewMemoryObserver()
	s := NewSamplingObserver(mem, 0.25)
	for i := 0; i < 8; i++ {
		s.RecordEvent(MetricsEvent{Name: EventVADFrame})
	}
	if got := mem.Count(EventVADFrame); got != 2 {
		t.Fatalf("expected 2 sampled events, got %d", got)
	}
}

func TestAsyncObserverDelivers(t *testing.T) {
	mem := NewMemoryObserver()
	a := NewAsyncObserver(mem, 8)
	a.RecordEvent(MetricsEvent{Name: EventBargeIn})
	a.Close()
	deadline := time.Now().Add(time.Second)
	for mem.Count(EventBargeIn) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if mem.Count(EventBargeIn) != 1 {
		t.Fatalf("expected event delivered")
	}
	a.RecordEvent(MetricsEvent{Name: EventBargeIn})
}

package metrics

import "time"

// Event names recorded by the call engine.
const (
	EventPoolAcquire  = "stt_pool_acquire"
	EventPoolRelease  = "stt_pool_release"
	EventPoolBusy     = "stt_pool_busy"
	EventPoolDegraded = "stt_pool_degraded"
	EventStageLatency = "stage_latency"
	EventPipelineRun  = "pipeline_run"
	EventBargeIn      = "barge_in"
	EventActiveCalls  = "active_calls"
	EventCallEnded    = "call_ended"
	EventVADFrame     = "vad_frame"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

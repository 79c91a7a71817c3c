package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusObserver maps engine events onto Prometheus instruments.
type PrometheusObserver struct {
	registry *prometheus.Registry

	poolBusy     prometheus.Gauge
	poolWait     prometheus.Histogram
	poolHold     prometheus.Histogram
	poolDegraded prometheus.Counter
	stageLatency *prometheus.HistogramVec
	pipelineRuns *prometheus.CounterVec
	bargeIns     prometheus.Counter
	activeCalls  prometheus.Gauge
	callsEnded   *prometheus.CounterVec
	vadFrames    *prometheus.CounterVec
}

func NewPrometheusObserver(namespace string) *PrometheusObserver {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	latencyBuckets := []float64{50, 100, 200, 400, 700, 1000, 1500, 2500, 5000, 10000}
	return &PrometheusObserver{
		registry: reg,
		poolBusy: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stt_pool_busy_workers",
			Help:      "Transcription workers currently checked out.",
		}),
		poolWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stt_pool_acquire_wait_ms",
			Help:      "Time spent waiting for a transcription worker in milliseconds.",
			Buckets:   []float64{0, 1, 5, 20, 100, 500, 1000, 5000},
		}),
		poolHold: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stt_pool_hold_ms",
			Help:      "Time a transcription worker was held in milliseconds.",
			Buckets:   latencyBuckets,
		}),
		poolDegraded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_pool_degraded_total",
			Help:      "Acquisitions that outlasted the acquire timeout.",
		}),
		stageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Pipeline stage latency in milliseconds.",
			Buckets:   latencyBuckets,
		}, []string{"stage"}),
		pipelineRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		bargeIns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_in_total",
			Help:      "Caller speech detected while the agent was speaking.",
		}),
		activeCalls: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Calls currently held in the session registry.",
		}),
		callsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_ended_total",
			Help:      "Calls by terminal status.",
		}, []string{"status"}),
		vadFrames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vad_frames_sampled_total",
			Help:      "Sampled inbound frames by classification.",
		}, []string{"class"}),
	}
}

func (p *PrometheusObserver) RecordEvent(ev MetricsEvent) {
	switch ev.Name {
	case EventPoolBusy:
		p.poolBusy.Set(ev.Value)
	case EventPoolAcquire:
		p.poolWait.Observe(ev.Value)
	case EventPoolRelease:
		p.poolHold.Observe(ev.Value)
	case EventPoolDegraded:
		p.poolDegraded.Inc()
	case EventStageLatency:
		p.stageLatency.WithLabelValues(tag(ev, "stage")).Observe(ev.Value)
	case EventPipelineRun:
		p.pipelineRuns.WithLabelValues(tag(ev, "outcome")).Inc()
	case EventBargeIn:
		p.bargeIns.Inc()
	case EventActiveCalls:
		p.activeCalls.Set(ev.Value)
	case EventCallEnded:
		p.callsEnded.WithLabelValues(tag(ev, "status")).Inc()
	case EventVADFrame:
		p.vadFrames.WithLabelValues(tag(ev, "class")).Inc()
	}
}

// Handler serves the observer's registry in the Prometheus text format.
func (p *PrometheusObserver) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests and custom exporters.
func (p *PrometheusObserver) Gatherer() prometheus.Gatherer {
	return p.registry
}

func tag(ev MetricsEvent, key string) string {
	if v := ev.Tags[key]; v != "" {
		return v
	}
	return "unknown"
}

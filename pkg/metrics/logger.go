package metrics

import (
	"context"
	"log/slog"
	"maps"
	"slices"
)

// LoggerObserver writes each event as a debug log line named after the
// event. Tags are logged in key order so lines diff cleanly.
type LoggerObserver struct {
	log *slog.Logger
}

func NewLoggerObserver(log *slog.Logger) *LoggerObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerObserver{log: log}
}

func (o *LoggerObserver) RecordEvent(ev MetricsEvent) {
	ctx := context.Background()
	if !o.log.Enabled(ctx, slog.LevelDebug) {
		return
	}
	attrs := make([]slog.Attr, 0, 1+len(ev.Tags)+len(ev.Fields))
	if ev.Value != 0 {
		attrs = append(attrs, slog.Float64("value", ev.Value))
	}
	for _, k := range slices.Sorted(maps.Keys(ev.Tags)) {
		attrs = append(attrs, slog.String(k, ev.Tags[k]))
	}
	for _, k := range slices.Sorted(maps.Keys(ev.Fields)) {
		attrs = append(attrs, slog.Any(k, ev.Fields[k]))
	}
	o.log.LogAttrs(ctx, slog.LevelDebug, "metric_"+ev.Name, attrs...)
}

// MultiObserver fans an event out to several observers.
type MultiObserver struct {
	list []Observer
}

func NewMultiObserver(list ...Observer) *MultiObserver {
	return &MultiObserver{list: list}
}

func (m *MultiObserver) RecordEvent(ev MetricsEvent) {
	for _, obs := range m.list {
		if obs != nil {
			obs.RecordEvent(ev)
		}
	}
}

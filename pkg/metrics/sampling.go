package metrics

import (
	"math"
	"sync/atomic"
)

// SamplingObserver forwards one in every n events. Detector frame events
// arrive fifty times a second per call; this keeps a trickle of them.
type SamplingObserver struct {
	inner Observer
	every uint64
	seen  atomic.Uint64
}

// NewSamplingObserver keeps roughly rate of the events. A rate of zero or
// less drops everything.
func NewSamplingObserver(inner Observer, rate float64) *SamplingObserver {
	var every uint64
	switch {
	case rate <= 0:
	case rate >= 1:
		every = 1
	default:
		every = max(uint64(math.Round(1/rate)), 1)
	}
	return &SamplingObserver{inner: inner, every: every}
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	if s.every == 0 {
		return
	}
	if s.seen.Add(1)%s.every == 0 {
		s.inner.RecordEvent(ev)
	}
}

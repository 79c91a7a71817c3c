package postcall

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/voicedesk/pkg/callstate"
	"github.com/harunnryd/voicedesk/pkg/errorsx"
	"github.com/harunnryd/voicedesk/pkg/metrics"
	"github.com/harunnryd/voicedesk/pkg/redact"
	"github.com/harunnryd/voicedesk/pkg/resilience"
)

type Options struct {
	Recorder       Recorder
	Publisher      Publisher
	Retry          resilience.RetryPolicy
	QueueSize      int
	Timeout        time.Duration
	DefaultPersona string
	Observer       metrics.Observer
	Logger         *slog.Logger
}

// Processor runs post-call work off the media path.
type Processor struct {
	registry *callstate.Registry
	opts     Options
	queue    chan string
	wg       sync.WaitGroup
	once     sync.Once
	mu       sync.RWMutex
	closed   bool
}

func NewProcessor(registry *callstate.Registry, opts Options) *Processor {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.Backoff == 0 {
		opts.Retry = resilience.NewRetryPolicy(2, 500*time.Millisecond)
	}
	if opts.Observer == nil {
		opts.Observer = metrics.NoopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Processor{registry: registry, opts: opts, queue: make(chan string, opts.QueueSize)}
}

// Start launches the worker loop. It returns immediately.
func (p *Processor) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for callID := range p.queue {
			_ = p.Process(ctx, callID)
		}
	}()
}

// Submit queues callID for processing. When the queue is full or closed the
// session is evicted straight away so it cannot leak.
func (p *Processor) Submit(callID string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.closed {
		select {
		case p.queue <- callID:
			return
		default:
		}
	}
	p.opts.Logger.Warn("postcall_queue_full", "call_sid", callID)
	p.registry.Remove(callID)
}

// Process finishes one call synchronously. Unknown calls are ignored.
func (p *Processor) Process(ctx context.Context, callID string) error {
	s, ok := p.registry.Get(callID)
	if !ok {
		return nil
	}
	defer p.registry.Remove(callID)
	if !s.Status().IsTerminal() {
		_, _ = p.registry.MarkCompleted(callID)
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	rec := NewRecord(s, p.opts.DefaultPersona)
	log := p.opts.Logger.With("call_sid", callID, "status", rec.Status)
	retry := p.opts.Retry
	retry.OnRetry = func(attempt int, err error) {
		log.Warn("postcall_retry", "attempt", attempt, "error", err.Error())
	}
	var firstErr error
	if p.opts.Recorder != nil {
		err := retry.DoContext(ctx, func(ctx context.Context) error {
			return p.opts.Recorder.SaveCall(ctx, rec)
		})
		if err != nil {
			err = errorsx.Wrap(err, errorsx.ReasonStoreWrite)
			log.Error("postcall_store_failed", "error", err.Error(), "reason_code", string(errorsx.Reason(err)))
			firstErr = err
		}
	}
	if p.opts.Publisher != nil {
		err := retry.DoContext(ctx, func(ctx context.Context) error {
			return p.opts.Publisher.PublishCallCompleted(ctx, rec)
		})
		if err != nil {
			err = errorsx.Wrap(err, errorsx.ReasonEventPublish)
			log.Error("postcall_publish_failed", "error", err.Error(), "reason_code", string(errorsx.Reason(err)))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	p.opts.Observer.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventCallEnded,
		Time:  time.Now(),
		Value: rec.DurationSeconds,
		Tags:  map[string]string{"status": rec.Status, "call_sid": callID},
	})
	log.Info("call_finished",
		"duration_s", rec.DurationSeconds,
		"turns", len(rec.Turns),
		"caller", redact.Number(rec.CallerNumber),
	)
	return firstErr
}

// Close stops accepting work and waits for queued calls to finish.
func (p *Processor) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
	})
	p.wg.Wait()
}

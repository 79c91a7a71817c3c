// Package sttpool shares a fixed set of transcription engines between calls.
//
// Idle workers sit in a buffered channel. Acquire receives from it and
// Release sends back, so at most Size workers are ever checked out. Callers
// that have to wait are served in arrival order: the runtime queues blocked
// receivers FIFO and hands a released worker straight to the oldest one.
package sttpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/voicedesk/pkg/adapters/stt"
	"github.com/harunnryd/voicedesk/pkg/errorsx"
	"github.com/harunnryd/voicedesk/pkg/metrics"
)

var ErrClosed = errors.New("transcription pool closed")

type Config struct {
	Workers int `mapstructure:"workers"`
	// AcquireTimeout is how long Acquire waits before it logs the pool as
	// exhausted. It keeps waiting afterwards.
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}
	return c
}

type worker struct {
	index  int
	engine stt.Transcriber
	busy   atomic.Bool

	mu    sync.Mutex
	count int64
	total time.Duration
}

// WorkerStats is a point-in-time view of one worker.
type WorkerStats struct {
	Index        int           `json:"index"`
	Engine       string        `json:"engine"`
	Busy         bool          `json:"busy"`
	Inferences   int64         `json:"inferences"`
	TotalLatency time.Duration `json:"total_latency_ns"`
	AvgLatency   time.Duration `json:"avg_latency_ns"`
}

type Pool struct {
	cfg     Config
	workers []*worker
	free    chan *worker
	closed  atomic.Bool
	waiting atomic.Int64
	obs     metrics.Observer
	log     *slog.Logger
}

// New builds a pool of cfg.Workers engines using factory. A factory error
// closes every engine built so far.
func New(cfg Config, factory stt.Factory) (*Pool, error) {
	cfg = cfg.withDefaults()
	if factory == nil {
		return nil, errors.New("sttpool: factory is required")
	}
	p := &Pool{
		cfg:  cfg,
		free: make(chan *worker, cfg.Workers),
		obs:  metrics.NoopObserver{},
		log:  slog.Default(),
	}
	for i := 0; i < cfg.Workers; i++ {
		engine, err := factory(i)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("sttpool: build worker %d: %w", i, err)
		}
		w := &worker{index: i, engine: engine}
		p.workers = append(p.workers, w)
		p.free <- w
	}
	return p, nil
}

func (p *Pool) SetObserver(obs metrics.Observer) {
	if obs != nil {
		p.obs = obs
	}
}

func (p *Pool) SetLogger(logger *slog.Logger) {
	if logger != nil {
		p.log = logger
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Busy returns the number of workers currently checked out.
func (p *Pool) Busy() int {
	n := 0
	for _, w := range p.workers {
		if w.busy.Load() {
			n++
		}
	}
	return n
}

// Handle is exclusive use of one worker until Release.
type Handle struct {
	pool       *Pool
	w          *worker
	acquiredAt time.Time
	released   atomic.Bool
}

// Index identifies the worker behind the handle.
func (h *Handle) Index() int { return h.w.index }

// Engine returns the worker's transcriber.
func (h *Handle) Engine() stt.Transcriber { return h.w.engine }

// Release returns the worker to the pool. Only the first call has effect.
func (h *Handle) Release() { h.pool.Release(h) }

// Acquire checks out an idle worker. When none is free it waits; past
// AcquireTimeout the wait is logged as degraded and continues until a worker
// frees up or ctx ends.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	if p.closed.Load() {
		return nil, errorsx.Wrap(ErrClosed, errorsx.ReasonSTTPoolAcquire)
	}
	start := time.Now()
	select {
	case w := <-p.free:
		return p.claim(w, start), nil
	default:
	}

	p.waiting.Add(1)
	defer p.waiting.Add(-1)

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()
	select {
	case w := <-p.free:
		return p.claim(w, start), nil
	case <-ctx.Done():
		return nil, errorsx.Wrap(ctx.Err(), errorsx.ReasonSTTPoolAcquire)
	case <-timer.C:
	}

	p.log.Warn("stt_pool_acquire_degraded",
		"workers", len(p.workers),
		"waiting", p.waiting.Load(),
		"waited_ms", time.Since(start).Milliseconds(),
		"reason_code", string(errorsx.ReasonSTTPoolAcquire),
	)
	p.obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventPoolDegraded, Time: time.Now(), Value: 1})

	select {
	case w := <-p.free:
		return p.claim(w, start), nil
	case <-ctx.Done():
		return nil, errorsx.Wrap(ctx.Err(), errorsx.ReasonSTTPoolAcquire)
	}
}

func (p *Pool) claim(w *worker, start time.Time) *Handle {
	w.busy.Store(true)
	now := time.Now()
	p.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventPoolAcquire,
		Time:  now,
		Value: float64(now.Sub(start).Milliseconds()),
		Tags:  map[string]string{"worker": strconv.Itoa(w.index)},
	})
	p.recordBusy(now)
	return &Handle{pool: p, w: w, acquiredAt: now}
}

// Release frees the worker behind h and records how long it was held.
func (p *Pool) Release(h *Handle) {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}
	w := h.w
	held := time.Since(h.acquiredAt)
	w.mu.Lock()
	w.count++
	w.total += held
	w.mu.Unlock()
	w.busy.Store(false)
	p.free <- w

	now := time.Now()
	p.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventPoolRelease,
		Time:  now,
		Value: float64(held.Milliseconds()),
		Tags:  map[string]string{"worker": strconv.Itoa(w.index)},
	})
	p.recordBusy(now)
}

func (p *Pool) recordBusy(now time.Time) {
	p.obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventPoolBusy, Time: now, Value: float64(p.Busy())})
}

// Transcribe runs wav through the next free worker. The worker is released
// on every path out, panics included.
func (p *Pool) Transcribe(ctx context.Context, wav []byte) (string, error) {
	h, err := p.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer h.Release()
	text, err := h.w.engine.Transcribe(ctx, wav)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonSTTTranscribe)
	}
	return strings.TrimSpace(text), nil
}

// Stats returns per-worker usage.
func (p *Pool) Stats() []WorkerStats {
	out := make([]WorkerStats, 0, len(p.workers))
	for _, w := range p.workers {
		w.mu.Lock()
		st := WorkerStats{
			Index:        w.index,
			Engine:       w.engine.Name(),
			Busy:         w.busy.Load(),
			Inferences:   w.count,
			TotalLatency: w.total,
		}
		if w.count > 0 {
			st.AvgLatency = w.total / time.Duration(w.count)
		}
		w.mu.Unlock()
		out = append(out, st)
	}
	return out
}

// Close stops new acquisitions and closes engines that hold resources.
// Handles already out may still be released.
func (p *Pool) Close() error {
	p.closed.Store(true)
	var errs []error
	for _, w := range p.workers {
		if c, ok := w.engine.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

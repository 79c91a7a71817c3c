// Package voicedesk wires the call engine from a config file: carrier
// server, transcription pool, reply generator, synthesizer and post-call
// processing.
package voicedesk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/harunnryd/voicedesk/pkg/adapters/tts"
	"github.com/harunnryd/voicedesk/pkg/business"
	"github.com/harunnryd/voicedesk/pkg/callstate"
	"github.com/harunnryd/voicedesk/pkg/configutil"
	"github.com/harunnryd/voicedesk/pkg/events/kafka"
	"github.com/harunnryd/voicedesk/pkg/llm"
	"github.com/harunnryd/voicedesk/pkg/logging"
	"github.com/harunnryd/voicedesk/pkg/metrics"
	"github.com/harunnryd/voicedesk/pkg/postcall"
	"github.com/harunnryd/voicedesk/pkg/redact"
	"github.com/harunnryd/voicedesk/pkg/resilience"
	"github.com/harunnryd/voicedesk/pkg/runner"
	"github.com/harunnryd/voicedesk/pkg/storage/postgres"
	"github.com/harunnryd/voicedesk/pkg/sttpool"
	"github.com/harunnryd/voicedesk/pkg/transports/twilio"
)

type Engine struct {
	cfg       Config
	logger    *slog.Logger
	registry  *callstate.Registry
	pool      *sttpool.Pool
	server    *twilio.Server
	processor *postcall.Processor
	publisher *kafka.Publisher
	store     *postgres.Store
	asyncObs  *metrics.AsyncObserver
	timeline  *metrics.TimelineObserver
	runner    *runner.LifecycleRunner
	cancel    context.CancelFunc
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	// Directory overrides directory.provider. Optional.
	Directory business.Directory
	Logger    *slog.Logger
	// Quiet suppresses the startup banner.
	Quiet bool
}

func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = logging.Setup(cfg.LogLevel, cfg.LogFormat)
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)

	logger.Info("voicedesk_init",
		"environment", cfg.Environment,
		"llm_provider", cfg.Vendors.LLM.Provider,
		"stt_provider", cfg.Vendors.STT.Provider,
		"tts_provider", cfg.Vendors.TTS.Provider,
		"directory", cfg.Directory.Provider,
		"stt_workers", cfg.PoolConfig().Workers,
	)

	e := &Engine{cfg: cfg, logger: logger, registry: callstate.NewRegistry()}
	ok := false
	defer func() {
		if !ok {
			e.closeResources()
		}
	}()

	var prom *metrics.PrometheusObserver
	obsList := []metrics.Observer{metrics.NewLoggerObserver(logging.NewComponentLogger(logger, "metrics"))}
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheusObserver(cfg.Metrics.Namespace)
		obsList = append(obsList, prom)
	}
	if dir := strings.TrimSpace(cfg.Metrics.TimelineDir); dir != "" {
		e.timeline = metrics.NewTimelineObserver(dir)
		obsList = append(obsList, e.timeline)
	}
	e.asyncObs = metrics.NewAsyncObserver(metrics.NewMultiObserver(obsList...), 2048)
	frameObs := metrics.NewSamplingObserver(e.asyncObs, cfg.Metrics.FrameSampleRate)

	providers := opts.Providers
	if providers == nil {
		providers = NewProviderRegistry()
		RegisterDefaultProviders(providers)
	}

	if url := strings.TrimSpace(cfg.Storage.DatabaseURL); url != "" {
		store, err := postgres.NewStore(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		e.store = store
	}
	directory, err := e.buildDirectory(ctx, opts.Directory)
	if err != nil {
		return nil, err
	}

	factory, err := providers.BuildSTTFactory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	e.pool, err = sttpool.New(cfg.PoolConfig(), factory)
	if err != nil {
		return nil, fmt.Errorf("build stt pool: %w", err)
	}
	e.pool.SetObserver(e.asyncObs)
	e.pool.SetLogger(logging.NewComponentLogger(logger, "sttpool"))

	adapter, err := providers.BuildLLM(ctx, cfg)
	if err != nil {
		return nil, err
	}
	generator := llm.NewGenerator(adapter, llm.GeneratorOptions{
		MaxTokens:      cfg.Agent.MaxTokens,
		Temperature:    cfg.Agent.Temperature,
		MaxHistory:     cfg.Agent.MaxHistory,
		DefaultPersona: cfg.Agent.DefaultPersona,
		Limit: llm.ReplyLimit{
			MaxSentences: cfg.Agent.MaxReplySentences,
			MaxChars:     cfg.Agent.MaxReplyChars,
		},
	})

	var synthesizer tts.Synthesizer
	synthesizer, err = providers.BuildTTS(ctx, cfg)
	if err != nil {
		return nil, err
	}

	e.publisher = kafka.New(cfg.Events.Kafka, logging.NewComponentLogger(logger, "kafka"))
	pcOpts := postcall.Options{
		Publisher:      e.publisher,
		Retry:          resilience.NewRetryPolicy(cfg.PostCall.Retries, configutil.Millis(cfg.PostCall.RetryBackoffMS, 500*time.Millisecond)),
		QueueSize:      cfg.PostCall.QueueSize,
		Timeout:        configutil.Millis(cfg.PostCall.TimeoutMS, 15*time.Second),
		DefaultPersona: cfg.Agent.DefaultPersona,
		Observer:       e.asyncObs,
		Logger:         logging.NewComponentLogger(logger, "postcall"),
	}
	if e.store != nil {
		pcOpts.Recorder = e.store
	}
	e.processor = postcall.NewProcessor(e.registry, pcOpts)

	twilioCfg, err := cfg.TwilioConfig()
	if err != nil {
		return nil, err
	}
	serverOpts := twilio.ServerOptions{
		Pool:         e.pool,
		OnUnstreamed: e.processor.Submit,
	}
	if prom != nil {
		serverOpts.MetricsPath = cfg.Metrics.Path
		serverOpts.MetricsHandler = prom.Handler()
	}
	e.server = twilio.NewServer(twilioCfg, twilio.Deps{
		Registry:      e.registry,
		Directory:     directory,
		Transcriber:   e.pool,
		Generator:     generator,
		Synthesizer:   synthesizer,
		Turn:          cfg.TurnDetector(),
		Pipeline:      cfg.MediaPipeline(),
		Observer:      e.asyncObs,
		FrameObserver: frameObs,
		Logger:        logging.NewComponentLogger(logger, "twilio"),
		OnClosed:      e.processor.Submit,
	}, serverOpts)

	e.runner = runner.NewLifecycleRunner(runner.DrainerFunc(e.drain), runner.Hooks{
		OnStart: func() {
			fields := []any{"message", "voicedesk ready"}
			for k, v := range e.server.ReadyFields() {
				fields = append(fields, k, v)
			}
			logger.Info("engine_ready", fields...)
		},
		OnStop: func() {
			e.closeResources()
			logger.Info("shutdown", "goroutines", runtime.NumGoroutine(), "active_calls", e.registry.Count())
		},
	}, configutil.Millis(cfg.ShutdownTimeoutMS, 30*time.Second))
	e.runner.SetBanner(!opts.Quiet)

	ok = true
	return e, nil
}

func (e *Engine) buildDirectory(ctx context.Context, override business.Directory) (business.Directory, error) {
	if override != nil {
		return override, nil
	}
	if !strings.EqualFold(e.cfg.Directory.Provider, "postgres") {
		return business.NewStaticDirectory(e.cfg.Directory.Numbers), nil
	}
	if e.store == nil {
		return nil, errors.New("directory.provider postgres needs storage.database_url")
	}
	for _, entry := range e.cfg.Directory.Numbers {
		if err := e.store.Upsert(ctx, entry.Config()); err != nil {
			return nil, fmt.Errorf("seed number %s: %w", redact.Number(entry.Number), err)
		}
	}
	return e.store, nil
}

// Start serves the carrier endpoints and post-call worker until ctx ends or
// Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.processor.Start(context.WithoutCancel(ctx))
	if err := e.server.Start(ctx); err != nil {
		return err
	}
	go func() {
		if err := e.runner.Run(ctx); err != nil {
			e.logger.Warn("engine_stop_error", "error", err.Error())
		}
	}()
	return nil
}

// Stop drains live calls and releases resources.
func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	return e.runner.Stop()
}

func (e *Engine) drain(ctx context.Context) error {
	e.registry.SetDraining(true)
	e.logger.Info("drain_started", "active_calls", e.registry.Count())
	err := e.server.Shutdown(ctx)
	if !e.registry.WaitForEmpty(ctx, 100*time.Millisecond) && err == nil {
		err = ctx.Err()
	}
	e.processor.Close()
	return err
}

func (e *Engine) closeResources() {
	if e.pool != nil {
		if err := e.pool.Close(); err != nil {
			e.logger.Warn("stt_pool_close_failed", "error", err.Error())
		}
	}
	if e.publisher != nil {
		_ = e.publisher.Close()
	}
	if e.store != nil {
		_ = e.store.Close()
	}
	if e.asyncObs != nil {
		e.asyncObs.Close()
	}
	if e.timeline != nil {
		_ = e.timeline.Close()
	}
}

// Handler exposes the HTTP surface, mainly for tests.
func (e *Engine) Handler() http.Handler { return e.server.Handler() }

func (e *Engine) Registry() *callstate.Registry { return e.registry }

func (e *Engine) Config() Config { return e.cfg }

// Server returns the carrier server, which also ends calls over REST.
func (e *Engine) Server() *twilio.Server { return e.server }

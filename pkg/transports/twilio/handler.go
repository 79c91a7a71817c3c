package twilio

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/harunnryd/voicedesk/pkg/adapters/tts"
	"github.com/harunnryd/voicedesk/pkg/audio"
	"github.com/harunnryd/voicedesk/pkg/business"
	"github.com/harunnryd/voicedesk/pkg/callstate"
	"github.com/harunnryd/voicedesk/pkg/errorsx"
	"github.com/harunnryd/voicedesk/pkg/lexicon"
	"github.com/harunnryd/voicedesk/pkg/metrics"
	"github.com/harunnryd/voicedesk/pkg/redact"
	"github.com/harunnryd/voicedesk/pkg/turn"
)

// Conn is the websocket surface a MediaSession needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Transcriber turns a WAV utterance into text. sttpool.Pool implements it.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// ReplyGenerator produces the agent's next line. llm.Generator implements it.
type ReplyGenerator interface {
	Generate(ctx context.Context, history []callstate.Turn, cfg callstate.BusinessConfig) (string, error)
}

// PipelineConfig tunes per-call processing.
type PipelineConfig struct {
	MinTranscriptChars int           `mapstructure:"min_transcript_chars"`
	OutboundChunkBytes int           `mapstructure:"outbound_chunk_bytes"`
	RejectLinger       time.Duration `mapstructure:"reject_linger"`
	DefaultPersona     string        `mapstructure:"default_persona"`
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.MinTranscriptChars <= 0 {
		c.MinTranscriptChars = 2
	}
	if c.OutboundChunkBytes <= 0 {
		c.OutboundChunkBytes = 160
	}
	if c.RejectLinger <= 0 {
		c.RejectLinger = 8 * time.Second
	}
	if c.DefaultPersona == "" {
		c.DefaultPersona = callstate.DefaultPersona
	}
	return c
}

// Deps are the process-wide collaborators shared by every MediaSession.
type Deps struct {
	Registry    *callstate.Registry
	Directory   business.Directory
	Transcriber Transcriber
	Generator   ReplyGenerator
	Synthesizer tts.Synthesizer
	Turn        turn.Config
	Pipeline    PipelineConfig
	Observer    metrics.Observer
	// FrameObserver receives one event per inbound frame; wrap it in a
	// metrics.SamplingObserver. Optional.
	FrameObserver metrics.Observer
	Logger        *slog.Logger
	// EndCall hangs up a call over the carrier's REST API. Optional.
	EndCall func(callSID string) error
	// OnClosed is called once the media session has drained. Optional.
	OnClosed func(callSID string)
}

// Phase is the lifecycle of one media connection.
type Phase int32

const (
	PhaseConnecting Phase = iota
	PhaseActive
	PhaseDraining
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseActive:
		return "active"
	case PhaseDraining:
		return "draining"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MediaSession drives one Media Streams websocket. Events are handled in
// arrival order on the goroutine that calls Run; pipeline runs execute on
// their own goroutine so inbound audio keeps being classified.
type MediaSession struct {
	deps    Deps
	conn    Conn
	traceID string
	logger  *slog.Logger

	phase    atomic.Int32
	detector *turn.Detector

	// Set once by the start event, read-only afterwards.
	session   *callstate.Session
	config    callstate.BusinessConfig
	corrector *lexicon.Corrector
	streamID  string
	callID    string
	rejected  bool

	writeMu     sync.Mutex
	pendingMark atomic.Int32
	runs        sync.WaitGroup
	lingerTimer *time.Timer
}

func NewMediaSession(conn Conn, deps Deps) *MediaSession {
	deps.Pipeline = deps.Pipeline.withDefaults()
	if deps.Observer == nil {
		deps.Observer = metrics.NoopObserver{}
	}
	if deps.FrameObserver == nil {
		deps.FrameObserver = metrics.NoopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	traceID := uuid.NewString()
	return &MediaSession{
		deps:     deps,
		conn:     conn,
		traceID:  traceID,
		logger:   deps.Logger.With("trace_id", traceID),
		detector: turn.NewDetector(deps.Turn),
	}
}

// Phase returns the current lifecycle phase.
func (m *MediaSession) Phase() Phase { return Phase(m.phase.Load()) }

func (m *MediaSession) setPhase(p Phase) {
	m.phase.Store(int32(p))
}

// Run reads events until the stream stops or the connection drops, then
// drains the in-flight pipeline run and hands the call to OnClosed. Runs
// started by the stream see their context cancelled once the caller is gone;
// the tail flush and hand-off use ctx.
func (m *MediaSession) Run(ctx context.Context) {
	callCtx, hangup := context.WithCancel(ctx)
	for {
		_, data, err := m.conn.ReadMessage()
		if err != nil {
			if m.Phase() == PhaseActive {
				m.logger.Info("media_stream_disconnected", "stream_sid", m.streamID, "error", err.Error())
			}
			break
		}
		if m.handle(callCtx, data) {
			break
		}
	}
	hangup()
	m.finish(ctx)
}

// handle processes one message and reports whether the stream is over.
func (m *MediaSession) handle(ctx context.Context, data []byte) bool {
	evt, err := parseEvent(data)
	if err != nil {
		m.logger.Warn("media_event_malformed", "error", err.Error(), "reason_code", string(errorsx.ReasonProtocolMalformed))
		return false
	}
	switch evt.Event {
	case EventConnected:
		m.logger.Debug("media_stream_connected")
	case EventStart:
		m.handleStart(ctx, evt.Start)
	case EventMedia:
		m.handleMedia(ctx, evt.Media)
	case EventMark:
		return m.handleMark(evt.Mark)
	case EventStop:
		m.handleStop()
		return true
	default:
		m.logger.Debug("media_event_ignored", "event", evt.Event)
	}
	return false
}

func (m *MediaSession) handleStart(ctx context.Context, start *TwilioStart) {
	if m.Phase() != PhaseConnecting || m.callID != "" {
		m.logger.Warn("media_start_duplicate", "stream_sid", m.streamID)
		return
	}
	if start == nil {
		m.logger.Warn("media_event_malformed", "event", EventStart, "reason_code", string(errorsx.ReasonProtocolMalformed))
		return
	}
	callID := start.CallSID
	if callID == "" {
		callID = start.CustomParameters[ParamCallSID]
	}
	if callID == "" || start.StreamID == "" {
		m.logger.Warn("media_event_malformed", "event", EventStart, "reason_code", string(errorsx.ReasonProtocolMalformed))
		return
	}
	m.callID = callID
	m.streamID = start.StreamID
	m.logger = m.logger.With("call_sid", callID, "stream_sid", start.StreamID)

	callee, caller := start.numbers()
	sess, created := m.deps.Registry.GetOrCreate(callID, callee, caller)
	if created {
		m.logger.Info("session_created_on_stream", "caller", redact.Number(caller))
	}
	number := sess.CalleeNumber
	if number == "" {
		number = callee
	}

	cfg, err := business.Resolve(ctx, m.deps.Directory, number)
	if err != nil {
		m.reject(ctx, err)
		return
	}
	if err := sess.MarkAnswered(); err != nil {
		m.logger.Warn("session_answer_rejected", "status", sess.Status().String(), "error", err.Error())
		return
	}
	if err := m.deps.Registry.BindStream(start.StreamID, callID); err != nil {
		m.logger.Error("stream_bind_failed", "error", err.Error())
		return
	}
	sess.SetConfig(cfg)
	m.session = sess
	m.config = cfg
	m.corrector = lexicon.Compile(cfg.Lexicon)
	m.setPhase(PhaseActive)
	m.recordActiveCalls()
	m.logger.Info("media_stream_started", "business", cfg.BusinessName, "demo", cfg.Demo)

	if !sess.TryBeginRun() {
		return
	}
	greeting := business.Greeting(cfg, m.deps.Pipeline.DefaultPersona)
	m.runs.Add(1)
	go func() {
		defer m.runs.Done()
		defer sess.EndRun()
		defer m.recoverRun("greeting")
		sent, err := m.speak(ctx, greeting)
		if err != nil {
			m.logFailure("greeting_failed", err)
			return
		}
		if sent {
			sess.AppendTurn(callstate.RoleAssistant, greeting)
		}
	}()
}

// reject plays a refusal without binding the stream. The connection closes
// when the carrier echoes the closing mark or the linger timer fires.
func (m *MediaSession) reject(ctx context.Context, cause error) {
	reason := errorsx.ReasonConfigMissing
	if errors.Is(cause, business.ErrInactive) {
		reason = errorsx.ReasonConfigInactive
	}
	m.rejected = true
	m.logger.Warn("call_rejected", "error", cause.Error(), "reason_code", string(reason))
	if _, err := m.deps.Registry.MarkFailed(m.callID); err != nil {
		m.logger.Debug("reject_mark_failed", "error", err.Error())
	}

	m.lingerTimer = time.AfterFunc(m.deps.Pipeline.RejectLinger, func() {
		m.logger.Info("reject_linger_elapsed")
		_ = m.conn.Close()
	})

	message := business.RefusalMessage(cause)
	clip, err := m.deps.Synthesizer.Synthesize(ctx, message)
	if err != nil {
		m.logFailure("reject_message_failed", errorsx.Wrap(err, errorsx.ReasonTTSSynthesize))
		_ = m.conn.Close()
		return
	}
	if _, err := m.stream(clip, markRejectEnd); err != nil {
		m.logFailure("reject_message_failed", err)
		_ = m.conn.Close()
	}
}

func (m *MediaSession) handleMedia(ctx context.Context, media *TwilioMedia) {
	if m.Phase() != PhaseActive || m.session == nil {
		return
	}
	if m.session.Status() != callstate.StatusInProgress {
		return
	}
	if media == nil || media.Payload == "" {
		m.logger.Debug("media_event_malformed", "reason_code", string(errorsx.ReasonProtocolMalformed))
		return
	}
	if media.Track != "" && media.Track != "inbound" {
		return
	}
	payload, err := base64.StdEncoding.DecodeString(media.Payload)
	if err != nil {
		m.logger.Debug("media_payload_invalid", "error", err.Error(), "reason_code", string(errorsx.ReasonProtocolMalformed))
		return
	}
	pcm := audio.Decode(payload)
	res := m.detector.Process(pcm)
	m.recordFrame(pcm, res.Speech)
	if res.Speech && m.session.Speaking() && !m.session.InterruptPending() && m.session.RequestInterrupt() {
		m.logger.Info("barge_in_detected")
		m.deps.Observer.RecordEvent(metrics.MetricsEvent{Name: metrics.EventBargeIn, Time: time.Now(), Value: 1, Tags: m.tags()})
		if err := m.send(clearMessage(m.streamID)); err != nil {
			m.logger.Warn("clear_send_failed", "error", err.Error(), "reason_code", string(errorsx.ReasonTransportSend))
		}
	}
	if res.Discarded {
		m.logger.Debug("utterance_discarded_short")
	}
	if res.Utterance != nil {
		m.trigger(ctx, res.Utterance)
	}
}

// trigger starts a pipeline run unless one is already in flight.
func (m *MediaSession) trigger(ctx context.Context, utt *turn.Utterance) {
	sess := m.session
	if !sess.TryBeginRun() {
		m.logger.Debug("utterance_dropped_busy", "speech_ms", utt.Speech.Milliseconds())
		m.recordRun("dropped", 0)
		return
	}
	m.runs.Add(1)
	go func() {
		defer m.runs.Done()
		defer sess.EndRun()
		defer m.recoverRun("pipeline")
		m.runPipeline(ctx, utt.PCM)
	}()
}

func (m *MediaSession) runPipeline(ctx context.Context, pcm []byte) {
	started := time.Now()
	outcome := "failed"
	defer func() { m.recordRun(outcome, time.Since(started)) }()

	text, ok := m.transcribe(ctx, pcm)
	if !ok {
		outcome = "empty"
		return
	}
	sess := m.session

	sess.AppendTurn(callstate.RoleUser, text)
	m.logger.Info("user_turn", "text", redact.Text(text))

	if sess.ConsumeInterrupt() {
		outcome = "interrupted"
		m.logger.Info("pipeline_aborted", "stage", "generate")
		return
	}

	var reply string
	err := m.timed("generate", func() error {
		var err error
		reply, err = m.deps.Generator.Generate(ctx, sess.History(), m.config)
		return err
	})
	if err != nil && ctx.Err() != nil {
		outcome = "hangup"
		m.logger.Info("pipeline_aborted", "stage", "generate", "cause", "hangup")
		return
	}
	if err != nil {
		m.logFailure("pipeline_failed", errorsx.Wrap(err, errorsx.ReasonLLMGenerate))
		return
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		outcome = "empty"
		return
	}

	if sess.ConsumeInterrupt() {
		outcome = "interrupted"
		m.logger.Info("pipeline_aborted", "stage", "synthesize")
		return
	}

	sent, err := m.speak(ctx, reply)
	if err != nil && ctx.Err() != nil {
		outcome = "hangup"
		m.logger.Info("pipeline_aborted", "stage", "synthesize", "cause", "hangup")
		return
	}
	if err != nil {
		m.logFailure("pipeline_failed", err)
		return
	}
	if sent {
		sess.AppendTurn(callstate.RoleAssistant, reply)
		m.logger.Info("assistant_turn", "text", redact.Text(reply))
	}
	outcome = "completed"
	m.logger.Info("pipeline_completed", "latency_ms", time.Since(started).Milliseconds())
}

// transcribe runs the pool and lexicon stages. It reports false when the
// utterance produced nothing worth keeping.
func (m *MediaSession) transcribe(ctx context.Context, pcm []byte) (string, bool) {
	wav := audio.WrapWAV(pcm, m.detector.Config().SampleRate)
	var raw string
	err := m.timed("transcribe", func() error {
		var err error
		raw, err = m.deps.Transcriber.Transcribe(ctx, wav)
		return err
	})
	if err != nil {
		m.logFailure("pipeline_failed", errorsx.Wrap(err, errorsx.ReasonSTTTranscribe))
		return "", false
	}
	raw = strings.TrimSpace(raw)
	if utf8.RuneCountInString(raw) < m.deps.Pipeline.MinTranscriptChars {
		m.logger.Debug("transcript_too_short", "chars", utf8.RuneCountInString(raw))
		return "", false
	}
	text := m.corrector.Correct(raw)
	if text != raw {
		m.logger.Debug("transcript_corrected", "raw", redact.Text(raw), "text", redact.Text(text))
	}
	return text, true
}

// speak synthesizes text and streams it to the caller followed by a
// speech_end mark. It reports whether the whole clip was sent.
func (m *MediaSession) speak(ctx context.Context, text string) (bool, error) {
	var clip tts.Audio
	err := m.timed("synthesize", func() error {
		var err error
		clip, err = m.deps.Synthesizer.Synthesize(ctx, text)
		return err
	})
	if err != nil {
		return false, errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
	}
	return m.stream(clip, markSpeechEnd)
}

// stream encodes clip for the carrier and sends it chunk by chunk, then a
// mark named mark.
func (m *MediaSession) stream(clip tts.Audio, mark string) (bool, error) {
	ulaw, err := audio.Encode(clip.PCM, clip.SampleRate)
	if err != nil {
		return false, errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
	}
	chunks := audio.Frame(ulaw, m.deps.Pipeline.OutboundChunkBytes)
	if len(chunks) == 0 {
		return false, nil
	}
	sess := m.session
	if sess != nil {
		sess.SetSpeaking(true)
	}
	for _, chunk := range chunks {
		if err := m.send(mediaMessage(m.streamID, base64.StdEncoding.EncodeToString(chunk))); err != nil {
			if sess != nil {
				sess.SetSpeaking(false)
			}
			return false, errorsx.Wrap(err, errorsx.ReasonTransportSend)
		}
	}
	m.pendingMark.Add(1)
	if err := m.send(markMessage(m.streamID, mark)); err != nil {
		if m.pendingMark.Add(-1) <= 0 && sess != nil {
			sess.SetSpeaking(false)
		}
		return false, errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	return true, nil
}

// handleMark reports whether the echoed mark ends the connection.
func (m *MediaSession) handleMark(mark *TwilioMark) bool {
	if mark == nil {
		return false
	}
	if m.pendingMark.Add(-1) < 0 {
		m.pendingMark.Store(0)
	}
	switch mark.Name {
	case markRejectEnd:
		return m.rejected
	case markSpeechEnd:
		if m.session != nil && m.pendingMark.Load() == 0 {
			m.session.SetSpeaking(false)
			m.logger.Debug("playback_finished")
			// An interrupt from a barge-in that never became a run is
			// stale. Runs only start on this goroutine.
			if !m.session.Running() && m.session.ConsumeInterrupt() {
				m.logger.Debug("stale_interrupt_cleared")
			}
		}
	}
	return false
}

func (m *MediaSession) handleStop() {
	m.logger.Info("media_stream_stopped")
	if m.session == nil {
		return
	}
	if _, err := m.deps.Registry.MarkCompleted(m.callID); err != nil {
		m.logger.Warn("session_complete_failed", "error", err.Error())
	}
}

// finish drains the session after the read loop ends.
func (m *MediaSession) finish(ctx context.Context) {
	m.setPhase(PhaseDraining)
	if m.lingerTimer != nil {
		m.lingerTimer.Stop()
	}
	if m.rejected {
		m.finishRejected()
		return
	}
	if m.session == nil {
		m.setPhase(PhaseClosed)
		_ = m.conn.Close()
		return
	}

	if utt := m.detector.Flush(); utt != nil {
		if m.session.TryBeginRun() {
			m.recordTail(ctx, utt.PCM)
			m.session.EndRun()
		} else {
			m.logger.Debug("tail_dropped_busy")
		}
	}
	m.detector.Reset()
	m.runs.Wait()
	m.session.SetSpeaking(false)
	if !m.session.Status().IsTerminal() {
		_, _ = m.deps.Registry.MarkCompleted(m.callID)
	}

	m.setPhase(PhaseClosed)
	_ = m.conn.Close()
	m.recordActiveCalls()
	m.logger.Info("media_session_closed", "turns", len(m.session.History()))
	if m.deps.OnClosed != nil {
		m.deps.OnClosed(m.callID)
	}
}

// recordTail keeps the last words of a caller who hung up mid-sentence.
func (m *MediaSession) recordTail(ctx context.Context, pcm []byte) {
	defer m.recoverRun("tail")
	text, ok := m.transcribe(ctx, pcm)
	if !ok {
		return
	}
	m.session.AppendTurn(callstate.RoleUser, text)
	m.logger.Info("user_turn_tail", "text", redact.Text(text))
}

func (m *MediaSession) finishRejected() {
	m.setPhase(PhaseClosed)
	_ = m.conn.Close()
	if m.deps.EndCall != nil {
		if err := m.deps.EndCall(m.callID); err != nil {
			m.logger.Warn("reject_hangup_failed", "error", err.Error())
		}
	}
	m.deps.Registry.Remove(m.callID)
	m.logger.Info("media_session_closed", "rejected", true)
}

func (m *MediaSession) send(evt TwilioEvent) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.conn.WriteMessage(websocket.TextMessage, b)
}

func (m *MediaSession) timed(stage string, fn func() error) error {
	started := time.Now()
	err := fn()
	elapsed := time.Since(started)
	m.deps.Observer.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventStageLatency,
		Time:  time.Now(),
		Value: float64(elapsed.Milliseconds()),
		Tags:  m.tags("stage", stage),
	})
	m.logger.Debug("stage_done", "stage", stage, "latency_ms", elapsed.Milliseconds())
	return err
}

func (m *MediaSession) recoverRun(what string) {
	if r := recover(); r != nil {
		m.logger.Error("pipeline_panic", "run", what, "panic", fmt.Sprint(r))
	}
}

func (m *MediaSession) logFailure(msg string, err error) {
	level := slog.LevelError
	if errorsx.Transient(err) {
		level = slog.LevelWarn
	}
	m.logger.Log(context.Background(), level, msg, "error", err.Error(), "reason_code", string(errorsx.Reason(err)))
}

func (m *MediaSession) recordRun(outcome string, latency time.Duration) {
	m.deps.Observer.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventPipelineRun,
		Time:  time.Now(),
		Value: float64(latency.Milliseconds()),
		Tags:  m.tags("outcome", outcome),
	})
}

func (m *MediaSession) recordFrame(pcm []byte, speech bool) {
	class := "silence"
	if speech {
		class = "speech"
	}
	m.deps.FrameObserver.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventVADFrame,
		Time:  time.Now(),
		Value: audio.RMS(pcm),
		Tags:  m.tags("class", class),
	})
}

// tags returns the given key/value pairs plus call_sid.
func (m *MediaSession) tags(kv ...string) map[string]string {
	out := make(map[string]string, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = kv[i+1]
	}
	if m.callID != "" {
		out["call_sid"] = m.callID
	}
	return out
}

func (m *MediaSession) recordActiveCalls() {
	m.deps.Observer.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventActiveCalls,
		Time:  time.Now(),
		Value: float64(m.deps.Registry.Count()),
	})
}

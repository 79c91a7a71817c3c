// Package turn segments a caller's inbound audio into utterances.
package turn

import (
	"time"

	"github.com/harunnryd/voicedesk/pkg/audio"
)

// Config tunes utterance segmentation.
type Config struct {
	// SilenceThreshold is the RMS amplitude below which a frame is silence.
	SilenceThreshold float64 `mapstructure:"silence_rms_threshold"`
	// MinSilence is how much trailing silence ends an utterance.
	MinSilence time.Duration `mapstructure:"min_silence"`
	// MinUtterance is the shortest accumulated speech worth transcribing.
	MinUtterance time.Duration `mapstructure:"min_utterance"`
	// SampleRate of the PCM16 frames fed to the detector.
	SampleRate int `mapstructure:"sample_rate"`
}

func (c Config) withDefaults() Config {
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = 500
	}
	if c.MinSilence <= 0 {
		c.MinSilence = 700 * time.Millisecond
	}
	if c.MinUtterance <= 0 {
		c.MinUtterance = 300 * time.Millisecond
	}
	if c.SampleRate <= 0 {
		c.SampleRate = audio.ModelRate
	}
	return c
}

// Utterance is one finalized span of caller speech.
type Utterance struct {
	// PCM is little-endian PCM16 mono audio at the detector's sample rate,
	// from the first speech frame through the last one.
	PCM []byte
	// Speech is the accumulated duration of frames classified as speech.
	Speech time.Duration
	Reason FinalizeReason
}

// Result describes what one frame did to the detector.
type Result struct {
	Speech    bool
	State     State
	Utterance *Utterance
	// Discarded is set when speech ended but was shorter than MinUtterance.
	Discarded bool
}

// Detector classifies PCM frames by energy and accumulates utterances.
// Timers run on the audio clock: every frame advances time by its own
// duration. A Detector is not safe for concurrent use.
type Detector struct {
	cfg       Config
	state     State
	buf       []byte
	speechEnd int
	speech    time.Duration
	silence   time.Duration
	listeners []StateListener
}

// NewDetector creates a detector in the Idle state.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults(), state: StateIdle}
}

// Config returns the effective configuration.
func (d *Detector) Config() Config { return d.cfg }

// State returns the current state.
func (d *Detector) State() State { return d.state }

// AddListener registers a listener for state change events.
func (d *Detector) AddListener(listener StateListener) {
	d.listeners = append(d.listeners, listener)
}

// IsSpeech reports whether a frame's energy is at or above the threshold.
func (d *Detector) IsSpeech(frame []byte) bool {
	return audio.RMS(frame) >= d.cfg.SilenceThreshold
}

// Process feeds one PCM16 frame.
func (d *Detector) Process(frame []byte) Result {
	speech := d.IsSpeech(frame)
	dur := d.frameDuration(frame)

	switch d.state {
	case StateIdle:
		if !speech {
			return Result{State: StateIdle}
		}
		d.buf = append(d.buf[:0], frame...)
		d.speechEnd = len(d.buf)
		d.speech = dur
		d.silence = 0
		d.transition(StateSpeaking, "speech started")
		return Result{Speech: true, State: StateSpeaking}

	case StateSpeaking:
		d.buf = append(d.buf, frame...)
		if speech {
			d.speech += dur
			d.silence = 0
			d.speechEnd = len(d.buf)
			return Result{Speech: true, State: StateSpeaking}
		}
		d.silence += dur
		if d.silence < d.cfg.MinSilence {
			return Result{State: StateSpeaking}
		}
		if d.speech < d.cfg.MinUtterance {
			d.reset("speech too short")
			return Result{State: StateIdle, Discarded: true}
		}
		utt := d.take(FinalizedBySilence)
		d.reset("silence")
		return Result{State: StateIdle, Utterance: utt}
	}
	return Result{State: d.state}
}

// Flush finalizes any in-progress utterance without waiting for silence.
// It returns nil when nothing long enough was accumulated.
func (d *Detector) Flush() *Utterance {
	if d.state != StateSpeaking {
		return nil
	}
	var utt *Utterance
	if d.speech >= d.cfg.MinUtterance {
		utt = d.take(FinalizedByFlush)
	}
	d.reset("flush")
	return utt
}

// Reset drops any accumulated audio and returns to Idle.
func (d *Detector) Reset() {
	d.reset("reset")
}

func (d *Detector) take(reason FinalizeReason) *Utterance {
	pcm := make([]byte, d.speechEnd)
	copy(pcm, d.buf[:d.speechEnd])
	return &Utterance{PCM: pcm, Speech: d.speech, Reason: reason}
}

func (d *Detector) reset(reason string) {
	d.buf = d.buf[:0]
	d.speechEnd = 0
	d.speech = 0
	d.silence = 0
	if d.state != StateIdle {
		d.transition(StateIdle, reason)
	}
}

func (d *Detector) transition(to State, reason string) {
	if !transitionValid(d.state, to) {
		return
	}
	from := d.state
	d.state = to
	if len(d.listeners) == 0 {
		return
	}
	ev := StateChange{FromState: from, ToState: to, Timestamp: time.Now(), Reason: reason}
	for _, l := range d.listeners {
		l.OnStateChange(ev)
	}
}

func (d *Detector) frameDuration(frame []byte) time.Duration {
	samples := len(frame) / 2
	return time.Duration(samples) * time.Second / time.Duration(d.cfg.SampleRate)
}

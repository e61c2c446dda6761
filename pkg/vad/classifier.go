package vad

import (
	"math"
	"time"

	"github.com/voxtide/voxtide/pkg/media"
)

// Config tunes the energy classifier.
type Config struct {
	// Decimation processes every Nth sample when computing frame energy.
	Decimation int

	// ListenThreshold is the normalized RMS level treated as speech while
	// the assistant is quiet.
	ListenThreshold float64

	// InterruptThreshold is the higher RMS level required while the
	// assistant is talking, so playback bleed and ambient noise do not
	// register as barge-in.
	InterruptThreshold float64

	// InterruptFrames is the number of consecutive over-threshold frames
	// required before speech onset fires in interrupt mode.
	InterruptFrames int

	// SilenceConfirmation is how much trailing quiet must accumulate,
	// measured in audio time, before speechEnded is declared. It exists to
	// avoid clipping mid-utterance pauses.
	SilenceConfirmation time.Duration
}

// DefaultConfig matches a 16-bit mono capture stream.
var DefaultConfig = Config{
	Decimation:          4,
	ListenThreshold:     0.015,
	InterruptThreshold:  0.05,
	InterruptFrames:     4,
	SilenceConfirmation: 400 * time.Millisecond,
}

// Classifier derives speech/silence transitions from microphone frames.
// It emits at most one speechStarted and one speechEnded per utterance;
// internal state resets on every speechStarted.
//
// Not safe for concurrent use; the engine feeds it from its single event
// loop.
type Classifier struct {
	config Config
	format media.Format

	interruptMode bool
	inSpeech      bool
	overCount     int
	quietFor      time.Duration
}

// NewClassifier creates a classifier for the given capture format.
func NewClassifier(config Config, format media.Format) *Classifier {
	if config.Decimation < 1 {
		config.Decimation = 1
	}
	if config.InterruptFrames < 1 {
		config.InterruptFrames = 1
	}
	return &Classifier{config: config, format: format}
}

// SetInterruptMode switches between the listening threshold and the
// stricter barge-in threshold. Switching modes resets onset counting but
// keeps an in-progress utterance alive.
func (c *Classifier) SetInterruptMode(on bool) {
	if c.interruptMode != on {
		c.interruptMode = on
		c.overCount = 0
	}
}

// Reset clears all utterance state.
func (c *Classifier) Reset() {
	c.inSpeech = false
	c.overCount = 0
	c.quietFor = 0
}

// OnFrame classifies one captured frame and returns the resulting event.
func (c *Classifier) OnFrame(frame media.Frame) Event {
	energy := c.energy(frame.Data)
	frameDur := frame.Duration()

	threshold := c.config.ListenThreshold
	onsetFrames := 1
	if c.interruptMode {
		threshold = c.config.InterruptThreshold
		onsetFrames = c.config.InterruptFrames
	}

	if energy >= threshold {
		c.quietFor = 0
		if c.inSpeech {
			return Event{Type: EventSpeechContinuing, Energy: energy}
		}
		c.overCount++
		if c.overCount >= onsetFrames {
			c.inSpeech = true
			c.overCount = 0
			return Event{Type: EventSpeechStarted, Energy: energy}
		}
		return Event{Type: EventNone, Energy: energy}
	}

	c.overCount = 0
	if !c.inSpeech {
		return Event{Type: EventNone, Energy: energy}
	}

	c.quietFor += frameDur
	if c.quietFor >= c.config.SilenceConfirmation {
		c.inSpeech = false
		c.quietFor = 0
		return Event{Type: EventSpeechEnded, Energy: energy}
	}
	return Event{Type: EventSpeechContinuing, Energy: energy}
}

// InSpeech reports whether an utterance is currently open.
func (c *Classifier) InSpeech() bool {
	return c.inSpeech
}

// energy computes normalized RMS over a decimated subset of samples.
func (c *Classifier) energy(pcm []byte) float64 {
	step := c.config.Decimation * 2
	count := 0
	var sum float64
	for i := 0; i+1 < len(pcm); i += step {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
		count++
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(count))
}

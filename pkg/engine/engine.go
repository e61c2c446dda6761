// Package engine orchestrates one duplex voice conversation: it owns the
// turn-taking state machine, wires microphone frames and remote protocol
// events into decisions, and drives playback of synthesized speech.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxtide/voxtide/pkg/audio/wav"
	"github.com/voxtide/voxtide/pkg/device"
	"github.com/voxtide/voxtide/pkg/eou"
	"github.com/voxtide/voxtide/pkg/media"
	"github.com/voxtide/voxtide/pkg/playback"
	"github.com/voxtide/voxtide/pkg/realtime"
	"github.com/voxtide/voxtide/pkg/segment"
	"github.com/voxtide/voxtide/pkg/vad"
)

// Config tunes the turn-taking state machine.
type Config struct {
	Format   media.Format
	VAD      vad.Config
	Playback playback.Config

	// SegmentDir is where framed playback units are written. Defaults to
	// the system temp directory.
	SegmentDir string

	// RecordPath, when set, saves the session's captured microphone audio
	// to a WAV file at this path for diagnostics.
	RecordPath string

	// SuppressionWindow is how long after a turn submission (and after
	// resuming capture) local silence-triggered actions are ignored, to
	// avoid duplicate submissions and echo-triggered turns.
	SuppressionWindow time.Duration

	// MinRequestInterval bounds how close together two response requests
	// may land when local and server end-of-speech signals race.
	MinRequestInterval time.Duration

	// ResponseWatchdog clears a pending response that produced no audio,
	// so a stuck wait never locks the user out of speaking again.
	ResponseWatchdog time.Duration

	// BargeInGrace swallows audio deltas still in flight from a response
	// that was just cancelled.
	BargeInGrace time.Duration

	// MinUtterance is the utterance length below which the end-of-utterance
	// detector, when configured, is consulted before committing.
	MinUtterance time.Duration

	// EOUThreshold is the detector probability below which the commit is
	// held for EOUHold in case the user was only pausing.
	EOUThreshold float64
	EOUHold      time.Duration
}

// DefaultConfig carries the production tuning.
var DefaultConfig = Config{
	Format:             media.DefaultFormat,
	VAD:                vad.DefaultConfig,
	Playback:           playback.DefaultConfig,
	SuppressionWindow:  700 * time.Millisecond,
	MinRequestInterval: 500 * time.Millisecond,
	ResponseWatchdog:   15 * time.Second,
	BargeInGrace:       500 * time.Millisecond,
	MinUtterance:       time.Second,
	EOUThreshold:       0.5,
	EOUHold:            800 * time.Millisecond,
}

// Engine is the turn-taking orchestrator. All conversation state is owned
// by a single event loop; external callers only Start, Stop and observe.
type Engine struct {
	config     Config
	logger     *slog.Logger
	connector  *Connector
	mic        device.Microphone
	route      device.Route
	queue      *playback.Queue
	classifier *vad.Classifier
	detector   eou.Detector

	// recorder captures mic audio when configured. Touched only by the
	// event loop and, after the loop has exited, by Stop.
	recorder *wav.Writer

	state     atomic.Int32
	micFrames chan string

	// opMu serializes Start against Stop, so a stop landing during the
	// connect sequence always settles before the engine reports idle.
	opMu sync.Mutex

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	loopDone chan struct{}
	ctx      context.Context

	textMu       sync.Mutex
	transcript   strings.Builder
	lastUserText string

	errMu   sync.Mutex
	lastErr string
}

// New creates an engine. Zero config fields fall back to DefaultConfig
// values.
func New(config Config, connector *Connector, mic device.Microphone, route device.Route, player device.Player, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Format == (media.Format{}) {
		config.Format = media.DefaultFormat
	}
	if config.VAD == (vad.Config{}) {
		config.VAD = vad.DefaultConfig
	}
	if config.Playback == (playback.Config{}) {
		config.Playback = playback.DefaultConfig
	}
	if config.SegmentDir == "" {
		config.SegmentDir = os.TempDir()
	}
	if config.SuppressionWindow == 0 {
		config.SuppressionWindow = DefaultConfig.SuppressionWindow
	}
	if config.MinRequestInterval == 0 {
		config.MinRequestInterval = DefaultConfig.MinRequestInterval
	}
	if config.ResponseWatchdog == 0 {
		config.ResponseWatchdog = DefaultConfig.ResponseWatchdog
	}
	if config.BargeInGrace == 0 {
		config.BargeInGrace = DefaultConfig.BargeInGrace
	}
	if config.MinUtterance == 0 {
		config.MinUtterance = DefaultConfig.MinUtterance
	}
	if config.EOUThreshold == 0 {
		config.EOUThreshold = DefaultConfig.EOUThreshold
	}
	if config.EOUHold == 0 {
		config.EOUHold = DefaultConfig.EOUHold
	}

	framer := segment.NewFramer(config.Format, config.SegmentDir, logger)
	return &Engine{
		config:     config,
		logger:     logger,
		connector:  connector,
		mic:        mic,
		route:      route,
		queue:      playback.New(config.Format, config.Playback, framer, player, logger),
		classifier: vad.NewClassifier(config.VAD, config.Format),
		micFrames:  make(chan string, 64),
	}
}

// SetDetector installs an optional end-of-utterance detector. Must be
// called before Start.
func (e *Engine) SetDetector(d eou.Detector) {
	e.detector = d
}

// State returns the current conversation state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// LastError returns the message behind the most recent error or advisory.
func (e *Engine) LastError() string {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.lastErr
}

// Transcript returns the assistant transcript accumulated this session.
func (e *Engine) Transcript() string {
	e.textMu.Lock()
	defer e.textMu.Unlock()
	return e.transcript.String()
}

// Start brings the session up: microphone permission, credential fetch,
// channel open, then listening. Rejected with ErrAlreadyStarted while a
// session is connecting or open; rapid repeated starts never produce a
// second session. A Stop landing during any of the blocking steps
// cancels them and wins: Start returns the cancellation, not a session.
func (e *Engine) Start(ctx context.Context) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	if s := e.State(); s != StateIdle && s != StateError {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.running = true
	e.stop = make(chan struct{})
	e.loopDone = nil
	stop := e.stop
	e.mu.Unlock()

	// The session context is cancelled on Stop, so the credential fetch,
	// the dial and later reconnect attempts all unblock promptly.
	sctx, cancelSession := context.WithCancel(ctx)
	e.ctx = sctx
	go func() {
		select {
		case <-stop:
			cancelSession()
		case <-sctx.Done():
		}
	}()

	// Discard frames a previous session's capture left behind.
	for len(e.micFrames) > 0 {
		<-e.micFrames
	}

	e.setState(StateConnecting)

	if err := e.mic.Init(device.CaptureConfig{Format: e.config.Format, OnFrame: e.onMicFrame}); err != nil {
		cancelSession()
		e.abortStart()
		if errors.Is(err, device.ErrPermissionDenied) {
			// Fails closed, but not fatally: back to idle with an advisory.
			e.setAdvisory("microphone access is required to start a conversation")
			e.setState(StateIdle)
			return err
		}
		e.fail("microphone unavailable: " + err.Error())
		return err
	}

	ch, err := e.connector.Open(sctx, StartFresh)
	if err != nil {
		cancelSession()
		e.abortStart()
		if errors.Is(err, ErrAlreadyStarted) {
			e.setState(StateIdle)
			return err
		}
		if sctx.Err() != nil {
			// Superseded by Stop or by the caller's context; the stop
			// path owns the remaining cleanup.
			e.setState(StateIdle)
			return sctx.Err()
		}
		e.fail(err.Error())
		return err
	}

	if superseded(stop) {
		cancelSession()
		e.connector.Close()
		e.abortStart()
		e.setState(StateIdle)
		return context.Canceled
	}

	if err := e.route.SetCaptureMode(); err != nil {
		e.logger.Warn("failed to set capture route", slog.String("error", err.Error()))
	}
	if err := e.mic.Start(); err != nil {
		cancelSession()
		e.connector.Close()
		e.abortStart()
		e.fail("failed to start capture: " + err.Error())
		return err
	}
	if superseded(stop) {
		cancelSession()
		if err := e.mic.Stop(); err != nil {
			e.logger.Debug("microphone stop failed", slog.String("error", err.Error()))
		}
		e.connector.Close()
		e.abortStart()
		e.setState(StateIdle)
		return context.Canceled
	}

	if e.config.RecordPath != "" {
		w, err := wav.NewWriter(e.config.RecordPath, e.config.Format)
		if err != nil {
			e.logger.Warn("capture recording disabled", slog.String("error", err.Error()))
		} else {
			e.recorder = w
		}
	}

	done := make(chan struct{})
	e.mu.Lock()
	e.loopDone = done
	e.mu.Unlock()

	e.classifier.Reset()
	e.setState(StateListening)
	go func() {
		defer close(done)
		e.run(ch, stop)
	}()
	return nil
}

// Stop tears the session down: capture, channel, playback, timers.
// Idempotent, and forces idle even if the channel had not finished
// closing. An in-flight Start is cancelled and joined, as is the event
// loop, so no session activity survives Stop's return.
func (e *Engine) Stop() {
	e.signalStop()

	e.opMu.Lock()
	defer e.opMu.Unlock()
	// A start that slipped in between the first signal and the lock is
	// stopped here, with no start left in flight to race against.
	e.signalStop()

	e.mu.Lock()
	done := e.loopDone
	e.loopDone = nil
	e.mu.Unlock()
	if done != nil {
		<-done
	}

	e.releaseResources()
	e.setState(StateIdle)
}

// signalStop closes the running session's stop channel, if any.
func (e *Engine) signalStop() {
	e.mu.Lock()
	if e.running {
		e.running = false
		close(e.stop)
	}
	e.mu.Unlock()
}

// releaseResources shuts down capture, the channel, playback and the
// capture recording. Every step is idempotent.
func (e *Engine) releaseResources() {
	if err := e.mic.Stop(); err != nil {
		e.logger.Debug("microphone stop failed", slog.String("error", err.Error()))
	}
	e.connector.Close()
	e.queue.Stop()
	if e.recorder != nil {
		if err := e.recorder.Close(); err != nil {
			e.logger.Debug("capture recording close failed", slog.String("error", err.Error()))
		}
		e.recorder = nil
	}
}

// failSession releases the session's resources and settles into the
// error state. Runs on the event loop itself, so it must not wait for
// the loop to exit; a later Stop still forces idle.
func (e *Engine) failSession(msg string) {
	e.signalStop()
	e.releaseResources()
	e.fail(msg)
}

// superseded reports whether Stop ran while Start was still inside its
// connect sequence.
func superseded(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// Background handles the app leaving the foreground: same path as an
// explicit Stop whenever a session is active.
func (e *Engine) Background() {
	e.Stop()
}

// abortStart rolls back the running flag after a failed start.
func (e *Engine) abortStart() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

// recordFrame appends one captured frame to the session recording, when
// configured. Called only from the event loop.
func (e *Engine) recordFrame(pcm []byte) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.WritePCM(pcm); err != nil {
		e.logger.Warn("capture recording failed; disabling", slog.String("error", err.Error()))
		e.recorder.Close()
		e.recorder = nil
	}
}

func (e *Engine) onMicFrame(pcmBase64 string) {
	select {
	case e.micFrames <- pcmBase64:
	default:
		metricDroppedFrames.Add(1)
	}
}

func (e *Engine) setState(s State) {
	prev := State(e.state.Swap(int32(s)))
	if prev == s {
		return
	}
	metricStateChanges.Add(s.String(), 1)
	e.logger.Info("conversation state changed",
		slog.String("from", prev.String()),
		slog.String("to", s.String()))
}

func (e *Engine) fail(msg string) {
	e.setAdvisory(msg)
	e.setState(StateError)
}

func (e *Engine) setAdvisory(msg string) {
	e.errMu.Lock()
	e.lastErr = msg
	e.errMu.Unlock()
}

func (e *Engine) appendTranscript(delta string) {
	e.textMu.Lock()
	e.transcript.WriteString(delta)
	e.textMu.Unlock()
}

func (e *Engine) setLastUserText(text string) {
	e.textMu.Lock()
	e.lastUserText = text
	e.textMu.Unlock()
}

func (e *Engine) lastUser() string {
	e.textMu.Lock()
	defer e.textMu.Unlock()
	return e.lastUserText
}

// run serves the channel until the session stops, reconnecting within the
// retry budget when the channel is lost unexpectedly.
func (e *Engine) run(ch *realtime.Channel, stop <-chan struct{}) {
	for {
		if !e.serve(ch, stop) {
			return
		}
		next, ok := e.reconnect(stop)
		if !ok {
			return
		}
		ch = next
	}
}

// serve pumps one channel's events through the state machine. Returns
// true when the channel was lost and a reconnect should be attempted.
func (e *Engine) serve(ch *realtime.Channel, stop <-chan struct{}) bool {
	s := newSession(e, ch)
	defer s.teardown()

	for {
		select {
		case <-stop:
			return false
		case frame := <-e.micFrames:
			s.onMicFrame(frame)
		case ev, ok := <-ch.Events():
			if !ok {
				if ch.Err() == nil {
					return false
				}
				e.logger.Warn("conversation channel lost", slog.String("error", ch.Err().Error()))
				return true
			}
			s.onServerEvent(ev)
		case <-s.watchdogC:
			s.onWatchdog()
		case <-s.eouHoldC:
			s.onEOUHold()
		case <-s.drainDone:
			s.onDrainComplete()
		}
	}
}

// reconnect walks the retry budget: linear backoff per attempt, error
// state once exhausted or on a fatal failure.
func (e *Engine) reconnect(stop <-chan struct{}) (*realtime.Channel, bool) {
	e.setState(StateConnecting)

	for {
		delay, ok := e.connector.NextReconnect()
		if !ok {
			e.failSession("connection lost")
			return nil, false
		}
		metricReconnects.Add(1)
		e.logger.Info("scheduling reconnect", slog.Duration("delay", delay))

		select {
		case <-stop:
			return nil, false
		case <-time.After(delay):
		}

		ch, err := e.connector.Open(e.ctx, StartReconnect)
		if err == nil {
			e.classifier.Reset()
			e.setState(StateListening)
			return ch, true
		}
		if IsFatal(err) {
			e.failSession(err.Error())
			return nil, false
		}
		e.logger.Warn("reconnect attempt failed", slog.String("error", err.Error()))
	}
}

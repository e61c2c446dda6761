package engine

import (
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/voxtide/voxtide/pkg/media"
	"github.com/voxtide/voxtide/pkg/realtime"
	"github.com/voxtide/voxtide/pkg/vad"
)

// session holds the turn state for one served channel. It lives entirely
// on the engine's event loop goroutine; nothing here needs a lock. Every
// timer is a named, cancellable field so superseding transitions can
// clear it explicitly.
type session struct {
	e  *Engine
	ch *realtime.Channel

	pending           bool
	cancelled         bool
	suppressUntil     time.Time
	lastRequest       time.Time
	utteranceStart    time.Time
	currentResponse   string
	cancelledResponse string
	graceUntil        time.Time

	drainDone <-chan struct{}

	watchdog  *time.Timer
	watchdogC <-chan time.Time

	eouHold  *time.Timer
	eouHoldC <-chan time.Time
}

func newSession(e *Engine, ch *realtime.Channel) *session {
	return &session{e: e, ch: ch}
}

// teardown clears timers and any in-progress turn. Runs on every exit
// from serve, clean or not; the queue's Stop is idempotent so a later
// engine Stop is harmless.
func (s *session) teardown() {
	s.stopWatchdog()
	s.stopEOUHold()
	if s.e.State() == StateSpeaking {
		s.e.queue.Stop()
		if err := s.e.route.SetCaptureMode(); err != nil {
			s.e.logger.Debug("failed to restore capture route", slog.String("error", err.Error()))
		}
		s.e.classifier.SetInterruptMode(false)
		s.e.classifier.Reset()
	}
}

func (s *session) onMicFrame(pcmBase64 string) {
	pcm, err := base64.StdEncoding.DecodeString(pcmBase64)
	if err != nil {
		s.e.logger.Debug("dropping undecodable mic frame", slog.String("error", err.Error()))
		return
	}
	frame, err := media.NewFrame(pcm, s.e.config.Format, time.Now())
	if err != nil {
		s.e.logger.Debug("dropping misaligned mic frame", slog.String("error", err.Error()))
		return
	}
	s.e.recordFrame(frame.Data)
	ev := s.e.classifier.OnFrame(frame)

	switch s.e.State() {
	case StateListening:
		if time.Now().After(s.suppressUntil) {
			if err := s.ch.Send(realtime.AppendAudio(pcmBase64)); err != nil {
				s.e.logger.Debug("failed to forward mic frame", slog.String("error", err.Error()))
			}
		}
		switch ev.Type {
		case vad.EventSpeechStarted:
			s.utteranceStart = time.Now()
			s.stopEOUHold() // the user kept going; the pause was not an ending
		case vad.EventSpeechEnded:
			s.onLocalSpeechEnded()
		}
	case StateSpeaking:
		if ev.Type == vad.EventSpeechStarted {
			s.bargeIn("classifier")
		}
	}
}

// onLocalSpeechEnded handles the classifier's end-of-utterance. Very
// short utterances get a second opinion from the configured detector
// before committing; a held commit fires after EOUHold unless speech
// resumes first.
func (s *session) onLocalSpeechEnded() {
	if s.e.detector != nil && !s.utteranceStart.IsZero() &&
		time.Since(s.utteranceStart) < s.e.config.MinUtterance {
		prob, err := s.e.detector.EndOfUtterance(s.e.ctx, s.e.lastUser())
		if err == nil && prob < s.e.config.EOUThreshold {
			s.stopEOUHold()
			s.eouHold = time.NewTimer(s.e.config.EOUHold)
			s.eouHoldC = s.eouHold.C
			s.e.logger.Debug("holding commit", slog.Float64("eou_probability", prob))
			return
		}
	}
	s.requestResponse("local silence")
}

func (s *session) onEOUHold() {
	s.eouHoldC = nil
	s.eouHold = nil
	if s.e.classifier.InSpeech() {
		// The hold fired in the same tick speech resumed; the reopened
		// utterance will produce its own end-of-speech decision.
		return
	}
	s.requestResponse("held commit")
}

// requestResponse sends the commit + response-create pair at most once
// per utterance. The pending flag, the suppression window and the
// minimum inter-request interval together absorb racing local and
// server end-of-speech signals.
func (s *session) requestResponse(trigger string) {
	now := time.Now()
	if s.pending {
		s.e.logger.Debug("response already pending", slog.String("trigger", trigger))
		return
	}
	if now.Before(s.suppressUntil) {
		s.e.logger.Debug("inside suppression window", slog.String("trigger", trigger))
		return
	}
	if !s.lastRequest.IsZero() && now.Sub(s.lastRequest) < s.e.config.MinRequestInterval {
		s.e.logger.Debug("too soon after previous request", slog.String("trigger", trigger))
		return
	}

	if err := s.ch.Send(realtime.CommitInput()); err != nil {
		s.e.logger.Warn("failed to commit input", slog.String("error", err.Error()))
		return
	}
	if err := s.ch.Send(realtime.CreateResponse()); err != nil {
		s.e.logger.Warn("failed to request response", slog.String("error", err.Error()))
		return
	}

	s.pending = true
	s.lastRequest = now
	s.suppressUntil = now.Add(s.e.config.SuppressionWindow)
	s.stopEOUHold()
	s.armWatchdog()
	metricResponses.Add(1)
	s.e.logger.Info("requested response", slog.String("trigger", trigger))
}

func (s *session) onServerEvent(ev realtime.ServerEvent) {
	switch ev.Type {
	case realtime.TypeSpeechStarted:
		if s.e.State() == StateSpeaking {
			s.bargeIn("server vad")
		} else {
			s.utteranceStart = time.Now()
			s.stopEOUHold()
		}
	case realtime.TypeSpeechStopped:
		if s.e.State() == StateListening {
			s.requestResponse("server vad")
		}
	case realtime.TypeResponseCreated:
		s.currentResponse = ev.ResponseID
	case realtime.TypeResponseAudioDelta:
		s.onAudioDelta(ev)
	case realtime.TypeResponseAudioDone:
		if s.e.State() == StateSpeaking {
			s.e.queue.MarkComplete()
		}
	case realtime.TypeResponseDone:
		if ev.ResponseID == "" || ev.ResponseID != s.cancelledResponse {
			s.pending = false
		}
		s.currentResponse = ""
		s.stopWatchdog()
	case realtime.TypeTranscriptDelta:
		if ev.ResponseID == "" || ev.ResponseID != s.cancelledResponse {
			s.e.appendTranscript(ev.Delta)
		}
	case realtime.TypeInputTranscriptDone:
		s.e.setLastUserText(ev.Transcript)
	case realtime.TypeError:
		// Peer-reported errors are surfaced but do not close the channel.
		msg := ev.ErrorMessage()
		s.e.logger.Warn("peer reported error", slog.String("message", msg))
		s.e.setAdvisory(msg)
	default:
		s.e.logger.Debug("ignoring server event", slog.String("type", ev.Type))
	}
}

// onAudioDelta feeds response audio into playback, entering speaking on
// the first delta of a turn. Trailing audio from a cancelled response is
// swallowed: by response id when tagged, otherwise within the grace
// window after the cancel.
func (s *session) onAudioDelta(ev realtime.ServerEvent) {
	if ev.ResponseID != "" && ev.ResponseID == s.cancelledResponse {
		return
	}
	if ev.ResponseID == "" && time.Now().Before(s.graceUntil) {
		return
	}

	pcm, err := ev.AudioDelta()
	if err != nil {
		s.e.logger.Warn("dropping malformed audio delta", slog.String("error", err.Error()))
		return
	}

	if s.e.State() != StateSpeaking {
		s.enterSpeaking()
	}
	s.e.queue.Enqueue(pcm)
}

func (s *session) enterSpeaking() {
	s.stopWatchdog() // audio arrived; the wait is over
	s.cancelled = false
	s.e.classifier.SetInterruptMode(true)
	s.e.classifier.Reset()
	if err := s.e.route.SetPlaybackMode(); err != nil {
		s.e.logger.Warn("failed to set playback route", slog.String("error", err.Error()))
	}
	// BeginTurn requires the previous turn to be fully released.
	if !s.e.queue.Idle() {
		s.e.queue.Stop()
	}
	s.e.queue.BeginTurn()
	s.drainDone = s.e.queue.Drain()
	s.e.setState(StateSpeaking)
}

// onDrainComplete fires when the turn's audio has fully played out.
func (s *session) onDrainComplete() {
	s.drainDone = nil
	if s.e.State() != StateSpeaking {
		return
	}
	if err := s.e.route.SetCaptureMode(); err != nil {
		s.e.logger.Warn("failed to restore capture route", slog.String("error", err.Error()))
	}
	s.e.classifier.SetInterruptMode(false)
	s.e.classifier.Reset()
	// Ignore the tail of our own playback that the microphone may catch.
	s.suppressUntil = time.Now().Add(s.e.config.SuppressionWindow)
	s.pending = false
	s.e.setState(StateListening)
}

// bargeIn handles the user interrupting the assistant: playback halts and
// every buffered byte is discarded before exactly one cancel goes out.
func (s *session) bargeIn(source string) {
	if s.e.State() != StateSpeaking || s.cancelled {
		return
	}
	s.cancelled = true

	s.e.queue.Stop()
	s.drainDone = nil

	if err := s.ch.Send(realtime.CancelResponse()); err != nil {
		s.e.logger.Warn("failed to cancel response", slog.String("error", err.Error()))
	}
	s.cancelledResponse = s.currentResponse
	s.graceUntil = time.Now().Add(s.e.config.BargeInGrace)
	s.pending = false
	s.stopWatchdog()

	if err := s.e.route.SetCaptureMode(); err != nil {
		s.e.logger.Warn("failed to restore capture route", slog.String("error", err.Error()))
	}
	s.e.classifier.SetInterruptMode(false)
	s.utteranceStart = time.Now()
	s.suppressUntil = time.Time{}
	s.e.setState(StateListening)

	metricBargeIns.Add(1)
	s.e.logger.Info("barge-in", slog.String("source", source))
}

func (s *session) armWatchdog() {
	s.stopWatchdog()
	s.watchdog = time.NewTimer(s.e.config.ResponseWatchdog)
	s.watchdogC = s.watchdog.C
}

// onWatchdog self-heals a stuck wait: the pending flag clears so the user
// can try again, without tearing the session down.
func (s *session) onWatchdog() {
	s.watchdogC = nil
	s.watchdog = nil
	if !s.pending {
		return
	}
	s.pending = false
	metricWatchdogFires.Add(1)
	s.e.logger.Warn("no response audio within watchdog window; clearing pending request")
}

func (s *session) stopWatchdog() {
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
		s.watchdogC = nil
	}
}

func (s *session) stopEOUHold() {
	if s.eouHold != nil {
		s.eouHold.Stop()
		s.eouHold = nil
		s.eouHoldC = nil
	}
}

// Package playback owns the ordered sequence of received PCM segments and
// smooths bursty network delivery into continuous sound.
package playback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/voxtide/voxtide/pkg/device"
	"github.com/voxtide/voxtide/pkg/media"
	"github.com/voxtide/voxtide/pkg/segment"
)

// Config tunes the queue's jitter protection.
type Config struct {
	// MinPrebuffer is how much audio must be buffered before the first
	// unit of a still-streaming turn is dequeued. Trades latency for
	// smoothness when network delivery is uneven.
	MinPrebuffer time.Duration

	// MaxUnit caps the duration of a single framed unit, bounding memory
	// and keeping barge-in latency low.
	MaxUnit time.Duration
}

// DefaultConfig suits speech deltas arriving in bursts of a few hundred
// milliseconds.
var DefaultConfig = Config{
	MinPrebuffer: 300 * time.Millisecond,
	MaxUnit:      2 * time.Second,
}

// Queue assembles, plays and disposes of framed audio units for one turn
// at a time. Segments play in strict arrival order. At most one unit is
// playing and one is preloaded at any moment, and each framed unit's
// backing resource is released exactly once on every exit path.
type Queue struct {
	format media.Format
	config Config
	framer *segment.Framer
	player device.Player
	logger *slog.Logger

	mu        sync.Mutex
	epoch     uint64
	nextSeq   uint64
	pending   []segment.Segment
	buffered  int
	complete  bool
	stopped   bool
	draining  bool
	drainDone chan struct{}
	stopCh    chan struct{}
	kick      chan struct{}
	current   *segment.Handle
	preloaded *segment.Handle
}

// New creates a queue rendering through the given player.
func New(format media.Format, config Config, framer *segment.Framer, player device.Player, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		format: format,
		config: config,
		framer: framer,
		player: player,
		logger: logger,
		stopCh: make(chan struct{}),
		kick:   make(chan struct{}, 1),
	}
}

// BeginTurn resets the queue for a new response turn. Must not be called
// while a drain for the previous turn is still running; Stop first.
func (q *Queue) BeginTurn() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.epoch++
	q.pending = nil
	q.buffered = 0
	q.complete = false
	q.stopped = false
	q.stopCh = make(chan struct{})
}

// Enqueue appends one received PCM segment in arrival order.
func (q *Queue) Enqueue(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, segment.Segment{Seq: q.nextSeq, PCM: pcm})
	q.nextSeq++
	q.buffered += len(pcm)
	q.mu.Unlock()
	q.wake()
}

// MarkComplete records that all audio for the turn has been received, so
// remaining bytes play out even below the pre-buffer threshold.
func (q *Queue) MarkComplete() {
	q.mu.Lock()
	q.complete = true
	q.mu.Unlock()
	q.wake()
}

// Drain plays buffered segments until the turn is fully played or the
// queue is stopped. Reentrant-safe: a call while a drain is running
// returns the same completion handle.
func (q *Queue) Drain() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.draining {
		return q.drainDone
	}
	if q.stopped {
		done := make(chan struct{})
		close(done)
		return done
	}

	q.draining = true
	q.drainDone = make(chan struct{})
	go q.drainLoop(q.epoch, q.drainDone, q.stopCh)
	return q.drainDone
}

// Stop immediately halts playback and discards all queued and preloaded
// audio. Safe to call multiple times and while no drain is running. It
// returns only after any running drain loop has exited, so BeginTurn may
// follow directly.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.pending = nil
	q.buffered = 0
	close(q.stopCh)
	preloaded := q.preloaded
	current := q.current
	q.preloaded = nil
	q.mu.Unlock()

	// Cleanup must never propagate failures.
	if err := q.player.Stop(); err != nil {
		q.logger.Debug("player stop failed", slog.String("error", err.Error()))
	}
	if err := q.player.Unload(); err != nil {
		q.logger.Debug("player unload failed", slog.String("error", err.Error()))
	}
	if preloaded != nil {
		preloaded.Release()
	}
	if current != nil {
		current.Release()
	}
	q.wake()

	q.mu.Lock()
	draining := q.draining
	done := q.drainDone
	q.mu.Unlock()
	if draining {
		<-done
	}
}

// Idle reports whether nothing is draining or buffered.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.draining && q.buffered == 0
}

// Buffered returns the duration of audio waiting to be framed.
func (q *Queue) Buffered() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.format.Duration(q.buffered)
}

func (q *Queue) wake() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// drainLoop is the single drain goroutine. Only one runs at a time,
// enforced by the draining flag; the epoch tag keeps a superseded loop
// from ever touching the next turn's segments.
func (q *Queue) drainLoop(epoch uint64, done chan struct{}, stop <-chan struct{}) {
	defer func() {
		q.mu.Lock()
		current := q.current
		preloaded := q.preloaded
		q.current = nil
		q.preloaded = nil
		q.draining = false
		q.mu.Unlock()

		if current != nil {
			current.Release()
		}
		if preloaded != nil {
			preloaded.Release()
		}
		close(done)
	}()

	for {
		unit := q.nextUnit(epoch, stop)
		if unit == nil {
			return
		}

		q.mu.Lock()
		q.current = unit
		q.mu.Unlock()

		unitDone := make(chan struct{})
		if err := q.player.Play(unit.URI(), func() { close(unitDone) }); err != nil {
			q.logger.Error("playback failed", slog.String("uri", unit.URI()), slog.String("error", err.Error()))
			unit.Release()
			return
		}

		// Frame the next unit while this one plays so the transition has
		// no audible gap. Exactly one preload per playing unit.
		preloadCh := make(chan *segment.Handle, 1)
		go func() {
			q.mu.Lock()
			var pcm []byte
			if q.epoch == epoch && !q.stopped {
				pcm = q.dequeueLocked()
			}
			q.mu.Unlock()
			if pcm == nil {
				preloadCh <- nil
				return
			}
			h, err := q.framer.Frame(pcm)
			if err != nil {
				q.logger.Error("preload framing failed", slog.String("error", err.Error()))
				preloadCh <- nil
				return
			}
			preloadCh <- h
		}()

		interrupted := false
		select {
		case <-unitDone:
		case <-stop:
			interrupted = true
		}

		unit.Release()
		q.mu.Lock()
		q.current = nil
		q.mu.Unlock()

		next := <-preloadCh
		if interrupted {
			if next != nil {
				next.Release()
			}
			return
		}
		if next != nil {
			q.mu.Lock()
			stale := q.epoch != epoch || q.stopped
			if !stale {
				q.preloaded = next
			}
			q.mu.Unlock()
			if stale {
				next.Release()
			}
		}
	}
}

// nextUnit blocks until a playable unit exists, the turn is drained, or
// the queue stops. Returns nil when the loop should exit.
func (q *Queue) nextUnit(epoch uint64, stop <-chan struct{}) *segment.Handle {
	for {
		q.mu.Lock()
		if q.stopped || q.epoch != epoch {
			q.mu.Unlock()
			return nil
		}
		if q.preloaded != nil {
			unit := q.preloaded
			q.preloaded = nil
			q.mu.Unlock()
			return unit
		}
		pcm := q.dequeueLocked()
		drained := q.complete && q.buffered == 0 && pcm == nil
		q.mu.Unlock()

		if pcm != nil {
			unit, err := q.framer.Frame(pcm)
			if err != nil {
				q.logger.Error("segment framing failed", slog.String("error", err.Error()))
				continue
			}
			return unit
		}
		if drained {
			return nil
		}

		select {
		case <-q.kick:
		case <-stop:
			return nil
		}
	}
}

// dequeueLocked pulls up to MaxUnit of PCM, honoring the pre-buffer gate
// while the turn is still streaming. Caller holds q.mu.
func (q *Queue) dequeueLocked() []byte {
	if q.buffered == 0 {
		return nil
	}
	if !q.complete && q.buffered < q.format.BytesFor(q.config.MinPrebuffer) {
		return nil
	}

	maxBytes := q.format.BytesFor(q.config.MaxUnit)
	out := make([]byte, 0, min(q.buffered, maxBytes))
	for len(q.pending) > 0 && len(out) < maxBytes {
		head := q.pending[0].PCM
		take := maxBytes - len(out)
		if take >= len(head) {
			out = append(out, head...)
			q.pending = q.pending[1:]
			continue
		}
		take -= take % 2 // never split a 16-bit sample
		if take == 0 {
			break
		}
		out = append(out, head[:take]...)
		q.pending[0].PCM = head[take:]
	}
	q.buffered -= len(out)
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Package segment turns received PCM chunks into playable framed units
// backed by scoped temporary files.
package segment

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/voxtide/voxtide/pkg/audio/wav"
	"github.com/voxtide/voxtide/pkg/media"
)

// Segment is an immutable ordered chunk of linear-PCM bytes received from
// the remote peer. Seq is the arrival order tag; segments are never
// mutated after creation.
type Segment struct {
	Seq uint64
	PCM []byte
}

// Handle is one framed, decodable unit: a WAV file on disk that a playback
// capability can load by URI. The underlying file is removed exactly once,
// whichever exit path calls Release first.
type Handle struct {
	path     string
	duration time.Duration
	release  sync.Once
	logger   *slog.Logger
}

// URI returns the file URI of the framed unit.
func (h *Handle) URI() string {
	return "file://" + h.path
}

// Path returns the filesystem path of the framed unit.
func (h *Handle) Path() string {
	return h.path
}

// Duration returns the play time of the framed audio.
func (h *Handle) Duration() time.Duration {
	return h.duration
}

// Release removes the temporary file. Idempotent; removal failures are
// swallowed because cleanup must never propagate.
func (h *Handle) Release() {
	h.release.Do(func() {
		if err := os.Remove(h.path); err != nil {
			h.logger.Debug("failed to remove framed segment", slog.String("path", h.path), slog.String("error", err.Error()))
		}
	})
}

// Framer writes PCM into framed temporary WAV files.
type Framer struct {
	format media.Format
	dir    string
	logger *slog.Logger
}

// NewFramer creates a framer writing into dir, or the system temp
// directory when dir is empty.
func NewFramer(format media.Format, dir string, logger *slog.Logger) *Framer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Framer{format: format, dir: dir, logger: logger}
}

// Frame writes pcm as a WAV file and returns a handle to it.
func (f *Framer) Frame(pcm []byte) (*Handle, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("refusing to frame empty PCM data")
	}

	tmp, err := os.CreateTemp(f.dir, "voxtide-seg-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create segment file: %w", err)
	}

	if _, err := tmp.Write(wav.Encode(f.format, pcm)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to write segment file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to close segment file: %w", err)
	}

	return &Handle{
		path:     tmp.Name(),
		duration: f.format.Duration(len(pcm)),
		logger:   f.logger,
	}, nil
}

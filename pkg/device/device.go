// Package device declares the platform audio capabilities the engine
// consumes. All three are external collaborators: the engine never touches
// hardware, it drives these contracts.
package device

import (
	"errors"

	"github.com/voxtide/voxtide/pkg/media"
)

// ErrPermissionDenied is returned by Microphone.Init when the user has
// refused microphone access. It is non-fatal: the engine resolves it to an
// advisory and returns to idle.
var ErrPermissionDenied = errors.New("microphone permission denied")

// CaptureConfig configures the microphone capability. OnFrame delivers
// base64-encoded linear-PCM frames in the configured format.
type CaptureConfig struct {
	Format  media.Format
	OnFrame func(pcmBase64 string)
}

// Microphone is the capture capability: a fixed-rate 16-bit mono PCM
// source with a data callback.
type Microphone interface {
	Init(cfg CaptureConfig) error
	Start() error
	Stop() error
}

// Route switches the device between the two mutually exclusive audio
// configurations: capture-optimized and speaker-routed playback.
type Route interface {
	SetCaptureMode() error
	SetPlaybackMode() error
}

// Player renders one framed audio resource at a time. done fires exactly
// once on natural completion; it does not fire when Stop cuts playback
// short.
type Player interface {
	Play(uri string, done func()) error
	Stop() error
	Unload() error
}

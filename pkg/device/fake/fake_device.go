// Package fake provides deterministic device capabilities for tests and
// the demo CLI.
package fake

import (
	"encoding/base64"
	"fmt"
	"math"
	"sync"

	"github.com/voxtide/voxtide/pkg/device"
	"github.com/voxtide/voxtide/pkg/media"
)

// Microphone is a scriptable capture capability. Tests push frames with
// Emit; the demo CLI generates sine frames with EmitTone.
type Microphone struct {
	mu       sync.Mutex
	cfg      device.CaptureConfig
	inited   bool
	started  bool
	DenyInit bool // simulate a user refusing the permission prompt

	phase float64
}

// Init records the capture configuration.
func (m *Microphone) Init(cfg device.CaptureConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DenyInit {
		return device.ErrPermissionDenied
	}
	m.cfg = cfg
	m.inited = true
	return nil
}

// Start begins "capture". Frames only flow when the test emits them.
func (m *Microphone) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inited {
		return fmt.Errorf("microphone not initialized")
	}
	m.started = true
	return nil
}

// Stop halts capture.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
	return nil
}

// Started reports whether capture is running.
func (m *Microphone) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Emit delivers raw PCM through the data callback, base64-encoded the way
// the platform capability does. No-op while stopped.
func (m *Microphone) Emit(pcm []byte) {
	m.mu.Lock()
	cb := m.cfg.OnFrame
	started := m.started
	m.mu.Unlock()

	if !started || cb == nil {
		return
	}
	cb(base64.StdEncoding.EncodeToString(pcm))
}

// EmitTone emits one frame of a sine wave at the given frequency and
// amplitude, for driving the classifier without real audio.
func (m *Microphone) EmitTone(format media.Format, frameSamples int, frequency, amplitude float64) {
	data := make([]byte, frameSamples*2)
	for i := 0; i < frameSamples; i++ {
		sample := amplitude * math.Sin(m.phase)
		m.phase += 2 * math.Pi * frequency / float64(format.SampleRate)
		intSample := int16(sample * 32767)
		data[i*2] = byte(intSample)
		data[i*2+1] = byte(intSample >> 8)
	}
	m.Emit(data)
}

// Route records the last requested device audio mode.
type Route struct {
	mu   sync.Mutex
	mode string
}

// SetCaptureMode switches to capture-optimized audio.
func (r *Route) SetCaptureMode() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = "capture"
	return nil
}

// SetPlaybackMode switches to speaker-routed playback.
func (r *Route) SetPlaybackMode() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = "playback"
	return nil
}

// Mode returns the current mode ("capture", "playback" or "").
func (r *Route) Mode() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// Player records play requests. With AutoComplete set, each Play invokes
// its done callback synchronously; otherwise the test drives completion
// with Complete.
type Player struct {
	mu           sync.Mutex
	playing      string
	done         func()
	played       []string
	stops        int
	AutoComplete bool
}

// Play starts "rendering" the given URI.
func (p *Player) Play(uri string, done func()) error {
	p.mu.Lock()
	if p.playing != "" {
		p.mu.Unlock()
		return fmt.Errorf("player busy with %s", p.playing)
	}
	p.playing = uri
	p.done = done
	p.played = append(p.played, uri)
	auto := p.AutoComplete
	p.mu.Unlock()

	if auto {
		p.Complete()
	}
	return nil
}

// Complete finishes the current unit and fires its done callback.
func (p *Player) Complete() {
	p.mu.Lock()
	done := p.done
	p.playing = ""
	p.done = nil
	p.mu.Unlock()

	if done != nil {
		done()
	}
}

// Stop halts playback without firing the done callback.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = ""
	p.done = nil
	p.stops++
	return nil
}

// Unload releases the loaded resource.
func (p *Player) Unload() error {
	return nil
}

// Played returns the URIs played so far, in order.
func (p *Player) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.played))
	copy(out, p.played)
	return out
}

// Stops returns how many times Stop was called.
func (p *Player) Stops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

// Playing returns the URI currently rendering, if any.
func (p *Player) Playing() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

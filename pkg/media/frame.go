// Package media defines the PCM audio types shared by the capture,
// classification and playback packages.
package media

import (
	"fmt"
	"time"
)

// Format describes a linear-PCM stream. The engine runs on 16-bit mono
// throughout; the struct exists so byte/duration conversions live in one
// place instead of being re-derived at every call site.
type Format struct {
	SampleRate    int // samples per second, e.g. 24000
	NumChannels   int // 1 or 2
	BitsPerSample int // 16
}

// DefaultFormat is the capture and playback format used by the engine:
// 16-bit mono at 24kHz.
var DefaultFormat = Format{
	SampleRate:    24000,
	NumChannels:   1,
	BitsPerSample: 16,
}

// BytesPerSecond returns the PCM byte rate for this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.NumChannels * f.BitsPerSample / 8
}

// BytesFor returns the number of PCM bytes covering d of audio.
func (f Format) BytesFor(d time.Duration) int {
	return int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
}

// Duration returns the play time of n PCM bytes in this format.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Frame is one captured microphone buffer: raw 16-bit little-endian PCM.
// Frames are immutable after creation.
type Frame struct {
	Data      []byte
	Format    Format
	Timestamp time.Time
}

// NewFrame validates that data holds whole samples for the format.
func NewFrame(data []byte, format Format, ts time.Time) (Frame, error) {
	sampleBytes := format.NumChannels * format.BitsPerSample / 8
	if sampleBytes == 0 || len(data)%sampleBytes != 0 {
		return Frame{}, fmt.Errorf("frame data length %d is not a multiple of the %d-byte sample size", len(data), sampleBytes)
	}
	return Frame{Data: data, Format: format, Timestamp: ts}, nil
}

// Duration returns the play time covered by this frame.
func (f Frame) Duration() time.Duration {
	return f.Format.Duration(len(f.Data))
}

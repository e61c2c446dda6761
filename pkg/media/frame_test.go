package media

import (
	"testing"
	"time"
)

func TestFormatConversions(t *testing.T) {
	tests := []struct {
		name     string
		format   Format
		duration time.Duration
		bytes    int
	}{
		{
			name:     "24kHz mono 100ms",
			format:   Format{SampleRate: 24000, NumChannels: 1, BitsPerSample: 16},
			duration: 100 * time.Millisecond,
			bytes:    4800,
		},
		{
			name:     "16kHz mono 20ms",
			format:   Format{SampleRate: 16000, NumChannels: 1, BitsPerSample: 16},
			duration: 20 * time.Millisecond,
			bytes:    640,
		},
		{
			name:     "48kHz stereo 10ms",
			format:   Format{SampleRate: 48000, NumChannels: 2, BitsPerSample: 16},
			duration: 10 * time.Millisecond,
			bytes:    1920,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.BytesFor(tt.duration); got != tt.bytes {
				t.Errorf("BytesFor(%v) = %d, want %d", tt.duration, got, tt.bytes)
			}
			if got := tt.format.Duration(tt.bytes); got != tt.duration {
				t.Errorf("Duration(%d) = %v, want %v", tt.bytes, got, tt.duration)
			}
		})
	}
}

func TestNewFrameRejectsPartialSamples(t *testing.T) {
	_, err := NewFrame(make([]byte, 3), DefaultFormat, time.Time{})
	if err == nil {
		t.Fatal("NewFrame should reject data that splits a sample")
	}

	frame, err := NewFrame(make([]byte, 480), DefaultFormat, time.Time{})
	if err != nil {
		t.Fatalf("NewFrame failed on valid data: %v", err)
	}
	if frame.Duration() != 10*time.Millisecond {
		t.Errorf("Duration() = %v, want 10ms", frame.Duration())
	}
}

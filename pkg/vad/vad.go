// Package vad classifies captured microphone frames as speech or silence
// from short-window signal energy.
package vad

import "fmt"

// EventType is the classifier's verdict for one frame.
type EventType int

const (
	EventNone EventType = iota
	EventSpeechStarted
	EventSpeechContinuing
	EventSpeechEnded
)

func (e EventType) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventSpeechStarted:
		return "speechStarted"
	case EventSpeechContinuing:
		return "speechContinuing"
	case EventSpeechEnded:
		return "speechEnded"
	default:
		return fmt.Sprintf("unknown(%d)", int(e))
	}
}

// Event carries the verdict plus the energy that produced it, which is
// useful for threshold tuning in the field.
type Event struct {
	Type   EventType
	Energy float64
}

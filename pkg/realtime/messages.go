// Package realtime speaks the wire protocol of the remote speech-to-speech
// service: JSON events over a bearer-authenticated websocket.
package realtime

import (
	"encoding/base64"
	"fmt"
)

// Client event types.
const (
	TypeSessionUpdate    = "session.update"
	TypeInputAudioAppend = "input_audio_buffer.append"
	TypeInputAudioCommit = "input_audio_buffer.commit"
	TypeResponseCreate   = "response.create"
	TypeResponseCancel   = "response.cancel"
)

// Server event types consumed by the engine.
const (
	TypeSessionCreated          = "session.created"
	TypeSessionUpdated          = "session.updated"
	TypeConversationItemCreated = "conversation.item.created"
	TypeResponseCreated         = "response.created"
	TypeResponseDone            = "response.done"
	TypeResponseAudioDelta      = "response.audio.delta"
	TypeResponseAudioDone       = "response.audio.done"
	TypeTranscriptDelta         = "response.audio_transcript.delta"
	TypeInputTranscriptDone     = "conversation.item.input_audio_transcription.completed"
	TypeSpeechStarted           = "input_audio_buffer.speech_started"
	TypeSpeechStopped           = "input_audio_buffer.speech_stopped"
	TypeError                   = "error"
)

// TurnDetection echoes the server-side VAD tuning sent in session.update.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

// SessionConfig is the session.update payload.
type SessionConfig struct {
	Voice         string         `json:"voice,omitempty"`
	Instructions  string         `json:"instructions,omitempty"`
	TurnDetection *TurnDetection `json:"turn_detection,omitempty"`
}

// ClientEvent is any outbound protocol message.
type ClientEvent struct {
	Type    string         `json:"type"`
	Audio   string         `json:"audio,omitempty"`
	Session *SessionConfig `json:"session,omitempty"`
}

// UpdateSession builds the configuration message sent once after open.
func UpdateSession(cfg SessionConfig) ClientEvent {
	return ClientEvent{Type: TypeSessionUpdate, Session: &cfg}
}

// AppendAudio builds an input-audio-append event from base64 PCM.
func AppendAudio(pcmBase64 string) ClientEvent {
	return ClientEvent{Type: TypeInputAudioAppend, Audio: pcmBase64}
}

// CommitInput builds the input-audio-commit event.
func CommitInput() ClientEvent {
	return ClientEvent{Type: TypeInputAudioCommit}
}

// CreateResponse builds the response-create event.
func CreateResponse() ClientEvent {
	return ClientEvent{Type: TypeResponseCreate}
}

// CancelResponse builds the response-cancel event.
func CancelResponse() ClientEvent {
	return ClientEvent{Type: TypeResponseCancel}
}

// ErrorDetail is the payload of a peer-reported error event.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ServerEvent is any inbound protocol message. Fields not relevant to a
// given type are left zero.
type ServerEvent struct {
	Type       string       `json:"type"`
	EventID    string       `json:"event_id,omitempty"`
	ResponseID string       `json:"response_id,omitempty"`
	Delta      string       `json:"delta,omitempty"`
	Transcript string       `json:"transcript,omitempty"`
	Error      *ErrorDetail `json:"error,omitempty"`
}

// AudioDelta decodes the base64 PCM payload of a response.audio.delta.
func (e ServerEvent) AudioDelta() ([]byte, error) {
	if e.Type != TypeResponseAudioDelta {
		return nil, fmt.Errorf("event %q carries no audio delta", e.Type)
	}
	pcm, err := base64.StdEncoding.DecodeString(e.Delta)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio delta: %w", err)
	}
	return pcm, nil
}

// ErrorMessage returns the human-readable message of an error event.
func (e ServerEvent) ErrorMessage() string {
	if e.Error == nil {
		return ""
	}
	return e.Error.Message
}

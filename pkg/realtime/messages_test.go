package realtime

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/matryer/is"
)

func TestClientEventEncoding(t *testing.T) {
	tests := []struct {
		name  string
		event ClientEvent
		want  string
	}{
		{
			name:  "commit carries only its type",
			event: CommitInput(),
			want:  `{"type":"input_audio_buffer.commit"}`,
		},
		{
			name:  "response create carries only its type",
			event: CreateResponse(),
			want:  `{"type":"response.create"}`,
		},
		{
			name:  "cancel carries only its type",
			event: CancelResponse(),
			want:  `{"type":"response.cancel"}`,
		},
		{
			name:  "append carries base64 audio",
			event: AppendAudio("cGNt"),
			want:  `{"type":"input_audio_buffer.append","audio":"cGNt"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != tt.want {
				t.Errorf("marshal = %s, want %s", data, tt.want)
			}
		})
	}
}

func TestUpdateSessionCarriesTurnDetectionTuning(t *testing.T) {
	is := is.New(t)

	ev := UpdateSession(SessionConfig{
		Voice:        "sol",
		Instructions: "be brief",
		TurnDetection: &TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
		},
	})

	data, err := json.Marshal(ev)
	is.NoErr(err)

	var decoded map[string]any
	is.NoErr(json.Unmarshal(data, &decoded))
	is.Equal(decoded["type"], TypeSessionUpdate)

	session := decoded["session"].(map[string]any)
	td := session["turn_detection"].(map[string]any)
	is.Equal(td["type"], "server_vad")
	is.Equal(td["silence_duration_ms"], float64(500))
	is.Equal(td["prefix_padding_ms"], float64(300))
}

func TestServerEventAudioDelta(t *testing.T) {
	is := is.New(t)

	pcm := []byte{1, 2, 3, 4}
	ev := ServerEvent{
		Type:  TypeResponseAudioDelta,
		Delta: base64.StdEncoding.EncodeToString(pcm),
	}

	got, err := ev.AudioDelta()
	is.NoErr(err)
	is.Equal(got, pcm)

	_, err = ServerEvent{Type: TypeResponseDone}.AudioDelta()
	is.True(err != nil) // only audio deltas decode

	_, err = ServerEvent{Type: TypeResponseAudioDelta, Delta: "!!"}.AudioDelta()
	is.True(err != nil) // invalid base64 is surfaced
}

func TestServerEventErrorMessage(t *testing.T) {
	ev := ServerEvent{Type: TypeError, Error: &ErrorDetail{Message: "rate limited"}}
	if got := ev.ErrorMessage(); got != "rate limited" {
		t.Errorf("ErrorMessage() = %q", got)
	}
	if got := (ServerEvent{Type: TypeResponseDone}).ErrorMessage(); got != "" {
		t.Errorf("ErrorMessage() on non-error = %q, want empty", got)
	}
}

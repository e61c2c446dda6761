package wav

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/voxtide/voxtide/pkg/media"
)

// Header holds the fields of a decoded WAV preamble.
type Header struct {
	Format   media.Format
	DataSize uint32
}

// DecodeHeader reads the 44-byte preamble emitted by this package.
// It is intentionally strict: the engine only ever reads back files it
// wrote itself.
func DecodeHeader(r io.Reader) (Header, error) {
	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return Header{}, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return Header{}, fmt.Errorf("not a RIFF/WAVE stream")
	}
	if string(raw[12:16]) != "fmt " || string(raw[36:40]) != "data" {
		return Header{}, fmt.Errorf("unexpected chunk layout")
	}
	if audioFormat := binary.LittleEndian.Uint16(raw[20:22]); audioFormat != 1 {
		return Header{}, fmt.Errorf("unsupported audio format %d (want PCM)", audioFormat)
	}

	return Header{
		Format: media.Format{
			SampleRate:    int(binary.LittleEndian.Uint32(raw[24:28])),
			NumChannels:   int(binary.LittleEndian.Uint16(raw[22:24])),
			BitsPerSample: int(binary.LittleEndian.Uint16(raw[34:36])),
		},
		DataSize: binary.LittleEndian.Uint32(raw[40:44]),
	}, nil
}

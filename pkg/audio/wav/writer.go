// Package wav frames raw linear-PCM byte streams into minimal WAV
// containers so an opaque playback capability can decode them.
package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/voxtide/voxtide/pkg/media"
)

// headerSize is the fixed size of the RIFF/fmt/data preamble we emit.
const headerSize = 44

// Encode wraps pcm in a complete in-memory WAV container.
func Encode(format media.Format, pcm []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(headerSize + len(pcm))
	writeHeader(&buf, format, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// Writer writes a WAV file incrementally. The header is stamped with the
// final sizes on Close.
type Writer struct {
	file    *os.File
	format  media.Format
	written uint32
}

// NewWriter creates filename and writes a placeholder header.
func NewWriter(filename string, format media.Format) (*Writer, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV file: %w", err)
	}

	w := &Writer{file: file, format: format}
	var buf bytes.Buffer
	writeHeader(&buf, format, 0)
	if _, err := file.Write(buf.Bytes()); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return w, nil
}

// WritePCM appends raw PCM bytes to the data chunk.
func (w *Writer) WritePCM(pcm []byte) error {
	n, err := w.file.Write(pcm)
	w.written += uint32(n)
	if err != nil {
		return fmt.Errorf("failed to write PCM data: %w", err)
	}
	return nil
}

// Close finalizes the WAV file by updating the header with actual sizes.
// Safe to call more than once.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}

	chunkSize := w.written + headerSize - 8
	if _, err := w.file.Seek(4, 0); err != nil {
		return fmt.Errorf("failed to seek to chunk size: %w", err)
	}
	if err := binary.Write(w.file, binary.LittleEndian, chunkSize); err != nil {
		return fmt.Errorf("failed to write chunk size: %w", err)
	}
	if _, err := w.file.Seek(40, 0); err != nil {
		return fmt.Errorf("failed to seek to data size: %w", err)
	}
	if err := binary.Write(w.file, binary.LittleEndian, w.written); err != nil {
		return fmt.Errorf("failed to write data size: %w", err)
	}

	err := w.file.Close()
	w.file = nil
	return err
}

func writeHeader(buf *bytes.Buffer, format media.Format, dataSize uint32) {
	sampleRate := uint32(format.SampleRate)
	numChannels := uint16(format.NumChannels)
	bitsPerSample := uint16(format.BitsPerSample)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, dataSize+headerSize-8)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, numChannels)
	binary.Write(buf, binary.LittleEndian, sampleRate)
	byteRate := sampleRate * uint32(numChannels) * uint32(bitsPerSample) / 8
	binary.Write(buf, binary.LittleEndian, byteRate)
	blockAlign := numChannels * bitsPerSample / 8
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, bitsPerSample)

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataSize)
}

package wav

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/matryer/is"
	"github.com/voxtide/voxtide/pkg/media"
)

func TestEncodeRoundTrip(t *testing.T) {
	is := is.New(t)

	pcm := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	data := Encode(media.DefaultFormat, pcm)

	is.Equal(len(data), headerSize+len(pcm)) // container is header plus payload

	header, err := DecodeHeader(bytes.NewReader(data))
	is.NoErr(err)
	is.Equal(header.Format, media.DefaultFormat)
	is.Equal(header.DataSize, uint32(len(pcm)))
	is.Equal(data[headerSize:], pcm) // payload must be untouched
}

func TestWriterStampsSizesOnClose(t *testing.T) {
	is := is.New(t)

	path := filepath.Join(t.TempDir(), "out.wav")
	w, err := NewWriter(path, media.DefaultFormat)
	is.NoErr(err)

	is.NoErr(w.WritePCM(make([]byte, 480)))
	is.NoErr(w.WritePCM(make([]byte, 480)))
	is.NoErr(w.Close())
	is.NoErr(w.Close()) // Close is idempotent

	f, err := os.Open(path)
	is.NoErr(err)
	defer f.Close()

	header, err := DecodeHeader(f)
	is.NoErr(err)
	is.Equal(header.DataSize, uint32(960))
}

func TestDecodeHeaderRejectsGarbage(t *testing.T) {
	_, err := DecodeHeader(bytes.NewReader(make([]byte, headerSize)))
	if err == nil {
		t.Fatal("DecodeHeader should reject a zeroed preamble")
	}
}

package protocol

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrame_AppendsNewline(t *testing.T) {
	frame, err := EncodeFrame(map[string]string{"command": "play"})
	require.NoError(t, err)
	assert.True(t, bytes.HasSuffix(frame, []byte("\n")))
	assert.Equal(t, 1, bytes.Count(frame, []byte("\n")))
}

func TestEncodeFrame_RoundTripStateUpdate(t *testing.T) {
	artist := "Boards of Canada"
	album := "Geogaddi"
	track := "1969"

	in := NewStateUpdate()
	in.Artist = &artist
	in.Album = &album
	in.Track = &track
	in.DurationMs = 251000
	in.PositionMs = 98000
	in.IsPlaying = true
	in.VolumePercent = 40

	frame, err := EncodeFrame(in)
	require.NoError(t, err)

	out, err := DecodeStateUpdate(bytes.TrimRight(frame, "\n"))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEncodeFrame_NullMetadata(t *testing.T) {
	frame, err := EncodeFrame(NewStateUpdate())
	require.NoError(t, err)
	assert.Contains(t, string(frame), `"artist":null`)
	assert.Contains(t, string(frame), `"album":null`)
	assert.Contains(t, string(frame), `"track":null`)
}

func TestLineDecoder_SplitsOnNewlines(t *testing.T) {
	input := `{"command":"play"}` + "\n" + `{"command":"pause"}` + "\n"
	dec := NewLineDecoder(strings.NewReader(input))

	first, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"command":"play"}`, string(first))

	second, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"command":"pause"}`, string(second))

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestLineDecoder_SkipsEmptyLines(t *testing.T) {
	input := "\n\r\n" + `{"command":"next"}` + "\n\n"
	dec := NewLineDecoder(strings.NewReader(input))

	frame, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"command":"next"}`, string(frame))

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestLineDecoder_StripsCarriageReturn(t *testing.T) {
	dec := NewLineDecoder(strings.NewReader(`{"command":"play"}` + "\r\n"))
	frame, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"command":"play"}`, string(frame))
}

func TestLineDecoder_DropsPartialTrailingLine(t *testing.T) {
	// A line without a terminator cannot be known complete; it is not
	// surfaced as a frame.
	dec := NewLineDecoder(strings.NewReader(`{"command":"play"}` + "\n" + `{"command":"pa`))

	frame, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"command":"play"}`, string(frame))

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

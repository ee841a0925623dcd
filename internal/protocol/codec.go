package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// ============================================================================
// Line codec - newline-delimited JSON framing for stream transports
// ============================================================================
//
// One frame is one compact UTF-8 JSON object followed by a single '\n'.
// Encoding never emits embedded newlines (json.Marshal escapes them inside
// strings); decoding buffers bytes until a newline and hands back the line.
//
// A line that is not well-formed JSON is NOT a transport error: the caller
// gets the raw bytes and decides, and the stream resumes at the next newline.
// ============================================================================

// EncodeFrame serializes v as one newline-terminated wire frame.
func EncodeFrame(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if bytes.IndexByte(b, '\n') >= 0 {
		// json.Marshal escapes newlines in strings; hitting this means v
		// produced raw newline bytes some other way (e.g. RawMessage).
		return nil, fmt.Errorf("encode frame: embedded newline in payload")
	}
	return append(b, '\n'), nil
}

// LineDecoder splits a byte stream into frames at newline boundaries.
type LineDecoder struct {
	r *bufio.Reader
}

// NewLineDecoder wraps r. The stream is consumed once; a new connection
// needs a new decoder.
func NewLineDecoder(r io.Reader) *LineDecoder {
	return &LineDecoder{r: bufio.NewReader(r)}
}

// Next returns the next frame, excluding the trailing newline. Empty lines
// are skipped. On stream end it returns the terminal read error (io.EOF for
// a clean close).
func (d *LineDecoder) Next() ([]byte, error) {
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil {
			// A partial trailing line without newline is not a frame; the
			// peer disconnected mid-write and the bytes are dropped.
			return nil, err
		}
		frame := bytes.TrimRight(line, "\r\n")
		if len(frame) == 0 {
			continue
		}
		return frame, nil
	}
}

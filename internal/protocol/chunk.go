package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ============================================================================
// Chunking - for message transports with a maximum payload size
// ============================================================================
//
// Frames larger than the transport's payload limit are split into numbered
// chunks, each carrying a fixed binary header followed by a payload slice:
//
//   magic(4) | seq(4) | index(2) | total(2) | length(2)
//
// Frames that fit the limit are sent as-is. JSON frames always start with
// '{' and the chunk magic never does, so the receiver can tell them apart
// without an extra envelope.
//
// Reassembly is last-writer-wins per logical message slot: chunk index 0
// discards any incomplete predecessor.
// ============================================================================

const (
	// chunkMagic is "NCHK" in big-endian. First byte 'N' never collides
	// with a JSON frame's leading '{'.
	chunkMagic = 0x4E43484B

	// ChunkHeaderSize is the fixed chunk header length in bytes.
	ChunkHeaderSize = 14

	// DefaultMaxPayload bounds a single message on chunking transports.
	// 512 matches the MTU-sized payloads the head unit link negotiates.
	DefaultMaxPayload = 512
)

type chunkHeader struct {
	Magic  uint32
	Seq    uint32
	Index  uint16
	Total  uint16
	Length uint16
}

// ErrNotChunk reports that a message is a plain (unchunked) frame.
var ErrNotChunk = fmt.Errorf("not a chunk message")

// SplitFrame splits frame into transport messages no larger than maxPayload.
// A frame that already fits is returned unmodified as a single message.
// seq identifies the logical message and must differ between consecutive
// frames on one connection.
func SplitFrame(seq uint32, frame []byte, maxPayload int) ([][]byte, error) {
	if maxPayload <= ChunkHeaderSize {
		return nil, fmt.Errorf("split frame: max payload %d too small for chunk header", maxPayload)
	}
	if len(frame) <= maxPayload {
		return [][]byte{frame}, nil
	}

	slice := maxPayload - ChunkHeaderSize
	total := (len(frame) + slice - 1) / slice
	if total > int(^uint16(0)) {
		return nil, fmt.Errorf("split frame: %d chunks exceed uint16 total", total)
	}

	msgs := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		start := i * slice
		end := start + slice
		if end > len(frame) {
			end = len(frame)
		}
		part := frame[start:end]

		buf := new(bytes.Buffer)
		hdr := chunkHeader{
			Magic:  chunkMagic,
			Seq:    seq,
			Index:  uint16(i),
			Total:  uint16(total),
			Length: uint16(len(part)),
		}
		if err := binary.Write(buf, binary.BigEndian, hdr); err != nil {
			return nil, fmt.Errorf("split frame: write chunk header: %w", err)
		}
		buf.Write(part)
		msgs = append(msgs, buf.Bytes())
	}
	return msgs, nil
}

func parseChunk(msg []byte) (chunkHeader, []byte, error) {
	if len(msg) < ChunkHeaderSize {
		return chunkHeader{}, nil, ErrNotChunk
	}
	var hdr chunkHeader
	if err := binary.Read(bytes.NewReader(msg[:ChunkHeaderSize]), binary.BigEndian, &hdr); err != nil {
		return chunkHeader{}, nil, fmt.Errorf("parse chunk header: %w", err)
	}
	if hdr.Magic != chunkMagic {
		return chunkHeader{}, nil, ErrNotChunk
	}
	payload := msg[ChunkHeaderSize:]
	if len(payload) != int(hdr.Length) {
		return chunkHeader{}, nil, fmt.Errorf("chunk %d/%d: payload %d bytes, header says %d",
			hdr.Index, hdr.Total, len(payload), hdr.Length)
	}
	return hdr, payload, nil
}

// Reassembler rebuilds logical frames from a sequence of transport messages.
// It holds at most one in-flight message; a fresh index-0 chunk replaces any
// incomplete predecessor.
type Reassembler struct {
	seq     uint32
	total   int
	parts   [][]byte
	have    int
	pending bool
}

// Add consumes one transport message. It returns (frame, true, nil) when a
// complete logical frame is available: either an unchunked frame passed
// through directly, or the final chunk of an in-flight message. Chunks that
// cannot be placed (stale seq, out-of-range index, corrupt header) return an
// error and leave the current slot intact.
func (r *Reassembler) Add(msg []byte) ([]byte, bool, error) {
	hdr, payload, err := parseChunk(msg)
	if err == ErrNotChunk {
		return msg, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	if hdr.Total == 0 || hdr.Index >= hdr.Total {
		return nil, false, fmt.Errorf("chunk index %d out of range (total %d)", hdr.Index, hdr.Total)
	}

	if hdr.Index == 0 {
		// New logical message: drop any incomplete predecessor.
		r.seq = hdr.Seq
		r.total = int(hdr.Total)
		r.parts = make([][]byte, r.total)
		r.have = 0
		r.pending = true
	} else if !r.pending || hdr.Seq != r.seq {
		return nil, false, fmt.Errorf("chunk %d/%d for seq %d without a start chunk", hdr.Index, hdr.Total, hdr.Seq)
	} else if int(hdr.Total) != r.total {
		return nil, false, fmt.Errorf("chunk total changed mid-message: %d -> %d", r.total, hdr.Total)
	}

	if r.parts[hdr.Index] == nil {
		r.have++
	}
	r.parts[hdr.Index] = append([]byte(nil), payload...)

	if r.have < r.total {
		return nil, false, nil
	}

	frame := bytes.Join(r.parts, nil)
	r.pending = false
	r.parts = nil
	return frame, true, nil
}

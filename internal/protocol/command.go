package protocol

import (
	"encoding/json"
	"fmt"
)

// CommandKind identifies what a peer command asks the device to do.
type CommandKind string

const (
	KindPlay         CommandKind = "play"
	KindPause        CommandKind = "pause"
	KindNext         CommandKind = "next"
	KindPrevious     CommandKind = "previous"
	KindSeekTo       CommandKind = "seek_to"
	KindSetVolume    CommandKind = "set_volume"
	KindRequestState CommandKind = "request_state"

	// KindUnknown is any vocabulary the device does not recognize.
	// Unknown commands are reported, never executed.
	KindUnknown CommandKind = "unknown"
)

// Command is one inbound frame from the peer, decoded from a single
// JSON line: {"command": string, "value_ms"?: int, "value_percent"?: int, "payload"?: object}.
//
// Optional fields are pointers so "absent" and "zero" stay distinguishable;
// validation for kind-specific requirements lives in Validate, not here.
type Command struct {
	Command      string          `json:"command"`
	ValueMs      *int64          `json:"value_ms,omitempty"`
	ValuePercent *int            `json:"value_percent,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// Kind maps the raw command string onto the fixed vocabulary.
func (c Command) Kind() CommandKind {
	switch CommandKind(c.Command) {
	case KindPlay, KindPause, KindNext, KindPrevious, KindSeekTo, KindSetVolume, KindRequestState:
		return CommandKind(c.Command)
	default:
		return KindUnknown
	}
}

// ParseCommand decodes one frame into a Command. A failure here is a decode
// diagnostic for the caller, never a session-fatal error.
func ParseCommand(frame []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(frame, &c); err != nil {
		return Command{}, fmt.Errorf("decode command frame: %w", err)
	}
	if c.Command == "" {
		return Command{}, fmt.Errorf("decode command frame: missing \"command\" field")
	}
	return c, nil
}

// Validate checks kind-specific required fields. A command that fails
// validation is dropped with a diagnostic and never partially executed.
func (c Command) Validate() error {
	switch c.Kind() {
	case KindSeekTo:
		if c.ValueMs == nil {
			return fmt.Errorf("seek_to requires value_ms")
		}
		if *c.ValueMs < 0 {
			return fmt.Errorf("seek_to value_ms must be >= 0, got %d", *c.ValueMs)
		}
	case KindSetVolume:
		if c.ValuePercent == nil {
			return fmt.Errorf("set_volume requires value_percent")
		}
		if *c.ValuePercent < 0 || *c.ValuePercent > 100 {
			return fmt.Errorf("set_volume value_percent must be 0..100, got %d", *c.ValuePercent)
		}
	case KindUnknown:
		return fmt.Errorf("unknown command %q", c.Command)
	}
	return nil
}

func (c Command) String() string {
	switch c.Kind() {
	case KindSeekTo:
		if c.ValueMs != nil {
			return fmt.Sprintf("seek_to(%dms)", *c.ValueMs)
		}
		return "seek_to(?)"
	case KindSetVolume:
		if c.ValuePercent != nil {
			return fmt.Sprintf("set_volume(%d%%)", *c.ValuePercent)
		}
		return "set_volume(?)"
	default:
		return c.Command
	}
}

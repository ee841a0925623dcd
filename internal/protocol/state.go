package protocol

import (
	"encoding/json"
	"fmt"
)

// StateUpdateType is the constant "type" discriminator on outbound state frames.
const StateUpdateType = "stateUpdate"

// StateUpdate is the device -> peer snapshot of last-known playback state.
//
// Artist/Album/Track are pointers because the wire format distinguishes
// null (no metadata yet) from empty string. position_ms <= duration_ms is a
// best-effort property of the source; the engine forwards it faithfully.
type StateUpdate struct {
	Type          string  `json:"type"`
	Artist        *string `json:"artist"`
	Album         *string `json:"album"`
	Track         *string `json:"track"`
	DurationMs    int64   `json:"duration_ms"`
	PositionMs    int64   `json:"position_ms"`
	IsPlaying     bool    `json:"is_playing"`
	VolumePercent int     `json:"volume_percent"`
}

// NewStateUpdate returns an empty snapshot with the type discriminator set.
func NewStateUpdate() StateUpdate {
	return StateUpdate{Type: StateUpdateType}
}

// DecodeStateUpdate parses one frame as a StateUpdate and checks the
// discriminator. Used by tests and by observer tooling.
func DecodeStateUpdate(frame []byte) (StateUpdate, error) {
	var s StateUpdate
	if err := json.Unmarshal(frame, &s); err != nil {
		return StateUpdate{}, fmt.Errorf("decode state update: %w", err)
	}
	if s.Type != StateUpdateType {
		return StateUpdate{}, fmt.Errorf("decode state update: unexpected type %q", s.Type)
	}
	return s, nil
}

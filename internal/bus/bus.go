package bus

import (
	"log/slog"
	"sync"
	"time"

	"companiond/internal/protocol"
)

// ============================================================================
// Event bus - protocol event fan-out
// ============================================================================
//
// Every stage of the protocol engine publishes here: raw inbound frames,
// parsed commands (or parse failures), outbound state snapshots, connection
// status changes, and diagnostics. Observers (UI hub, logging) subscribe
// independently; a slow observer loses events instead of blocking the engine.
// ============================================================================

// Event is the marker interface for all bus events.
type Event interface {
	eventMarker()
	EventType() string
}

// RawInbound is one frame as received from the transport, before parsing.
type RawInbound struct {
	Frame []byte    `json:"frame"`
	At    time.Time `json:"at"`
}

func (RawInbound) eventMarker()      {}
func (RawInbound) EventType() string { return "raw_inbound" }

// CommandParsed is a successfully decoded peer command.
type CommandParsed struct {
	Command protocol.Command `json:"command"`
	At      time.Time        `json:"at"`
}

func (CommandParsed) eventMarker()      {}
func (CommandParsed) EventType() string { return "command_parsed" }

// CommandRejected reports a frame that could not be parsed or a command
// that failed validation. Raw carries the failing text for display.
type CommandRejected struct {
	Raw    string    `json:"raw"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

func (CommandRejected) eventMarker()      {}
func (CommandRejected) EventType() string { return "command_rejected" }

// StatePublished is one outbound snapshot, as sent to the peer.
type StatePublished struct {
	State protocol.StateUpdate `json:"state"`
	At    time.Time            `json:"at"`
}

func (StatePublished) eventMarker()      {}
func (StatePublished) EventType() string { return "state_published" }

// StatusChanged reports a connection status transition.
type StatusChanged struct {
	State  string    `json:"state"` // disconnected | connecting | connected | failed
	Peer   string    `json:"peer,omitempty"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

func (StatusChanged) eventMarker()      {}
func (StatusChanged) EventType() string { return "status_changed" }

// Diagnostic is a short human-readable status message. Every dropped or
// failed operation emits at least one of these.
type Diagnostic struct {
	Level   string    `json:"level"` // info | warn | error
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func (Diagnostic) eventMarker()      {}
func (Diagnostic) EventType() string { return "diagnostic" }

// Subscription is one observer's view of the bus.
type Subscription struct {
	C      <-chan Event
	c      chan Event
	cancel func()
	once   sync.Once
}

// Cancel detaches the subscription. Safe to call more than once and safe
// to call concurrently with Publish.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Bus fans events out to subscribers without blocking the publisher.
type Bus struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// New constructs an empty bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[*Subscription]struct{}),
	}
}

// Subscribe registers an observer with the given channel buffer. A zero or
// negative buffer gets a conservative default.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	c := make(chan Event, buffer)
	sub := &Subscription{C: c, c: c}
	sub.cancel = func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
		close(c)
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish delivers ev to every subscriber. It never blocks; a subscriber
// whose buffer is full misses this event.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.c <- ev:
		default:
			b.logger.Warn("bus subscriber full, dropping event", "event", ev.EventType())
		}
	}
}

// Diagnostic publishes a diagnostic event and mirrors it to the logger.
func (b *Bus) Diagnostic(level, message string) {
	switch level {
	case "error":
		b.logger.Error(message)
	case "warn":
		b.logger.Warn(message)
	default:
		b.logger.Info(message)
	}
	b.Publish(Diagnostic{Level: level, Message: message, At: time.Now().UTC()})
}

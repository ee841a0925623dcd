package media

import "sync"

// ============================================================================
// Media control facade - the external "now playing" collaborator
// ============================================================================
//
// The engine never talks to a platform media session directly. It drives a
// Controller (side effects) and observes its change stream. Binding and
// unbinding of the underlying media source is owned by the host platform;
// the engine sees it as Binder updates.
// ============================================================================

// Metadata is the current track description. Empty strings mean the source
// reported nothing for that field.
type Metadata struct {
	Artist     string
	Album      string
	Track      string
	DurationMs int64
}

// Playback is the current transport state.
type Playback struct {
	IsPlaying  bool
	PositionMs int64
}

// Volume is the source's volume in its own device steps. Max is the
// highest step the device accepts; Level is in 0..Max.
type Volume struct {
	Level int
	Max   int
}

// ChangeKind classifies a controller change notification.
type ChangeKind int

const (
	ChangeMetadata ChangeKind = iota
	ChangePlayback
	ChangeVolume
)

// Change is one notification from the controller's event stream.
type Change struct {
	Kind ChangeKind
}

// Controller exposes one bound media source. Implementations live outside
// this module (platform glue); tests use fakes.
//
// Action methods return an error when the underlying source rejects the
// call; the engine reports these as diagnostics, it does not retry.
type Controller interface {
	Metadata() Metadata
	Playback() Playback
	Volume() Volume

	Play() error
	Pause() error
	Next() error
	Previous() error
	SeekTo(positionMs int64) error
	SetVolume(level int) error

	// Events emits change notifications for the lifetime of the binding.
	// The channel is closed when the controller is torn down.
	Events() <-chan Change
}

// Binder holds the currently active controller, nil when no media source
// is bound. Watchers receive the new controller (or nil) on every change,
// latest-wins if they lag.
type Binder struct {
	mu       sync.Mutex
	current  Controller
	watchers []chan Controller
}

// NewBinder returns an unbound Binder.
func NewBinder() *Binder {
	return &Binder{}
}

// Current returns the active controller, or nil when unbound.
func (b *Binder) Current() Controller {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Bind installs c as the active controller and notifies watchers.
// Bind(nil) unbinds.
//
// Notification happens under the mutex: every send into a watcher channel
// is serialized with Watch's seed, so the value sitting in a channel is
// always the most recent binding.
func (b *Binder) Bind(c Controller) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = c

	for _, w := range b.watchers {
		// Latest-wins: drop a stale pending value. The slot is free after
		// the drain because all senders hold the mutex.
		select {
		case <-w:
		default:
		}
		w <- c
	}
}

// Watch returns a channel that receives the controller on every bind change.
// The channel has capacity 1 and carries the latest value only.
func (b *Binder) Watch() <-chan Controller {
	w := make(chan Controller, 1)
	b.mu.Lock()
	defer b.mu.Unlock()

	// Register and seed atomically so a concurrent Bind cannot slip its
	// value in ahead of the seed.
	b.watchers = append(b.watchers, w)
	w <- b.current
	return w
}

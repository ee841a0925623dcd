package state

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"companiond/internal/bus"
	"companiond/internal/media"
	"companiond/internal/protocol"
	"companiond/internal/transport"
)

// ============================================================================
// State publisher - owned snapshot, merge in place, publish atomically
// ============================================================================
//
// The publisher owns the mutable "last known state". Each signal class
// (metadata, playback, volume) merges only its own fields; the rest stay
// as last observed. Every merge flattens the snapshot to one immutable
// wire copy and emits it twice: once to the bus for local observers, once
// as a newline-framed line down the session send path.
//
// Merge-serialize-send runs under one mutex, so two triggers in the same
// millisecond still produce two complete, non-interleaved lines. A send
// while disconnected is dropped silently; the publisher is fire-and-forget
// with respect to transport availability.
// ============================================================================

// Sender is the session's serialized send surface.
type Sender interface {
	Send(frame []byte) error
}

// Publisher assembles and broadcasts state snapshots.
type Publisher struct {
	logger *slog.Logger
	bus    *bus.Bus
	sender Sender
	binder *media.Binder

	mu   sync.Mutex
	snap protocol.StateUpdate
}

// New constructs a publisher with an empty snapshot (null metadata).
func New(logger *slog.Logger, b *bus.Bus, sender Sender, binder *media.Binder) *Publisher {
	return &Publisher{
		logger: logger,
		bus:    b,
		sender: sender,
		binder: binder,
		snap:   protocol.NewStateUpdate(),
	}
}

// Snapshot returns a flattened copy of the current state.
func (p *Publisher) Snapshot() protocol.StateUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// UpdateMetadata merges a metadata signal and publishes.
func (p *Publisher) UpdateMetadata(md media.Metadata) {
	p.mu.Lock()
	p.mergeMetadataLocked(md)
	p.emitLocked()
	p.mu.Unlock()
}

// UpdatePlayback merges a playback signal and publishes.
func (p *Publisher) UpdatePlayback(pb media.Playback) {
	p.mu.Lock()
	p.mergePlaybackLocked(pb)
	p.emitLocked()
	p.mu.Unlock()
}

// UpdateVolume merges a volume signal and publishes. The wire percent is
// recomputed from the source's actual level and range, never echoed from
// a command.
func (p *Publisher) UpdateVolume(v media.Volume) {
	p.mu.Lock()
	p.mergeVolumeLocked(v)
	p.emitLocked()
	p.mu.Unlock()
}

// PublishNow refreshes every field from the bound controller (if any) and
// publishes the result. With no controller bound it republishes the last
// known snapshot unchanged.
func (p *Publisher) PublishNow() {
	ctrl := p.binder.Current()

	p.mu.Lock()
	if ctrl != nil {
		p.mergeMetadataLocked(ctrl.Metadata())
		p.mergePlaybackLocked(ctrl.Playback())
		p.mergeVolumeLocked(ctrl.Volume())
	}
	p.emitLocked()
	p.mu.Unlock()
}

func (p *Publisher) mergeMetadataLocked(md media.Metadata) {
	p.snap.Artist = optString(md.Artist)
	p.snap.Album = optString(md.Album)
	p.snap.Track = optString(md.Track)
	p.snap.DurationMs = md.DurationMs
}

func (p *Publisher) mergePlaybackLocked(pb media.Playback) {
	p.snap.IsPlaying = pb.IsPlaying
	// Position comes from the source as-is; no clamping against duration.
	p.snap.PositionMs = pb.PositionMs
}

func (p *Publisher) mergeVolumeLocked(v media.Volume) {
	if v.Max <= 0 {
		return
	}
	p.snap.VolumePercent = int(math.Round(float64(v.Level) * 100.0 / float64(v.Max)))
}

// emitLocked flattens the snapshot, broadcasts it, and hands one wire
// copy to the session. Callers hold p.mu, which is what makes the
// serialize-then-send step atomic across concurrent triggers.
func (p *Publisher) emitLocked() {
	snap := p.snap

	frame, err := protocol.EncodeFrame(snap)
	if err != nil {
		p.logger.Error("encode state update failed", "error", err)
		return
	}

	p.bus.Publish(bus.StatePublished{State: snap, At: time.Now().UTC()})

	if err := p.sender.Send(frame); err != nil {
		if errors.Is(err, transport.ErrNotConnected) {
			// No peer; nothing buffered, nothing retried.
			return
		}
		p.logger.Warn("state send failed", "error", err)
	}
}

// Run subscribes to the facade's change stream and keeps the snapshot
// current. When the active controller changes, it reattaches to the new
// one's events; dispatcher-triggered publishes go through PublishNow and
// do not pass through here.
func (p *Publisher) Run(ctx context.Context) {
	watch := p.binder.Watch()

	var ctrl media.Controller
	var events <-chan media.Change

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-watch:
			ctrl = c
			if ctrl != nil {
				events = ctrl.Events()
				// A fresh binding is a full state change.
				p.PublishNow()
			} else {
				events = nil
			}

		case ch, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ctrl == nil {
				continue
			}
			switch ch.Kind {
			case media.ChangeMetadata:
				p.UpdateMetadata(ctrl.Metadata())
			case media.ChangePlayback:
				p.UpdatePlayback(ctrl.Playback())
			case media.ChangeVolume:
				p.UpdateVolume(ctrl.Volume())
			}
		}
	}
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"companiond/internal/bus"
	"companiond/internal/media"
	"companiond/internal/metrics"
	"companiond/internal/protocol"
)

// ============================================================================
// Command dispatcher - inbound frames to facade side effects
// ============================================================================
//
// A single consumer goroutine drains a FIFO queue fed by the session read
// loop, so commands execute strictly in arrival order. Each command gets
// at most one facade call, then an unconditional state publish after a
// short settle delay (the media source's reaction is not synchronously
// observable).
//
// Commands arriving with no bound media source get one grace wait and are
// then dropped; nothing is queued for redelivery.
// ============================================================================

const (
	// DefaultGrace is how long to wait once for a media source to bind
	// before dropping a command.
	DefaultGrace = 200 * time.Millisecond

	// DefaultSettle is how long to wait after a side effect before the
	// follow-up state publish.
	DefaultSettle = 100 * time.Millisecond
)

// Publisher is the state-publish surface the dispatcher triggers.
type Publisher interface {
	PublishNow()
}

// Dispatcher validates and executes peer commands.
type Dispatcher struct {
	logger *slog.Logger
	bus    *bus.Bus
	binder *media.Binder
	pub    Publisher

	grace  time.Duration
	settle time.Duration
	queue  chan []byte
}

// Option tunes a Dispatcher.
type Option func(*Dispatcher)

// WithGrace overrides the unbound-facade grace wait.
func WithGrace(d time.Duration) Option { return func(dp *Dispatcher) { dp.grace = d } }

// WithSettle overrides the post-effect settle delay.
func WithSettle(d time.Duration) Option { return func(dp *Dispatcher) { dp.settle = d } }

// WithQueueSize overrides the FIFO queue capacity.
func WithQueueSize(n int) Option {
	return func(dp *Dispatcher) {
		if n > 0 {
			dp.queue = make(chan []byte, n)
		}
	}
}

// New constructs a dispatcher. Run must be started for frames to move.
func New(logger *slog.Logger, b *bus.Bus, binder *media.Binder, pub Publisher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger: logger,
		bus:    b,
		binder: binder,
		pub:    pub,
		grace:  DefaultGrace,
		settle: DefaultSettle,
		queue:  make(chan []byte, 64),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandleFrame enqueues one inbound frame. It never blocks the read loop;
// if the queue is full the frame is dropped with a diagnostic.
func (d *Dispatcher) HandleFrame(frame []byte) {
	select {
	case d.queue <- frame:
	default:
		metrics.CommandsDropped.WithLabelValues("queue_full").Inc()
		d.bus.Diagnostic("warn", "command queue full, dropping inbound frame")
	}
}

// Run drains the queue until ctx is done. Single consumer: arrival order
// is execution order.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-d.queue:
			d.dispatch(ctx, frame)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, frame []byte) {
	now := time.Now().UTC()

	cmd, err := protocol.ParseCommand(frame)
	if err != nil {
		metrics.DecodeErrors.Inc()
		d.bus.Publish(bus.CommandRejected{Raw: string(frame), Reason: err.Error(), At: now})
		d.bus.Diagnostic("warn", fmt.Sprintf("dropped malformed frame: %v", err))
		return
	}
	d.bus.Publish(bus.CommandParsed{Command: cmd, At: now})

	// State requests need no media source; answer straight from the
	// publisher's snapshot.
	if cmd.Kind() == protocol.KindRequestState {
		metrics.CommandsDispatched.WithLabelValues(string(protocol.KindRequestState)).Inc()
		d.pub.PublishNow()
		return
	}

	ctrl := d.binder.Current()
	if ctrl == nil {
		// One grace wait, one re-check, then drop. At-most-once delivery:
		// the command is not held for a future binding.
		if !sleepCtx(ctx, d.grace) {
			return
		}
		if ctrl = d.binder.Current(); ctrl == nil {
			metrics.CommandsDropped.WithLabelValues("no_target").Inc()
			d.bus.Diagnostic("warn", fmt.Sprintf("no media target for %s, dropping", cmd))
			return
		}
	}

	if err := cmd.Validate(); err != nil {
		metrics.CommandsDropped.WithLabelValues("invalid").Inc()
		d.bus.Publish(bus.CommandRejected{Raw: string(frame), Reason: err.Error(), At: now})
		d.bus.Diagnostic("warn", fmt.Sprintf("dropped invalid command: %v", err))
		return
	}

	if err := d.execute(cmd, ctrl); err != nil {
		d.bus.Diagnostic("error", fmt.Sprintf("%s failed: %v", cmd, err))
	} else {
		metrics.CommandsDispatched.WithLabelValues(string(cmd.Kind())).Inc()
	}

	// The media source's state change may land after the call returns;
	// settle, then publish unconditionally.
	if !sleepCtx(ctx, d.settle) {
		return
	}
	d.pub.PublishNow()
}

// execute maps a validated command onto exactly one facade call.
func (d *Dispatcher) execute(cmd protocol.Command, ctrl media.Controller) error {
	switch cmd.Kind() {
	case protocol.KindPlay:
		return ctrl.Play()
	case protocol.KindPause:
		return ctrl.Pause()
	case protocol.KindNext:
		return ctrl.Next()
	case protocol.KindPrevious:
		return ctrl.Previous()
	case protocol.KindSeekTo:
		return ctrl.SeekTo(*cmd.ValueMs)
	case protocol.KindSetVolume:
		vol := ctrl.Volume()
		if vol.Max <= 0 {
			return fmt.Errorf("media source reports no volume range")
		}
		level := int(math.Round(float64(vol.Max) * float64(*cmd.ValuePercent) / 100.0))
		return ctrl.SetVolume(level)
	default:
		return fmt.Errorf("unknown command %q", cmd.Command)
	}
}

// sleepCtx waits for d or ctx, reporting false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

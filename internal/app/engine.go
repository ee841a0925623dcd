package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"companiond/internal/bus"
	"companiond/internal/config"
	"companiond/internal/dispatch"
	"companiond/internal/media"
	"companiond/internal/server"
	"companiond/internal/session"
	"companiond/internal/state"
	"companiond/internal/transport"
)

// ============================================================================
// Engine - composition root
// ============================================================================
//
// The engine owns the long-lived pieces and their wiring: one bus, one
// media binder, one session, one dispatcher, one publisher, and optionally
// the observer server. The host process binds a media controller through
// Binder() and calls Start.
// ============================================================================

type Engine struct {
	logger *slog.Logger
	cfg    config.Config

	bus        *bus.Bus
	binder     *media.Binder
	sess       *session.Manager
	dispatcher *dispatch.Dispatcher
	publisher  *state.Publisher
	observer   *server.Server
}

// New wires an engine from config. No goroutines run until Start.
func New(logger *slog.Logger, cfg config.Config) (*Engine, error) {
	e := &Engine{
		logger: logger,
		cfg:    cfg,
		bus:    bus.New(logger),
		binder: media.NewBinder(),
	}

	tr, err := buildTransport(logger, cfg.Link)
	if err != nil {
		return nil, err
	}

	// The session hands frames to the dispatcher, which is constructed
	// after the session because the publisher sends through the session.
	e.sess = session.NewManager(logger, e.bus, tr, func(frame []byte) {
		e.dispatcher.HandleFrame(frame)
	})

	e.publisher = state.New(logger, e.bus, e.sess, e.binder)

	e.dispatcher = dispatch.New(logger, e.bus, e.binder, e.publisher,
		dispatch.WithGrace(time.Duration(cfg.Dispatch.GraceMS)*time.Millisecond),
		dispatch.WithSettle(time.Duration(cfg.Dispatch.SettleMS)*time.Millisecond),
		dispatch.WithQueueSize(cfg.Dispatch.QueueSize),
	)

	if cfg.Server.Enabled {
		e.observer = server.New(logger, e.bus, e.publisher, e.sess, server.Config{
			Listen:       cfg.Server.Listen,
			SendBuf:      cfg.Server.SendBuf,
			BroadcastBuf: cfg.Server.BroadcastBuf,
		})
	}

	return e, nil
}

func buildTransport(logger *slog.Logger, link config.LinkConfig) (transport.Transport, error) {
	switch link.Transport {
	case "stream":
		return &transport.StreamTransport{
			Logger:  logger,
			RecvBuf: link.RecvBuf,
		}, nil
	case "ws":
		return &transport.WSTransport{
			Logger:           logger,
			MaxPayload:       link.MaxPayloadBytes,
			HandshakeTimeout: time.Duration(link.HandshakeTimeoutMS) * time.Millisecond,
			RecvBuf:          link.RecvBuf,
		}, nil
	default:
		return nil, fmt.Errorf("unknown link transport %q", link.Transport)
	}
}

// Binder exposes the media facade binding surface to the host process.
func (e *Engine) Binder() *media.Binder { return e.binder }

// Bus exposes the event bus for host-side observers.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// Session exposes the session manager for status queries and reconnects.
func (e *Engine) Session() *session.Manager { return e.sess }

// Run starts every component and blocks until ctx is canceled or a
// component fails. The initial connection attempt to the configured target
// happens here; a dial failure is logged but does not abort the engine
// (the session can be restarted via Session().Start).
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		e.dispatcher.Run(ctx)
		return nil
	})
	g.Go(func() error {
		e.publisher.Run(ctx)
		return nil
	})
	if e.observer != nil {
		g.Go(func() error {
			return e.observer.Run(ctx)
		})
	}

	if err := e.sess.Start(ctx, e.cfg.Link.Target); err != nil {
		e.logger.Warn("initial connect failed", "target", e.cfg.Link.Target, "error", err)
	}

	<-ctx.Done()
	e.sess.Stop()
	return g.Wait()
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine counters, exposed on the observer server's /metrics route.
var (
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "companiond_frames_received_total",
		Help: "Inbound frames consumed from the transport.",
	})

	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "companiond_frames_sent_total",
		Help: "Outbound frames handed to the transport.",
	})

	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "companiond_decode_errors_total",
		Help: "Inbound frames that failed to parse as commands.",
	})

	CommandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companiond_commands_dispatched_total",
		Help: "Commands executed against the media facade, by kind.",
	}, []string{"command"})

	CommandsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companiond_commands_dropped_total",
		Help: "Commands dropped before execution, by reason.",
	}, []string{"reason"})

	ConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "companiond_connection_status",
		Help: "Current session status (0 disconnected, 1 connecting, 2 connected, 3 failed).",
	})
)

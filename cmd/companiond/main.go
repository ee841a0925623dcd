package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"companiond/internal/app"
	"companiond/internal/config"
	"companiond/internal/logging"
	"companiond/internal/server"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("companiond v%s\n", version)
	fmt.Println("Companion daemon bridging phone media playback to a Nocturne head unit")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  companiond [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Daemon that maintains a session to a head unit peer, executes its")
	fmt.Println("  playback commands against the local media source, and streams state")
	fmt.Println("  updates back as newline-delimited JSON. Local observers can attach")
	fmt.Println("  to the websocket event feed on the observer server.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (flags override file values)")
	fmt.Println()
	fmt.Println("  -transport string")
	fmt.Println("        Link transport: stream|ws (default \"stream\")")
	fmt.Println()
	fmt.Println("  -target string")
	fmt.Printf("        Peer address (default \"tcp://127.0.0.1:8765\")\n")
	fmt.Println("        stream: tcp://host:port, unix:///path, or host:port")
	fmt.Println("        ws: ws://host:port/path")
	fmt.Println()
	fmt.Println("  -max-payload int")
	fmt.Println("        Largest single link message in bytes; larger frames are chunked (default 512)")
	fmt.Println()
	fmt.Println("  -listen string")
	fmt.Println("        Observer server listen address (default \"127.0.0.1:3002\")")
	fmt.Println()
	fmt.Println("  -no-server")
	fmt.Println("        Disable the observer server")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Connect to a head unit over TCP with defaults")
	fmt.Println("  companiond -target tcp://192.168.1.50:8765")
	fmt.Println()
	fmt.Println("  # Websocket link with a small payload limit")
	fmt.Println("  companiond -transport ws -target ws://192.168.1.50:8765/link -max-payload 256")
	fmt.Println()
	fmt.Println("  # Config file with an ad-hoc override")
	fmt.Println("  companiond -config /etc/companiond.yaml -log-level debug")
	fmt.Println()
}

func main() {
	// Check for version/help flags early
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath    = flag.String("config", "", "Path to YAML config file")
		linkTransport = flag.String("transport", "", "Link transport: stream|ws")
		linkTarget    = flag.String("target", "", "Peer address")
		maxPayload    = flag.Int("max-payload", 0, "Largest single link message in bytes")
		listenAddr    = flag.String("listen", "", "Observer server listen address")
		noServer      = flag.Bool("no-server", false, "Disable the observer server")
		logLevelStr   = flag.String("log-level", "", "Log level: error, warn, info, debug")
		showVersion   = flag.Bool("version", false, "Print version and exit")
		showHelp      = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	// Config file first, flags on top
	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	overrides := config.FlagOverrides{}
	if *linkTransport != "" {
		overrides.LinkTransport = linkTransport
	}
	if *linkTarget != "" {
		overrides.LinkTarget = linkTarget
	}
	if *maxPayload > 0 {
		overrides.MaxPayload = maxPayload
	}
	if *listenAddr != "" {
		overrides.ServerListen = listenAddr
	}
	if *noServer {
		disabled := false
		overrides.ServerEnabled = &disabled
	}
	if *logLevelStr != "" {
		overrides.LogLevel = logLevelStr
	}
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	server.Version = version

	engine, err := app.New(logger, cfg)
	if err != nil {
		logger.Error("engine setup failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigc
		logger.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	logger.Info("starting companiond",
		"version", version,
		"transport", cfg.Link.Transport,
		"target", cfg.Link.Target,
		"server_enabled", cfg.Server.Enabled,
		"server_listen", cfg.Server.Listen)

	if err := engine.Run(ctx); err != nil {
		logger.Error("engine stopped with error", "error", err)
		os.Exit(1)
	}
}

// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

// Meshfoxd is the long-running process that owns one device's
// replicated event log, key material, and pairing state. It exposes
// three collaborator surfaces: a Unix-socket control protocol for the
// meshfox CLI, an optional localhost HTTP surface for browser-profile
// automation, and a TCP listener for peer sync connections. The core
// package does the actual work; this binary only wires transports
// around it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/meshfox/meshfox/core"
	"github.com/meshfox/meshfox/lib/config"
	"github.com/meshfox/meshfox/lib/controlapi"
	"github.com/meshfox/meshfox/lib/controlsocket"
	"github.com/meshfox/meshfox/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		dataDir     string
		deviceName  string
		socketPath  string
		httpAddr    string
		listenAddr  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "path to a meshfox.yaml config file (default: $MESHFOX_CONFIG)")
	flag.StringVar(&dataDir, "data-dir", "", "directory for keys, event log, and pairing state (overrides config paths.root)")
	flag.StringVar(&deviceName, "device-name", "", "human-readable name advertised to peers (overrides config device_name)")
	flag.StringVar(&socketPath, "socket", "", "Unix socket path for the meshfox CLI (overrides config control.socket_path)")
	flag.StringVar(&httpAddr, "http-addr", "", "loopback address for the browser-automation HTTP surface, empty disables it")
	flag.StringVar(&listenAddr, "listen-addr", "", "address to accept peer sync connections on (overrides config listen.address)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("meshfoxd (development build)")
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyFlagOverrides(cfg, dataDir, deviceName, socketPath, listenAddr)

	if cfg.DeviceName == "" {
		return fmt.Errorf("device name is required: pass --device-name or set device_name in config")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return fmt.Errorf("preparing data directories: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := core.Open(core.Config{
		DataDir:    cfg.Paths.Root,
		DeviceName: cfg.DeviceName,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("opening core: %w", err)
	}
	defer c.Close()
	logger.Info("core opened", "device_id", c.DeviceID(), "data_dir", cfg.Paths.Root)

	if len(cfg.Peers) > 0 {
		dialer := &transport.TCPDialer{Timeout: 10 * time.Second}
		dialStaticPeers(ctx, c, dialer, cfg.Peers, logger)
	}

	d := &daemon{core: c, logger: logger}

	socketServer := controlsocket.NewServer(cfg.Control.SocketPath, c.Tokens(), logger)
	d.registerHandlers(socketServer)

	socketDone := make(chan error, 1)
	go func() { socketDone <- socketServer.Serve(ctx) }()

	if httpAddr != "" {
		httpServer := controlapi.NewServer(controlapi.Config{
			Address: httpAddr,
			Core:    c,
			Tokens:  c.Tokens(),
			Logger:  logger,
		})
		go func() {
			if err := httpServer.Serve(ctx); err != nil {
				logger.Error("http control surface stopped", "error", err)
			}
		}()
	}

	if cfg.Listen.Address != "" {
		listener, err := transport.NewTCPListener(cfg.Listen.Address)
		if err != nil {
			return fmt.Errorf("starting peer listener: %w", err)
		}
		defer listener.Close()
		logger.Info("peer listener ready", "address", listener.Address())

		go func() {
			err := listener.Serve(ctx, func(streamCtx context.Context, peerAddr string, stream net.Conn) {
				logger.Info("peer connected", "address", peerAddr)
				if err := c.OnPeerStream(streamCtx, peerAddr, stream); err != nil {
					logger.Warn("peer stream ended", "address", peerAddr, "error", err)
				}
			})
			if err != nil {
				logger.Error("peer listener stopped", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	select {
	case <-socketDone:
	case <-time.After(5 * time.Second):
		logger.Warn("control socket did not shut down in time")
	}
	return nil
}

// loadConfig resolves the config file to load, if any: an explicit
// --config flag wins, then $MESHFOX_CONFIG, then built-in defaults.
// Unlike a missing --config, a config file that fails to parse is a
// hard error rather than a fallback — silently ignoring a broken
// config would leave the daemon running with settings the operator
// didn't intend.
func loadConfig(configPath string, logger *slog.Logger) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	if os.Getenv("MESHFOX_CONFIG") != "" {
		return config.Load()
	}
	logger.Info("MESHFOX_CONFIG not set and --config not given, using built-in defaults")
	return config.Default(), nil
}

// applyFlagOverrides layers explicitly-set flags on top of cfg. An
// empty flag value means "not given" and leaves the config's value
// untouched.
func applyFlagOverrides(cfg *config.Config, dataDir, deviceName, socketPath, listenAddr string) {
	if dataDir != "" {
		cfg.Paths.Root = dataDir
		cfg.Paths.Keys = filepath.Join(dataDir, "keys")
		cfg.Paths.Sync = filepath.Join(dataDir, "sync")
		cfg.Control.SocketPath = filepath.Join(dataDir, "control.sock")
	}
	if deviceName != "" {
		cfg.DeviceName = deviceName
	}
	if socketPath != "" {
		cfg.Control.SocketPath = socketPath
	}
	if listenAddr != "" {
		cfg.Listen.Address = listenAddr
	}
}

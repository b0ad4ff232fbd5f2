// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/meshfox/meshfox/core"
	"github.com/meshfox/meshfox/transport"
)

// dialStaticPeers maintains an outbound connection to each address in
// addrs for as long as ctx is live, redialing with a fixed backoff
// after every disconnect or failed attempt. The sync protocol's
// initial clock exchange is symmetric regardless of which side dialed
// (core.Core.OnPeerStream drives the same request/response loop for
// both), so a dialed connection needs no special handling here beyond
// handing the net.Conn to the same entry point the listener uses.
func dialStaticPeers(ctx context.Context, c *core.Core, dialer *transport.TCPDialer, addrs []string, logger *slog.Logger) {
	for _, addr := range addrs {
		go keepDialing(ctx, c, dialer, addr, logger)
	}
}

func keepDialing(ctx context.Context, c *core.Core, dialer *transport.TCPDialer, addr string, logger *slog.Logger) {
	const retryDelay = 10 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := dialer.DialContext(ctx, addr)
		if err != nil {
			logger.Warn("dialing static peer failed", "address", addr, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
				continue
			}
		}

		logger.Info("dialed static peer", "address", addr)
		if err := c.OnPeerStream(ctx, addr, conn); err != nil {
			logger.Warn("static peer stream ended", "address", addr, "error", err)
		}
		conn.Close()

		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}

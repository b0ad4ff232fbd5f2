// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/meshfox/meshfox/lib/netutil"
)

// Compile-time interface checks.
var (
	_ Listener = (*TCPListener)(nil)
	_ Dialer   = (*TCPDialer)(nil)
)

// TCPListener accepts inbound TCP connections from peer devices. This
// is the reference transport — it requires direct TCP reachability
// between devices, with no NAT traversal or discovery.
type TCPListener struct {
	listener net.Listener
	wg       sync.WaitGroup
}

// NewTCPListener creates a TCP listener on the given address (e.g.
// ":7891" or "192.168.1.10:7891"). Use ":0" for an OS-assigned port.
func NewTCPListener(address string) (*TCPListener, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("transport: listening on %s: %w", address, err)
	}
	return &TCPListener{listener: listener}, nil
}

// Serve accepts connections until ctx is cancelled or Close is
// called, handing each one to onStream on its own goroutine. Serve
// blocks until every in-flight onStream call has returned.
func (l *TCPListener) Serve(ctx context.Context, onStream StreamHandler) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.listener.Close()
		case <-done:
		}
	}()
	defer close(done)

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			l.wg.Wait()
			if ctx.Err() != nil || netutil.IsExpectedCloseError(err) {
				return nil
			}
			return fmt.Errorf("transport: accept: %w", err)
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer conn.Close()
			onStream(ctx, conn.RemoteAddr().String(), conn)
		}()
	}
}

// Address returns the bound address in "host:port" format.
func (l *TCPListener) Address() string {
	return l.listener.Addr().String()
}

// Close shuts down the listener. Accept in Serve returns immediately;
// Serve itself returns once every accepted connection's onStream call
// has finished.
func (l *TCPListener) Close() error {
	return l.listener.Close()
}

// TCPDialer opens TCP connections to peer devices.
type TCPDialer struct {
	// Timeout is the maximum time to wait for a connection to be
	// established. Zero means no standalone timeout — only ctx's
	// deadline applies.
	Timeout time.Duration
}

// DialContext opens a TCP connection to address (host:port).
func (d *TCPDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	conn, err := (&net.Dialer{Timeout: d.Timeout}).DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %s: %w", address, err)
	}
	return conn, nil
}

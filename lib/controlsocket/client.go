// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package controlsocket

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/meshfox/meshfox/lib/codec"
)

const (
	dialTimeout         = 5 * time.Second
	responseReadTimeout = 15 * time.Second
	maxResponseSize     = 1 << 20
)

// Error is returned by Client.Call when the server responds ok=false.
type Error struct {
	Action  string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("controlsocket: %q failed: %s", e.Action, e.Message)
}

// Client sends requests to a control socket. Each Call opens a fresh
// connection, sends the request, reads the response, and closes.
type Client struct {
	socketPath string
	token      string
}

// NewClient constructs a client that authenticates every call with
// token (pass "" for an unauthenticated client, tests only).
func NewClient(socketPath, token string) *Client {
	return &Client{socketPath: socketPath, token: token}
}

// Call sends action with the given fields (any handler-specific
// request data; nil for no-argument actions) and decodes the
// response's data into result, if result is non-nil.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		request[k] = v
	}
	request["action"] = action
	if c.token != "" {
		request["token"] = c.token
	}

	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("controlsocket: calling %q: %w", action, err)
	}
	if !response.OK {
		return &Error{Action: action, Message: response.Error}
	}
	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("controlsocket: decoding response for %q: %w", action, err)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}

// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

// Package controlapi implements the localhost-only HTTP surface over
// the core's collaborator interfaces (§6.4), grounded on the original
// daemon's http_api.rs. It is one of two control-surface transports
// alongside lib/controlsocket; both dispatch to the same Core
// interface so a deployment can expose either or both.
package controlapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/meshfox/meshfox/lib/netutil"
	"github.com/meshfox/meshfox/lib/pairing"
)

// Core is the set of operations the HTTP surface exposes. Implemented
// by package core; kept as an interface here so this package is
// testable without constructing a full daemon.
type Core interface {
	Submit(ctx context.Context, eventType string, payload json.RawMessage) error
	Status(ctx context.Context) (StatusResponse, error)
	PairingInitiate(ctx context.Context) (string, error)
	PairingJoin(ctx context.Context, code string, info pairing.JoinerInfo) (pairing.JoinResult, error)
	PairingPending(ctx context.Context) (pairing.PendingRequest, bool)
	PairingRespond(ctx context.Context, accept bool) (pairing.FinalStatus, *pairing.AcceptResult, error)
	PairingCancel(ctx context.Context)
}

// StatusResponse is the read-only status payload (§6.4 "status").
type StatusResponse struct {
	DeviceID      string `json:"device_id"`
	LocalClock    map[string]uint64 `json:"local_clock"`
	PeerCount     int    `json:"peer_count"`
	PairingActive bool   `json:"pairing_active"`
}

// TokenValidator authenticates the bearer token on every request.
type TokenValidator interface {
	Validate(candidate string) bool
}

// Server serves the control API on a TCP listener bound to a
// loopback address only (§6.4: "localhost-only HTTP surface").
type Server struct {
	address string
	core    Core
	tokens  TokenValidator
	logger  *slog.Logger

	shutdownTimeout time.Duration
	ready           chan struct{}
	addr            net.Addr
}

// Config configures a Server.
type Config struct {
	// Address must resolve to a loopback interface, e.g.
	// "127.0.0.1:0" or "127.0.0.1:8420". NewServer panics if Address
	// does not parse as a loopback host.
	Address string
	Core    Core
	Tokens  TokenValidator
	Logger  *slog.Logger

	ShutdownTimeout time.Duration
}

// NewServer constructs a Server from cfg.
func NewServer(cfg Config) *Server {
	if cfg.Core == nil {
		panic("controlapi: Core is required")
	}
	if err := requireLoopback(cfg.Address); err != nil {
		panic("controlapi: " + err.Error())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	timeout := cfg.ShutdownTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Server{
		address:         cfg.Address,
		core:            cfg.Core,
		tokens:          cfg.Tokens,
		logger:          logger,
		shutdownTimeout: timeout,
		ready:           make(chan struct{}),
	}
}

// requireLoopback rejects any address whose host does not resolve to
// the loopback range, guarding against accidentally exposing the
// control API beyond the local machine.
func requireLoopback(address string) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", address, err)
	}
	if host == "" || host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("address %q is not loopback-only", address)
	}
	return nil
}

// Ready returns a channel closed once the server is bound and
// accepting connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the resolved listen address. Valid only after Ready()
// closes.
func (s *Server) Addr() net.Addr { return s.addr }

// Serve accepts connections until ctx is cancelled, then drains
// in-flight requests up to ShutdownTimeout.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("controlapi: listening on %s: %w", s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	httpServer := &http.Server{
		Handler:           s.authenticate(s.mux()),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("control API listening", "address", s.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("control API shutting down")
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("controlapi: shutdown: %w", err)
	}
	return nil
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokens == nil {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || !s.tokens.Validate(token) {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", s.handleSubmit)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /pairing/initiate", s.handlePairingInitiate)
	mux.HandleFunc("POST /pairing/join", s.handlePairingJoin)
	mux.HandleFunc("GET /pairing/pending", s.handlePairingPending)
	mux.HandleFunc("POST /pairing/respond", s.handlePairingRespond)
	mux.HandleFunc("POST /pairing/cancel", s.handlePairingCancel)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := netutil.DecodeResponse(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decoding request: %v", err))
		return
	}
	if err := s.core.Submit(r.Context(), req.Type, req.Data); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.core.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handlePairingInitiate(w http.ResponseWriter, r *http.Request) {
	code, err := s.core.PairingInitiate(r.Context())
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": code})
}

func (s *Server) handlePairingJoin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code         string `json:"code"`
		DeviceID     string `json:"device_id"`
		DeviceName   string `json:"device_name"`
		PublicKeyHex string `json:"public_key_hex"`
	}
	if err := netutil.DecodeResponse(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decoding request: %v", err))
		return
	}
	result, err := s.core.PairingJoin(r.Context(), req.Code, pairing.JoinerInfo{
		DeviceID:     req.DeviceID,
		DeviceName:   req.DeviceName,
		PublicKeyHex: req.PublicKeyHex,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(result.Outcome)})
}

func (s *Server) handlePairingPending(w http.ResponseWriter, r *http.Request) {
	pending, ok := s.core.PairingPending(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]bool{"pending": false})
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handlePairingRespond(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Accept bool `json:"accept"`
	}
	if err := netutil.DecodeResponse(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decoding request: %v", err))
		return
	}
	status, accept, err := s.core.PairingRespond(r.Context(), req.Accept)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "accept": accept})
}

func (s *Server) handlePairingCancel(w http.ResponseWriter, r *http.Request) {
	s.core.PairingCancel(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

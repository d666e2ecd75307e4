// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package websocket serves the secondary (push) channel: persistent
// message-oriented connections that clients register on and receive
// session events over.
package websocket

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sessionbridge/sessionbridge/broker"
	"github.com/sessionbridge/sessionbridge/ratelimit"
)

// Config holds push channel server configuration.
type Config struct {
	Address         string
	Path            string
	ShutdownTimeout time.Duration
}

// Server accepts websocket connections and hands them to the message router.
type Server struct {
	config   Config
	router   *broker.Router
	limiter  *ratelimit.IPRateLimiter
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
}

// New creates a push channel server. limiter may be nil to disable
// connection rate limiting.
func New(cfg Config, router *broker.Router, limiter *ratelimit.IPRateLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Path == "" {
		cfg.Path = "/push"
	}

	s := &Server{
		config:  cfg,
		router:  router,
		limiter: limiter,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, s.handleWebSocket)

	s.server = &http.Server{
		Addr:    cfg.Address,
		Handler: mux,
	}

	return s
}

// Listen starts the push channel server and blocks until the context is
// cancelled.
func (s *Server) Listen(ctx context.Context) error {
	s.logger.Info("push_server_starting",
		slog.String("addr", s.config.Address),
		slog.String("path", s.config.Path))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("push_server_shutdown_initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("push_server_shutdown_error", slog.String("error", err.Error()))
			return err
		}

		s.logger.Info("push_server_stopped")
		return nil
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		addr := &wsAddr{addr: r.RemoteAddr}
		if !s.limiter.Allow(addr) {
			s.logger.Warn("push_connection_rate_limited", slog.String("remote_addr", r.RemoteAddr))
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("push_upgrade_failed", slog.String("error", err.Error()))
		return
	}

	s.logger.Debug("push_connection_accepted", slog.String("remote_addr", r.RemoteAddr))

	conn := newWSConnection(ws, r.RemoteAddr)
	s.router.ServeConn(r.Context(), conn)
}

// wsConnection implements broker.Connection for WebSocket transport.
// Writes are serialized: gorilla/websocket allows one concurrent writer.
type wsConnection struct {
	ws         *websocket.Conn
	remoteAddr string
	writeMu    sync.Mutex
	mu         sync.Mutex
	closed     bool
}

func newWSConnection(ws *websocket.Conn, remoteAddr string) broker.Connection {
	return &wsConnection{
		ws:         ws,
		remoteAddr: remoteAddr,
	}
}

func (c *wsConnection) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			return data, nil
		default:
			// Control frames are handled by gorilla; skip anything else.
			continue
		}
	}
}

func (c *wsConnection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConnection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.ws.Close()
}

func (c *wsConnection) RemoteAddr() net.Addr {
	return &wsAddr{addr: c.remoteAddr}
}

func (c *wsConnection) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// wsAddr implements net.Addr for WebSocket connections.
type wsAddr struct {
	addr string
}

func (a *wsAddr) Network() string {
	return "websocket"
}

func (a *wsAddr) String() string {
	return a.addr
}

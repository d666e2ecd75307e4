// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// FeedbackSink receives inbound feedback messages from registered peers.
// The raw message is forwarded unchanged.
type FeedbackSink interface {
	Forward(ctx context.Context, identity Identity, kind MessageKind, raw []byte) error
}

// MessageLimiter bounds the inbound message rate per user.
type MessageLimiter interface {
	AllowMessage(userID string) bool
}

// RouterConfig holds message router settings.
type RouterConfig struct {
	// RegisterWindow bounds how long an accepted connection may stay
	// unregistered before it is closed.
	RegisterWindow time.Duration

	// IdleTimeout bounds the gap between inbound messages on a registered
	// connection. Zero disables the idle check.
	IdleTimeout time.Duration
}

// Router validates inbound secondary-channel messages, drives the registry,
// and pushes outbound events to the right live connection.
//
// Per-connection state machine: Connected(unregistered) -> Registered -> Closed.
type Router struct {
	config   RouterConfig
	registry *Registry
	sink     FeedbackSink
	limiter  MessageLimiter
	logger   *slog.Logger
}

// NewRouter creates a message router.
func NewRouter(cfg RouterConfig, registry *Registry, sink FeedbackSink, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RegisterWindow == 0 {
		cfg.RegisterWindow = 30 * time.Second
	}
	return &Router{
		config:   cfg,
		registry: registry,
		sink:     sink,
		logger:   logger,
	}
}

// SetMessageLimiter installs an inbound per-user message rate limiter.
func (rt *Router) SetMessageLimiter(l MessageLimiter) {
	rt.limiter = l
}

// Registry returns the router's connection registry.
func (rt *Router) Registry() *Registry {
	return rt.registry
}

// ServeConn runs the message loop for one accepted connection until the
// peer disconnects, the context is cancelled, or a transport error occurs.
// The registry unregister path runs exactly once per generation.
func (rt *Router) ServeConn(ctx context.Context, conn Connection) {
	connID := uuid.New().String()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	// A connection that never registers is closed at the end of the window.
	_ = conn.SetReadDeadline(time.Now().Add(rt.config.RegisterWindow))

	var sess *Session

	defer func() {
		if sess != nil {
			if rt.registry.Unregister(sess.Identity, sess.Generation) {
				rt.logger.Info("client_unregistered",
					slog.String("user_id", sess.Identity.UserID),
					slog.String("username", sess.Identity.Username),
					slog.Uint64("generation", sess.Generation))
			}
		}
		_ = conn.Close()
	}()

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			if sess == nil {
				rt.logger.Debug("connection_closed_unregistered",
					slog.String("conn_id", connID),
					slog.String("error", err.Error()))
			}
			return
		}

		env, err := ParseEnvelope(raw)
		if err != nil {
			rt.writeError(conn, err)
			continue
		}

		switch ParseKind(env.Type) {
		case KindClientRegister:
			sess = rt.handleRegister(conn, connID, env, sess)

		case KindSessionFeedback, KindLogoutFeedback, KindUnknown:
			// Feedback and any unrecognized peer message are forwarded to
			// the collaborator unchanged, but only from registered peers.
			if sess == nil {
				rt.writeError(conn, ErrNotRegistered)
				continue
			}
			rt.handleFeedback(ctx, conn, sess, env, raw)

		case KindAutoLogin, KindLogoutNotification, KindRegistrationSuccess, KindError:
			// Outbound-only kinds have no business arriving from a peer.
			rt.logger.Warn("unexpected_inbound_message",
				slog.String("type", env.Type),
				slog.String("conn_id", connID))
		}

		if sess != nil && rt.config.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(rt.config.IdleTimeout))
		}
	}
}

// handleRegister processes a c_client_register message. On validation
// failure the peer gets an error message and the connection state is
// unchanged, so the peer may retry.
func (rt *Router) handleRegister(conn Connection, connID string, env *Envelope, current *Session) *Session {
	if err := env.ValidateRegistration(); err != nil {
		rt.logger.Warn("registration_rejected",
			slog.String("conn_id", connID),
			slog.String("error", err.Error()))
		rt.writeError(conn, err)
		return current
	}

	identity := env.Identity()
	if identity.ClientID == "" {
		identity.ClientID = connID
	}

	// The same connection switching to a different identity releases the
	// old one first.
	if current != nil && current.Identity.Key() != identity.Key() {
		rt.registry.Unregister(current.Identity, current.Generation)
	}

	sess, err := rt.registry.Register(identity, conn)
	if err != nil {
		rt.writeError(conn, err)
		return current
	}

	// Registered: the registration window no longer applies.
	if rt.config.IdleTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(rt.config.IdleTimeout))
	} else {
		_ = conn.SetReadDeadline(time.Time{})
	}

	ack := registrationAck{
		Type:       KindRegistrationSuccess.String(),
		ClientID:   identity.ClientID,
		UserID:     identity.UserID,
		Username:   identity.Username,
		Generation: sess.Generation,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if data, err := json.Marshal(ack); err == nil {
		if err := conn.WriteMessage(data); err != nil {
			rt.logger.Warn("registration_ack_failed",
				slog.String("user_id", identity.UserID),
				slog.String("error", err.Error()))
		}
	}

	rt.logger.Info("client_registered",
		slog.String("user_id", identity.UserID),
		slog.String("username", identity.Username),
		slog.String("client_id", identity.ClientID),
		slog.Uint64("generation", sess.Generation))

	return sess
}

// handleFeedback forwards an inbound feedback message to the sink.
func (rt *Router) handleFeedback(ctx context.Context, conn Connection, sess *Session, env *Envelope, raw []byte) {
	if rt.limiter != nil && !rt.limiter.AllowMessage(sess.Identity.UserID) {
		rt.logger.Warn("feedback_rate_limited",
			slog.String("user_id", sess.Identity.UserID),
			slog.String("type", env.Type))
		return
	}

	rt.registry.Touch(sess.Identity, sess.Generation)

	if rt.sink == nil {
		return
	}
	if err := rt.sink.Forward(ctx, sess.Identity, ParseKind(env.Type), raw); err != nil {
		rt.logger.Warn("feedback_forward_failed",
			slog.String("user_id", sess.Identity.UserID),
			slog.String("type", env.Type),
			slog.String("error", err.Error()))
	}
}

// Dispatch pushes an outbound event to the live session for its target
// identity. Delivery is best-effort: a missing session or failed send drops
// the event, logs it as undeliverable, and returns ErrUndeliverable.
func (rt *Router) Dispatch(ev OutboundEvent) error {
	sess, ok := rt.registry.Lookup(ev.UserID, ev.Username)
	if !ok {
		rt.logger.Warn("event_undeliverable",
			slog.String("user_id", ev.UserID),
			slog.String("username", ev.Username),
			slog.String("type", ev.Kind.Kind().String()),
			slog.String("reason", "no live session"))
		return fmt.Errorf("%w: no live session for %s/%s", ErrUndeliverable, ev.UserID, ev.Username)
	}

	data, err := encodeEvent(ev, sess.Generation)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	// The send happens outside any registry lock; a superseded session's
	// connection is already closed, so a stale send fails here and is
	// dropped.
	if err := sess.Conn.WriteMessage(data); err != nil {
		rt.logger.Warn("event_undeliverable",
			slog.String("user_id", ev.UserID),
			slog.String("username", ev.Username),
			slog.String("type", ev.Kind.Kind().String()),
			slog.String("reason", err.Error()))
		return errors.Join(ErrUndeliverable, err)
	}

	rt.logger.Debug("event_dispatched",
		slog.String("user_id", ev.UserID),
		slog.String("username", ev.Username),
		slog.String("type", ev.Kind.Kind().String()),
		slog.Uint64("generation", sess.Generation))

	return nil
}

// writeError reports a validation or protocol error to the peer. The
// connection stays open.
func (rt *Router) writeError(conn Connection, err error) {
	msg := errorMessage{
		Type:    KindError.String(),
		Message: err.Error(),
	}
	data, merr := json.Marshal(msg)
	if merr != nil {
		return
	}
	_ = conn.WriteMessage(data)
}

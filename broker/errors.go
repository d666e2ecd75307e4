// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import "errors"

// Common errors.
var (
	// ErrNotReady is returned when discovery info is requested before the
	// endpoint allocator has run. Retryable by the caller.
	ErrNotReady = errors.New("endpoint info not ready")

	// ErrUndeliverable is returned by Dispatch when the target identity has
	// no live session or the send failed. The event is dropped; delivery is
	// best-effort with no retry queue.
	ErrUndeliverable = errors.New("event undeliverable")

	// ErrValidation indicates a malformed registration or feedback message.
	// Reported to the peer; the connection stays open.
	ErrValidation = errors.New("invalid message")

	// ErrNotRegistered indicates a message that requires a registered
	// session arrived on an unregistered connection.
	ErrNotRegistered = errors.New("connection not registered")

	// ErrClosed indicates the registry or connection has been closed.
	ErrClosed = errors.New("closed")
)

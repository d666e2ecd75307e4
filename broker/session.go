// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"net"
	"time"
)

// Connection is the transport handle for a secondary-channel peer.
// Implementations must support one concurrent reader and serialize writes.
type Connection interface {
	// ReadMessage blocks until the next complete message arrives.
	ReadMessage() ([]byte, error)

	// WriteMessage sends a complete message. May block on backpressure;
	// callers must not hold registry locks while writing.
	WriteMessage(data []byte) error

	// Close closes the connection, unblocking any in-flight read or write.
	// Must be idempotent.
	Close() error

	// RemoteAddr returns the peer address.
	RemoteAddr() net.Addr

	// SetReadDeadline bounds the next read. Zero time clears the deadline.
	SetReadDeadline(t time.Time) error
}

// Identity is the composite key identifying a registered peer. Registry
// uniqueness is keyed on (UserID, Username); the remaining fields are
// correlation tags carried through unchanged.
type Identity struct {
	ClientID  string `json:"client_id,omitempty"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	NodeID    string `json:"node_id,omitempty"`
	DomainID  string `json:"domain_id,omitempty"`
	ClusterID string `json:"cluster_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

// Key returns the registry uniqueness key.
func (i Identity) Key() IdentityKey {
	return IdentityKey{UserID: i.UserID, Username: i.Username}
}

// IdentityKey is the (user_id, username) pair the registry is keyed on.
type IdentityKey struct {
	UserID   string
	Username string
}

// Session is the runtime record for a live registered connection. Owned
// exclusively by the Registry; created on registration, destroyed on
// disconnect or supersession.
type Session struct {
	Identity    Identity
	Conn        Connection
	Generation  uint64
	ConnectedAt time.Time
	LastSeenAt  time.Time
}

// Info returns a snapshot of the session for diagnostics.
func (s *Session) Info() SessionInfo {
	remote := ""
	if addr := s.Conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return SessionInfo{
		Identity:    s.Identity,
		Generation:  s.Generation,
		ConnectedAt: s.ConnectedAt,
		LastSeenAt:  s.LastSeenAt,
		RemoteAddr:  remote,
	}
}

// SessionInfo is an immutable snapshot of a live session.
type SessionInfo struct {
	Identity    Identity  `json:"identity"`
	Generation  uint64    `json:"generation"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	RemoteAddr  string    `json:"remote_addr,omitempty"`
}

// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"log/slog"
	"sync"
	"time"
)

// Registry is the in-memory directory of live sessions, keyed by
// (user_id, username). It enforces at most one live session per identity:
// a new registration supersedes and closes any prior connection for the
// same key. Generations increase monotonically per identity across the
// process lifetime so stale in-flight operations can be detected.
//
// All mutations are serialized through a single mutex. Connection writes
// are never performed while holding it; supersession closes the old
// connection only after the lock is released.
type Registry struct {
	mu       sync.Mutex
	sessions map[IdentityKey]*Session
	gens     map[IdentityKey]uint64
	closed   bool

	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[IdentityKey]*Session),
		gens:     make(map[IdentityKey]uint64),
		logger:   logger,
	}
}

// Register binds a connection to an identity and returns the new session.
// If a session already exists for the identity it is superseded: removed
// from the registry, its connection closed, and its generation invalidated.
// A duplicate registration of the same connection is idempotent and keeps
// the current generation.
func (r *Registry) Register(identity Identity, conn Connection) (*Session, error) {
	key := identity.Key()
	now := time.Now()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}

	old := r.sessions[key]
	if old != nil && old.Conn == conn {
		// Same connection re-registering the same identity: refresh the
		// correlation tags but keep the generation.
		old.Identity = identity
		old.LastSeenAt = now
		r.mu.Unlock()
		return old, nil
	}

	gen := r.gens[key] + 1
	r.gens[key] = gen

	sess := &Session{
		Identity:    identity,
		Conn:        conn,
		Generation:  gen,
		ConnectedAt: now,
		LastSeenAt:  now,
	}
	r.sessions[key] = sess
	r.mu.Unlock()

	if old != nil {
		// Close outside the lock; the close unblocks the old connection's
		// read loop, which will attempt a stale unregister and no-op.
		_ = old.Conn.Close()
		r.logger.Info("session_superseded",
			slog.String("user_id", identity.UserID),
			slog.String("username", identity.Username),
			slog.Uint64("old_generation", old.Generation),
			slog.Uint64("new_generation", gen))
	}

	return sess, nil
}

// Unregister removes the session for the identity only if the given
// generation still matches the live one. A stale generation is a no-op:
// the session it refers to is already gone. Returns whether a session
// was removed.
func (r *Registry) Unregister(identity Identity, generation uint64) bool {
	key := identity.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	sess := r.sessions[key]
	if sess == nil || sess.Generation != generation {
		return false
	}
	delete(r.sessions, key)
	return true
}

// Lookup returns the live session for (userID, username), if any.
// Other identity fields are informational and not part of the key.
func (r *Registry) Lookup(userID, username string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[IdentityKey{UserID: userID, Username: username}]
	return sess, ok
}

// Touch updates the last-seen timestamp for a live session.
func (r *Registry) Touch(identity Identity, generation uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess := r.sessions[identity.Key()]
	if sess != nil && sess.Generation == generation {
		sess.LastSeenAt = time.Now()
	}
}

// ListActive returns a snapshot of all live sessions.
func (r *Registry) ListActive() []SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SessionInfo, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess.Info())
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close closes all live connections and rejects further registrations.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	conns := make([]Connection, 0, len(r.sessions))
	for _, sess := range r.sessions {
		conns = append(conns, sess.Conn)
	}
	r.sessions = make(map[IdentityKey]*Session)
	r.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

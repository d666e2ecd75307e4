// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package badger provides a BadgerDB-backed storage backend for cookie,
// account and refresh-policy records.
package badger

import (
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sessionbridge/sessionbridge/storage"
)

var _ storage.Store = (*Store)(nil)

// Store is the composite BadgerDB store implementing all storage interfaces.
type Store struct {
	db *badger.DB

	cookies  *CookieStore
	accounts *AccountStore
	policies *PolicyStore

	gcStopCh chan struct{}
	gcDone   chan struct{}
	closed   bool
	mu       sync.Mutex
}

// Config holds BadgerDB configuration.
type Config struct {
	Dir        string // Directory for BadgerDB data
	SyncWrites bool   // fsync on every write; records here are small, default off
}

// New creates a new BadgerDB-backed store.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = nil // Disable BadgerDB's internal logging
	opts.EncryptionKey = nil
	opts.EncryptionKeyRotationDuration = 0
	opts.SyncWrites = cfg.SyncWrites
	opts.NumVersionsToKeep = 1
	opts.NumCompactors = 2

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:       db,
		cookies:  NewCookieStore(db),
		accounts: NewAccountStore(db),
		policies: NewPolicyStore(db),
		gcStopCh: make(chan struct{}),
		gcDone:   make(chan struct{}),
	}

	// Start background value log GC
	go s.runGC()

	return s, nil
}

// Cookies returns the cookie store.
func (s *Store) Cookies() storage.CookieStore {
	return s.cookies
}

// Accounts returns the account store.
func (s *Store) Accounts() storage.AccountStore {
	return s.accounts
}

// Policies returns the refresh-policy store.
func (s *Store) Policies() storage.PolicyStore {
	return s.policies
}

// Close gracefully closes the BadgerDB database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.gcStopCh)
	<-s.gcDone

	return s.db.Close()
}

// runGC runs BadgerDB's value log garbage collection periodically.
func (s *Store) runGC() {
	defer close(s.gcDone)

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Reclaim if 50%+ of a vlog file is garbage; an error here just
			// means no GC was needed.
			_ = s.db.RunValueLogGC(0.5)
		case <-s.gcStopCh:
			return
		}
	}
}

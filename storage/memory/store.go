// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-memory storage backend, used for tests and
// for running without persistence.
package memory

import (
	"sync"

	"github.com/sessionbridge/sessionbridge/storage"
)

var _ storage.Store = (*Store)(nil)

// Store implements storage.Store with in-memory maps.
type Store struct {
	cookies  *CookieStore
	accounts *AccountStore
	policies *PolicyStore
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		cookies:  &CookieStore{records: make(map[string]*storage.Cookie)},
		accounts: &AccountStore{records: make(map[accountKey]*storage.Account)},
		policies: &PolicyStore{records: make(map[string]*storage.RefreshPolicy)},
	}
}

func (s *Store) Cookies() storage.CookieStore   { return s.cookies }
func (s *Store) Accounts() storage.AccountStore { return s.accounts }
func (s *Store) Policies() storage.PolicyStore  { return s.policies }

func (s *Store) Close() error { return nil }

// CookieStore implements storage.CookieStore in memory.
type CookieStore struct {
	mu      sync.RWMutex
	records map[string]*storage.Cookie
}

func (c *CookieStore) Save(ck *storage.Cookie) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *ck
	c.records[ck.UserID] = &cp
	return nil
}

func (c *CookieStore) Get(userID string) (*storage.Cookie, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ck, ok := c.records[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *ck
	return &cp, nil
}

func (c *CookieStore) Delete(userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, userID)
	return nil
}

func (c *CookieStore) List() ([]*storage.Cookie, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*storage.Cookie, 0, len(c.records))
	for _, ck := range c.records {
		cp := *ck
		out = append(out, &cp)
	}
	return out, nil
}

type accountKey struct {
	userID  string
	website string
}

// AccountStore implements storage.AccountStore in memory.
type AccountStore struct {
	mu      sync.RWMutex
	records map[accountKey]*storage.Account
}

func (a *AccountStore) Save(acc *storage.Account) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *acc
	a.records[accountKey{acc.UserID, acc.Website}] = &cp
	return nil
}

func (a *AccountStore) Get(userID, website string) (*storage.Account, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	acc, ok := a.records[accountKey{userID, website}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *acc
	return &cp, nil
}

func (a *AccountStore) Delete(userID, website string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.records, accountKey{userID, website})
	return nil
}

func (a *AccountStore) List() ([]*storage.Account, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*storage.Account, 0, len(a.records))
	for _, acc := range a.records {
		cp := *acc
		out = append(out, &cp)
	}
	return out, nil
}

// PolicyStore implements storage.PolicyStore in memory.
type PolicyStore struct {
	mu      sync.RWMutex
	records map[string]*storage.RefreshPolicy
}

func (p *PolicyStore) Save(pol *storage.RefreshPolicy) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *pol
	p.records[pol.UserID] = &cp
	return nil
}

func (p *PolicyStore) Get(userID string) (*storage.RefreshPolicy, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pol, ok := p.records[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *pol
	return &cp, nil
}

func (p *PolicyStore) Delete(userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.records, userID)
	return nil
}

func (p *PolicyStore) List() ([]*storage.RefreshPolicy, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*storage.RefreshPolicy, 0, len(p.records))
	for _, pol := range p.records {
		cp := *pol
		out = append(out, &cp)
	}
	return out, nil
}

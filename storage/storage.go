// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"time"
)

// Common errors.
var (
	ErrNotFound = errors.New("not found")
)

// Store is the composite storage interface providing access to all record stores.
type Store interface {
	// Cookies returns the cookie record store.
	Cookies() CookieStore

	// Accounts returns the account record store.
	Accounts() AccountStore

	// Policies returns the auto-refresh policy store.
	Policies() PolicyStore

	// Close closes all storage backends.
	Close() error
}

// Cookie is a stored session cookie for a user.
// At most one cookie record exists per user; saving replaces any prior record.
type Cookie struct {
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	NodeID      string    `json:"node_id,omitempty"`
	Value       string    `json:"cookie"`
	AutoRefresh bool      `json:"auto_refresh"`
	RefreshTime time.Time `json:"refresh_time,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Account is a stored website account binding for a user.
// Keyed by (user_id, website).
type Account struct {
	UserID        string    `json:"user_id"`
	Username      string    `json:"username"`
	Website       string    `json:"website"`
	AutoGenerated bool      `json:"auto_generated"`
	Logout        bool      `json:"logout"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RefreshPolicy drives the auto-refresh scheduler. Keyed by user_id.
// The scheduler only ever mutates LastRefreshAt.
type RefreshPolicy struct {
	UserID          string        `json:"user_id"`
	Username        string        `json:"username"`
	AutoRefresh     bool          `json:"auto_refresh"`
	RefreshInterval time.Duration `json:"refresh_interval"`
	LastRefreshAt   time.Time     `json:"last_refresh_at"`
}

// Due reports whether the policy is due for a refresh at the given instant.
func (p *RefreshPolicy) Due(now time.Time) bool {
	if !p.AutoRefresh || p.RefreshInterval <= 0 {
		return false
	}
	return now.Sub(p.LastRefreshAt) >= p.RefreshInterval
}

// CookieStore persists cookie records.
type CookieStore interface {
	// Save stores a cookie, replacing any existing record for the same user.
	Save(c *Cookie) error

	// Get retrieves the cookie for a user. Returns ErrNotFound if absent.
	Get(userID string) (*Cookie, error)

	// Delete removes the cookie for a user. Deleting a missing record is a no-op.
	Delete(userID string) error

	// List returns all cookie records.
	List() ([]*Cookie, error)
}

// AccountStore persists account records.
type AccountStore interface {
	// Save stores an account, replacing any existing record for the same
	// (user_id, website) pair.
	Save(a *Account) error

	// Get retrieves the account for a user on a website. Returns ErrNotFound if absent.
	Get(userID, website string) (*Account, error)

	// Delete removes the account for a user on a website.
	Delete(userID, website string) error

	// List returns all account records.
	List() ([]*Account, error)
}

// PolicyStore persists auto-refresh policies.
type PolicyStore interface {
	// Save stores a policy, replacing any existing record for the same user.
	Save(p *RefreshPolicy) error

	// Get retrieves the policy for a user. Returns ErrNotFound if absent.
	Get(userID string) (*RefreshPolicy, error)

	// Delete removes the policy for a user.
	Delete(userID string) error

	// List returns all policies.
	List() ([]*RefreshPolicy, error)
}

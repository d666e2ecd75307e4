// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sessionbridge/sessionbridge/storage"
)

var _ storage.CookieStore = (*CookieStore)(nil)

const cookiePrefix = "cookie/"

// CookieStore implements storage.CookieStore using BadgerDB.
//
// Key format: cookie/{userID}
type CookieStore struct {
	db *badger.DB
}

// NewCookieStore creates a new BadgerDB cookie store.
func NewCookieStore(db *badger.DB) *CookieStore {
	return &CookieStore{db: db}
}

// Save stores a cookie, replacing any existing record for the same user.
func (c *CookieStore) Save(ck *storage.Cookie) error {
	data, err := json.Marshal(ck)
	if err != nil {
		return fmt.Errorf("failed to marshal cookie: %w", err)
	}

	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(cookiePrefix+ck.UserID), data)
	})
}

// Get retrieves the cookie for a user.
func (c *CookieStore) Get(userID string) (*storage.Cookie, error) {
	var ck *storage.Cookie

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cookiePrefix + userID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}

		return item.Value(func(val []byte) error {
			ck = &storage.Cookie{}
			return json.Unmarshal(val, ck)
		})
	})
	if err != nil {
		return nil, err
	}

	return ck, nil
}

// Delete removes the cookie for a user.
func (c *CookieStore) Delete(userID string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(cookiePrefix + userID))
	})
}

// List returns all cookie records.
func (c *CookieStore) List() ([]*storage.Cookie, error) {
	var cookies []*storage.Cookie

	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(cookiePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var ck storage.Cookie
				if err := json.Unmarshal(val, &ck); err != nil {
					return err
				}
				cookies = append(cookies, &ck)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal cookie: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return cookies, nil
}

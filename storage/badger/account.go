// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sessionbridge/sessionbridge/storage"
)

var _ storage.AccountStore = (*AccountStore)(nil)

const accountPrefix = "account/"

// AccountStore implements storage.AccountStore using BadgerDB.
//
// Key format: account/{userID}/{website}
type AccountStore struct {
	db *badger.DB
}

// NewAccountStore creates a new BadgerDB account store.
func NewAccountStore(db *badger.DB) *AccountStore {
	return &AccountStore{db: db}
}

func accountKey(userID, website string) []byte {
	return []byte(accountPrefix + userID + "/" + website)
}

// Save stores an account, replacing any existing record for the same
// (user_id, website) pair.
func (a *AccountStore) Save(acc *storage.Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}

	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(accountKey(acc.UserID, acc.Website), data)
	})
}

// Get retrieves the account for a user on a website.
func (a *AccountStore) Get(userID, website string) (*storage.Account, error) {
	var acc *storage.Account

	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(accountKey(userID, website))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}

		return item.Value(func(val []byte) error {
			acc = &storage.Account{}
			return json.Unmarshal(val, acc)
		})
	})
	if err != nil {
		return nil, err
	}

	return acc, nil
}

// Delete removes the account for a user on a website.
func (a *AccountStore) Delete(userID, website string) error {
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(accountKey(userID, website))
	})
}

// List returns all account records.
func (a *AccountStore) List() ([]*storage.Account, error) {
	var accounts []*storage.Account

	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(accountPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var acc storage.Account
				if err := json.Unmarshal(val, &acc); err != nil {
					return err
				}
				accounts = append(accounts, &acc)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal account: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return accounts, nil
}

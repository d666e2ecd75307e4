// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sessionbridge/sessionbridge/storage"
)

var _ storage.PolicyStore = (*PolicyStore)(nil)

const policyPrefix = "policy/"

// PolicyStore implements storage.PolicyStore using BadgerDB.
//
// Key format: policy/{userID}
type PolicyStore struct {
	db *badger.DB
}

// NewPolicyStore creates a new BadgerDB refresh-policy store.
func NewPolicyStore(db *badger.DB) *PolicyStore {
	return &PolicyStore{db: db}
}

// Save stores a policy, replacing any existing record for the same user.
func (p *PolicyStore) Save(pol *storage.RefreshPolicy) error {
	data, err := json.Marshal(pol)
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}

	return p.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(policyPrefix+pol.UserID), data)
	})
}

// Get retrieves the policy for a user.
func (p *PolicyStore) Get(userID string) (*storage.RefreshPolicy, error) {
	var pol *storage.RefreshPolicy

	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(policyPrefix + userID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}

		return item.Value(func(val []byte) error {
			pol = &storage.RefreshPolicy{}
			return json.Unmarshal(val, pol)
		})
	})
	if err != nil {
		return nil, err
	}

	return pol, nil
}

// Delete removes the policy for a user.
func (p *PolicyStore) Delete(userID string) error {
	return p.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(policyPrefix + userID))
	})
}

// List returns all policies.
func (p *PolicyStore) List() ([]*storage.RefreshPolicy, error) {
	var policies []*storage.RefreshPolicy

	err := p.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(policyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var pol storage.RefreshPolicy
				if err := json.Unmarshal(val, &pol); err != nil {
					return err
				}
				policies = append(policies, &pol)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal policy: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return policies, nil
}

// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docvault/core"
	"github.com/poiesic/docvault/storage"
)

// TxMode selects a read-only or read-write transaction.
type TxMode int

const (
	ReadOnly TxMode = iota
	ReadWrite
)

func (m TxMode) String() string {
	if m == ReadWrite {
		return "readwrite"
	}
	return "readonly"
}

// Txn is a BadgerDB transaction restricted to a set of collections.
type Txn struct {
	tx    *badger.Txn
	mode  TxMode
	scope []Collection
}

// check verifies key belongs to a collection in scope.
func (t *Txn) check(c Collection, key []byte, write bool) error {
	if write && t.mode != ReadWrite {
		return storage.ErrReadOnlyTxn
	}
	inScope := false
	for _, s := range t.scope {
		if s == c {
			inScope = true
			break
		}
	}
	if !inScope {
		return fmt.Errorf("%w: %s", storage.ErrOutOfScope, c)
	}
	if !bytes.HasPrefix(key, []byte(string(c)+":")) {
		return fmt.Errorf("%w: key %q outside %s", storage.ErrOutOfScope, key, c)
	}
	return nil
}

// Get returns a copy of the value stored under key, or nil, nil if the key
// doesn't exist.
func (t *Txn) Get(c Collection, key []byte) ([]byte, error) {
	if err := t.check(c, key, false); err != nil {
		return nil, err
	}
	item, err := t.tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

// Set stores value under key.
func (t *Txn) Set(c Collection, key, value []byte) error {
	if err := t.check(c, key, true); err != nil {
		return err
	}
	return wrapTxnErr(t.tx.Set(key, value))
}

// Delete removes key. Deleting a missing key is not an error.
func (t *Txn) Delete(c Collection, key []byte) error {
	if err := t.check(c, key, true); err != nil {
		return err
	}
	return wrapTxnErr(t.tx.Delete(key))
}

// Scan calls fn for every key with prefix, in key order or reverse key
// order. Key and value are only valid during the call. Returning
// errStopScan from fn ends the scan without error.
func (t *Txn) Scan(c Collection, prefix []byte, reverse bool, fn func(key, value []byte) error) error {
	if err := t.check(c, prefix, false); err != nil {
		return err
	}
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = reverse
	iter := t.tx.NewIterator(opts)
	defer iter.Close()

	seek := prefix
	if reverse {
		// Reverse iteration starts at the largest key <= seek
		seek = append(bytes.Clone(prefix), 0xFF)
	}
	for iter.Seek(seek); iter.ValidForPrefix(prefix); iter.Next() {
		item := iter.Item()
		err := item.Value(func(val []byte) error {
			return fn(item.Key(), val)
		})
		if errors.Is(err, errStopScan) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Keys returns copies of every key with prefix, in key order.
func (t *Txn) Keys(c Collection, prefix []byte) ([][]byte, error) {
	if err := t.check(c, prefix, false); err != nil {
		return nil, err
	}
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	iter := t.tx.NewIterator(opts)
	defer iter.Close()

	var keys [][]byte
	for iter.Rewind(); iter.Valid(); iter.Next() {
		keys = append(keys, iter.Item().KeyCopy(nil))
	}
	return keys, nil
}

var errStopScan = errors.New("stop scan")

// wrapTxnErr classifies a BadgerDB error onto the error taxonomy.
func wrapTxnErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrConflict), errors.Is(err, badger.ErrBlockedWrites):
		return fmt.Errorf("%w: %w", core.ErrTransient, err)
	case errors.Is(err, badger.ErrDBClosed):
		return fmt.Errorf("%w: %w", storage.ErrStorageClosed, err)
	default:
		return fmt.Errorf("%w: %w", core.ErrTransactionFailed, err)
	}
}

// ExecuteTransaction runs fn in a transaction scoped to collections.
// The transaction commits only when fn returns nil; an error from fn is
// returned unchanged and nothing is written. Commit conflicts are retried
// with backoff, re-running fn.
func (b *Backend) ExecuteTransaction(ctx context.Context, mode TxMode, fn func(*Txn) error, collections ...Collection) error {
	db, err := b.database()
	if err != nil {
		return err
	}

	return storage.WithRetry(ctx, func() error {
		tx := db.NewTransaction(mode == ReadWrite)
		defer tx.Discard()

		if err := fn(&Txn{tx: tx, mode: mode, scope: collections}); err != nil {
			return err
		}
		if mode == ReadOnly {
			return nil
		}
		if err := tx.Commit(); err != nil {
			b.logger.Debug("transaction commit failed", "error", err)
			return wrapTxnErr(err)
		}
		return nil
	}, b.cfg.MaxRetries, b.cfg.RetryBaseDelay)
}

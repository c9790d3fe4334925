package badger

import (
	"context"
	"fmt"

	"github.com/poiesic/docvault/storage"
)

// SchemaVersion is the layout version written by this package.
const SchemaVersion = 2

var schemaVersionKey = makeMetaKey("schema-version")

type migration struct {
	version     int
	description string
	apply       func(txn *Txn) error
}

// migrations are applied in order to bring a database up to SchemaVersion.
var migrations = []migration{
	{
		version:     1,
		description: "initial layout",
		apply:       func(*Txn) error { return nil },
	},
	{
		version:     2,
		description: "per-work history version counters",
		apply:       rebuildVersionCounters,
	},
}

// migrate applies every migration above the stored schema version, each in
// its own transaction together with the version bump.
func (b *Backend) migrate(ctx context.Context) error {
	current, err := b.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, SchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := b.ExecuteTransaction(ctx, ReadWrite, func(txn *Txn) error {
			if err := m.apply(txn); err != nil {
				return err
			}
			return txn.Set(Metadata, schemaVersionKey, storage.MarshalInt(m.version))
		}, Metadata, Works, Templates, History, Shards)
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
		b.logger.Info("applied schema migration", "version", m.version, "description", m.description)
	}
	return nil
}

// SchemaVersion returns the stored schema version, 0 for a new database.
func (b *Backend) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := b.ExecuteTransaction(ctx, ReadOnly, func(txn *Txn) error {
		data, err := txn.Get(Metadata, schemaVersionKey)
		if err != nil || data == nil {
			return err
		}
		version, err = storage.UnmarshalInt(data)
		return err
	}, Metadata)
	return version, err
}

// rebuildVersionCounters sets each work's version counter to its highest
// stored version number.
func rebuildVersionCounters(txn *Txn) error {
	highest := make(map[string]int)
	err := txn.Scan(History, makePrefix(History, recordKind), false, func(key, value []byte) error {
		v, err := storage.UnmarshalHistoryVersion(value)
		if err != nil {
			return err
		}
		if v.VersionNumber > highest[v.WorkID] {
			highest[v.WorkID] = v.VersionNumber
		}
		return nil
	})
	if err != nil {
		return err
	}
	for workID, n := range highest {
		if err := txn.Set(History, makeVersionCounterKey(workID), storage.MarshalInt(n)); err != nil {
			return err
		}
	}
	return nil
}

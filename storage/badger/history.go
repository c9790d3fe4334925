package badger

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/poiesic/docvault/core"
	"github.com/poiesic/docvault/storage"
)

// HistoryRepository implements storage.HistoryRepository for BadgerDB.
// Every version stores the full encrypted snapshot, plus an encrypted diff
// against the previous version when there is one.
type HistoryRepository struct {
	backend *Backend
	deps    Deps
	works   *docStore[*core.Document]

	// locks serializes version numbering per work within the process.
	// Commit conflicts on the counter key cover other writers.
	locks sync.Map
}

var _ storage.HistoryRepository = (*HistoryRepository)(nil)

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(backend *Backend, deps Deps) (*HistoryRepository, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	deps = deps.withDefaults()
	return &HistoryRepository{
		backend: backend,
		deps:    deps,
		works:   newWorkStore(backend, deps),
	}, nil
}

func (r *HistoryRepository) lock(workID string) func() {
	m, _ := r.locks.LoadOrStore(workID, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// forget drops the numbering lock of workID.
func (r *HistoryRepository) forget(workID string) {
	r.locks.Delete(workID)
}

// CreateVersion appends a version to dto.WorkID. A diff-only request is
// replayed on the latest snapshot.
func (r *HistoryRepository) CreateVersion(ctx context.Context, dto core.CreateVersion) (*core.HistoryVersion, error) {
	if err := core.ValidateCreateVersion(&dto); err != nil {
		return nil, err
	}
	key, err := r.deps.Keys.KeyForWrite(ctx)
	if err != nil {
		return nil, err
	}

	unlock := r.lock(dto.WorkID)
	defer unlock()

	var out *core.HistoryVersion
	err = r.backend.ExecuteTransaction(ctx, ReadWrite, func(txn *Txn) error {
		data, err := txn.Get(Works, makeRecordKey(Works, dto.WorkID))
		if err != nil {
			return err
		}
		if data == nil {
			return fmt.Errorf("%w: work %s", storage.ErrNotFound, dto.WorkID)
		}

		prev, err := r.latestSnapshotTx(ctx, txn, dto.WorkID, key, dto.Snapshot == nil)
		if err != nil {
			return err
		}

		var snapshot core.Content
		switch {
		case dto.Snapshot != nil:
			snapshot = dto.Snapshot.Clone()
		case prev == nil:
			return fmt.Errorf("%w: diff without a previous version of %s", core.ErrInvalidVersion, dto.WorkID)
		default:
			snapshot = prev.Clone()
			if snapshot.Nodes, err = dto.Diff.Apply(prev.Nodes); err != nil {
				return err
			}
			if err := core.ValidateContent(&snapshot); err != nil {
				return err
			}
		}

		out, err = r.appendTx(ctx, txn, dto.WorkID, prev, snapshot, dto.Operation, dto.Description, key)
		return err
	}, Works, History)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// latestSnapshotTx decrypts the newest snapshot of workID, or returns nil
// when there is none. An unreadable snapshot is reported and treated as
// missing unless required is set.
func (r *HistoryRepository) latestSnapshotTx(ctx context.Context, txn *Txn, workID string, key []byte, required bool) (*core.Content, error) {
	latest, err := r.latestVersionTx(txn, workID)
	if err != nil || latest == nil {
		return nil, err
	}
	content, err := r.openSnapshot(ctx, latest, key)
	if err != nil {
		if isCorruption(err) {
			r.deps.reportCorruption(History, latest.ID, err)
			if !required {
				return nil, nil
			}
		}
		return nil, err
	}
	return content, nil
}

// appendTx writes snapshot as the next version of workID.
func (r *HistoryRepository) appendTx(ctx context.Context, txn *Txn, workID string, prev *core.Content, snapshot core.Content, op core.VersionOperation, description string, key []byte) (*core.HistoryVersion, error) {
	counterKey := makeVersionCounterKey(workID)
	last := 0
	data, err := txn.Get(History, counterKey)
	if err != nil {
		return nil, err
	}
	if data != nil {
		if last, err = storage.UnmarshalInt(data); err != nil {
			return nil, err
		}
	}

	v := &core.HistoryVersion{
		ID:            core.NewID(),
		WorkID:        workID,
		VersionNumber: last + 1,
		NodeCount:     len(snapshot.Nodes),
		CreatedAt:     r.deps.now(),
		Operation:     op,
		Description:   description,
	}
	if v.Checksum, err = r.deps.Cipher.Checksum(ctx, snapshot); err != nil {
		return nil, err
	}
	if v.SnapshotData, err = r.deps.Cipher.Encrypt(ctx, snapshot, key); err != nil {
		return nil, err
	}
	if prev != nil {
		diff := core.DiffNodes(prev.Nodes, snapshot.Nodes)
		if v.DiffData, err = r.deps.Cipher.Encrypt(ctx, diff, key); err != nil {
			return nil, err
		}
	}

	recordKey := makeVersionKey(workID, v.VersionNumber)
	if err := txn.Set(History, recordKey, storage.MarshalHistoryVersion(v)); err != nil {
		return nil, err
	}
	if err := txn.Set(History, makeVersionIDKey(v.ID), recordKey); err != nil {
		return nil, err
	}
	if err := txn.Set(History, counterKey, storage.MarshalInt(v.VersionNumber)); err != nil {
		return nil, err
	}
	return v, nil
}

// latestVersionTx returns the highest numbered readable version of
// workID, or nil. Undecodable records are reported and skipped.
func (r *HistoryRepository) latestVersionTx(txn *Txn, workID string) (*core.HistoryVersion, error) {
	var latest *core.HistoryVersion
	err := txn.Scan(History, makePartialVersionKey(workID), true, func(key, value []byte) error {
		v, err := storage.UnmarshalHistoryVersion(value)
		if err != nil {
			if !isCorruption(err) {
				return err
			}
			r.deps.reportCorruption(History, versionLabel(workID, key), err)
			return nil
		}
		latest = v
		return errStopScan
	})
	return latest, err
}

// readVersionTx returns version versionID of workID.
func readVersionTx(txn *Txn, workID, versionID string) (*core.HistoryVersion, error) {
	recordKey, err := txn.Get(History, makeVersionIDKey(versionID))
	if err != nil {
		return nil, err
	}
	if recordKey == nil || !bytes.HasPrefix(recordKey, makePartialVersionKey(workID)) {
		return nil, fmt.Errorf("%w: version %s of %s", storage.ErrNotFound, versionID, workID)
	}
	data, err := txn.Get(History, recordKey)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: version %s of %s", storage.ErrNotFound, versionID, workID)
	}
	return storage.UnmarshalHistoryVersion(data)
}

// openSnapshot decrypts the snapshot of v and verifies its checksum.
func (r *HistoryRepository) openSnapshot(ctx context.Context, v *core.HistoryVersion, key []byte) (*core.Content, error) {
	var content core.Content
	if err := r.deps.Cipher.Decrypt(ctx, v.SnapshotData, key, &content); err != nil {
		return nil, err
	}
	sum, err := r.deps.Cipher.Checksum(ctx, content)
	if err != nil {
		return nil, err
	}
	if sum != v.Checksum {
		return nil, fmt.Errorf("%w: version %d of %s", core.ErrIntegrity, v.VersionNumber, v.WorkID)
	}
	return &content, nil
}

// GetVersions returns a page of versions in ascending number order.
// Undecodable records on the page are left out, reported and listed in
// Corrupted.
func (r *HistoryRepository) GetVersions(ctx context.Context, workID string, page, pageSize int) (*core.ListResult[*core.HistoryVersion], error) {
	opts := core.ListOptions{Page: page, PageSize: pageSize}.Normalize()
	start := (opts.Page - 1) * opts.PageSize

	var (
		result *core.ListResult[*core.HistoryVersion]
		causes []error
	)
	err := r.backend.ExecuteTransaction(ctx, ReadOnly, func(txn *Txn) error {
		result = &core.ListResult[*core.HistoryVersion]{
			Items:    []*core.HistoryVersion{},
			Page:     opts.Page,
			PageSize: opts.PageSize,
		}
		causes = causes[:0]
		i := 0
		return txn.Scan(History, makePartialVersionKey(workID), false, func(key, value []byte) error {
			defer func() { i++ }()
			result.Total++
			if i < start || i >= start+opts.PageSize {
				return nil
			}
			v, err := storage.UnmarshalHistoryVersion(value)
			if err != nil {
				if !isCorruption(err) {
					return err
				}
				result.Corrupted = append(result.Corrupted, versionLabel(workID, key))
				causes = append(causes, err)
				return nil
			}
			result.Items = append(result.Items, v)
			return nil
		})
	}, History)
	if err != nil {
		return nil, err
	}
	for i, id := range result.Corrupted {
		r.deps.reportCorruption(History, id, causes[i])
	}
	return result, nil
}

// GetLatestVersion returns the highest numbered version of workID.
func (r *HistoryRepository) GetLatestVersion(ctx context.Context, workID string) (*core.HistoryVersion, error) {
	var latest *core.HistoryVersion
	err := r.backend.ExecuteTransaction(ctx, ReadOnly, func(txn *Txn) error {
		var err error
		latest, err = r.latestVersionTx(txn, workID)
		return err
	}, History)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: no versions of %s", storage.ErrNotFound, workID)
	}
	return latest, nil
}

func (r *HistoryRepository) GetVersion(ctx context.Context, workID, versionID string) (*core.HistoryVersion, error) {
	var v *core.HistoryVersion
	err := r.backend.ExecuteTransaction(ctx, ReadOnly, func(txn *Txn) error {
		var err error
		v, err = readVersionTx(txn, workID, versionID)
		return err
	}, History)
	return v, err
}

// GetSnapshot decrypts and verifies the snapshot of a version.
func (r *HistoryRepository) GetSnapshot(ctx context.Context, workID, versionID string) (*core.Content, error) {
	v, err := r.GetVersion(ctx, workID, versionID)
	if err != nil {
		return nil, err
	}
	key, err := r.deps.Keys.KeyForRead(ctx)
	if err != nil {
		return nil, err
	}
	content, err := r.openSnapshot(ctx, v, key)
	if err != nil {
		if isCorruption(err) {
			r.deps.reportCorruption(History, versionID, err)
		}
		return nil, err
	}
	return content, nil
}

// RestoreVersion writes the snapshot of versionID back to the work and
// appends a restore version, all in one transaction.
func (r *HistoryRepository) RestoreVersion(ctx context.Context, workID, versionID string) (*core.Document, error) {
	key, err := r.deps.Keys.KeyForWrite(ctx)
	if err != nil {
		return nil, err
	}

	unlock := r.lock(workID)
	defer unlock()

	var out *core.Document
	err = r.backend.ExecuteTransaction(ctx, ReadWrite, func(txn *Txn) error {
		source, err := readVersionTx(txn, workID, versionID)
		if err != nil {
			return err
		}
		content, err := r.openSnapshot(ctx, source, key)
		if err != nil {
			if isCorruption(err) {
				r.deps.reportCorruption(History, versionID, err)
			}
			return err
		}

		cur, err := r.works.readTx(txn, workID)
		if err != nil {
			return err
		}
		if cur.IsReadonly {
			return fmt.Errorf("%w: %s", core.ErrReadOnly, workID)
		}

		payload, err := r.deps.seal(ctx, workID, *content, key)
		if err != nil {
			return err
		}
		next := cur.Clone()
		payload.applyTo(next)
		next.DataVersion++
		next.LastModified = r.deps.now()
		if err := r.works.putTx(txn, next, &cur); err != nil {
			return err
		}
		if err := putShardsTx(txn, workID, payload.Shards); err != nil {
			return err
		}

		prev, err := r.latestSnapshotTx(ctx, txn, workID, key, false)
		if err != nil {
			return err
		}
		description := fmt.Sprintf("restored from version %d", source.VersionNumber)
		if _, err := r.appendTx(ctx, txn, workID, prev, *content, core.OperationRestore, description, key); err != nil {
			return err
		}

		next.Content = content
		out = next
		return nil
	}, Works, History, Shards)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CleanupOldVersions keeps the newest keep versions of workID. The version
// counter is left alone so numbers are never reused.
func (r *HistoryRepository) CleanupOldVersions(ctx context.Context, workID string, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("%w: keep must not be negative", core.ErrInvalidVersion)
	}
	var deleted int
	err := r.backend.ExecuteTransaction(ctx, ReadWrite, func(txn *Txn) error {
		deleted = 0
		var stale [][]byte
		seen := 0
		err := txn.Scan(History, makePartialVersionKey(workID), true, func(key, value []byte) error {
			seen++
			if seen <= keep {
				return nil
			}
			stale = append(stale, bytes.Clone(key))
			if v, err := storage.UnmarshalHistoryVersion(value); err == nil {
				stale = append(stale, makeVersionIDKey(v.ID))
			}
			deleted++
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := txn.Delete(History, k); err != nil {
				return err
			}
		}
		return nil
	}, History)
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// DeleteVersionsByWorkID removes every version of workID and its counter.
func (r *HistoryRepository) DeleteVersionsByWorkID(ctx context.Context, workID string) (int, error) {
	unlock := r.lock(workID)
	defer unlock()

	var deleted int
	err := r.backend.ExecuteTransaction(ctx, ReadWrite, func(txn *Txn) error {
		var err error
		deleted, err = deleteHistoryTx(txn, workID)
		return err
	}, History)
	if err != nil {
		return 0, err
	}
	r.forget(workID)
	return deleted, nil
}

// deleteHistoryTx removes the versions, id index entries and counter of
// workID and returns the number of versions removed.
func deleteHistoryTx(txn *Txn, workID string) (int, error) {
	var stale [][]byte
	count := 0
	err := txn.Scan(History, makePartialVersionKey(workID), false, func(key, value []byte) error {
		count++
		stale = append(stale, bytes.Clone(key))
		if v, err := storage.UnmarshalHistoryVersion(value); err == nil {
			stale = append(stale, makeVersionIDKey(v.ID))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	stale = append(stale, makeVersionCounterKey(workID))
	for _, k := range stale {
		if err := txn.Delete(History, k); err != nil {
			return 0, err
		}
	}
	return count, nil
}

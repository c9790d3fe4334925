package badger

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/poiesic/docvault/core"
	"github.com/poiesic/docvault/sharding"
	"github.com/poiesic/docvault/storage"
)

// ShardRepository implements storage.ShardRepository for BadgerDB.
type ShardRepository struct {
	backend *Backend
	deps    Deps
}

var _ storage.ShardRepository = (*ShardRepository)(nil)

// NewShardRepository creates a new ShardRepository.
func NewShardRepository(backend *Backend, deps Deps) (*ShardRepository, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &ShardRepository{backend: backend, deps: deps.withDefaults()}, nil
}

// GenerateShards encrypts nodes into shards of the configured size and
// replaces the stored shards of workID with them.
func (r *ShardRepository) GenerateShards(ctx context.Context, workID string, nodes []core.Node) ([]*core.Shard, error) {
	key, err := r.deps.Keys.KeyForWrite(ctx)
	if err != nil {
		return nil, err
	}
	shards, err := r.deps.buildShards(ctx, workID, nodes, key)
	if err != nil {
		return nil, err
	}
	err = r.backend.ExecuteTransaction(ctx, ReadWrite, func(txn *Txn) error {
		return putShardsTx(txn, workID, shards)
	}, Shards)
	if err != nil {
		return nil, err
	}
	return shards, nil
}

// Save stores shards as given, overwriting shards with the same ids.
func (r *ShardRepository) Save(ctx context.Context, shards ...*core.Shard) error {
	for _, s := range shards {
		if s.WorkID == "" || s.ShardID == "" {
			return fmt.Errorf("%w: shard requires work and shard ids", core.ErrInvalidDocument)
		}
	}
	return r.backend.ExecuteTransaction(ctx, ReadWrite, func(txn *Txn) error {
		for _, s := range shards {
			if err := txn.Set(Shards, makeShardKey(s.WorkID, s.ShardID), storage.MarshalShard(s)); err != nil {
				return err
			}
		}
		return nil
	}, Shards)
}

func (r *ShardRepository) Get(ctx context.Context, workID, shardID string) (*core.Shard, error) {
	var shard *core.Shard
	err := r.backend.ExecuteTransaction(ctx, ReadOnly, func(txn *Txn) error {
		var err error
		shard, err = readShardTx(txn, workID, shardID)
		return err
	}, Shards)
	return shard, err
}

func readShardTx(txn *Txn, workID, shardID string) (*core.Shard, error) {
	data, err := txn.Get(Shards, makeShardKey(workID, shardID))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: shard %s of %s", storage.ErrNotFound, shardID, workID)
	}
	return storage.UnmarshalShard(data)
}

// GetByWorkID returns the shards of workID ordered by range start.
func (r *ShardRepository) GetByWorkID(ctx context.Context, workID string) ([]*core.Shard, error) {
	var shards []*core.Shard
	err := r.backend.ExecuteTransaction(ctx, ReadOnly, func(txn *Txn) error {
		var err error
		shards, err = readShardsTx(txn, workID)
		return err
	}, Shards)
	return shards, err
}

func (r *ShardRepository) Update(ctx context.Context, shard *core.Shard) error {
	return r.backend.ExecuteTransaction(ctx, ReadWrite, func(txn *Txn) error {
		if _, err := readShardTx(txn, shard.WorkID, shard.ShardID); err != nil {
			return err
		}
		return txn.Set(Shards, makeShardKey(shard.WorkID, shard.ShardID), storage.MarshalShard(shard))
	}, Shards)
}

func (r *ShardRepository) Delete(ctx context.Context, workID, shardID string) error {
	return r.backend.ExecuteTransaction(ctx, ReadWrite, func(txn *Txn) error {
		return txn.Delete(Shards, makeShardKey(workID, shardID))
	}, Shards)
}

func (r *ShardRepository) DeleteByWorkID(ctx context.Context, workID string) (int, error) {
	var n int
	err := r.backend.ExecuteTransaction(ctx, ReadWrite, func(txn *Txn) error {
		var err error
		n, err = deleteShardsTx(txn, workID)
		return err
	}, Shards)
	return n, err
}

func (r *ShardRepository) Count(ctx context.Context, workID string) (int, error) {
	var n int
	err := r.backend.ExecuteTransaction(ctx, ReadOnly, func(txn *Txn) error {
		shardKeys, err := txn.Keys(Shards, makePartialShardKey(workID))
		n = len(shardKeys)
		return err
	}, Shards)
	return n, err
}

// CleanupOldShards keeps the keep most recently created shards of workID
// and returns the number removed.
func (r *ShardRepository) CleanupOldShards(ctx context.Context, workID string, keep int) (int, error) {
	if keep < 0 {
		return 0, errors.New("keep must not be negative")
	}
	var removed int
	err := r.backend.ExecuteTransaction(ctx, ReadWrite, func(txn *Txn) error {
		shards, err := readShardsTx(txn, workID)
		if err != nil {
			return err
		}
		slices.SortStableFunc(shards, func(a, b *core.Shard) int {
			return b.CreatedAt.Compare(a.CreatedAt)
		})
		removed = 0
		for _, s := range shards[min(keep, len(shards)):] {
			if err := txn.Delete(Shards, makeShardKey(workID, s.ShardID)); err != nil {
				return err
			}
			removed++
		}
		return nil
	}, Shards)
	return removed, err
}

// MergedNodes decrypts and verifies every shard of workID and concatenates
// their nodes by range start. Shards failing verification are left out,
// reported and returned by id.
func (r *ShardRepository) MergedNodes(ctx context.Context, workID string) ([]core.Node, []string, error) {
	var (
		shards    []*core.Shard
		corrupted []string
		causes    []error
	)
	err := r.backend.ExecuteTransaction(ctx, ReadOnly, func(txn *Txn) error {
		corrupted, causes = corrupted[:0], causes[:0]
		var err error
		shards, err = scanShardsTx(txn, workID, func(shardID string, err error) {
			corrupted = append(corrupted, shardID)
			causes = append(causes, err)
		})
		return err
	}, Shards)
	if err != nil {
		return nil, nil, err
	}
	for i, id := range corrupted {
		r.deps.reportCorruption(Shards, id, causes[i])
	}
	if len(shards) == 0 {
		return nil, corrupted, nil
	}
	key, err := r.deps.Keys.KeyForRead(ctx)
	if err != nil {
		return nil, nil, err
	}

	groups := make([]sharding.Group, 0, len(shards))
	for _, s := range shards {
		nodes, err := r.deps.openShard(ctx, s, key)
		if err != nil {
			if !isCorruption(err) {
				return nil, nil, err
			}
			r.deps.reportCorruption(Shards, s.ShardID, err)
			corrupted = append(corrupted, s.ShardID)
			continue
		}
		groups = append(groups, sharding.Group{Range: s.LevelRange, Nodes: nodes})
	}
	return sharding.Merge(groups), corrupted, nil
}

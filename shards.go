package docvault

import (
	"context"

	"github.com/poiesic/docvault/core"
)

// GenerateShards replaces the shards of a work with encrypted partitions of
// nodes.
func (s *Storage) GenerateShards(ctx context.Context, workID string, nodes []core.Node) ([]*core.Shard, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("generate shards", workID, err)
	}
	shards, err := repos.Shards.GenerateShards(ctx, workID, nodes)
	if err != nil {
		return nil, s.fail("generate shards", workID, err)
	}
	return shards, nil
}

// SaveShards stores already encrypted shards.
func (s *Storage) SaveShards(ctx context.Context, shards ...*core.Shard) error {
	repos, err := s.repositories()
	if err != nil {
		return s.fail("save shards", "", err)
	}
	if err := repos.Shards.Save(ctx, shards...); err != nil {
		return s.fail("save shards", "", err)
	}
	return nil
}

// GetShard returns one stored shard of workID, still encrypted.
func (s *Storage) GetShard(ctx context.Context, workID, shardID string) (*core.Shard, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("get shard", shardID, err)
	}
	shard, err := repos.Shards.Get(ctx, workID, shardID)
	if err != nil {
		return nil, s.fail("get shard", shardID, err)
	}
	return shard, nil
}

// GetShardsByWorkID returns the shards of workID ordered by range start.
func (s *Storage) GetShardsByWorkID(ctx context.Context, workID string) ([]*core.Shard, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("get shards", workID, err)
	}
	shards, err := repos.Shards.GetByWorkID(ctx, workID)
	if err != nil {
		return nil, s.fail("get shards", workID, err)
	}
	return shards, nil
}

// UpdateShard overwrites an existing shard.
func (s *Storage) UpdateShard(ctx context.Context, shard *core.Shard) error {
	repos, err := s.repositories()
	if err != nil {
		return s.fail("update shard", shard.ShardID, err)
	}
	if err := repos.Shards.Update(ctx, shard); err != nil {
		return s.fail("update shard", shard.ShardID, err)
	}
	s.works.Delete(shard.WorkID)
	return nil
}

// DeleteShard removes one shard of workID.
func (s *Storage) DeleteShard(ctx context.Context, workID, shardID string) error {
	repos, err := s.repositories()
	if err != nil {
		return s.fail("delete shard", shardID, err)
	}
	if err := repos.Shards.Delete(ctx, workID, shardID); err != nil {
		return s.fail("delete shard", shardID, err)
	}
	s.works.Delete(workID)
	return nil
}

// DeleteShardsByWorkID removes every shard of workID and returns the count.
func (s *Storage) DeleteShardsByWorkID(ctx context.Context, workID string) (int, error) {
	repos, err := s.repositories()
	if err != nil {
		return 0, s.fail("delete shards", workID, err)
	}
	n, err := repos.Shards.DeleteByWorkID(ctx, workID)
	if err != nil {
		return 0, s.fail("delete shards", workID, err)
	}
	s.works.Delete(workID)
	return n, nil
}

// CountShards returns the number of shards stored for workID.
func (s *Storage) CountShards(ctx context.Context, workID string) (int, error) {
	repos, err := s.repositories()
	if err != nil {
		return 0, s.fail("count shards", workID, err)
	}
	n, err := repos.Shards.Count(ctx, workID)
	if err != nil {
		return 0, s.fail("count shards", workID, err)
	}
	return n, nil
}

// CleanupOldShards keeps the keep most recently created shards of a work.
func (s *Storage) CleanupOldShards(ctx context.Context, workID string, keep int) (int, error) {
	repos, err := s.repositories()
	if err != nil {
		return 0, s.fail("cleanup shards", workID, err)
	}
	n, err := repos.Shards.CleanupOldShards(ctx, workID, keep)
	if err != nil {
		return 0, s.fail("cleanup shards", workID, err)
	}
	if n > 0 {
		s.works.Delete(workID)
	}
	return n, nil
}

// MergedNodes reassembles the nodes of a work from its shards. Shards that
// fail verification are left out and returned by id.
func (s *Storage) MergedNodes(ctx context.Context, workID string) ([]core.Node, []string, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, nil, s.fail("merge shards", workID, err)
	}
	nodes, corrupted, err := repos.Shards.MergedNodes(ctx, workID)
	if err != nil {
		return nil, nil, s.fail("merge shards", workID, err)
	}
	return nodes, corrupted, nil
}

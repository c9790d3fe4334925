package badger

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/docvault/core"
	"github.com/poiesic/docvault/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateShards_Ranges(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t, func(d *Deps) { d.ShardSize = 100 })

	nodes := testNodes(250)
	shards, err := repos.Shards.GenerateShards(ctx, "w", nodes)
	require.NoError(t, err)
	require.Len(t, shards, 3)

	want := []core.LevelRange{{Start: 0, End: 99}, {Start: 100, End: 199}, {Start: 200, End: 249}}
	for i, s := range shards {
		assert.Equal(t, want[i], s.LevelRange)
		assert.NotEmpty(t, s.Checksum)
		assert.Equal(t, "w", s.WorkID)
	}
	assert.Equal(t, 50, shards[2].NodeCount)

	stored, err := repos.Shards.GetByWorkID(ctx, "w")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for i, s := range stored {
		assert.Equal(t, want[i], s.LevelRange)
	}

	merged, corrupted, err := repos.Shards.MergedNodes(ctx, "w")
	require.NoError(t, err)
	assert.Empty(t, corrupted)
	assert.Equal(t, nodes, merged)

	// Regenerating replaces the previous set
	_, err = repos.Shards.GenerateShards(ctx, "w", testNodes(10))
	require.NoError(t, err)
	n, err := repos.Shards.Count(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMergedNodes_SkipsCorruptedShard(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t, func(d *Deps) { d.ShardSize = 4 })
	corrupted := corruptionEvents(t, repos)

	shards, err := repos.Shards.GenerateShards(ctx, "w", testNodes(10))
	require.NoError(t, err)
	require.Len(t, shards, 3)

	bad := *shards[1]
	bad.Data = flipCiphertextByte(t, bad.Data)
	require.NoError(t, repos.Shards.Update(ctx, &bad))

	merged, skipped, err := repos.Shards.MergedNodes(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, []string{bad.ShardID}, skipped)
	assert.Equal(t, []string{bad.ShardID}, corrupted())
	require.Len(t, merged, 6)
	assert.Equal(t, "n-0", merged[0].ID)
	assert.Equal(t, "n-8", merged[4].ID)
}

func TestMergedNodes_UndecodableShard(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t, func(d *Deps) { d.ShardSize = 4 })
	corrupted := corruptionEvents(t, repos)

	shards, err := repos.Shards.GenerateShards(ctx, "w", testNodes(10))
	require.NoError(t, err)
	require.Len(t, shards, 3)
	overwriteRecord(t, repos, Shards, makeShardKey("w", shards[1].ShardID), []byte{0xFF})

	merged, skipped, err := repos.Shards.MergedNodes(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, []string{shards[1].ShardID}, skipped)
	assert.Equal(t, []string{shards[1].ShardID}, corrupted())
	require.Len(t, merged, 6)
	assert.Equal(t, "n-0", merged[0].ID)
	assert.Equal(t, "n-8", merged[4].ID)

	// Reading the set as a whole still refuses the bad record
	_, err = repos.Shards.GetByWorkID(ctx, "w")
	assert.ErrorIs(t, err, storage.ErrSerializationFailed)
}

func TestMergedNodes_ChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t, func(d *Deps) { d.ShardSize = 5 })

	shards, err := repos.Shards.GenerateShards(ctx, "w", testNodes(10))
	require.NoError(t, err)

	bad := *shards[0]
	bad.Checksum = shards[1].Checksum
	require.NoError(t, repos.Shards.Update(ctx, &bad))

	merged, skipped, err := repos.Shards.MergedNodes(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, []string{bad.ShardID}, skipped)
	assert.Len(t, merged, 5)

	empty, skipped, err := repos.Shards.MergedNodes(ctx, "nothing")
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.Empty(t, skipped)
}

func TestShardCRUD(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)

	shard := &core.Shard{
		WorkID:     "w",
		ShardID:    "s1",
		LevelRange: core.LevelRange{Start: 0, End: 9},
		NodeCount:  10,
		Data:       "opaque",
		Checksum:   "sum",
		CreatedAt:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	t.Run("save requires ids", func(t *testing.T) {
		err := repos.Shards.Save(ctx, &core.Shard{WorkID: "w"})
		assert.ErrorIs(t, err, core.ErrInvalidDocument)
	})

	t.Run("save and get", func(t *testing.T) {
		require.NoError(t, repos.Shards.Save(ctx, shard))
		got, err := repos.Shards.Get(ctx, "w", "s1")
		require.NoError(t, err)
		assert.Equal(t, shard.LevelRange, got.LevelRange)
		assert.Equal(t, "opaque", got.Data)
		assert.True(t, shard.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("update", func(t *testing.T) {
		next := *shard
		next.Data = "changed"
		require.NoError(t, repos.Shards.Update(ctx, &next))
		got, err := repos.Shards.Get(ctx, "w", "s1")
		require.NoError(t, err)
		assert.Equal(t, "changed", got.Data)

		missing := *shard
		missing.ShardID = "nope"
		assert.ErrorIs(t, repos.Shards.Update(ctx, &missing), storage.ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repos.Shards.Delete(ctx, "w", "s1"))
		_, err := repos.Shards.Get(ctx, "w", "s1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		// Deleting a missing shard is not an error
		require.NoError(t, repos.Shards.Delete(ctx, "w", "s1"))
	})
}

func TestCleanupOldShards(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var saved []*core.Shard
	for i := range 5 {
		saved = append(saved, &core.Shard{
			WorkID:     "w",
			ShardID:    core.NewID(),
			LevelRange: core.LevelRange{Start: i * 10, End: i*10 + 9},
			CreatedAt:  base.Add(time.Duration(i) * time.Hour),
		})
	}
	require.NoError(t, repos.Shards.Save(ctx, saved...))

	removed, err := repos.Shards.CleanupOldShards(ctx, "w", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	left, err := repos.Shards.GetByWorkID(ctx, "w")
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, saved[3].ShardID, left[0].ShardID)
	assert.Equal(t, saved[4].ShardID, left[1].ShardID)

	n, err := repos.Shards.DeleteByWorkID(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = repos.Shards.CleanupOldShards(ctx, "w", -1)
	assert.Error(t, err)
}

package badger

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/docvault/core"
	"github.com/poiesic/docvault/events"
	"github.com/poiesic/docvault/interchange"
	"github.com/poiesic/docvault/keys"
	"github.com/poiesic/docvault/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNodes(n int) []core.Node {
	nodes := make([]core.Node, n)
	for i := range nodes {
		nodes[i] = core.Node{ID: fmt.Sprintf("n-%d", i), Text: fmt.Sprintf("node %d", i), Level: i % 3}
	}
	return nodes
}

// steppingClock returns a clock advancing one second per call.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newTestRepos(t *testing.T, configure ...func(*Deps)) *TestRepositories {
	t.Helper()
	configure = append([]func(*Deps){func(d *Deps) { d.Now = steppingClock() }}, configure...)
	repos, err := NewMemoryRepositories(configure...)
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })
	return repos
}

// corruptionEvents collects data-corrupted event ids.
func corruptionEvents(t *testing.T, repos *TestRepositories) func() []string {
	t.Helper()
	var (
		mu  sync.Mutex
		ids []string
	)
	unsubscribe := repos.Deps.Events.Subscribe(events.DataCorrupted, func(ev events.Event) {
		mu.Lock()
		defer mu.Unlock()
		ids = append(ids, ev.ID)
	})
	t.Cleanup(unsubscribe)
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), ids...)
	}
}

// tamperWork rewrites the stored record of id in place.
func tamperWork(t *testing.T, repos *TestRepositories, id string, fn func(*core.Document)) {
	t.Helper()
	err := repos.Backend.ExecuteTransaction(context.Background(), ReadWrite, func(txn *Txn) error {
		data, err := txn.Get(Works, makeRecordKey(Works, id))
		if err != nil {
			return err
		}
		doc, err := storage.UnmarshalDocument(data)
		if err != nil {
			return err
		}
		fn(doc)
		return txn.Set(Works, makeRecordKey(Works, id), storage.MarshalDocument(doc))
	}, Works)
	require.NoError(t, err)
}

// overwriteRecord replaces the raw value stored under key.
func overwriteRecord(t *testing.T, repos *TestRepositories, c Collection, key, value []byte) {
	t.Helper()
	err := repos.Backend.ExecuteTransaction(context.Background(), ReadWrite, func(txn *Txn) error {
		return txn.Set(c, key, value)
	}, c)
	require.NoError(t, err)
}

// flipCiphertextByte changes one byte of an encoded ciphertext.
func flipCiphertextByte(t *testing.T, encoded string) string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	raw[len(raw)/2] ^= 0x01
	return base64.StdEncoding.EncodeToString(raw)
}

func TestWorkCreateAndGet(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)

	created, err := repos.Works.Create(ctx, core.CreateWork{})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, core.DefaultTitle, created.Title)

	got, err := repos.Works.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, core.DefaultTitle, got.Title)
	assert.Equal(t, 1, got.DataVersion)
	assert.False(t, got.IsDeleted)
	assert.Zero(t, got.NodeCount)
	require.NotNil(t, got.Content)
	assert.Empty(t, got.Content.Nodes)
	assert.Equal(t, created.CreatedAt, got.CreatedAt)
}

func TestWorkCreate_EncryptsPayload(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)

	content := core.Content{
		Nodes:    []core.Node{{ID: "root", Text: "very secret plaintext"}},
		Settings: map[string]string{"theme": "dark"},
	}
	created, err := repos.Works.Create(ctx, core.CreateWork{
		Title:    "Plans",
		Category: " notes ",
		Tags:     []string{"a", " b", "a", ""},
		Content:  content,
	})
	require.NoError(t, err)
	assert.Equal(t, "notes", created.Category)
	assert.Equal(t, []string{"a", "b"}, created.Tags)
	assert.Equal(t, 1, created.NodeCount)
	assert.NotContains(t, created.EncryptedData, "secret")

	raw, err := base64.StdEncoding.DecodeString(created.EncryptedData)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")

	sum, err := repos.Deps.Cipher.Checksum(ctx, content)
	require.NoError(t, err)
	assert.Equal(t, sum, created.Checksum)

	got, err := repos.Works.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, content, *got.Content)
}

func TestWorkCreate_Validation(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)

	_, err := repos.Works.Create(ctx, core.CreateWork{
		Content: core.Content{Nodes: []core.Node{{ID: "a"}, {ID: "a"}}},
	})
	assert.ErrorIs(t, err, core.ErrDuplicateNodeID)
}

func TestWorkCreate_KeyBootstrapDisabled(t *testing.T) {
	ctx := context.Background()
	manager, err := keys.NewManager(keys.WithStore(keys.NewMemoryStore()), keys.WithAutoGenerate(false))
	require.NoError(t, err)
	repos := newTestRepos(t, func(d *Deps) { d.Keys = manager })

	_, err = repos.Works.Create(ctx, core.CreateWork{Title: "x"})
	assert.ErrorIs(t, err, core.ErrKeyMissing)

	_, err = manager.GenerateKey(ctx)
	require.NoError(t, err)
	_, err = repos.Works.Create(ctx, core.CreateWork{Title: "x"})
	require.NoError(t, err)
}

func TestWorkGet_NotFound(t *testing.T) {
	repos := newTestRepos(t)
	_, err := repos.Works.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestWorkUpdate(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)

	doc, err := repos.Works.Create(ctx, core.CreateWork{Title: "Untitled"})
	require.NoError(t, err)

	t.Run("payload updates bump data version", func(t *testing.T) {
		for i := 1; i <= 2; i++ {
			doc, err = repos.Works.Update(ctx, doc.ID, core.WorkPatch{
				Content: core.Some(core.Content{Nodes: testNodes(i)}),
			})
			require.NoError(t, err)
		}
		assert.Equal(t, 3, doc.DataVersion)

		got, err := repos.Works.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.DataVersion)
		assert.Equal(t, testNodes(2), got.Content.Nodes)
		assert.Equal(t, 2, got.NodeCount)
	})

	t.Run("unchanged payload keeps data version", func(t *testing.T) {
		before := doc.EncryptedData
		doc, err = repos.Works.Update(ctx, doc.ID, core.WorkPatch{
			Content: core.Some(core.Content{Nodes: testNodes(2)}),
		})
		require.NoError(t, err)
		assert.Equal(t, 3, doc.DataVersion)
		assert.Equal(t, before, doc.EncryptedData)
	})

	t.Run("metadata only", func(t *testing.T) {
		before := doc.LastModified
		doc, err = repos.Works.Update(ctx, doc.ID, core.WorkPatch{
			Title:   core.Some("Renamed"),
			Starred: core.Some(true),
			Tags:    core.Some([]string{"x"}),
		})
		require.NoError(t, err)
		assert.Equal(t, "Renamed", doc.Title)
		assert.True(t, doc.Starred)
		assert.Equal(t, []string{"x"}, doc.Tags)
		assert.Equal(t, 3, doc.DataVersion)
		assert.True(t, doc.LastModified.After(before))
		require.NotNil(t, doc.Content)
		assert.Equal(t, testNodes(2), doc.Content.Nodes)
	})

	t.Run("caller ciphertext", func(t *testing.T) {
		content := core.Content{Nodes: testNodes(4)}
		data, err := repos.Deps.Cipher.Encrypt(ctx, content, repos.Deps.Keys.GetKey())
		require.NoError(t, err)

		doc, err = repos.Works.Update(ctx, doc.ID, core.WorkPatch{EncryptedData: core.Some(data)})
		require.NoError(t, err)
		assert.Equal(t, 4, doc.DataVersion)
		assert.Equal(t, data, doc.EncryptedData)
		sum, err := repos.Deps.Cipher.Checksum(ctx, content)
		require.NoError(t, err)
		assert.Equal(t, sum, doc.Checksum)

		got, err := repos.Works.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, content.Nodes, got.Content.Nodes)
	})

	t.Run("caller ciphertext under another key", func(t *testing.T) {
		other := make([]byte, keys.KeySize)
		data, err := repos.Deps.Cipher.Encrypt(ctx, core.Content{}, other)
		require.NoError(t, err)

		_, err = repos.Works.Update(ctx, doc.ID, core.WorkPatch{EncryptedData: core.Some(data)})
		assert.ErrorIs(t, err, core.ErrDecryptionFailed)

		got, err := repos.Works.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, got.DataVersion)
	})

	t.Run("invalid patch", func(t *testing.T) {
		_, err := repos.Works.Update(ctx, doc.ID, core.WorkPatch{Title: core.Some("  ")})
		assert.ErrorIs(t, err, core.ErrEmptyTitle)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := repos.Works.Update(ctx, "missing", core.WorkPatch{Title: core.Some("x")})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestWorkReadOnly(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)

	doc, err := repos.Works.Create(ctx, core.CreateWork{Title: "locked", IsReadonly: true})
	require.NoError(t, err)

	_, err = repos.Works.Update(ctx, doc.ID, core.WorkPatch{Title: core.Some("changed")})
	assert.ErrorIs(t, err, core.ErrReadOnly)

	_, err = repos.Works.Delete(ctx, doc.ID, false)
	assert.ErrorIs(t, err, core.ErrReadOnly)

	_, err = repos.Works.Delete(ctx, doc.ID, true)
	assert.ErrorIs(t, err, core.ErrReadOnly)

	_, err = repos.Works.Restore(ctx, doc.ID)
	assert.ErrorIs(t, err, core.ErrReadOnly)

	got, err := repos.Works.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "locked", got.Title)
	assert.False(t, got.IsDeleted)
}

func TestWorkSoftDeleteAndRestore(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)

	doc, err := repos.Works.Create(ctx, core.CreateWork{Title: "doc"})
	require.NoError(t, err)

	ok, err := repos.Works.Delete(ctx, doc.ID, false)
	require.NoError(t, err)
	assert.True(t, ok)

	active, err := repos.Works.List(ctx, core.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, active.Items)

	trash, err := repos.Works.List(ctx, core.ListOptions{DeletedOnly: true})
	require.NoError(t, err)
	require.Len(t, trash.Items, 1)
	assert.Equal(t, doc.ID, trash.Items[0].ID)
	assert.True(t, trash.Items[0].IsDeleted)
	assert.False(t, trash.Items[0].InTrashSince.IsZero())

	// Deleting again succeeds without changing anything
	since := trash.Items[0].InTrashSince
	ok, err = repos.Works.Delete(ctx, doc.ID, false)
	require.NoError(t, err)
	assert.True(t, ok)
	again, err := repos.Works.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, since, again.InTrashSince)

	restored, err := repos.Works.Restore(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, restored.IsDeleted)
	assert.True(t, restored.InTrashSince.IsZero())

	active, err = repos.Works.List(ctx, core.ListOptions{})
	require.NoError(t, err)
	require.Len(t, active.Items, 1)

	// Restoring an active work is a no-op
	_, err = repos.Works.Restore(ctx, doc.ID)
	require.NoError(t, err)
}

func TestWorkHardDelete(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t, func(d *Deps) {
		d.ShardThreshold = 10
		d.ShardSize = 5
	})

	doc, err := repos.Works.Create(ctx, core.CreateWork{Title: "big", Tags: []string{"t"}, Content: core.Content{Nodes: testNodes(20)}})
	require.NoError(t, err)
	_, err = repos.History.CreateVersion(ctx, core.CreateVersion{WorkID: doc.ID, Snapshot: doc.Content})
	require.NoError(t, err)

	ok, err := repos.Works.Delete(ctx, doc.ID, true)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = repos.Works.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	n, err := repos.Shards.Count(ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = repos.History.GetLatestVersion(ctx, doc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	list, err := repos.Works.List(ctx, core.ListOptions{Tag: "t"})
	require.NoError(t, err)
	assert.Zero(t, list.Total)

	_, err = repos.Works.Delete(ctx, doc.ID, true)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWorkList(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)

	fixtures := []core.CreateWork{
		{Title: "banana", Category: "fruit", Tags: []string{"yellow"}, Starred: true, Content: core.Content{Nodes: testNodes(3)}},
		{Title: "Apple", Category: "fruit", Tags: []string{"red"}, Content: core.Content{Nodes: testNodes(1)}},
		{Title: "carrot", Category: "vegetable", Tags: []string{"orange"}, Content: core.Content{Nodes: testNodes(2)}},
		{Title: "Daikon", Category: "vegetable", Tags: []string{"white", "long"}},
	}
	ids := make(map[string]string)
	for _, f := range fixtures {
		doc, err := repos.Works.Create(ctx, f)
		require.NoError(t, err)
		ids[f.Title] = doc.ID
	}

	titles := func(res *core.ListResult[*core.Document]) []string {
		out := make([]string, len(res.Items))
		for i, d := range res.Items {
			out[i] = d.Title
		}
		return out
	}

	tests := []struct {
		name  string
		opts  core.ListOptions
		want  []string
		total int
	}{
		{"default newest first", core.ListOptions{}, []string{"Daikon", "carrot", "Apple", "banana"}, 4},
		{"oldest first", core.ListOptions{Order: core.SortAsc}, []string{"banana", "Apple", "carrot", "Daikon"}, 4},
		{"title ascending ignores case", core.ListOptions{SortBy: core.SortByTitle, Order: core.SortAsc}, []string{"Apple", "banana", "carrot", "Daikon"}, 4},
		{"node count descending", core.ListOptions{SortBy: core.SortByNodeCount}, []string{"banana", "carrot", "Apple", "Daikon"}, 4},
		{"category", core.ListOptions{Category: "fruit", SortBy: core.SortByTitle, Order: core.SortAsc}, []string{"Apple", "banana"}, 2},
		{"tag", core.ListOptions{Tag: "long"}, []string{"Daikon"}, 1},
		{"starred", core.ListOptions{StarredOnly: true}, []string{"banana"}, 1},
		{"search title", core.ListOptions{Search: "APP"}, []string{"Apple"}, 1},
		{"search category", core.ListOptions{Search: "veget", SortBy: core.SortByCreatedAt, Order: core.SortAsc}, []string{"carrot", "Daikon"}, 2},
		{"search tag", core.ListOptions{Search: "orang"}, []string{"carrot"}, 1},
		{"first page", core.ListOptions{SortBy: core.SortByTitle, Order: core.SortAsc, PageSize: 3}, []string{"Apple", "banana", "carrot"}, 4},
		{"second page", core.ListOptions{SortBy: core.SortByTitle, Order: core.SortAsc, PageSize: 3, Page: 2}, []string{"Daikon"}, 4},
		{"past the end", core.ListOptions{PageSize: 3, Page: 5}, []string{}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repos.Works.List(ctx, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, titles(res))
			assert.Equal(t, tt.total, res.Total)
			assert.Empty(t, res.Corrupted)
			for _, d := range res.Items {
				assert.NotNil(t, d.Content)
			}
		})
	}

	t.Run("category index follows updates", func(t *testing.T) {
		_, err := repos.Works.Update(ctx, ids["Apple"], core.WorkPatch{Category: core.Some("vegetable")})
		require.NoError(t, err)

		res, err := repos.Works.List(ctx, core.ListOptions{Category: "fruit"})
		require.NoError(t, err)
		assert.Equal(t, []string{"banana"}, titles(res))

		// Apple was modified last
		res, err = repos.Works.List(ctx, core.ListOptions{PageSize: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"Apple"}, titles(res))
	})
}

func TestWorkIntegrity(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)
	corrupted := corruptionEvents(t, repos)

	good, err := repos.Works.Create(ctx, core.CreateWork{Title: "good", Content: core.Content{Nodes: testNodes(2)}})
	require.NoError(t, err)
	badSum, err := repos.Works.Create(ctx, core.CreateWork{Title: "bad checksum", Content: core.Content{Nodes: testNodes(2)}})
	require.NoError(t, err)
	badData, err := repos.Works.Create(ctx, core.CreateWork{Title: "bad data", Content: core.Content{Nodes: testNodes(2)}})
	require.NoError(t, err)

	tamperWork(t, repos, badSum.ID, func(d *core.Document) {
		d.Checksum = strings.Repeat("0", 64)
	})
	tamperWork(t, repos, badData.ID, func(d *core.Document) {
		d.EncryptedData = flipCiphertextByte(t, d.EncryptedData)
	})

	_, err = repos.Works.Get(ctx, badSum.ID)
	assert.ErrorIs(t, err, core.ErrIntegrity)
	_, err = repos.Works.Get(ctx, badData.ID)
	assert.ErrorIs(t, err, core.ErrDecryptionFailed)
	assert.Equal(t, []string{badSum.ID, badData.ID}, corrupted())

	_, err = repos.Works.Update(ctx, badSum.ID, core.WorkPatch{Title: core.Some("x")})
	assert.ErrorIs(t, err, core.ErrIntegrity)

	res, err := repos.Works.List(ctx, core.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	require.Len(t, res.Items, 1)
	assert.Equal(t, good.ID, res.Items[0].ID)
	assert.ElementsMatch(t, []string{badSum.ID, badData.ID}, res.Corrupted)

	// A full payload replacement repairs the record
	repaired, err := repos.Works.Update(ctx, badSum.ID, core.WorkPatch{Content: core.Some(core.Content{Nodes: testNodes(1)})})
	require.NoError(t, err)
	assert.Equal(t, 2, repaired.DataVersion)
	_, err = repos.Works.Get(ctx, badSum.ID)
	require.NoError(t, err)
}

func TestWorkList_UndecodableShard(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t, func(d *Deps) {
		d.ShardThreshold = 10
		d.ShardSize = 4
	})
	corrupted := corruptionEvents(t, repos)

	small, err := repos.Works.Create(ctx, core.CreateWork{Title: "small", Content: core.Content{Nodes: testNodes(2)}})
	require.NoError(t, err)
	big, err := repos.Works.Create(ctx, core.CreateWork{Title: "big", Content: core.Content{Nodes: testNodes(20)}})
	require.NoError(t, err)
	require.True(t, big.Sharded)

	shards, err := repos.Shards.GetByWorkID(ctx, big.ID)
	require.NoError(t, err)
	require.NotEmpty(t, shards)
	overwriteRecord(t, repos, Shards, makeShardKey(big.ID, shards[1].ShardID), []byte{0xFF})

	res, err := repos.Works.List(ctx, core.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	require.Len(t, res.Items, 1)
	assert.Equal(t, small.ID, res.Items[0].ID)
	assert.Equal(t, small.Content.Nodes, res.Items[0].Content.Nodes)
	assert.Equal(t, []string{big.ID}, res.Corrupted)
	assert.Contains(t, corrupted(), big.ID)

	_, err = repos.Works.Get(ctx, big.ID)
	assert.ErrorIs(t, err, storage.ErrSerializationFailed)

	// Hard delete still clears the work and its shards
	_, err = repos.Works.Delete(ctx, big.ID, true)
	require.NoError(t, err)
	n, err := repos.Shards.Count(ctx, big.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWorkSharded(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t, func(d *Deps) {
		d.ShardThreshold = 10
		d.ShardSize = 4
	})
	corrupted := corruptionEvents(t, repos)

	nodes := testNodes(25)
	doc, err := repos.Works.Create(ctx, core.CreateWork{Title: "big", Content: core.Content{Nodes: nodes}})
	require.NoError(t, err)
	assert.True(t, doc.Sharded)
	assert.Equal(t, 25, doc.NodeCount)

	shards, err := repos.Shards.GetByWorkID(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, shards, 7)
	assert.Equal(t, core.LevelRange{Start: 0, End: 3}, shards[0].LevelRange)
	assert.Equal(t, core.LevelRange{Start: 24, End: 24}, shards[6].LevelRange)

	got, err := repos.Works.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, nodes, got.Content.Nodes)

	// Corrupting one shard fails the document read
	shards[2].Data = flipCiphertextByte(t, shards[2].Data)
	require.NoError(t, repos.Shards.Update(ctx, shards[2]))
	_, err = repos.Works.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, core.ErrDecryptionFailed)
	assert.Equal(t, []string{doc.ID}, corrupted())

	// Shrinking below the threshold drops the shards
	small, err := repos.Works.Update(ctx, doc.ID, core.WorkPatch{Content: core.Some(core.Content{Nodes: testNodes(3)})})
	require.NoError(t, err)
	assert.False(t, small.Sharded)
	n, err := repos.Shards.Count(ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	got, err = repos.Works.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, testNodes(3), got.Content.Nodes)
}

func TestWorkCopy(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)

	src, err := repos.Works.Create(ctx, core.CreateWork{Title: "source", Tags: []string{"t"}, IsReadonly: true, Content: core.Content{Nodes: testNodes(2)}})
	require.NoError(t, err)

	cp, err := repos.Works.Copy(ctx, src.ID, "")
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, cp.ID)
	assert.Equal(t, "source (copy)", cp.Title)
	assert.False(t, cp.IsReadonly)
	assert.Equal(t, 1, cp.DataVersion)
	assert.Equal(t, src.Content.Nodes, cp.Content.Nodes)

	named, err := repos.Works.Copy(ctx, src.ID, "second")
	require.NoError(t, err)
	assert.Equal(t, "second", named.Title)
}

func TestWorkBatch(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)

	created := repos.Works.BatchCreate(ctx, []core.CreateWork{
		{Title: "one"},
		{Title: "bad", Content: core.Content{Nodes: []core.Node{{ID: ""}}}},
		{Title: "two"},
	})
	require.Len(t, created.Succeeded, 2)
	require.Len(t, created.Failed, 1)
	assert.Equal(t, 1, created.Failed[0].Index)
	assert.ErrorIs(t, created.Failed[0].Err, core.ErrEmptyNodeID)

	updated := repos.Works.BatchUpdate(ctx, []core.BatchUpdateItem{
		{ID: created.Succeeded[0].ID, Patch: core.WorkPatch{Starred: core.Some(true)}},
		{ID: "missing", Patch: core.WorkPatch{Starred: core.Some(true)}},
	})
	require.Len(t, updated.Succeeded, 1)
	assert.True(t, updated.Succeeded[0].Starred)
	require.Len(t, updated.Failed, 1)
	assert.Equal(t, "missing", updated.Failed[0].ID)
	assert.ErrorIs(t, updated.Failed[0].Err, storage.ErrNotFound)

	deleted := repos.Works.BatchDelete(ctx, []string{created.Succeeded[0].ID, "missing", created.Succeeded[1].ID}, false)
	assert.Equal(t, []string{created.Succeeded[0].ID, created.Succeeded[1].ID}, deleted.Succeeded)
	require.Len(t, deleted.Failed, 1)
	assert.Equal(t, 1, deleted.Failed[0].Index)
}

func TestWorkExportImport(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)

	src, err := repos.Works.Create(ctx, core.CreateWork{
		Title:    "export me",
		Category: "c",
		Tags:     []string{"x"},
		Content:  core.Content{Nodes: testNodes(3), Settings: map[string]string{"k": "v"}},
	})
	require.NoError(t, err)

	for _, format := range []interchange.Format{interchange.FormatJSON, interchange.FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			data, err := repos.Works.Export(ctx, src.ID, format)
			require.NoError(t, err)
			assert.Contains(t, string(data), "export me")

			imported, err := repos.Works.Import(ctx, data, format)
			require.NoError(t, err)
			assert.NotEqual(t, src.ID, imported.ID)
			assert.Equal(t, src.Title, imported.Title)
			assert.Equal(t, src.Tags, imported.Tags)
			assert.Equal(t, src.Checksum, imported.Checksum)
			assert.Equal(t, src.Content.Nodes, imported.Content.Nodes)
		})
	}

	_, err = repos.Works.Import(ctx, []byte("{"), interchange.FormatJSON)
	assert.ErrorIs(t, err, core.ErrInvalidDocument)
}

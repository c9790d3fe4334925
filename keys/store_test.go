package keys

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "keys")
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	m, err := store.Load(ctx, "device")
	require.NoError(t, err)
	assert.Nil(t, m)

	material := &Material{
		Key:       []byte("0123456789abcdef0123456789abcdef"),
		Source:    SourceGenerated,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.Save(ctx, "device", material))

	info, err := os.Stat(filepath.Join(dir, "device.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := store.Load(ctx, "device")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, material.Key, loaded.Key)
	assert.True(t, material.CreatedAt.Equal(loaded.CreatedAt))

	// no temp files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".key-")
	}

	require.NoError(t, store.Delete(ctx, "device"))
	require.NoError(t, store.Delete(ctx, "device"))
	loaded, err = store.Load(ctx, "device")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestFileStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "device.key"), []byte("{not json"), 0600))

	_, err = store.Load(context.Background(), "device")
	assert.Error(t, err)
}

func TestMemoryStoreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	key := []byte{1, 2, 3}
	require.NoError(t, store.Save(ctx, "d", &Material{Key: key}))
	key[0] = 9

	loaded, err := store.Load(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, loaded.Key)
}

package idmap

import (
	"testing"

	"github.com/cuemby/cocoasync/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestResolveToServerIDFallsBackToInput(t *testing.T) {
	store := openTestStore(t)
	table, err := Load(store)
	require.NoError(t, err)

	assert.Equal(t, "client-abc", table.ResolveToServerID("client-abc"))
}

func TestBindThenResolve(t *testing.T) {
	store := openTestStore(t)
	table, err := Load(store)
	require.NoError(t, err)

	require.NoError(t, table.Bind("planters", "client-abc", "server-123"))

	assert.Equal(t, "server-123", table.ResolveToServerID("client-abc"))
	serverID, ok := table.ServerIDFor("client-abc")
	assert.True(t, ok)
	assert.Equal(t, "server-123", serverID)
	assert.Equal(t, 1, table.Len())
}

func TestLoadRestoresFromAuxMirrorAfterMainStoreRebuild(t *testing.T) {
	store := openTestStore(t)
	table, err := Load(store)
	require.NoError(t, err)
	require.NoError(t, table.Bind("planters", "client-abc", "server-123"))

	require.NoError(t, store.Destroy())

	reloaded, err := Load(store)
	require.NoError(t, err)
	assert.Equal(t, "server-123", reloaded.ResolveToServerID("client-abc"))
}

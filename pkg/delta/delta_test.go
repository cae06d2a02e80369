package delta

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/cocoasync/pkg/storage"
	"github.com/cuemby/cocoasync/pkg/transport"
	"github.com/cuemby/cocoasync/pkg/types"
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

// fakeServer answers FetchDelta from a canned, table-scoped queue of
// records and never needs SyncOperation or FetchCurrent for these tests.
type fakeServer struct {
	batches map[string][]transport.DeltaRecord
	calls   int
}

func (f *fakeServer) SyncOperation(ctx context.Context, req transport.SyncRequest) (transport.SyncResponse, error) {
	return transport.SyncResponse{}, nil
}

func (f *fakeServer) FetchCurrent(ctx context.Context, table, recordID string) (map[string]any, bool, error) {
	return nil, false, nil
}

func (f *fakeServer) FetchDelta(ctx context.Context, table string, updatedAtGt time.Time, idGt string, limit int) ([]transport.DeltaRecord, error) {
	f.calls++
	all := f.batches[table]
	if limit < len(all) {
		return all[:limit], nil
	}
	return all, nil
}

func TestFetchDeltaPersistsPlantersAndAdvancesCursor(t *testing.T) {
	store := openTestStore(t)
	now := time.Now().UTC()
	server := &fakeServer{batches: map[string][]transport.DeltaRecord{
		types.TablePlanters: {
			{ID: "p1", UpdatedAt: now, Data: map[string]any{
				"ID": "p1", "CooperativeID": "c1", "Name": "Jean Kouassi", "Code": "P-001",
			}},
		},
	}}
	m := New(store, server)

	result, err := m.FetchDelta(context.Background(), types.TablePlanters, 50, 50, 200)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Fetched)
	assert.False(t, result.HasMore)

	p, found, err := store.Planters.Get("p1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Jean Kouassi", p.Name)
	assert.NotEmpty(t, p.NameNorm)

	cursor, found, err := store.Cursors.Get(types.TablePlanters)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "p1", cursor.LastID)
	assert.Equal(t, 1, cursor.RecordCount)
}

func TestFetchDeltaComputesDeliveryTier(t *testing.T) {
	store := openTestStore(t)
	now := time.Now().UTC()
	recent := now.Add(-2 * 24 * time.Hour)
	server := &fakeServer{batches: map[string][]transport.DeltaRecord{
		types.TableDeliveries: {
			{ID: "d1", UpdatedAt: now, Data: map[string]any{
				"ID": "d1", "CooperativeID": "c1", "PlanteurID": "p1", "WarehouseID": "w1",
				"Date": recent, "WeightKg": 50.0,
			}},
		},
	}}
	m := New(store, server)

	_, err := m.FetchDelta(context.Background(), types.TableDeliveries, 50, 50, 200)
	require.NoError(t, err)

	d, found, err := store.Deliveries.Get("d1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.DeliveryTier1, d.Tier)
	assert.Equal(t, types.EntityStatusSynced, d.Status)
}

func TestFetchDeltaNoRecordsLeavesCursorUntouched(t *testing.T) {
	store := openTestStore(t)
	server := &fakeServer{batches: map[string][]transport.DeltaRecord{}}
	m := New(store, server)

	result, err := m.FetchDelta(context.Background(), types.TableWarehouses, 50, 50, 200)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Fetched)

	_, found, err := store.Cursors.Get(types.TableWarehouses)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFetchDeltaHasMoreWhenPageIsFull(t *testing.T) {
	store := openTestStore(t)
	now := time.Now().UTC()
	records := make([]transport.DeltaRecord, 3)
	for i := range records {
		records[i] = transport.DeltaRecord{
			ID: "c" + string(rune('1'+i)), UpdatedAt: now,
			Data: map[string]any{"ID": "c" + string(rune('1'+i)), "CooperativeID": "coop", "Name": "x", "Code": "C-00" + string(rune('1'+i))},
		}
	}
	server := &fakeServer{batches: map[string][]transport.DeltaRecord{types.TableChefPlanteurs: records}}
	m := New(store, server)

	result, err := m.FetchDelta(context.Background(), types.TableChefPlanteurs, 3, 50, 200)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Fetched)
	assert.True(t, result.HasMore)
}

func TestResetRewindsCursorToEpoch(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Cursors.Put(types.SyncCursor{
		Table: types.TableWarehouses, LastUpdatedAt: time.Now().UTC(), LastID: "w9", RecordCount: 10,
	}))
	m := New(store, &fakeServer{})

	require.NoError(t, m.Reset(types.TableWarehouses))

	cursor, found, err := store.Cursors.Get(types.TableWarehouses)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, cursor.LastUpdatedAt.Equal(types.Epoch))
}

func TestIsStale(t *testing.T) {
	store := openTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, store.Cursors.Put(types.SyncCursor{
		Table: types.TableDeliveries, LastUpdatedAt: now.Add(-48 * time.Hour),
	}))
	m := New(store, &fakeServer{})

	assert.True(t, m.IsStale(types.TableDeliveries, 24*time.Hour, now))
	assert.False(t, m.IsStale(types.TableDeliveries, 72*time.Hour, now))
}

func TestIsStaleWithNoCursorUsesEpoch(t *testing.T) {
	store := openTestStore(t)
	m := New(store, &fakeServer{})

	assert.True(t, m.IsStale(types.TablePlanters, 24*time.Hour, time.Now().UTC()))
}

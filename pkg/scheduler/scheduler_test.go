package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/cocoasync/pkg/config"
	"github.com/cuemby/cocoasync/pkg/queue"
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

type fakeServer struct {
	syncResp   transport.SyncResponse
	syncErr    error
	fetchData  map[string]any
	fetchFound bool
	fetchErr   error
	syncCalls  int
}

func (f *fakeServer) SyncOperation(ctx context.Context, req transport.SyncRequest) (transport.SyncResponse, error) {
	f.syncCalls++
	return f.syncResp, f.syncErr
}

func (f *fakeServer) FetchDelta(ctx context.Context, table string, updatedAtGt time.Time, idGt string, limit int) ([]transport.DeltaRecord, error) {
	return nil, nil
}

func (f *fakeServer) FetchCurrent(ctx context.Context, table, recordID string) (map[string]any, bool, error) {
	return f.fetchData, f.fetchFound, f.fetchErr
}

type fakeBattery struct {
	percent int
	ok      bool
}

func (f fakeBattery) BatteryPercent() (int, bool) { return f.percent, f.ok }

func enqueueDelivery(t *testing.T, q *queue.Manager, recordID string) types.QueuedOperation {
	t.Helper()
	op, err := q.CreateOperation(queue.CreateOperationInput{
		Type: types.OpCreate, Table: types.TableDeliveries, RecordID: recordID,
		Data: map[string]any{"weight_kg": 12.0}, UserID: "u1", CooperativeID: "c1",
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return op
}

func TestSyncDequeuesOnSuccess(t *testing.T) {
	store := openTestStore(t)
	q := queue.New(store)
	enqueueDelivery(t, q, "d1")
	server := &fakeServer{syncResp: transport.SyncResponse{Status: transport.StatusSuccess}}
	s := New(q, server, nil, config.Defaults())

	result, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Attempted)
	assert.Equal(t, 1, result.Succeeded)

	depth, err := q.Depth()
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestSyncSecondCallWhileRunningReturnsInProgress(t *testing.T) {
	store := openTestStore(t)
	q := queue.New(store)
	s := New(q, &fakeServer{}, nil, config.Defaults())

	s.runMu.Lock()
	defer s.runMu.Unlock()

	_, err := s.Sync(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)
}

func TestSyncRetriesOnServerError(t *testing.T) {
	store := openTestStore(t)
	q := queue.New(store)
	op := enqueueDelivery(t, q, "d1")
	server := &fakeServer{syncErr: errors.New("connection reset")}
	s := New(q, server, nil, config.Defaults())

	result, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Retried)

	stored, found, err := store.Queue.Get(op.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.StatusFailed, stored.Status)
	assert.NotNil(t, stored.NextRetryAt)
	assert.Equal(t, 1, stored.RetryCount)
}

func TestSyncMarksTerminalAfterMaxRetries(t *testing.T) {
	store := openTestStore(t)
	q := queue.New(store)
	op := enqueueDelivery(t, q, "d1")
	cfg := config.Defaults()
	cfg.MaxRetries = 1
	server := &fakeServer{syncErr: errors.New("connection reset")}
	s := New(q, server, nil, cfg)

	_, err := s.Sync(context.Background())
	require.NoError(t, err)

	stored, found, err := store.Queue.Get(op.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.StatusFailed, stored.Status)
	assert.Nil(t, stored.NextRetryAt)
}

func TestSyncMarksNonRetryableCodeTerminalImmediately(t *testing.T) {
	store := openTestStore(t)
	q := queue.New(store)
	op := enqueueDelivery(t, q, "d1")
	server := &fakeServer{syncResp: transport.SyncResponse{Status: transport.StatusError, Code: 422, Message: "unprocessable"}}
	s := New(q, server, nil, config.Defaults())

	result, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	stored, found, err := store.Queue.Get(op.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.StatusFailed, stored.Status)
	assert.Nil(t, stored.NextRetryAt)
}

func TestSyncMarksNeedsReviewOnServerConflict(t *testing.T) {
	store := openTestStore(t)
	q := queue.New(store)
	op := enqueueDelivery(t, q, "d1")
	server := &fakeServer{syncResp: transport.SyncResponse{
		Status: transport.StatusConflict,
		Conflict: &transport.ServerConflict{
			ServerVersion: 2, ClientVersion: 1,
			ServerData:    map[string]any{"weight_kg": 20.0},
			FieldsChanged: []string{"weight_kg"},
		},
	}}
	s := New(q, server, nil, config.Defaults())

	result, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicted)

	stored, found, err := store.Queue.Get(op.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.StatusNeedsReview, stored.Status)
	require.NotNil(t, stored.ConflictInfo)
	assert.True(t, stored.ConflictInfo.FieldsChanged[0].IsCritical)
}

func TestSyncPausesForLowBattery(t *testing.T) {
	store := openTestStore(t)
	q := queue.New(store)
	enqueueDelivery(t, q, "d1")
	server := &fakeServer{syncResp: transport.SyncResponse{Status: transport.StatusSuccess}}
	s := New(q, server, fakeBattery{percent: 5, ok: true}, config.Defaults())

	result, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, server.syncCalls)

	failed, err := q.ListByStatus(types.StatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, batteryPauseMarker, failed[0].Error)
	assert.Nil(t, failed[0].NextRetryAt)
}

func TestSyncResumesBatteryPausedOperationsOnNextCycle(t *testing.T) {
	store := openTestStore(t)
	q := queue.New(store)
	op := enqueueDelivery(t, q, "d1")
	require.NoError(t, q.MarkBatteryPaused(op, batteryPauseMarker))

	server := &fakeServer{syncResp: transport.SyncResponse{Status: transport.StatusSuccess}}
	s := New(q, server, fakeBattery{percent: 80, ok: true}, config.Defaults())

	result, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, server.syncCalls)
}

func TestSyncCriticalConflictPreFetchSkipsServerCall(t *testing.T) {
	store := openTestStore(t)
	q := queue.New(store)
	createdAt := time.Now().UTC()
	base := map[string]any{"weight_kg": 10.0}
	op, err := q.CreateOperation(queue.CreateOperationInput{
		Type: types.OpUpdate, Table: types.TableDeliveries, RecordID: "d1",
		Data: map[string]any{"weight_kg": 12.0}, UserID: "u1", CooperativeID: "c1",
		BaseSnapshot: base, CreatedAt: createdAt,
	})
	require.NoError(t, err)

	server := &fakeServer{
		fetchFound: true,
		fetchData:  map[string]any{"weight_kg": 15.0},
		syncResp:   transport.SyncResponse{Status: transport.StatusSuccess},
	}
	s := New(q, server, nil, config.Defaults())

	result, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicted)
	assert.Equal(t, 0, server.syncCalls)

	stored, found, err := store.Queue.Get(op.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.StatusNeedsReview, stored.Status)
}

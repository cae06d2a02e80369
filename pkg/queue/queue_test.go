package queue

import (
	"testing"
	"time"

	"github.com/cuemby/cocoasync/pkg/storage"
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

func TestCreateOperationDefaultsPriorityByTable(t *testing.T) {
	m := New(openTestStore(t))
	now := time.Now().UTC()

	op, err := m.CreateOperation(CreateOperationInput{
		Type: types.OpCreate, Table: types.TableDeliveries, RecordID: "d1",
		UserID: "u1", CooperativeID: "c1", CreatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, types.PriorityCritical, op.Priority)
	assert.Equal(t, types.StatusPending, op.Status)
	assert.Equal(t, "d1", op.ClientID)
}

func TestCreateOperationIsIdempotent(t *testing.T) {
	m := New(openTestStore(t))
	now := time.Now().UTC()
	in := CreateOperationInput{
		Type: types.OpCreate, Table: types.TablePlanters, RecordID: "p1",
		UserID: "u1", CooperativeID: "c1", CreatedAt: now,
	}

	first, err := m.CreateOperation(in)
	require.NoError(t, err)
	second, err := m.CreateOperation(in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	depth, err := m.Depth()
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestResolveConflictLocal(t *testing.T) {
	m := New(openTestStore(t))
	op, err := m.CreateOperation(CreateOperationInput{
		Type: types.OpUpdate, Table: types.TableDeliveries, RecordID: "d1",
		UserID: "u1", CooperativeID: "c1", CreatedAt: time.Now(),
		BaseSnapshot: map[string]any{"weight_kg": 10.0},
	})
	require.NoError(t, err)
	op.Status = types.StatusNeedsReview
	require.NoError(t, m.store.Queue.Put(op))

	require.NoError(t, m.ResolveConflict(op.ID, ResolutionLocal, nil))

	updated, found, err := m.store.Queue.Get(op.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.StatusPending, updated.Status)
	assert.Nil(t, updated.BaseSnapshot)
}

func TestResolveConflictRemoteDequeues(t *testing.T) {
	m := New(openTestStore(t))
	op, err := m.CreateOperation(CreateOperationInput{
		Type: types.OpUpdate, Table: types.TableDeliveries, RecordID: "d1",
		UserID: "u1", CooperativeID: "c1", CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	op.Status = types.StatusNeedsReview
	require.NoError(t, m.store.Queue.Put(op))

	require.NoError(t, m.ResolveConflict(op.ID, ResolutionRemote, nil))

	_, found, err := m.store.Queue.Get(op.ID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResolveConflictRejectsWrongStatus(t *testing.T) {
	m := New(openTestStore(t))
	op, err := m.CreateOperation(CreateOperationInput{
		Type: types.OpCreate, Table: types.TableDeliveries, RecordID: "d1",
		UserID: "u1", CooperativeID: "c1", CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	err = m.ResolveConflict(op.ID, ResolutionLocal, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRetryOperationRequiresFailed(t *testing.T) {
	m := New(openTestStore(t))
	op, err := m.CreateOperation(CreateOperationInput{
		Type: types.OpCreate, Table: types.TableDeliveries, RecordID: "d1",
		UserID: "u1", CooperativeID: "c1", CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	assert.ErrorIs(t, m.RetryOperation(op.ID), ErrInvalidTransition)

	op.Status = types.StatusFailed
	op.Error = "boom"
	next := time.Now().Add(time.Minute)
	op.NextRetryAt = &next
	require.NoError(t, m.store.Queue.Put(op))

	require.NoError(t, m.RetryOperation(op.ID))
	updated, _, err := m.store.Queue.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, updated.Status)
	assert.Nil(t, updated.NextRetryAt)
	assert.Empty(t, updated.Error)
}

func TestCancelOperationDequeuesRegardlessOfStatus(t *testing.T) {
	m := New(openTestStore(t))
	op, err := m.CreateOperation(CreateOperationInput{
		Type: types.OpCreate, Table: types.TableDeliveries, RecordID: "d1",
		UserID: "u1", CooperativeID: "c1", CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, m.CancelOperation(op.ID))
	_, found, err := m.store.Queue.Get(op.ID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSelectBatchOrdersByPriorityThenFIFO(t *testing.T) {
	m := New(openTestStore(t))
	base := time.Now().Add(-time.Hour)

	_, err := m.CreateOperation(CreateOperationInput{Type: types.OpCreate, Table: types.TableWarehouses, RecordID: "w1", UserID: "u1", CooperativeID: "c1", Priority: types.PriorityLow, CreatedAt: base})
	require.NoError(t, err)
	_, err = m.CreateOperation(CreateOperationInput{Type: types.OpCreate, Table: types.TableDeliveries, RecordID: "d1", UserID: "u1", CooperativeID: "c1", CreatedAt: base.Add(time.Second)})
	require.NoError(t, err)
	_, err = m.CreateOperation(CreateOperationInput{Type: types.OpCreate, Table: types.TableDeliveries, RecordID: "d2", UserID: "u1", CooperativeID: "c1", CreatedAt: base})
	require.NoError(t, err)

	batch, err := m.SelectBatch(20, time.Now())
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, "d2", batch[0].RecordID) // critical, earliest created_at
	assert.Equal(t, "d1", batch[1].RecordID) // critical, later created_at
	assert.Equal(t, "w1", batch[2].RecordID) // low priority last
}

func TestSelectBatchExcludesFailedBeforeNextRetry(t *testing.T) {
	m := New(openTestStore(t))
	op, err := m.CreateOperation(CreateOperationInput{Type: types.OpCreate, Table: types.TableDeliveries, RecordID: "d1", UserID: "u1", CooperativeID: "c1", CreatedAt: time.Now()})
	require.NoError(t, err)
	op.Status = types.StatusFailed
	future := time.Now().Add(time.Hour)
	op.NextRetryAt = &future
	require.NoError(t, m.store.Queue.Put(op))

	batch, err := m.SelectBatch(20, time.Now())
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestHandleLogoutAndRestorePendingAuth(t *testing.T) {
	m := New(openTestStore(t))
	_, err := m.CreateOperation(CreateOperationInput{Type: types.OpCreate, Table: types.TableDeliveries, RecordID: "d1", UserID: "u1", CooperativeID: "c1", CreatedAt: time.Now()})
	require.NoError(t, err)

	n, err := m.HandleLogout("u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ops, err := m.store.Queue.GetAllFromIndex("by-user_id", []byte("u1"))
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, types.StatusPendingAuth, ops[0].Status)

	n, err = m.RestorePendingAuth("u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ops, err = m.store.Queue.GetAllFromIndex("by-user_id", []byte("u1"))
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, types.StatusPending, ops[0].Status)
}

func TestValidateUserOwnershipFlagsOrphans(t *testing.T) {
	m := New(openTestStore(t))
	_, err := m.CreateOperation(CreateOperationInput{Type: types.OpCreate, Table: types.TableDeliveries, RecordID: "d1", UserID: "other-user", CooperativeID: "c1", CreatedAt: time.Now()})
	require.NoError(t, err)

	orphans, err := m.ValidateUserOwnership("u1")
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "other-user", orphans[0].UserID)
}

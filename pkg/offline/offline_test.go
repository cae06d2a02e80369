package offline

import (
	"context"
	"errors"
	"testing"
	"time"

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
	syncErr  error
	syncResp transport.SyncResponse
	fetchErr error
	fetched  map[string]any
	found    bool
}

func (f *fakeServer) SyncOperation(ctx context.Context, req transport.SyncRequest) (transport.SyncResponse, error) {
	return f.syncResp, f.syncErr
}

func (f *fakeServer) FetchDelta(ctx context.Context, table string, updatedAtGt time.Time, idGt string, limit int) ([]transport.DeltaRecord, error) {
	return nil, nil
}

func (f *fakeServer) FetchCurrent(ctx context.Context, table, recordID string) (map[string]any, bool, error) {
	return f.fetched, f.found, f.fetchErr
}

func validDeliveryData() map[string]any {
	return map[string]any{
		"id":                   "11111111-1111-4111-8111-111111111111",
		"cooperative_id":       "c1",
		"planteur_id":          "22222222-2222-4222-8222-222222222222",
		"warehouse_id":         "33333333-3333-4333-8333-333333333333",
		"weight_kg":            50.0,
	}
}

func TestInterceptOfflineEnqueuesAndReturns202(t *testing.T) {
	store := openTestStore(t)
	w := New(queue.New(store), nil)

	resp, err := w.Intercept(context.Background(), Request{
		Method: MethodPost, Table: types.TableDeliveries, RecordID: "d1",
		Data: validDeliveryData(), UserID: "u1", CooperativeID: "c1", CreatedAt: time.Now().UTC(),
	}, false)

	require.NoError(t, err)
	assert.Equal(t, 202, resp.StatusCode)
	require.NotNil(t, resp.Queued)
	assert.Equal(t, types.TableDeliveries, resp.Queued.Table)
}

func TestInterceptOfflineGetFails(t *testing.T) {
	store := openTestStore(t)
	w := New(queue.New(store), nil)

	resp, err := w.Intercept(context.Background(), Request{
		Method: MethodGet, Table: types.TableDeliveries, RecordID: "d1",
		UserID: "u1", CooperativeID: "c1",
	}, false)

	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
	assert.Equal(t, ErrOfflineNotSupported, resp.Code)
}

func TestInterceptUnknownTableReturns503(t *testing.T) {
	store := openTestStore(t)
	w := New(queue.New(store), nil)

	resp, err := w.Intercept(context.Background(), Request{
		Method: MethodPost, Table: "exports", RecordID: "x1",
		UserID: "u1", CooperativeID: "c1",
	}, false)

	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
	assert.Equal(t, ErrOfflineNotSupported, resp.Code)
}

func TestInterceptMissingIdentityReturns503(t *testing.T) {
	store := openTestStore(t)
	w := New(queue.New(store), nil)

	resp, err := w.Intercept(context.Background(), Request{
		Method: MethodPost, Table: types.TableDeliveries, RecordID: "d1",
		Data: validDeliveryData(),
	}, false)

	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
}

func TestInterceptOnlinePassesThrough(t *testing.T) {
	store := openTestStore(t)
	server := &fakeServer{syncResp: transport.SyncResponse{Status: transport.StatusSuccess, Result: map[string]any{"server_id": "s1"}}}
	w := New(queue.New(store), server)

	resp, err := w.Intercept(context.Background(), Request{
		Method: MethodPost, Table: types.TableDeliveries, RecordID: "d1",
		Data: validDeliveryData(), UserID: "u1", CooperativeID: "c1", CreatedAt: time.Now().UTC(),
	}, true)

	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "s1", resp.PassThrough["server_id"])
	assert.Nil(t, resp.Queued)
}

func TestInterceptOnlineTransportErrorFallsBackToQueue(t *testing.T) {
	store := openTestStore(t)
	server := &fakeServer{syncErr: errors.New("connection reset")}
	w := New(queue.New(store), server)

	resp, err := w.Intercept(context.Background(), Request{
		Method: MethodPost, Table: types.TableDeliveries, RecordID: "d1",
		Data: validDeliveryData(), UserID: "u1", CooperativeID: "c1", CreatedAt: time.Now().UTC(),
	}, true)

	require.NoError(t, err)
	assert.Equal(t, 202, resp.StatusCode)
	require.NotNil(t, resp.Queued)
}

func TestInterceptValidationErrorBlocksEnqueue(t *testing.T) {
	store := openTestStore(t)
	w := New(queue.New(store), nil)

	resp, err := w.Intercept(context.Background(), Request{
		Method: MethodPost, Table: types.TableDeliveries, RecordID: "d1",
		Data:   map[string]any{"id": "11111111-1111-4111-8111-111111111111", "cooperative_id": "c1"},
		UserID: "u1", CooperativeID: "c1", CreatedAt: time.Now().UTC(),
	}, false)

	require.NoError(t, err)
	assert.Equal(t, 422, resp.StatusCode)
	assert.Nil(t, resp.Queued)
}

func TestInterceptValidationWarningStillEnqueues(t *testing.T) {
	store := openTestStore(t)
	w := New(queue.New(store), nil)
	data := validDeliveryData()
	data["payment_amount_paid"] = -5.0

	resp, err := w.Intercept(context.Background(), Request{
		Method: MethodPost, Table: types.TableDeliveries, RecordID: "d1",
		Data: data, UserID: "u1", CooperativeID: "c1", CreatedAt: time.Now().UTC(),
	}, false)

	require.NoError(t, err)
	assert.Equal(t, 202, resp.StatusCode)
	assert.Contains(t, resp.ValidationWarnings, "payment_amount_paid must be a positive number")
}

func TestValidateForEnqueueRequiresUUIDShape(t *testing.T) {
	result := validateForEnqueue(types.TablePlanters, map[string]any{
		"id": "not-a-uuid", "cooperative_id": "c1", "name": "Jean",
	})
	assert.False(t, result.Valid())
}

func TestValidateForEnqueuePhoneWarningOnly(t *testing.T) {
	result := validateForEnqueue(types.TablePlanters, map[string]any{
		"id": "11111111-1111-4111-8111-111111111111", "cooperative_id": "c1", "name": "Jean", "phone": "not-a-phone",
	})
	assert.True(t, result.Valid())
	assert.NotEmpty(t, result.Warnings)
}

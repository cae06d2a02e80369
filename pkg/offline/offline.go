// Package offline implements the offline-fetch wrapper (§4.8): the
// boundary that intercepts mutation attempts, passes them through to
// the transport when online, and enqueues them (with minimal local
// validation) when offline.
package offline

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/cocoasync/pkg/log"
	"github.com/cuemby/cocoasync/pkg/queue"
	"github.com/cuemby/cocoasync/pkg/transport"
	"github.com/cuemby/cocoasync/pkg/types"
)

// Method is the HTTP-style verb the wrapper intercepts.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

func (m Method) opType() (types.OperationType, bool) {
	switch m {
	case MethodPost:
		return types.OpCreate, true
	case MethodPut, MethodPatch:
		return types.OpUpdate, true
	case MethodDelete:
		return types.OpDelete, true
	default:
		return "", false
	}
}

// ErrOfflineNotSupported is the wrapper's 503 verdict for an unknown
// table or missing identity context (§4.8).
const ErrOfflineNotSupported = "OFFLINE_NOT_SUPPORTED"

// Request is one mutation (or read) attempt crossing the wrapper.
type Request struct {
	Method        Method
	Table         string
	RecordID      string
	Data          map[string]any
	UserID        string
	CooperativeID string
	BaseSnapshot  map[string]any
	BaseUpdatedAt *time.Time
	CreatedAt     time.Time
}

// QueuedPayload is the synthetic 202 body (§4.8).
type QueuedPayload struct {
	ID         string    `json:"id"`
	Table      string    `json:"table"`
	Type       string    `json:"type"`
	RecordID   string    `json:"record_id"`
	QueuedAt   time.Time `json:"queued_at"`
}

// Response is what the wrapper returns to the caller.
type Response struct {
	StatusCode int
	Code       string // set on non-2xx responses, e.g. OFFLINE_NOT_SUPPORTED
	Message    string
	Queued     *QueuedPayload // non-nil only on a 202
	PassThrough map[string]any // the transport's result, on direct pass-through
	ValidationWarnings []string
}

// Wrapper is the offline-fetch boundary for one store-backed queue and
// one remote server.
type Wrapper struct {
	queue  *queue.Manager
	server transport.Server
}

// New returns a Wrapper. server may be nil in a purely offline host;
// every online mutation then falls straight through to queueing, and
// a GET is refused as it is when offline.
func New(queueMgr *queue.Manager, server transport.Server) *Wrapper {
	return &Wrapper{queue: queueMgr, server: server}
}

// Intercept implements the wrapper's decision table (§4.8). online is
// the caller's connectivity signal, supplied the same way
// transport.BatteryProvider supplies battery state: it is an external
// fact this engine does not itself measure.
func (w *Wrapper) Intercept(ctx context.Context, req Request, online bool) (Response, error) {
	if req.Table == "" || req.UserID == "" || req.CooperativeID == "" {
		return Response{StatusCode: 503, Code: ErrOfflineNotSupported, Message: "missing identity context"}, nil
	}
	if _, ok := tableRules[req.Table]; !ok {
		return Response{StatusCode: 503, Code: ErrOfflineNotSupported, Message: fmt.Sprintf("unsupported table %q", req.Table)}, nil
	}

	if req.Method == MethodGet {
		if !online || w.server == nil {
			return Response{StatusCode: 503, Code: ErrOfflineNotSupported, Message: "GET is never queued"}, nil
		}
		return w.passThrough(ctx, req)
	}

	opType, ok := req.Method.opType()
	if !ok {
		return Response{StatusCode: 503, Code: ErrOfflineNotSupported, Message: fmt.Sprintf("unsupported method %q", req.Method)}, nil
	}

	if online && w.server != nil {
		resp, err := w.passThrough(ctx, req)
		if err == nil {
			return resp, nil
		}
		log.WithComponent("offline").Warn().Err(err).Str("table", req.Table).Msg("transport error, falling back to queue")
	}

	return w.enqueue(req, opType)
}

func (w *Wrapper) passThrough(ctx context.Context, req Request) (Response, error) {
	opType, _ := req.Method.opType()
	if req.Method == MethodGet {
		data, found, err := w.server.FetchCurrent(ctx, req.Table, req.RecordID)
		if err != nil {
			return Response{}, fmt.Errorf("fetch %s/%s: %w", req.Table, req.RecordID, err)
		}
		if !found {
			return Response{StatusCode: 404, Message: "not found"}, nil
		}
		return Response{StatusCode: 200, PassThrough: data}, nil
	}

	resp, err := w.server.SyncOperation(ctx, transport.SyncRequest{
		Table:    req.Table,
		Type:     transport.OperationType(opType),
		RecordID: req.RecordID,
		Data:     req.Data,
	})
	if err != nil {
		return Response{}, fmt.Errorf("sync operation: %w", err)
	}
	if resp.Status != transport.StatusSuccess && resp.Status != transport.StatusAlreadyProcessed {
		return Response{}, fmt.Errorf("server rejected operation: %s", resp.Message)
	}
	return Response{StatusCode: 200, PassThrough: resp.Result}, nil
}

func (w *Wrapper) enqueue(req Request, opType types.OperationType) (Response, error) {
	validation := validateForEnqueue(req.Table, req.Data)
	if !validation.Valid() {
		return Response{StatusCode: 422, Code: "VALIDATION_FAILED", Message: validation.Errors[0], ValidationWarnings: validation.Warnings}, nil
	}

	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	op, err := w.queue.CreateOperation(queue.CreateOperationInput{
		Type:          opType,
		Table:         req.Table,
		RecordID:      req.RecordID,
		Data:          req.Data,
		UserID:        req.UserID,
		CooperativeID: req.CooperativeID,
		BaseSnapshot:  req.BaseSnapshot,
		BaseUpdatedAt: req.BaseUpdatedAt,
		CreatedAt:     createdAt,
	})
	if err != nil {
		return Response{}, fmt.Errorf("enqueue offline mutation: %w", err)
	}

	return Response{
		StatusCode: 202,
		Queued: &QueuedPayload{
			ID:       op.ID,
			Table:    op.Table,
			Type:     string(op.Type),
			RecordID: op.RecordID,
			QueuedAt: op.QueuedAt,
		},
		ValidationWarnings: validation.Warnings,
	}, nil
}

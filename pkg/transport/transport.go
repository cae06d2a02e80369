// Package transport declares the external collaborators the sync
// engine depends on but does not implement (§1 "explicitly out of
// scope", §6.1): the server RPC contract, the authentication session,
// the device battery level, and the platform storage-quota API. Every
// concrete app wires real implementations of these interfaces; the
// engine itself only calls them.
package transport

import (
	"context"
	"time"
)

// OperationType mirrors types.OperationType without importing pkg/types,
// keeping this package a leaf dependency any host app can implement
// without pulling in the whole engine.
type OperationType string

const (
	OpCreate OperationType = "CREATE"
	OpUpdate OperationType = "UPDATE"
	OpDelete OperationType = "DELETE"
)

// SyncStatus is the server's verdict for one queued operation (§6.1).
type SyncStatus string

const (
	StatusSuccess         SyncStatus = "success"
	StatusAlreadyProcessed SyncStatus = "already_processed"
	StatusConflict        SyncStatus = "conflict"
	StatusError           SyncStatus = "error"
)

// SyncRequest is the payload sent to the server's single RPC endpoint.
type SyncRequest struct {
	IdempotencyKey string
	Table          string
	Type           OperationType
	RecordID       string
	Data           map[string]any
}

// ServerConflict carries the 409 conflict body (§6.1).
type ServerConflict struct {
	ServerVersion   int
	ClientVersion   int
	ServerData      map[string]any
	ServerUpdatedAt time.Time
	ServerUpdatedBy string
	FieldsChanged   []string
}

// SyncResponse is the server's reply to SyncOperation.
type SyncResponse struct {
	Status   SyncStatus
	Code     int // HTTP-style status code, populated on StatusError/StatusConflict
	Message  string
	Result   map[string]any // server-assigned fields, e.g. server-side id, on success
	Conflict *ServerConflict
}

// DeltaRecord is one row returned by the delta endpoint: an opaque
// entity payload plus the two ordering fields the cursor protocol
// needs (§4.4).
type DeltaRecord struct {
	ID        string
	UpdatedAt time.Time
	Data      map[string]any
}

// Server is the required external contract for the authoritative
// backend (§6.1). Implementations must honor the caller-supplied
// context's deadline (recommended 30s per §5).
type Server interface {
	// SyncOperation submits one queued operation for processing.
	SyncOperation(ctx context.Context, req SyncRequest) (SyncResponse, error)

	// FetchDelta returns entities from table updated after the cursor
	// position (updatedAtGt, idGt), ordered updated_at ASC, id ASC,
	// capped at limit rows.
	FetchDelta(ctx context.Context, table string, updatedAtGt time.Time, idGt string, limit int) ([]DeltaRecord, error)

	// FetchCurrent returns the server's current state for one record,
	// used by the sync scheduler's optimistic pre-fetch before applying
	// an UPDATE with a base_snapshot (§4.2 step 2).
	FetchCurrent(ctx context.Context, table, recordID string) (map[string]any, bool, error)
}

// AuthProvider exposes the authentication session state the engine
// treats as an external collaborator (§1, §4.7).
type AuthProvider interface {
	// CurrentUserID returns the active session's user id, or ok=false
	// if no user is logged in.
	CurrentUserID() (userID string, ok bool)

	// SessionExpired reports whether the current session has expired
	// without yet being replaced by a new login (§4.6 read_only_auth).
	SessionExpired() bool
}

// BatteryProvider exposes the device's battery level for retry gating
// (§4.2 "If battery level < 15%, pause retry").
type BatteryProvider interface {
	// BatteryPercent returns 0-100, or ok=false on a device with no
	// battery (desktop, always-powered kiosk) — treated as never gating.
	BatteryPercent() (percent int, ok bool)
}

// StorageQuotaProvider exposes the platform's storage-quota API
// (§4.5). Implementations return ok=false when the platform API is
// unavailable, triggering the documented fallback-quota estimator.
type StorageQuotaProvider interface {
	Usage() (usedBytes, totalBytes int64, ok bool)
}

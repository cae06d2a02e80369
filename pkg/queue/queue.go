// Package queue implements the operation queue (§3, §4.2): idempotent
// enqueue, the status state machine, conflict-resolution commands, and
// the priority-then-FIFO batch selection the sync scheduler drains.
package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cuemby/cocoasync/pkg/log"
	"github.com/cuemby/cocoasync/pkg/storage"
	"github.com/cuemby/cocoasync/pkg/types"
	"github.com/google/uuid"
)

// Manager owns enqueue, state-machine transitions, and batch selection
// against one storage.Store.
type Manager struct {
	store *storage.Store
}

// New returns a Manager backed by store.
func New(store *storage.Store) *Manager {
	return &Manager{store: store}
}

// CreateOperationInput is the enqueue contract's parameter set (§4.2).
type CreateOperationInput struct {
	Type          types.OperationType
	Table         string
	RecordID      string
	Data          map[string]any
	UserID        string
	CooperativeID string
	BaseSnapshot  map[string]any
	BaseUpdatedAt *time.Time
	RowVersion    int
	// Priority overrides the table default when non-empty.
	Priority types.Priority
	// CreatedAt is the logical mutation's creation time, not the enqueue
	// wall-clock time: callers must pass the same value on every retry
	// of the same local edit so the idempotency key stays stable.
	CreatedAt time.Time
}

// defaultPriority assigns default by table (§3): deliveries=critical,
// planters/chef-planters=high, everything else normal.
func defaultPriority(table string) types.Priority {
	switch table {
	case types.TableDeliveries:
		return types.PriorityCritical
	case types.TablePlanters, types.TableChefPlanteurs:
		return types.PriorityHigh
	default:
		return types.PriorityNormal
	}
}

// idempotencyKey computes SHA-256(user_id:table:type:client_id:created_at)
// per §3, using RFC3339Nano so two calls with the identical logical
// mutation (same CreatedAt) always hash to the same key.
func idempotencyKey(userID, table string, opType types.OperationType, clientID string, createdAt time.Time) string {
	raw := fmt.Sprintf("%s:%s:%s:%s:%s", userID, table, opType, clientID, createdAt.UTC().Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// CreateOperation implements create_operation (§4.2): computes the
// idempotency key and either returns the existing op with that key
// (invariant 1) or inserts a new pending operation.
func (m *Manager) CreateOperation(in CreateOperationInput) (types.QueuedOperation, error) {
	priority := in.Priority
	if priority == "" {
		priority = defaultPriority(in.Table)
	}
	key := idempotencyKey(in.UserID, in.Table, in.Type, in.RecordID, in.CreatedAt)

	if existing, ok, err := m.findByIdempotencyKey(key); err != nil {
		return types.QueuedOperation{}, fmt.Errorf("check existing operation: %w", err)
	} else if ok {
		return existing, nil
	}

	op := types.QueuedOperation{
		ID:             uuid.NewString(),
		IdempotencyKey: key,
		Type:           in.Type,
		Table:          in.Table,
		RecordID:       in.RecordID,
		ClientID:       in.RecordID,
		UserID:         in.UserID,
		CooperativeID:  in.CooperativeID,
		Data:           in.Data,
		BaseSnapshot:   in.BaseSnapshot,
		BaseUpdatedAt:  in.BaseUpdatedAt,
		RowVersion:     in.RowVersion,
		Priority:       priority,
		Status:         types.StatusPending,
		CreatedAt:      in.CreatedAt,
		QueuedAt:       time.Now().UTC(),
	}

	if err := m.store.Queue.Put(op); err != nil {
		if existing, ok, findErr := m.findByIdempotencyKey(key); findErr == nil && ok {
			// Lost a race with a concurrent identical enqueue.
			return existing, nil
		}
		return types.QueuedOperation{}, fmt.Errorf("insert operation: %w", err)
	}

	log.WithComponent("queue").Debug().Str("op_id", op.ID).Str("table", op.Table).Str("priority", string(op.Priority)).Msg("operation enqueued")
	return op, nil
}

func (m *Manager) findByIdempotencyKey(key string) (types.QueuedOperation, bool, error) {
	matches, err := m.store.Queue.GetAllFromIndex("by-idempotency_key", []byte(key))
	if err != nil {
		return types.QueuedOperation{}, false, err
	}
	if len(matches) == 0 {
		return types.QueuedOperation{}, false, nil
	}
	return matches[0], true, nil
}

// Resolution is the resolve_conflict command's resolution kind (§4.2).
type Resolution string

const (
	ResolutionLocal  Resolution = "local"
	ResolutionRemote Resolution = "remote"
	ResolutionMerge  Resolution = "merge"
)

// ErrInvalidTransition is returned when a command is issued against an
// operation in a status that does not permit it (§4.2 state machine).
var ErrInvalidTransition = fmt.Errorf("queue: invalid state transition")

// ResolveConflict implements resolve_conflict (§4.2): only legal from
// needs_review.
func (m *Manager) ResolveConflict(opID string, resolution Resolution, mergedData map[string]any) error {
	op, found, err := m.store.Queue.Get(opID)
	if err != nil {
		return fmt.Errorf("load operation %s: %w", opID, err)
	}
	if !found {
		return fmt.Errorf("operation %s not found", opID)
	}
	if op.Status != types.StatusNeedsReview {
		return fmt.Errorf("%w: resolve_conflict requires needs_review, got %s", ErrInvalidTransition, op.Status)
	}

	switch resolution {
	case ResolutionLocal:
		op.BaseSnapshot = nil
		op.ConflictInfo = nil
		op.Status = types.StatusPending
		return m.store.Queue.Put(op)
	case ResolutionRemote:
		return m.store.Queue.Delete(opID)
	case ResolutionMerge:
		op.Data = mergedData
		op.BaseSnapshot = nil
		op.ConflictInfo = nil
		op.Status = types.StatusPending
		return m.store.Queue.Put(op)
	default:
		return fmt.Errorf("queue: unknown resolution %q", resolution)
	}
}

// RetryOperation implements retry_operation (§4.2): forces a failed op
// back to pending, clearing its scheduled retry and error annotation.
func (m *Manager) RetryOperation(opID string) error {
	op, found, err := m.store.Queue.Get(opID)
	if err != nil {
		return fmt.Errorf("load operation %s: %w", opID, err)
	}
	if !found {
		return fmt.Errorf("operation %s not found", opID)
	}
	if op.Status != types.StatusFailed {
		return fmt.Errorf("%w: retry_operation requires failed, got %s", ErrInvalidTransition, op.Status)
	}
	op.Status = types.StatusPending
	op.NextRetryAt = nil
	op.Error = ""
	return m.store.Queue.Put(op)
}

// CancelOperation implements cancel_operation (§4.2): dequeues
// unconditionally regardless of current status.
func (m *Manager) CancelOperation(opID string) error {
	return m.store.Queue.Delete(opID)
}

// CountByStatus returns the number of operations in the given status.
func (m *Manager) CountByStatus(status types.OperationStatus) (int, error) {
	return m.store.Queue.CountFromIndex("by-status", []byte(status))
}

// Depth returns the total number of queued operations, used by §4.6's
// ops_queue_count input.
func (m *Manager) Depth() (int, error) {
	return m.store.Queue.Count()
}

// ListByStatus returns every queued operation in the given status, used
// by the cross-user switch check to inspect pending_auth ops across all
// users (ValidateUserOwnership/RestorePendingAuth only ever look at one
// user_id at a time).
func (m *Manager) ListByStatus(status types.OperationStatus) ([]types.QueuedOperation, error) {
	return m.store.Queue.GetAllFromIndex("by-status", []byte(status))
}

package queue

import (
	"fmt"
	"time"

	"github.com/cuemby/cocoasync/pkg/types"
)

// MarkSyncing transitions a pending or due-retry op to syncing and
// stamps last_attempt_at, at the start of the scheduler's per-op
// attempt (§4.2 step 1).
func (m *Manager) MarkSyncing(op types.QueuedOperation) (types.QueuedOperation, error) {
	if op.Status != types.StatusPending && op.Status != types.StatusFailed {
		return op, fmt.Errorf("%w: mark_syncing requires pending or failed, got %s", ErrInvalidTransition, op.Status)
	}
	now := time.Now().UTC()
	op.Status = types.StatusSyncing
	op.LastAttemptAt = &now
	if err := m.store.Queue.Put(op); err != nil {
		return op, fmt.Errorf("mark syncing: %w", err)
	}
	return op, nil
}

// MarkDequeued removes an operation on successful server confirmation
// (§4.2 "On success: dequeue").
func (m *Manager) MarkDequeued(op types.QueuedOperation) error {
	return m.store.Queue.Delete(op.ID)
}

// MarkBatteryPaused transitions a pending or due-retry op to failed
// with next_retry_at cleared, without incrementing retry_count, since
// no attempt against the server was actually made (§4.2 "If battery
// level < 15%, pause retry"). Clearing next_retry_at keeps it out of
// SelectBatch's due-retry scan until the scheduler explicitly resumes
// it via RetryOperation once the battery recovers.
func (m *Manager) MarkBatteryPaused(op types.QueuedOperation, errMsg string) error {
	if op.Status != types.StatusPending && op.Status != types.StatusFailed {
		return fmt.Errorf("%w: mark_battery_paused requires pending or failed, got %s", ErrInvalidTransition, op.Status)
	}
	op.Status = types.StatusFailed
	op.Error = errMsg
	op.NextRetryAt = nil
	return m.store.Queue.Put(op)
}

// MarkFailedRetryable transitions a syncing op to failed with a
// scheduled retry (§4.2 step 5, retry scheduler).
func (m *Manager) MarkFailedRetryable(op types.QueuedOperation, errMsg string, nextRetryAt time.Time) error {
	if op.Status != types.StatusSyncing {
		return fmt.Errorf("%w: mark_failed_retryable requires syncing, got %s", ErrInvalidTransition, op.Status)
	}
	op.Status = types.StatusFailed
	op.Error = errMsg
	op.RetryCount++
	op.NextRetryAt = &nextRetryAt
	return m.store.Queue.Put(op)
}

// MarkFailedTerminal transitions a syncing op to a terminal failed
// state: no next_retry_at, so it is never picked up by the scheduler's
// due-retry selection again without an explicit RetryOperation call.
func (m *Manager) MarkFailedTerminal(op types.QueuedOperation, errMsg string) error {
	if op.Status != types.StatusSyncing {
		return fmt.Errorf("%w: mark_failed_terminal requires syncing, got %s", ErrInvalidTransition, op.Status)
	}
	op.Status = types.StatusFailed
	op.Error = errMsg
	op.NextRetryAt = nil
	return m.store.Queue.Put(op)
}

// MarkNeedsReview transitions a syncing op into the conflict-review
// state, storing the detector's ConflictInfo (§4.2 step 2, §4.3).
func (m *Manager) MarkNeedsReview(op types.QueuedOperation, info *types.ConflictInfo) error {
	if op.Status != types.StatusSyncing {
		return fmt.Errorf("%w: mark_needs_review requires syncing, got %s", ErrInvalidTransition, op.Status)
	}
	op.Status = types.StatusNeedsReview
	op.ConflictInfo = info
	return m.store.Queue.Put(op)
}

// HandleLogout transitions every pending/failed operation owned by
// userID to pending_auth (§3 lifecycle, §4.7). needs_review and
// syncing operations are left untouched: a logout mid-sync does not
// erase an in-flight conflict or attempt.
func (m *Manager) HandleLogout(userID string) (int, error) {
	ops, err := m.store.Queue.GetAllFromIndex("by-user_id", []byte(userID))
	if err != nil {
		return 0, fmt.Errorf("list operations for user %s: %w", userID, err)
	}
	n := 0
	for _, op := range ops {
		if op.Status != types.StatusPending && op.Status != types.StatusFailed {
			continue
		}
		op.Status = types.StatusPendingAuth
		if err := m.store.Queue.Put(op); err != nil {
			return n, fmt.Errorf("mark %s pending_auth: %w", op.ID, err)
		}
		n++
	}
	return n, nil
}

// RestorePendingAuth transitions every pending_auth op owned by userID
// back to pending, on a same-user login (§3 lifecycle).
func (m *Manager) RestorePendingAuth(userID string) (int, error) {
	ops, err := m.store.Queue.GetAllFromIndex("by-user_id", []byte(userID))
	if err != nil {
		return 0, fmt.Errorf("list operations for user %s: %w", userID, err)
	}
	n := 0
	for _, op := range ops {
		if op.Status != types.StatusPendingAuth {
			continue
		}
		op.Status = types.StatusPending
		if err := m.store.Queue.Put(op); err != nil {
			return n, fmt.Errorf("restore %s to pending: %w", op.ID, err)
		}
		n++
	}
	return n, nil
}

// WipeAll deletes every queued operation, regardless of status. The
// only caller authorized to invoke this is an explicit user/admin wipe
// decision (§4.7 "wipe").
func (m *Manager) WipeAll() error {
	ops, err := m.store.Queue.GetAll()
	if err != nil {
		return fmt.Errorf("list operations: %w", err)
	}
	for _, op := range ops {
		if err := m.store.Queue.Delete(op.ID); err != nil {
			return fmt.Errorf("delete %s: %w", op.ID, err)
		}
	}
	return nil
}

// ValidateUserOwnership implements validate_user_ownership (§4.7): any
// operation owned by a different user and not already pending_auth is
// an orphan that should never exist by construction.
func (m *Manager) ValidateUserOwnership(userID string) ([]types.QueuedOperation, error) {
	all, err := m.store.Queue.GetAll()
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	var orphans []types.QueuedOperation
	for _, op := range all {
		if op.UserID != userID && op.Status != types.StatusPendingAuth {
			orphans = append(orphans, op)
		}
	}
	return orphans, nil
}

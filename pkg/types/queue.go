package types

import "time"

// OperationType is the mutation kind a queued operation represents.
type OperationType string

const (
	OpCreate OperationType = "CREATE"
	OpUpdate OperationType = "UPDATE"
	OpDelete OperationType = "DELETE"
)

// Priority orders the queue's drain sequence. Lower rank drains first;
// see Rank and P2 in spec.md §8.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityNormal:   2,
	PriorityLow:      3,
}

// Rank returns the sort weight for a priority; critical < high < normal < low.
// An unrecognized priority ranks last so it never jumps ahead of known ones.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank)
}

// OperationStatus is the queue-op lifecycle state (spec.md §4.2 state machine).
type OperationStatus string

const (
	StatusPending     OperationStatus = "pending"
	StatusSyncing     OperationStatus = "syncing"
	StatusFailed      OperationStatus = "failed"
	StatusNeedsReview OperationStatus = "needs_review"
	StatusPendingAuth OperationStatus = "pending_auth"
)

// FieldConflict describes one field where local and remote both diverged
// from the three-way-merge base.
type FieldConflict struct {
	Field       string      `json:"field"`
	LocalValue  interface{} `json:"local_value"`
	ServerValue interface{} `json:"server_value"`
	IsCritical  bool        `json:"is_critical"`
}

// ConflictInfo is built from a server 409 response (§4.3 "409 parsing")
// or from the scheduler's own pre-fetch diff, and stored on the
// operation when it transitions to needs_review.
type ConflictInfo struct {
	ServerVersion   int             `json:"server_version"`
	ClientVersion   int             `json:"client_version"`
	ServerData      map[string]any  `json:"server_data"`
	ServerUpdatedAt time.Time       `json:"server_updated_at"`
	ServerUpdatedBy string          `json:"server_updated_by"`
	FieldsChanged   []FieldConflict `json:"fields_changed"`
}

// QueuedOperation is the central record of the operation queue (§3).
type QueuedOperation struct {
	ID             string
	IdempotencyKey string
	Type           OperationType
	Table          string
	RecordID       string
	ClientID       string
	ServerID       string
	UserID         string
	CooperativeID  string
	Data           map[string]any

	// Three-way-merge base. Nil for CREATE.
	BaseSnapshot  map[string]any
	BaseUpdatedAt *time.Time
	RowVersion    int

	Priority Priority
	Status   OperationStatus

	RetryCount    int
	LastAttemptAt *time.Time
	NextRetryAt   *time.Time
	CreatedAt     time.Time
	QueuedAt      time.Time

	Error        string
	ConflictInfo *ConflictInfo
}

package types

import "time"

// ErrorKind classifies an error-log entry (§3, §7).
type ErrorKind string

const (
	ErrKindSync       ErrorKind = "sync"
	ErrKindStorage    ErrorKind = "storage"
	ErrKindNetwork    ErrorKind = "network"
	ErrKindValidation ErrorKind = "validation"
	ErrKindMigration  ErrorKind = "migration"
	ErrKindIntegrity  ErrorKind = "integrity"
	ErrKindGeneral    ErrorKind = "general"
)

// ErrorLogRecord is one entry in the bounded diagnostic error log.
type ErrorLogRecord struct {
	ID        string
	Timestamp time.Time
	Kind      ErrorKind
	Code      string
	Message   string
	Context   map[string]string
	Stack     string
}

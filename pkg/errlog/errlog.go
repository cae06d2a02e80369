// Package errlog implements the bounded diagnostic error log (§3, §7):
// at most MaxErrorLogEntries records, oldest evicted first.
package errlog

import (
	"fmt"
	"time"

	"github.com/cuemby/cocoasync/pkg/storage"
	"github.com/cuemby/cocoasync/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// Log records diagnostic entries into storage.Store.ErrorLog, evicting
// the oldest entry whenever a write would exceed the configured cap.
type Log struct {
	store *storage.Store
	cap   int
}

// New returns a Log capped at maxEntries.
func New(store *storage.Store, maxEntries int) *Log {
	return &Log{store: store, cap: maxEntries}
}

// Record appends one error-log entry and evicts the oldest entry if
// the log is now over capacity. The insert and any eviction happen in
// one transaction so the log never briefly exceeds its cap.
func (l *Log) Record(kind types.ErrorKind, code, message string, context map[string]string) error {
	rec := types.ErrorLogRecord{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Code:      code,
		Message:   message,
		Context:   context,
	}
	return l.store.Update(func(tx *bolt.Tx) error {
		if err := l.store.ErrorLog.PutTx(tx, rec); err != nil {
			return fmt.Errorf("insert error log record: %w", err)
		}
		return l.evictOverflowTx(tx)
	})
}

// RecordStack is Record plus a captured stack trace, stored in the
// entry's Stack field.
func (l *Log) RecordStack(kind types.ErrorKind, code, message, stack string, context map[string]string) error {
	rec := types.ErrorLogRecord{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Code:      code,
		Message:   message,
		Context:   context,
		Stack:     stack,
	}
	return l.store.Update(func(tx *bolt.Tx) error {
		if err := l.store.ErrorLog.PutTx(tx, rec); err != nil {
			return fmt.Errorf("insert error log record: %w", err)
		}
		return l.evictOverflowTx(tx)
	})
}

func (l *Log) evictOverflowTx(tx *bolt.Tx) error {
	count, err := l.store.ErrorLog.CountTx(tx)
	if err != nil {
		return fmt.Errorf("count error log: %w", err)
	}
	if count <= l.cap {
		return nil
	}
	oldest, err := l.store.ErrorLog.RangeTx(tx, "by-timestamp", nil, nil, count-l.cap)
	if err != nil {
		return fmt.Errorf("range oldest error log entries: %w", err)
	}
	for _, rec := range oldest {
		if err := l.store.ErrorLog.DeleteTx(tx, rec.ID); err != nil {
			return fmt.Errorf("evict error log entry %s: %w", rec.ID, err)
		}
	}
	return nil
}

// Recent returns the most recent n entries (or all of them if n <= 0
// or there are fewer than n), newest first. Used by the diagnostics
// surface (§7).
func (l *Log) Recent(n int) ([]types.ErrorLogRecord, error) {
	all, err := l.store.ErrorLog.Range("by-timestamp", nil, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("range error log: %w", err)
	}
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all, nil
}

package queue

import (
	"fmt"
	"time"

	"github.com/cuemby/cocoasync/pkg/types"
)

// SelectBatch implements the scheduler's batch-selection rule (§4.2
// "Draining"): up to maxBatchSize operations, priority-then-FIFO
// ordered, where eligible operations are every pending op plus every
// failed op whose next_retry_at has elapsed.
//
// The by-priority index already orders entries by (priority rank,
// created_at) ascending, so a single ascending scan yields exactly
// this order; this function only needs to filter by eligibility and
// stop once maxBatchSize operations have been collected.
func (m *Manager) SelectBatch(maxBatchSize int, now time.Time) ([]types.QueuedOperation, error) {
	ordered, err := m.store.Queue.Range("by-priority", nil, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("range queue by priority: %w", err)
	}

	batch := make([]types.QueuedOperation, 0, maxBatchSize)
	for _, op := range ordered {
		if len(batch) >= maxBatchSize {
			break
		}
		if !eligible(op, now) {
			continue
		}
		batch = append(batch, op)
	}
	return batch, nil
}

func eligible(op types.QueuedOperation, now time.Time) bool {
	switch op.Status {
	case types.StatusPending:
		return true
	case types.StatusFailed:
		return op.NextRetryAt != nil && !op.NextRetryAt.After(now)
	default:
		return false
	}
}

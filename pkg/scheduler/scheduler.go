// Package scheduler implements the sync scheduler (§4.2): the
// background loop that drains the operation queue against the
// transport.Server contract, running each operation through its
// conflict pre-fetch and retry-backoff state machine.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cuemby/cocoasync/pkg/conflict"
	"github.com/cuemby/cocoasync/pkg/config"
	"github.com/cuemby/cocoasync/pkg/log"
	"github.com/cuemby/cocoasync/pkg/metrics"
	"github.com/cuemby/cocoasync/pkg/queue"
	"github.com/cuemby/cocoasync/pkg/transport"
	"github.com/cuemby/cocoasync/pkg/types"
	"github.com/rs/zerolog"
)

// batteryPauseMarker is the error annotation a battery-paused operation
// carries. The scheduler uses this (not the op's Status alone) to find
// and resume the ops it paused for battery, as opposed to ops that
// simply failed against the server, at the start of the next cycle.
const batteryPauseMarker = "paused: battery below retry threshold"

// cycleInterval is the background trigger's period (§4.2 "periodic
// background sync").
const cycleInterval = 30 * time.Second

// ErrSyncInProgress is returned by Sync when a prior cycle is still
// running (§4.2's reentrancy guard).
var ErrSyncInProgress = fmt.Errorf("scheduler: sync already in progress")

// Scheduler drains the operation queue against one transport.Server.
type Scheduler struct {
	queue   *queue.Manager
	server  transport.Server
	battery transport.BatteryProvider
	cfg     config.Config
	logger  zerolog.Logger

	runMu  sync.Mutex // reentrancy guard for one Sync cycle at a time
	stopCh chan struct{}
}

// New returns a Scheduler. battery may be nil on a device with no
// battery API, in which case retry gating never triggers.
func New(queueMgr *queue.Manager, server transport.Server, battery transport.BatteryProvider, cfg config.Config) *Scheduler {
	return &Scheduler{
		queue:   queueMgr,
		server:  server,
		battery: battery,
		cfg:     cfg,
		logger:  log.WithComponent("scheduler"),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the periodic background drain loop.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop stops the background loop. It does not cancel a Sync already
// in progress.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(cycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := s.Sync(ctx); err != nil && err != ErrSyncInProgress {
				s.logger.Error().Err(err).Msg("sync cycle failed")
			}
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// Result summarizes one Sync cycle.
type Result struct {
	Attempted int
	Succeeded int
	Conflicted int
	Retried   int
	Failed    int
}

// Sync drains up to one batch of due operations (§4.2). It is guarded
// by a non-blocking lock: a caller that triggers Sync while a cycle is
// already running gets ErrSyncInProgress instead of blocking, so a
// manual "sync now" action never queues up behind a slow background
// cycle.
func (s *Scheduler) Sync(ctx context.Context) (Result, error) {
	if !s.runMu.TryLock() {
		metrics.SyncCyclesTotal.WithLabelValues("skipped_in_progress").Inc()
		return Result{}, ErrSyncInProgress
	}
	defer s.runMu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SyncCycleDuration)

	now := time.Now().UTC()
	if err := s.resumeBatteryPaused(now); err != nil {
		s.logger.Warn().Err(err).Msg("failed to resume battery-paused operations")
	}

	batch, err := s.queue.SelectBatch(s.cfg.MaxBatchSize, now)
	if err != nil {
		metrics.SyncCyclesTotal.WithLabelValues("completed").Inc()
		return Result{}, fmt.Errorf("select batch: %w", err)
	}

	var result Result
	for _, op := range batch {
		result.Attempted++
		outcome := s.processOperation(ctx, op, now)
		switch outcome {
		case outcomeSuccess:
			result.Succeeded++
		case outcomeConflict:
			result.Conflicted++
		case outcomeRetry:
			result.Retried++
		case outcomeFailed, outcomeBatteryPaused:
			result.Failed++
		}
	}

	metrics.SyncCyclesTotal.WithLabelValues("completed").Inc()
	return result, nil
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeConflict
	outcomeRetry
	outcomeFailed
	outcomeBatteryPaused
)

// resumeBatteryPaused scans failed operations this scheduler
// previously paused for low battery (error marker plus a cleared
// next_retry_at) and forces them back to pending once the battery is
// sufficient again. batch.go's eligible() only re-selects a failed op
// when next_retry_at is set and due, so a battery-paused op (which has
// next_retry_at cleared) would otherwise never resurface on its own.
func (s *Scheduler) resumeBatteryPaused(now time.Time) error {
	if s.batteryLow() {
		return nil
	}
	failed, err := s.queue.ListByStatus(types.StatusFailed)
	if err != nil {
		return fmt.Errorf("list failed operations: %w", err)
	}
	for _, op := range failed {
		if op.Error != batteryPauseMarker || op.NextRetryAt != nil {
			continue
		}
		if err := s.queue.RetryOperation(op.ID); err != nil {
			s.logger.Warn().Err(err).Str("op_id", op.ID).Msg("failed to resume battery-paused operation")
			continue
		}
		metrics.RetriesTotal.WithLabelValues(op.Table, "battery_resume").Inc()
	}
	return nil
}

func (s *Scheduler) batteryLow() bool {
	if s.battery == nil {
		return false
	}
	percent, ok := s.battery.BatteryPercent()
	return ok && percent < s.cfg.MinBatteryPercent
}

func (s *Scheduler) processOperation(ctx context.Context, op types.QueuedOperation, now time.Time) outcome {
	logger := s.logger.With().Str("op_id", op.ID).Str("table", op.Table).Logger()

	if s.batteryLow() {
		if err := s.queue.MarkBatteryPaused(op, batteryPauseMarker); err != nil {
			logger.Error().Err(err).Msg("failed to pause operation for battery")
		}
		metrics.RetriesTotal.WithLabelValues(op.Table, "battery_pause").Inc()
		return outcomeBatteryPaused
	}

	op, err := s.queue.MarkSyncing(op)
	if err != nil {
		logger.Error().Err(err).Msg("mark_syncing failed")
		return outcomeFailed
	}

	opTimer := metrics.NewTimer()
	data := op.Data

	if op.Type == types.OpUpdate && op.BaseSnapshot != nil {
		remote, found, err := s.server.FetchCurrent(ctx, op.Table, op.RecordID)
		if err != nil {
			s.handleRetryableError(op, fmt.Sprintf("fetch current: %v", err), now, &logger)
			opTimer.ObserveDurationVec(metrics.OperationSyncDuration, op.Table)
			return outcomeRetry
		}
		if found {
			kind := conflict.Detect(op.Type, op.Table, op.BaseSnapshot, remote, op.Data)
			switch kind {
			case conflict.KindCritical:
				info := conflict.FromLocalDetection(op.Table, op.BaseSnapshot, remote, op.Data)
				metrics.ConflictsTotal.WithLabelValues(op.Table, "critical").Inc()
				metrics.OperationsSyncedTotal.WithLabelValues(op.Table, "needs_review").Inc()
				if err := s.queue.MarkNeedsReview(op, &info); err != nil {
					logger.Error().Err(err).Msg("mark_needs_review failed")
				}
				opTimer.ObserveDurationVec(metrics.OperationSyncDuration, op.Table)
				return outcomeConflict
			case conflict.KindMergeable:
				merge := conflict.AutoMerge(op.Table, op.Data, remote, op.BaseSnapshot)
				metrics.ConflictsTotal.WithLabelValues(op.Table, "mergeable").Inc()
				if merge.Success {
					data = merge.MergedData
				}
			}
		}
	}

	resp, err := s.server.SyncOperation(ctx, transport.SyncRequest{
		IdempotencyKey: op.IdempotencyKey,
		Table:          op.Table,
		Type:           transport.OperationType(op.Type),
		RecordID:       op.RecordID,
		Data:           data,
	})
	opTimer.ObserveDurationVec(metrics.OperationSyncDuration, op.Table)

	if err != nil {
		s.handleRetryableError(op, err.Error(), now, &logger)
		return outcomeRetry
	}

	switch resp.Status {
	case transport.StatusSuccess, transport.StatusAlreadyProcessed:
		if err := s.queue.MarkDequeued(op); err != nil {
			logger.Error().Err(err).Msg("mark_dequeued failed")
		}
		metrics.OperationsSyncedTotal.WithLabelValues(op.Table, "success").Inc()
		return outcomeSuccess

	case transport.StatusConflict:
		var info types.ConflictInfo
		if resp.Conflict != nil {
			info = conflict.FromServerConflict(op.Table, op.Data, *resp.Conflict)
		}
		metrics.ConflictsTotal.WithLabelValues(op.Table, "server_reported").Inc()
		metrics.OperationsSyncedTotal.WithLabelValues(op.Table, "needs_review").Inc()
		if err := s.queue.MarkNeedsReview(op, &info); err != nil {
			logger.Error().Err(err).Msg("mark_needs_review failed")
		}
		return outcomeConflict

	default:
		if nonRetryable(resp.Code) {
			metrics.OperationsSyncedTotal.WithLabelValues(op.Table, "failed_terminal").Inc()
			if err := s.queue.MarkFailedTerminal(op, resp.Message); err != nil {
				logger.Error().Err(err).Msg("mark_failed_terminal failed")
			}
			return outcomeFailed
		}
		s.handleRetryableError(op, resp.Message, now, &logger)
		return outcomeRetry
	}
}

// nonRetryable reports whether an HTTP-style status code should never
// be retried (§4.2): the entire 4xx range, which is a superset of the
// spec's explicit {400,401,403,404,409,422} examples.
func nonRetryable(code int) bool {
	return code >= 400 && code < 500
}

func (s *Scheduler) handleRetryableError(op types.QueuedOperation, errMsg string, now time.Time, logger *zerolog.Logger) {
	if op.RetryCount+1 >= s.cfg.MaxRetries {
		metrics.OperationsSyncedTotal.WithLabelValues(op.Table, "failed_terminal").Inc()
		if err := s.queue.MarkFailedTerminal(op, errMsg); err != nil {
			logger.Error().Err(err).Msg("mark_failed_terminal failed")
		}
		return
	}
	delay := retryDelay(op.RetryCount, s.cfg.BaseRetryDelay(), s.cfg.MaxRetryDelay())
	metrics.RetriesTotal.WithLabelValues(op.Table, "server_error").Inc()
	if err := s.queue.MarkFailedRetryable(op, errMsg, now.Add(delay)); err != nil {
		logger.Error().Err(err).Msg("mark_failed_retryable failed")
	}
}

// retryDelay implements delay(n) = min(base*2^n, max) +/-10% jitter
// (§4.2).
func retryDelay(attempt int, base, max time.Duration) time.Duration {
	d := base * time.Duration(1<<uint(attempt))
	if d > max || d <= 0 {
		d = max
	}
	jitter := time.Duration((rand.Float64()*0.2 - 0.1) * float64(d))
	return d + jitter
}

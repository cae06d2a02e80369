package main

import (
	"fmt"
	"time"

	"github.com/cuemby/cocoasync/pkg/config"
	"github.com/cuemby/cocoasync/pkg/degraded"
	"github.com/cuemby/cocoasync/pkg/delta"
	"github.com/cuemby/cocoasync/pkg/errlog"
	"github.com/cuemby/cocoasync/pkg/queue"
	"github.com/cuemby/cocoasync/pkg/quota"
	"github.com/cuemby/cocoasync/pkg/storage"
	"github.com/cuemby/cocoasync/pkg/types"
	"github.com/spf13/cobra"
)

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Dump queue depth, degraded mode, storage quota, and recent errors",
	RunE:  runDiagnostics,
}

func runDiagnostics(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := storage.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open store at %s: %w", dataDir, err)
	}
	defer store.Close()

	now := time.Now().UTC()
	queueMgr := queue.New(store)
	quotaMgr := quota.New(store, nil, cfg)
	degradedMgr := degraded.New(quotaMgr, queueMgr, nil, cfg)
	deltaMgr := delta.New(store, nil)
	errLog := errlog.New(store, cfg.MaxErrorLogEntries)

	fmt.Println("cocoasync diagnostics")
	fmt.Println("=====================")
	fmt.Printf("data dir: %s\n\n", dataDir)

	if err := printQueueDepth(queueMgr); err != nil {
		return err
	}
	if err := printDegradedMode(degradedMgr, now); err != nil {
		return err
	}
	if err := printStorageQuota(quotaMgr, now); err != nil {
		return err
	}
	printCursorStaleness(deltaMgr, cfg, now)
	if err := printRecentErrors(errLog); err != nil {
		return err
	}
	return nil
}

func printQueueDepth(queueMgr *queue.Manager) error {
	fmt.Println("Queue depth by status:")
	statuses := []types.OperationStatus{
		types.StatusPending, types.StatusSyncing, types.StatusFailed,
		types.StatusNeedsReview, types.StatusPendingAuth,
	}
	for _, status := range statuses {
		ops, err := queueMgr.ListByStatus(status)
		if err != nil {
			return fmt.Errorf("list %s operations: %w", status, err)
		}
		byPriority := map[types.Priority]int{}
		for _, op := range ops {
			byPriority[op.Priority]++
		}
		fmt.Printf("  %-14s %4d  (critical=%d high=%d normal=%d low=%d)\n",
			status, len(ops),
			byPriority[types.PriorityCritical], byPriority[types.PriorityHigh],
			byPriority[types.PriorityNormal], byPriority[types.PriorityLow])
	}
	fmt.Println()
	return nil
}

func printDegradedMode(degradedMgr *degraded.Manager, now time.Time) error {
	mode, err := degradedMgr.Current(now)
	if err != nil {
		return fmt.Errorf("evaluate degraded mode: %w", err)
	}
	fmt.Printf("Degraded mode: %s (blocks_creation=%v)\n\n", mode, mode.BlocksCreation())
	return nil
}

func printStorageQuota(quotaMgr *quota.Manager, now time.Time) error {
	used, total, percent, err := quotaMgr.Usage(now)
	if err != nil {
		return fmt.Errorf("read storage usage: %w", err)
	}
	band, err := quotaMgr.CurrentBand(now)
	if err != nil {
		return fmt.Errorf("evaluate storage band: %w", err)
	}
	fmt.Printf("Storage: %d/%d bytes (%d%%), band=%s, downloads=%s, writes_allowed=%v\n\n",
		used, total, percent, band.State, band.Downloads, band.WritesAllowed)
	return nil
}

func printCursorStaleness(deltaMgr *delta.Manager, cfg config.Config, now time.Time) {
	fmt.Println("Cursor staleness:")
	for _, table := range types.SyncedTables {
		stale := deltaMgr.IsStale(table, cfg.CursorStaleness(), now)
		fmt.Printf("  %-14s stale=%v\n", table, stale)
	}
	fmt.Println()
}

func printRecentErrors(errLog *errlog.Log) error {
	entries, err := errLog.Recent(100)
	if err != nil {
		return fmt.Errorf("read error log: %w", err)
	}
	fmt.Printf("Recent errors (%d):\n", len(entries))
	for _, e := range entries {
		fmt.Printf("  [%s] %s %s: %s\n", e.Timestamp.Format(time.RFC3339), e.Kind, e.Code, e.Message)
	}
	return nil
}

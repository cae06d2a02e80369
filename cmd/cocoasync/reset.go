package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cuemby/cocoasync/pkg/storage"
	"github.com/cuemby/cocoasync/pkg/types"
	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Destroy the local store and restore only the queue backup",
	Long: `Implements the user-initiated reset operation: the embedded
entity store is deleted and recreated empty, then the most recent
queue backup in the auxiliary store (taken automatically before the
last schema migration, if any) is restored into the new queue. Every
other table starts empty.`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().Bool("yes", false, "Skip the confirmation prompt")
}

func runReset(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	skipConfirm, _ := cmd.Flags().GetBool("yes")

	if !skipConfirm && !confirm(fmt.Sprintf("This deletes all local data under %s except the queue backup. Continue? [y/N] ", dataDir)) {
		fmt.Println("Aborted.")
		return nil
	}

	store, err := storage.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open store at %s: %w", dataDir, err)
	}

	key, data, found, err := store.Aux().LatestQueueBackup()
	if err != nil {
		store.Close()
		return fmt.Errorf("read queue backup: %w", err)
	}

	if err := store.Destroy(); err != nil {
		store.Close()
		return fmt.Errorf("destroy store: %w", err)
	}
	if err := store.Close(); err != nil {
		return fmt.Errorf("close store after destroy: %w", err)
	}

	store, err = storage.Open(dataDir)
	if err != nil {
		return fmt.Errorf("reopen store after reset: %w", err)
	}
	defer store.Close()

	if !found {
		fmt.Println("Store reset. No queue backup found to restore.")
		return nil
	}

	var ops []types.QueuedOperation
	if err := json.Unmarshal(data, &ops); err != nil {
		return fmt.Errorf("decode queue backup %s: %w", key, err)
	}
	for _, op := range ops {
		if err := store.Queue.Put(op); err != nil {
			return fmt.Errorf("restore queued operation %s: %w", op.ID, err)
		}
	}
	fmt.Printf("Store reset. Restored %d queued operation(s) from backup %q.\n", len(ops), key)
	return nil
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

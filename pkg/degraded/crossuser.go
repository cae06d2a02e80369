package degraded

import (
	"fmt"

	"github.com/cuemby/cocoasync/pkg/types"
)

// SwitchDecision is handle_user_switch's verdict (§4.7).
type SwitchDecision string

const (
	// SwitchContinue: no pending_auth ops exist, or all of them belong
	// to the incoming user and have been restored to pending.
	SwitchContinue SwitchDecision = "continue"
	// SwitchBlock: pending_auth ops belong to a different user; the new
	// user is refused sync until those ops are resolved or wiped.
	SwitchBlock SwitchDecision = "block"
	// SwitchWiped is returned by ResolveBlockedSwitch, never by
	// HandleUserSwitch itself: wipe is always an explicit, separate
	// confirmation step, not something the automatic check decides on
	// its own.
	SwitchWiped SwitchDecision = "wipe"
)

// HandleUserSwitch implements handle_user_switch(new_user_id) (§4.7).
// It never mutates state when the decision is block, so a blocked
// caller can still show the owning user before deciding to wipe.
func (m *Manager) HandleUserSwitch(newUserID string) (SwitchDecision, error) {
	pendingAuth, err := m.queue.ListByStatus(types.StatusPendingAuth)
	if err != nil {
		return "", fmt.Errorf("list pending_auth operations: %w", err)
	}
	if len(pendingAuth) == 0 {
		return SwitchContinue, nil
	}

	for _, op := range pendingAuth {
		if op.UserID != newUserID {
			return SwitchBlock, nil
		}
	}

	if _, err := m.queue.RestorePendingAuth(newUserID); err != nil {
		return "", fmt.Errorf("restore pending_auth operations for %s: %w", newUserID, err)
	}
	return SwitchContinue, nil
}

// ResolveBlockedSwitch performs the explicit, user-confirmed wipe of
// every queue entry after a SwitchBlock verdict, then clears the
// way for the new user to proceed (§4.7 "wipe").
func (m *Manager) ResolveBlockedSwitch() (SwitchDecision, error) {
	if err := m.queue.WipeAll(); err != nil {
		return "", fmt.Errorf("wipe queue: %w", err)
	}
	return SwitchWiped, nil
}

package conflict

import (
	"github.com/cuemby/cocoasync/pkg/transport"
	"github.com/cuemby/cocoasync/pkg/types"
)

// FromServerConflict builds a types.ConflictInfo from a server 409
// response (§4.3 "409 parsing"), classifying each changed field as
// critical using the same per-table registry Detect/AutoMerge use.
func FromServerConflict(table string, local map[string]any, sc transport.ServerConflict) types.ConflictInfo {
	info := types.ConflictInfo{
		ServerVersion:   sc.ServerVersion,
		ClientVersion:   sc.ClientVersion,
		ServerData:      sc.ServerData,
		ServerUpdatedAt: sc.ServerUpdatedAt,
		ServerUpdatedBy: sc.ServerUpdatedBy,
	}
	for _, field := range sc.FieldsChanged {
		info.FieldsChanged = append(info.FieldsChanged, types.FieldConflict{
			Field:       field,
			LocalValue:  local[field],
			ServerValue: sc.ServerData[field],
			IsCritical:  strategyFor(table, field) == StrategyCritical,
		})
	}
	return info
}

// FromLocalDetection builds a types.ConflictInfo from the scheduler's
// own pre-fetch three-way diff (§4.2 step 2), for the case where
// Detect already found a critical overlap before the operation was
// ever submitted to the server. Mirrors FromServerConflict's shape so
// needs_review operations carry the same ConflictInfo structure
// regardless of which side surfaced the conflict.
func FromLocalDetection(table string, base, remote, local map[string]any) types.ConflictInfo {
	info := types.ConflictInfo{ServerData: remote}
	for _, field := range overlappingFields(base, remote, local) {
		info.FieldsChanged = append(info.FieldsChanged, types.FieldConflict{
			Field:       field,
			LocalValue:  local[field],
			ServerValue: remote[field],
			IsCritical:  strategyFor(table, field) == StrategyCritical,
		})
	}
	return info
}

// Package conflict implements the three-way conflict detector and
// auto-merge resolver (§4.3): classifying overlapping field edits as
// critical (user must choose), mergeable (local wins automatically),
// or server_wins, and parsing server-reported 409 conflicts.
package conflict

import (
	"reflect"

	"github.com/cuemby/cocoasync/pkg/types"
)

// Kind is the overall conflict classification for one operation.
type Kind string

const (
	KindNone      Kind = "none"
	KindCritical  Kind = "critical"
	KindMergeable Kind = "mergeable"
)

// Detect implements the three-way diff (§4.3):
//   - type != UPDATE or base_snapshot is nil -> none
//   - remote_changed = fields where remote differs from base
//   - local_changed  = keys(local_data)
//   - overlap = remote_changed ∩ local_changed
//   - empty overlap -> none; any critical field in overlap -> critical;
//     otherwise -> mergeable
func Detect(opType types.OperationType, table string, base, remote, local map[string]any) Kind {
	if opType != types.OpUpdate || base == nil {
		return KindNone
	}

	overlap := overlappingFields(base, remote, local)
	if len(overlap) == 0 {
		return KindNone
	}
	for _, field := range overlap {
		if strategyFor(table, field) == StrategyCritical {
			return KindCritical
		}
	}
	return KindMergeable
}

func overlappingFields(base, remote, local map[string]any) []string {
	var overlap []string
	for field := range local {
		if changed(base[field], remote[field]) {
			overlap = append(overlap, field)
		}
	}
	return overlap
}

func changed(a, b any) bool {
	return !reflect.DeepEqual(a, b)
}

// MergeResult is auto_merge's output (§4.3).
type MergeResult struct {
	MergedData        map[string]any
	RequiresUserChoice []string
	AutoMerged        []string
	ServerWins        []string
	Success           bool
}

// AutoMerge implements auto_merge(table, local, remote, base) (§4.3):
// for each locally-changed field, take local if remote did not change
// it; otherwise apply the field's strategy. A critical field changed
// on both sides is added to RequiresUserChoice and forces Success=false
// (the caller must escalate to needs_review instead of applying this
// result).
func AutoMerge(table string, local, remote, base map[string]any) MergeResult {
	result := MergeResult{
		MergedData: make(map[string]any, len(local)),
		Success:    true,
	}
	for field, value := range local {
		result.MergedData[field] = value
	}

	for field, localValue := range local {
		if !changed(base[field], remote[field]) {
			continue // remote did not change; local value already set above
		}
		switch strategyFor(table, field) {
		case StrategyCritical:
			result.RequiresUserChoice = append(result.RequiresUserChoice, field)
			result.Success = false
		case StrategyMergeable:
			result.MergedData[field] = localValue
			result.AutoMerged = append(result.AutoMerged, field)
		case StrategyServerWins:
			result.MergedData[field] = remote[field]
			result.ServerWins = append(result.ServerWins, field)
		}
	}
	return result
}

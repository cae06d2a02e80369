// Package quota implements the tiered storage manager (§4.5): the
// quota state machine, the tier-bounded eviction policy, and the
// pre-flight eviction-safety predicate every evicting caller must
// consult.
package quota

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/cocoasync/pkg/config"
	"github.com/cuemby/cocoasync/pkg/log"
	"github.com/cuemby/cocoasync/pkg/storage"
	"github.com/cuemby/cocoasync/pkg/transport"
	"github.com/cuemby/cocoasync/pkg/types"
)

// State is one band of the quota state machine (§4.5).
type State string

const (
	StateNormal    State = "normal"
	StateWarning   State = "warning"
	StatePurging   State = "purging"
	StateEmergency State = "emergency"
)

// Downloads describes which sync tiers a band still allows to fetch
// from the server.
type Downloads string

const (
	DownloadsAll    Downloads = "all"
	DownloadsTier12 Downloads = "tier_1_2_only"
	DownloadsTier1  Downloads = "tier_1_only"
)

// Band is the full verdict for one quota_percent reading (§4.5's table).
type Band struct {
	State           State
	Downloads       Downloads
	WritesAllowed   bool
	PurgeTier3      bool
	PurgeTier2      bool
	StoragePercent  int
}

// Evaluate maps a quota percent to its band per the spec's table.
// Bands are monotone in percent (P8): raising percent never moves to
// a less restrictive band.
func Evaluate(percent int, cfg config.Config) Band {
	b := Band{StoragePercent: percent}
	switch {
	case percent < cfg.StorageWarningPercent:
		b.State, b.Downloads, b.WritesAllowed = StateNormal, DownloadsAll, true
	case percent < cfg.StoragePurgingPercent:
		b.State, b.Downloads, b.WritesAllowed = StateWarning, DownloadsAll, true
	case percent < cfg.StorageEmergencyPercent:
		b.State, b.Downloads, b.WritesAllowed = StatePurging, DownloadsTier12, true
		b.PurgeTier3 = true
	case percent < cfg.StorageHardPercent:
		b.State, b.Downloads, b.WritesAllowed = StatePurging, DownloadsTier1, true
		b.PurgeTier2 = true
	default:
		b.State, b.Downloads, b.WritesAllowed = StateEmergency, DownloadsTier1, false
	}
	return b
}

// usageSnapshot is the TTL-cached result of reading the quota (§4.5
// "cached with a 5-second TTL").
type usageSnapshot struct {
	usedBytes, totalBytes int64
	percent               int
	at                    time.Time
}

// Manager evaluates storage pressure and enforces the eviction policy
// against one Store.
type Manager struct {
	store    *storage.Store
	provider transport.StorageQuotaProvider
	cfg      config.Config

	mu   sync.Mutex
	snap usageSnapshot
}

// New returns a Manager. provider may be nil, in which case Usage
// always falls back to the store-walking estimator against
// cfg.FallbackQuotaBytes.
func New(store *storage.Store, provider transport.StorageQuotaProvider, cfg config.Config) *Manager {
	return &Manager{store: store, provider: provider, cfg: cfg}
}

// Usage returns (usedBytes, totalBytes, percent), preferring the
// platform quota provider and falling back to the store file size
// against the configured conservative budget when the provider is
// absent or reports ok=false (§4.5 "if unavailable, fall back to a
// conservative 50 MiB budget with a store-walking size estimator").
// Reads are cached for StorageMetricsCacheTTL.
func (m *Manager) Usage(now time.Time) (int64, int64, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.snap.at.IsZero() && now.Sub(m.snap.at) < m.cfg.StorageMetricsCacheTTL() {
		return m.snap.usedBytes, m.snap.totalBytes, m.snap.percent, nil
	}

	var used, total int64
	if m.provider != nil {
		if u, t, ok := m.provider.Usage(); ok && t > 0 {
			used, total = u, t
		}
	}
	if total == 0 {
		estimate, err := m.store.EstimateUsedBytes()
		if err != nil {
			return 0, 0, 0, fmt.Errorf("estimate storage usage: %w", err)
		}
		used, total = estimate, m.cfg.FallbackQuotaBytes
	}

	percent := 0
	if total > 0 {
		percent = int((used * 100) / total)
	}

	m.snap = usageSnapshot{usedBytes: used, totalBytes: total, percent: percent, at: now}
	return used, total, percent, nil
}

// CurrentBand reads Usage and returns its Band.
func (m *Manager) CurrentBand(now time.Time) (Band, error) {
	_, _, percent, err := m.Usage(now)
	if err != nil {
		return Band{}, err
	}
	return Evaluate(percent, m.cfg), nil
}

// deliveriesSafeToPurge returns every delivery at tier
// whose local status is not pending_sync (P7: a pending_sync delivery
// is never purged regardless of tier).
func (m *Manager) deliveriesSafeToPurge(tier types.DeliveryTier) ([]types.Delivery, error) {
	candidates, err := m.store.Deliveries.GetAllFromIndex("by-tier", []byte{byte(tier)})
	if err != nil {
		return nil, fmt.Errorf("list tier %d deliveries: %w", tier, err)
	}
	safe := candidates[:0]
	for _, d := range candidates {
		if d.Status != types.EntityStatusPendingSync {
			safe = append(safe, d)
		}
	}
	return safe, nil
}

// PurgeTier3 deletes every Tier-3 delivery not pending sync and
// returns the approximate bytes freed (§4.5 purge_tier3).
func (m *Manager) PurgeTier3() (int64, error) {
	return m.purgeTier(types.DeliveryTier3)
}

// PurgeTier2 deletes every Tier-2 delivery not pending sync and
// returns the approximate bytes freed (§4.5 purge_tier2).
func (m *Manager) PurgeTier2() (int64, error) {
	return m.purgeTier(types.DeliveryTier2)
}

func (m *Manager) purgeTier(tier types.DeliveryTier) (int64, error) {
	victims, err := m.deliveriesSafeToPurge(tier)
	if err != nil {
		return 0, err
	}
	var freed int64
	for _, d := range victims {
		if err := m.store.Deliveries.Delete(d.ID); err != nil {
			return freed, fmt.Errorf("delete delivery %s: %w", d.ID, err)
		}
		freed += recordSizeEstimate(d)
	}
	log.WithComponent("quota").Info().Int("tier", int(tier)).Int("count", len(victims)).Int64("bytes_freed", freed).Msg("tier purged")
	return freed, nil
}

// ClearNonEssentialCache trims the bounded error log down to a small
// retained tail, freeing the bytes of the discarded entries. It is
// the "non-essential cache clearance" step of force_cleanup: the error
// log is diagnostic, not terrain data, so it is the one store this
// engine clears before anything load-bearing.
const nonEssentialErrorLogRetain = 10

func (m *Manager) ClearNonEssentialCache() (int64, error) {
	oldestFirst, err := m.store.ErrorLog.Range("by-timestamp", nil, nil, 0)
	if err != nil {
		return 0, fmt.Errorf("list error log: %w", err)
	}
	if len(oldestFirst) <= nonEssentialErrorLogRetain {
		return 0, nil
	}
	toDrop := oldestFirst[:len(oldestFirst)-nonEssentialErrorLogRetain]
	var freed int64
	for _, e := range toDrop {
		if err := m.store.ErrorLog.Delete(e.ID); err != nil {
			return freed, fmt.Errorf("drop error log entry %s: %w", e.ID, err)
		}
		freed += recordSizeEstimate(e)
	}
	return freed, nil
}

// ForceCleanup implements force_cleanup = purge_tier3 ∘ purge_tier2 ∘
// non-essential cache clearance (§4.5), returning the total bytes
// freed across all three steps.
func (m *Manager) ForceCleanup() (int64, error) {
	var total int64
	for _, step := range []func() (int64, error){m.PurgeTier3, m.PurgeTier2, m.ClearNonEssentialCache} {
		freed, err := step()
		total += freed
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Violation names a safety rule ValidateEvictionSafety rejected.
type Violation struct {
	Rule   string
	Detail string
}

// EvictionPlan is what a caller proposes to clear (§4.5
// validate_eviction_safety's input).
type EvictionPlan struct {
	StoresToClear      []string
	DeliveriesToDelete []string
}

var tier1Stores = map[string]bool{
	types.TablePlanters:      true,
	types.TableChefPlanteurs: true,
	types.TableWarehouses:    true,
}

// ValidateEvictionSafety enforces P7 pre-flight: no plan may clear
// ops_queue or any Tier-1 entity store, and no plan may delete a
// delivery whose local status is pending_sync.
func (m *Manager) ValidateEvictionSafety(plan EvictionPlan) (bool, []Violation) {
	var violations []Violation

	for _, store := range plan.StoresToClear {
		if store == "ops_queue" {
			violations = append(violations, Violation{Rule: "never_clear_ops_queue", Detail: store})
			continue
		}
		if tier1Stores[store] {
			violations = append(violations, Violation{Rule: "never_clear_tier1_store", Detail: store})
		}
	}

	for _, id := range plan.DeliveriesToDelete {
		d, found, err := m.store.Deliveries.Get(id)
		if err != nil || !found {
			continue
		}
		if d.Status == types.EntityStatusPendingSync {
			violations = append(violations, Violation{Rule: "never_delete_pending_sync_delivery", Detail: id})
		}
	}

	return len(violations) == 0, violations
}

// recordSizeEstimate approximates a record's storage footprint by its
// JSON encoding length, the same representation Bucket.PutTx persists,
// so the freed-bytes figure tracks what was actually removed from the
// primary bucket.
func recordSizeEstimate(record any) int64 {
	data, err := json.Marshal(record)
	if err != nil {
		return 0
	}
	return int64(len(data))
}

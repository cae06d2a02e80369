// Package delta implements the delta-sync cursor protocol (§4.4):
// per-table cursors, ordered incremental fetch, and forced-full-sync
// reset. Wire payloads (transport.DeltaRecord.Data) are assumed to use
// the same field names as pkg/types' entity structs; the exact wire
// format is the server's external contract (§6.1) and out of scope
// here.
package delta

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/cocoasync/pkg/log"
	"github.com/cuemby/cocoasync/pkg/metrics"
	"github.com/cuemby/cocoasync/pkg/storage"
	"github.com/cuemby/cocoasync/pkg/transport"
	"github.com/cuemby/cocoasync/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// Manager drives delta fetches for the four synced tables against one
// storage.Store and one transport.Server.
type Manager struct {
	store  *storage.Store
	server transport.Server
}

// New returns a Manager backed by store and server.
func New(store *storage.Store, server transport.Server) *Manager {
	return &Manager{store: store, server: server}
}

// Result summarizes one FetchDelta call (§4.4).
type Result struct {
	Fetched int
	HasMore bool
}

// FetchDelta pulls up to batchLimit (defaultBatchSize when batchLimit
// is not positive, capped at maxBatchSize) records newer than the stored cursor, persists them, and advances
// the cursor only if persistence succeeds. has_more is true when the
// server returned a full page (§4.4 "has_more = returned_count ≥
// batch_limit").
func (m *Manager) FetchDelta(ctx context.Context, table string, batchLimit, defaultBatchSize, maxBatchSize int) (Result, error) {
	limit := batchLimit
	if limit <= 0 {
		limit = defaultBatchSize
	}
	if limit > maxBatchSize {
		limit = maxBatchSize
	}

	cursor := m.loadCursor(table)

	records, err := m.server.FetchDelta(ctx, table, cursor.LastUpdatedAt, cursor.LastID, limit)
	if err != nil {
		return Result{}, fmt.Errorf("fetch delta for %s: %w", table, err)
	}
	if len(records) == 0 {
		return Result{}, nil
	}

	if err := m.persist(table, records, cursor); err != nil {
		return Result{}, fmt.Errorf("persist delta batch for %s: %w", table, err)
	}
	metrics.DeltaRecordsAppliedTotal.WithLabelValues(table).Add(float64(len(records)))

	log.WithComponent("delta").Info().Str("table", table).Int("count", len(records)).Msg("delta batch applied")
	return Result{Fetched: len(records), HasMore: len(records) >= limit}, nil
}

func (m *Manager) loadCursor(table string) types.SyncCursor {
	cursor, found, err := m.store.Cursors.Get(table)
	if err != nil || !found {
		return types.SyncCursor{Table: table, LastUpdatedAt: types.Epoch}
	}
	return cursor
}

// persist writes every fetched record into its table bucket and
// advances the cursor in one transaction, so a partial batch write can
// never advance the cursor past data that was not actually saved
// (§4.4 "advanced... only on successful persistence").
func (m *Manager) persist(table string, records []transport.DeltaRecord, cursor types.SyncCursor) error {
	return m.store.Update(func(tx *bolt.Tx) error {
		for _, rec := range records {
			if err := m.applyRecordTx(tx, table, rec); err != nil {
				return fmt.Errorf("apply record %s: %w", rec.ID, err)
			}
		}
		last := records[len(records)-1]
		cursor.LastUpdatedAt = last.UpdatedAt
		cursor.LastID = last.ID
		cursor.RecordCount += len(records)
		return m.store.Cursors.PutTx(tx, cursor)
	})
}

func (m *Manager) applyRecordTx(tx *bolt.Tx, table string, rec transport.DeltaRecord) error {
	now := time.Now().UTC()
	switch table {
	case types.TablePlanters:
		var p types.Planter
		if err := decodeInto(rec.Data, &p); err != nil {
			return err
		}
		p.ServerUpdatedAt = rec.UpdatedAt
		p.CachedAt = now
		p.SyncedAt = now
		p.NameNorm = types.NormalizeName(p.Name)
		return m.store.Planters.PutTx(tx, p)
	case types.TableChefPlanteurs:
		var c types.ChefPlanteur
		if err := decodeInto(rec.Data, &c); err != nil {
			return err
		}
		c.ServerUpdatedAt = rec.UpdatedAt
		c.CachedAt = now
		c.SyncedAt = now
		c.NameNorm = types.NormalizeName(c.Name)
		return m.store.ChefPlanteurs.PutTx(tx, c)
	case types.TableWarehouses:
		var w types.Warehouse
		if err := decodeInto(rec.Data, &w); err != nil {
			return err
		}
		w.ServerUpdatedAt = rec.UpdatedAt
		w.CachedAt = now
		w.SyncedAt = now
		w.NameNorm = types.NormalizeName(w.Name)
		return m.store.Warehouses.PutTx(tx, w)
	case types.TableDeliveries:
		var d types.Delivery
		if err := decodeInto(rec.Data, &d); err != nil {
			return err
		}
		d.ServerUpdatedAt = rec.UpdatedAt
		d.CachedAt = now
		d.SyncedAt = now
		d.Status = types.EntityStatusSynced
		d.Tier = types.DeliveryTierFor(d.Date, now)
		return m.store.Deliveries.PutTx(tx, d)
	default:
		return fmt.Errorf("unsynced table %q", table)
	}
}

func decodeInto(data map[string]any, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Reset implements reset(table) (§4.4): forces the cursor back to the
// epoch for a full resync.
func (m *Manager) Reset(table string) error {
	return m.store.Cursors.Put(types.SyncCursor{Table: table, LastUpdatedAt: types.Epoch})
}

// IsStale reports whether table's cursor watermark is older than
// staleness (§4.4, default 24h): the newest record the client has
// ingested is more than staleness old, this implementation's chosen
// proxy for "this table needs a background resync" since the protocol
// tracks data watermarks, not fetch-attempt wall-clock time.
func (m *Manager) IsStale(table string, staleness time.Duration, now time.Time) bool {
	cursor := m.loadCursor(table)
	return now.Sub(cursor.LastUpdatedAt) > staleness
}

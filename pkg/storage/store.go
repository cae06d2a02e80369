// Package storage implements the local embedded key/value store (§4.1):
// a transactional, indexed bbolt database holding the entity tables,
// the operation queue, sync cursors, the id-mapping mirror, and the
// bounded error log, plus the versioned migration pipeline that runs
// when the store is opened.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/cocoasync/pkg/log"
	"github.com/cuemby/cocoasync/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// CurrentSchemaVersion is the schema version this build of the engine
// expects (§6.2: "Embedded store named cocoatrack-offline, versioned
// (current version 4)").
const CurrentSchemaVersion = 4

// dbFileName is the embedded store's file name inside DataDir.
const dbFileName = "cocoatrack-offline.db"

// Store wraps the embedded bbolt database and exposes one typed,
// indexed Bucket per table, plus the auxiliary durable key/value store
// that survives Destroy (§6.2).
type Store struct {
	db      *bolt.DB
	dataDir string
	aux     *Aux

	Planters      *Bucket[types.Planter]
	ChefPlanteurs *Bucket[types.ChefPlanteur]
	Warehouses    *Bucket[types.Warehouse]
	Deliveries    *Bucket[types.Delivery]
	Queue         *Bucket[types.QueuedOperation]
	ErrorLog      *Bucket[types.ErrorLogRecord]
	Cursors       *Bucket[types.SyncCursor]
	AppState      *Bucket[types.AppStateRecord]
	IDMappings    *Bucket[types.IDMapping]
}

// Open opens (creating if necessary) the embedded store in dataDir,
// wires up the auxiliary store, and runs the migration pipeline. This
// is the only constructor; there is no separate "create" step.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	aux, err := openAux(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open auxiliary store: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dataDir, dbFileName), 0o600, nil)
	if err != nil {
		aux.Close()
		return nil, fmt.Errorf("open embedded store: %w", err)
	}

	s := &Store{db: db, dataDir: dataDir, aux: aux}
	s.wireBuckets()

	if err := s.migrate(); err != nil {
		db.Close()
		aux.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) wireBuckets() {
	s.Planters = NewBucket(s.db, types.TablePlanters,
		func(p types.Planter) string { return p.ID },
		[]IndexSpec[types.Planter]{
			{Suffix: "by-cooperative", ValueFn: func(p types.Planter) []byte { return encodeString(p.CooperativeID) }},
			{Suffix: "by-code", Unique: true, ValueFn: func(p types.Planter) []byte { return encodeString(p.Code) }},
			{Suffix: "by-name_norm", ValueFn: func(p types.Planter) []byte { return encodeString(p.NameNorm) }},
			{Suffix: "by-updated_at", ValueFn: func(p types.Planter) []byte { return encodeTime(p.ServerUpdatedAt) }},
			{Suffix: "by-chef-planteur", ValueFn: func(p types.Planter) []byte { return encodeString(p.ChefPlanteurID) }},
		})

	s.ChefPlanteurs = NewBucket(s.db, types.TableChefPlanteurs,
		func(c types.ChefPlanteur) string { return c.ID },
		[]IndexSpec[types.ChefPlanteur]{
			{Suffix: "by-cooperative", ValueFn: func(c types.ChefPlanteur) []byte { return encodeString(c.CooperativeID) }},
			{Suffix: "by-code", Unique: true, ValueFn: func(c types.ChefPlanteur) []byte { return encodeString(c.Code) }},
			{Suffix: "by-name_norm", ValueFn: func(c types.ChefPlanteur) []byte { return encodeString(c.NameNorm) }},
			{Suffix: "by-updated_at", ValueFn: func(c types.ChefPlanteur) []byte { return encodeTime(c.ServerUpdatedAt) }},
		})

	s.Warehouses = NewBucket(s.db, types.TableWarehouses,
		func(w types.Warehouse) string { return w.ID },
		[]IndexSpec[types.Warehouse]{
			{Suffix: "by-cooperative", ValueFn: func(w types.Warehouse) []byte { return encodeString(w.CooperativeID) }},
			{Suffix: "by-code", Unique: true, ValueFn: func(w types.Warehouse) []byte { return encodeString(w.Code) }},
			{Suffix: "by-name_norm", ValueFn: func(w types.Warehouse) []byte { return encodeString(w.NameNorm) }},
			{Suffix: "by-updated_at", ValueFn: func(w types.Warehouse) []byte { return encodeTime(w.ServerUpdatedAt) }},
		})

	s.Deliveries = NewBucket(s.db, types.TableDeliveries,
		func(d types.Delivery) string { return d.ID },
		[]IndexSpec[types.Delivery]{
			{Suffix: "by-date", ValueFn: func(d types.Delivery) []byte { return encodeTime(d.Date) }},
			{Suffix: "by-tier", ValueFn: func(d types.Delivery) []byte { return []byte{byte(d.Tier)} }},
			{Suffix: "by-updated_at", ValueFn: func(d types.Delivery) []byte { return encodeTime(d.ServerUpdatedAt) }},
			{Suffix: "by-status", ValueFn: func(d types.Delivery) []byte { return encodeString(string(d.Status)) }},
		})

	s.Queue = NewBucket(s.db, "ops_queue",
		func(o types.QueuedOperation) string { return o.ID },
		[]IndexSpec[types.QueuedOperation]{
			{Suffix: "by-status", ValueFn: func(o types.QueuedOperation) []byte { return encodeString(string(o.Status)) }},
			{Suffix: "by-table", ValueFn: func(o types.QueuedOperation) []byte { return encodeString(o.Table) }},
			{Suffix: "by-created-at", ValueFn: func(o types.QueuedOperation) []byte { return encodeTime(o.CreatedAt) }},
			{Suffix: "by-next-retry", ValueFn: nextRetryIndexValue},
			{Suffix: "by-user_id", ValueFn: func(o types.QueuedOperation) []byte { return encodeString(o.UserID) }},
			{Suffix: "by-idempotency_key", Unique: true, ValueFn: func(o types.QueuedOperation) []byte { return encodeString(o.IdempotencyKey) }},
			{Suffix: "by-priority", ValueFn: priorityIndexValue},
		})

	s.ErrorLog = NewBucket(s.db, "error_log",
		func(e types.ErrorLogRecord) string { return e.ID },
		[]IndexSpec[types.ErrorLogRecord]{
			{Suffix: "by-timestamp", ValueFn: func(e types.ErrorLogRecord) []byte { return encodeTime(e.Timestamp) }},
			{Suffix: "by-type", ValueFn: func(e types.ErrorLogRecord) []byte { return encodeString(string(e.Kind)) }},
		})

	s.Cursors = NewBucket(s.db, "sync_metadata",
		func(c types.SyncCursor) string { return c.Table },
		nil)

	s.AppState = NewBucket(s.db, "app_state",
		func(a types.AppStateRecord) string { return a.Key },
		nil)

	s.IDMappings = NewBucket(s.db, "id_mapping",
		func(m types.IDMapping) string { return m.ClientID },
		[]IndexSpec[types.IDMapping]{
			{Suffix: "by-server_id", ValueFn: func(m types.IDMapping) []byte { return encodeString(m.ServerID) }},
		})
}

// priorityIndexValue orders queued operations by priority rank then
// creation time, so a plain ascending Range("by-priority", nil, nil, n)
// scan yields exactly the priority-then-FIFO order required by P2.
func priorityIndexValue(o types.QueuedOperation) []byte {
	return append(encodeUint8(uint8(o.Priority.Rank())), encodeTime(o.CreatedAt)...)
}

// nextRetryIndexValue encodes NextRetryAt so ops without a scheduled
// retry sort last (and are excluded by any "<= now" range bound).
func nextRetryIndexValue(o types.QueuedOperation) []byte {
	if o.NextRetryAt == nil {
		return encodeTime(farFuture)
	}
	return encodeTime(*o.NextRetryAt)
}

// allBuckets lists every typed bucket so migrations can iterate them
// generically for EnsureBuckets / integrity checks.
func (s *Store) allBuckets(tx *bolt.Tx) error {
	ensurers := []func(*bolt.Tx) error{
		s.Planters.EnsureBuckets,
		s.ChefPlanteurs.EnsureBuckets,
		s.Warehouses.EnsureBuckets,
		s.Deliveries.EnsureBuckets,
		s.Queue.EnsureBuckets,
		s.ErrorLog.EnsureBuckets,
		s.Cursors.EnsureBuckets,
		s.AppState.EnsureBuckets,
		s.IDMappings.EnsureBuckets,
	}
	for _, ensure := range ensurers {
		if err := ensure(tx); err != nil {
			return err
		}
	}
	return nil
}

// verifyIntegrity checks that every table's primary and index buckets
// exist in tx (§7 "integrity": a post-migration missing-store check),
// a distinct failure kind from an ordinary migration step erroring out.
func (s *Store) verifyIntegrity(tx *bolt.Tx) error {
	verifiers := []func(*bolt.Tx) error{
		s.Planters.VerifyBuckets,
		s.ChefPlanteurs.VerifyBuckets,
		s.Warehouses.VerifyBuckets,
		s.Deliveries.VerifyBuckets,
		s.Queue.VerifyBuckets,
		s.ErrorLog.VerifyBuckets,
		s.Cursors.VerifyBuckets,
		s.AppState.VerifyBuckets,
		s.IDMappings.VerifyBuckets,
	}
	for _, verify := range verifiers {
		if err := verify(tx); err != nil {
			return err
		}
	}
	return nil
}

// Update runs fn inside a single read-write transaction spanning every
// bucket, for callers (errlog eviction, delta batch persistence) that must
// touch more than one table atomically.
func (s *Store) Update(fn func(tx *bolt.Tx) error) error {
	return s.db.Update(fn)
}

// View runs fn inside a single read-only transaction spanning every bucket.
func (s *Store) View(fn func(tx *bolt.Tx) error) error {
	return s.db.View(fn)
}

// Aux returns the auxiliary durable key/value store.
func (s *Store) Aux() *Aux { return s.aux }

// DataDir returns the directory the store was opened in.
func (s *Store) DataDir() string { return s.dataDir }

// EstimateUsedBytes returns the on-disk size of the embedded store
// file, the quota manager's store-walking fallback estimator (§4.5)
// for platforms whose storage-quota API is unavailable. Since every
// table lives in the one bbolt file, the file's size already is the
// walk's result; there is no cheaper or more accurate way to sum it
// without re-deriving what the OS already tracks.
func (s *Store) EstimateUsedBytes() (int64, error) {
	info, err := os.Stat(filepath.Join(s.dataDir, dbFileName))
	if err != nil {
		return 0, fmt.Errorf("stat embedded store: %w", err)
	}
	return info.Size(), nil
}

// Close closes the embedded store and the auxiliary store.
func (s *Store) Close() error {
	logger := log.WithComponent("storage")
	if err := s.db.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close embedded store")
		return err
	}
	return s.aux.Close()
}

// Destroy deletes the embedded store file entirely and reopens an
// empty one with every bucket created but no schema version. The auxiliary
// store (and therefore the queue backup) is untouched, per §6.2's
// requirement that auxiliary state "survive embedded-store deletion".
func (s *Store) Destroy() error {
	path := filepath.Join(s.dataDir, dbFileName)
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close before destroy: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove store file: %w", err)
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return fmt.Errorf("recreate store after destroy: %w", err)
	}
	s.db = db
	s.wireBuckets()
	return s.db.Update(s.allBuckets)
}

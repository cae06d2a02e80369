/*
Package storage provides bbolt-backed persistence for the offline sync
engine's local state.

Two embedded database files live side by side in the data directory:

	┌─────────────────────── STORAGE LAYOUT ───────────────────────┐
	│                                                                │
	│  cocoatrack-offline.db (Store)        cocoatrack-aux.db (Aux) │
	│  ┌──────────────────────────┐        ┌──────────────────────┐│
	│  │ planters                 │        │ queue_backup         ││
	│  │ chef_planteurs           │        │ migration_errors     ││
	│  │ warehouses               │        │ id_mapping_mirror    ││
	│  │ deliveries               │        │ upload_config        ││
	│  │ ops_queue                │        └──────────────────────┘│
	│  │ error_log                │        survives Destroy of the  │
	│  │ sync_metadata (cursors)  │        main store (corruption   │
	│  │ app_state                │        rebuild, user reset)     │
	│  └──────────────────────────┘                                │
	│  destroyable; rebuilt from an empty schema on fatal migration │
	│  failure or an explicit user-initiated reset                  │
	└────────────────────────────────────────────────────────────────┘

Every table above is a generic Bucket[T] (see bucket.go): one primary
bbolt bucket keyed by the record's ID plus one bbolt bucket per
secondary index, keyed by a composite <value><0x00><id> byte string
(a unique index is keyed by the bare value). That composite layout
serves three access patterns from the same physical bucket:
exact-match lookup (GetAllFromIndex, prefix-matches the value), ordered
range scans (Range, used for priority+FIFO queue draining and
oldest-first error-log eviction), and prefix search
(PrefixSearch, used for name_norm search-as-you-type).

Store.Open runs the migration pipeline (migrations.go) before
returning: a fresh store is stamped at CurrentSchemaVersion, an
out-of-date store has its queue backed up to Aux and is walked through
migrationSteps one version at a time inside a single transaction. A
step failure rolls the transaction back (the store stays at its prior
version) and surfaces as ErrMigrationStepFailed with no rebuild
attempted. Only a failed post-migration integrity check — a bucket or
index missing after the steps otherwise succeeded — is retried once via
a from-empty-schema rebuild that restores the queue backup, before a
second consecutive failure surfaces ErrMigrationFatal.
*/
package storage

/*
Package types defines the data model shared across the offline sync engine.

It has no dependencies on storage, transport, or scheduling — the
packages that need the data model import types, never the reverse. The types fall
into three groups:

  - Cached entities (Planter, ChefPlanteur, Warehouse, Delivery): the
    terrain data a field agent works with, mirrored locally from the
    server with client-generated UUIDs.
  - The operation queue (QueuedOperation, ConflictInfo, FieldConflict):
    the record of pending local mutations awaiting sync.
  - Sync bookkeeping (SyncCursor, IDMapping, ErrorLogRecord,
    AppStateRecord): per-table and per-process metadata the engine needs
    to resume correctly across restarts.

All status/priority/kind fields are closed string-backed sum types so
a switch over them can be made exhaustive at review time instead of at
runtime.
*/
package types

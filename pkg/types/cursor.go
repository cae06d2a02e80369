package types

import "time"

// Epoch is the zero point a cursor resets to for a forced full sync
// (§4.4 reset).
var Epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// SyncCursor bookmarks delta-sync progress for one table (§3
// sync-metadata record, §4.4).
type SyncCursor struct {
	Table          string
	LastUpdatedAt  time.Time
	LastID         string // tiebreak on equal LastUpdatedAt (invariant 7)
	RecordCount    int
	LastFullSyncAt *time.Time
}

// IDMapping binds a client-generated id to the server id assigned once a
// CREATE operation is confirmed (§3 Id-mapping record).
type IDMapping struct {
	ClientID string
	ServerID string
	Table    string
	MappedAt time.Time
}

// AppStateRecord is an opaque key/value entry for small pieces of process
// state that don't warrant their own bucket (migration markers, queue
// backup pointers, upload config).
type AppStateRecord struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

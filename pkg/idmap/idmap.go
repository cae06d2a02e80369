// Package idmap maintains the client-id/server-id mapping table (§3
// "Id-mapping record", §9 "Id-mapping mirror"): an in-memory hash table
// backed by durable storage so foreign keys queued before a CREATE
// confirms can still be resolved after a process restart.
package idmap

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/cocoasync/pkg/log"
	"github.com/cuemby/cocoasync/pkg/storage"
	"github.com/cuemby/cocoasync/pkg/types"
)

// Table is the in-memory client_id -> server_id hash table, mirrored
// to storage.Store.IDMappings (main store) and storage.Aux (durable
// mirror that survives a main-store rebuild).
type Table struct {
	mu    sync.RWMutex
	byID  map[string]string // client_id -> server_id
	store *storage.Store
}

// Load builds the in-memory table from the main store, falling back to
// the auxiliary mirror for any entries a store rebuild may have lost.
func Load(store *storage.Store) (*Table, error) {
	t := &Table{byID: make(map[string]string), store: store}

	mappings, err := store.IDMappings.GetAll()
	if err != nil {
		return nil, fmt.Errorf("load id mappings: %w", err)
	}
	for _, m := range mappings {
		t.byID[m.ClientID] = m.ServerID
	}

	mirrored, err := store.Aux().AllMirroredIDMappings()
	if err != nil {
		return nil, fmt.Errorf("load mirrored id mappings: %w", err)
	}
	for clientID, data := range mirrored {
		if _, ok := t.byID[clientID]; ok {
			continue
		}
		var m types.IDMapping
		if err := unmarshalMapping(data, &m); err != nil {
			log.WithComponent("idmap").Warn().Err(err).Str("client_id", clientID).Msg("dropping unreadable mirrored mapping")
			continue
		}
		t.byID[clientID] = m.ServerID
		if err := store.IDMappings.Put(m); err != nil {
			return nil, fmt.Errorf("restore mapping %s from mirror: %w", clientID, err)
		}
	}

	return t, nil
}

// ResolveToServerID implements resolve_to_server_id(id) = mapping[id] ?? id
// (§9): if id has a confirmed server id, return it; otherwise id is
// already a server id (or not yet confirmed), so return it unchanged.
func (t *Table) ResolveToServerID(id string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if serverID, ok := t.byID[id]; ok {
		return serverID
	}
	return id
}

// Bind records that clientID now has a confirmed serverID for table,
// persisting to both the main store and the durable mirror.
func (t *Table) Bind(table, clientID, serverID string) error {
	mapping := types.IDMapping{
		ClientID: clientID,
		ServerID: serverID,
		Table:    table,
		MappedAt: time.Now().UTC(),
	}

	if err := t.store.IDMappings.Put(mapping); err != nil {
		return fmt.Errorf("persist id mapping: %w", err)
	}
	data, err := marshalMapping(mapping)
	if err != nil {
		return fmt.Errorf("marshal id mapping: %w", err)
	}
	if err := t.store.Aux().MirrorIDMapping(clientID, data); err != nil {
		return fmt.Errorf("mirror id mapping: %w", err)
	}

	t.mu.Lock()
	t.byID[clientID] = serverID
	t.mu.Unlock()
	return nil
}

// ServerIDFor reports the confirmed server id for a client id, and
// whether a mapping exists at all (distinct from ResolveToServerID,
// which falls back to returning the input unchanged).
func (t *Table) ServerIDFor(clientID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	serverID, ok := t.byID[clientID]
	return serverID, ok
}

// Len returns the number of mappings held in memory.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

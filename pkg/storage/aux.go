package storage

import (
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// auxFileName is the durable auxiliary store's file name. Kept separate
// from the embedded store file so a Destroy of the main store (user
// reset, corruption rebuild) cannot take this state with it.
const auxFileName = "cocoatrack-aux.db"

var (
	auxBucketQueueBackup = []byte("queue_backup")
	auxBucketMigration   = []byte("migration_errors")
	auxBucketIDMapMirror = []byte("id_mapping_mirror")
	auxBucketUploadCfg   = []byte("upload_config")
)

var auxBuckets = [][]byte{auxBucketQueueBackup, auxBucketMigration, auxBucketIDMapMirror, auxBucketUploadCfg}

// Aux is the second, durable bbolt file described in §6.2: it holds the
// queue backup taken before a migration runs, migration error records,
// a mirror of the id-mapping table, and upload configuration — state
// that must survive the main embedded store being destroyed and
// recreated (corruption rebuild, user-initiated reset).
type Aux struct {
	db *bolt.DB
}

func openAux(dataDir string) (*Aux, error) {
	db, err := bolt.Open(filepath.Join(dataDir, auxFileName), 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range auxBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create aux bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Aux{db: db}, nil
}

// Close closes the auxiliary database file.
func (a *Aux) Close() error {
	return a.db.Close()
}

// PutQueueBackup stores raw, pre-migration queue bytes under key,
// keyed by the schema version being migrated away from so a failed
// migration can be diagnosed against the exact snapshot it started
// from.
func (a *Aux) PutQueueBackup(key string, data []byte) error {
	return a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(auxBucketQueueBackup).Put([]byte(key), data)
	})
}

// GetQueueBackup retrieves a previously stored queue backup, if any.
func (a *Aux) GetQueueBackup(key string) ([]byte, error) {
	var out []byte
	err := a.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(auxBucketQueueBackup).Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

// LatestQueueBackup returns the most recently written queue backup
// (by bbolt's cursor order, which for the "pre_migration_v<N>" key
// scheme tracks migration recency), for the user-initiated reset
// operation's "restore only the queue backup" behavior.
func (a *Aux) LatestQueueBackup() (key string, data []byte, found bool, err error) {
	err = a.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(auxBucketQueueBackup).Cursor()
		k, v := c.Last()
		if k == nil {
			return nil
		}
		found = true
		key = string(k)
		data = append([]byte(nil), v...)
		return nil
	})
	return key, data, found, err
}

// DeleteQueueBackup removes a stored queue backup, called once a
// migration that took it succeeds (§4.1 "on success, clear the queue
// backup and any stored migration-error record").
func (a *Aux) DeleteQueueBackup(key string) error {
	return a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(auxBucketQueueBackup).Delete([]byte(key))
	})
}

// PutMigrationError persists a migration failure record, keyed by its
// id, so it survives a rebuild of the main store and can be surfaced
// by diagnostics.
func (a *Aux) PutMigrationError(id string, data []byte) error {
	return a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(auxBucketMigration).Put([]byte(id), data)
	})
}

// ListMigrationErrors returns every persisted migration error record.
func (a *Aux) ListMigrationErrors() ([][]byte, error) {
	var out [][]byte
	err := a.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(auxBucketMigration).ForEach(func(_, v []byte) error {
			out = append(out, append([]byte(nil), v...))
			return nil
		})
	})
	return out, err
}

// ClearMigrationErrors deletes every persisted migration error record,
// called once a migration succeeds so stale failure records from an
// earlier attempt don't linger in diagnostics.
func (a *Aux) ClearMigrationErrors() error {
	return a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(auxBucketMigration)
		var keys [][]byte
		if err := b.ForEach(func(k, _ []byte) error {
			keys = append(keys, append([]byte(nil), k...))
			return nil
		}); err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// MirrorIDMapping writes (or overwrites) a client-id -> server-id
// mapping into the durable mirror, independent of the main store's
// id_mapping table. Called alongside every write to the main table so
// the mapping is recoverable even if the main store is destroyed.
func (a *Aux) MirrorIDMapping(clientID string, data []byte) error {
	return a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(auxBucketIDMapMirror).Put([]byte(clientID), data)
	})
}

// GetMirroredIDMapping reads one mirrored id mapping by client id.
func (a *Aux) GetMirroredIDMapping(clientID string) ([]byte, error) {
	var out []byte
	err := a.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(auxBucketIDMapMirror).Get([]byte(clientID)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

// AllMirroredIDMappings returns every mirrored client-id -> server-id
// mapping, used to repopulate the main store's id_mapping table after
// a rebuild.
func (a *Aux) AllMirroredIDMappings() (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := a.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(auxBucketIDMapMirror).ForEach(func(k, v []byte) error {
			out[string(k)] = append([]byte(nil), v...)
			return nil
		})
	})
	return out, err
}

// PutUploadConfig stores an opaque upload-configuration blob (server
// batch-size hints, feature flags) under key.
func (a *Aux) PutUploadConfig(key string, data []byte) error {
	return a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(auxBucketUploadCfg).Put([]byte(key), data)
	})
}

// DeleteUploadConfig removes a stored upload-configuration blob, if any.
func (a *Aux) DeleteUploadConfig(key string) error {
	return a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(auxBucketUploadCfg).Delete([]byte(key))
	})
}

// GetUploadConfig retrieves a previously stored upload-configuration blob.
func (a *Aux) GetUploadConfig(key string) ([]byte, error) {
	var out []byte
	err := a.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(auxBucketUploadCfg).Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

package storage

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// IndexSpec describes one secondary index maintained alongside a Bucket's
// primary data. ValueFn derives the sortable/equality bytes for a record;
// Unique rejects a write that would collide with a different primary key
// under the same value (used for by-code, by-idempotency_key).
type IndexSpec[T any] struct {
	Suffix  string
	Unique  bool
	ValueFn func(T) []byte
}

// Bucket is a generic, JSON-encoded, secondary-indexed table inside the
// embedded store. One Bucket[T] exists per entity kind (planters, queued
// operations, error log, ...); its bucket name is the table name and its
// indexes are separate bbolt buckets keyed by composite
// <value><sep><primary key> bytes (see keys.go); a unique index is
// keyed by the bare value.
type Bucket[T any] struct {
	db      *bolt.DB
	table   string
	idFn    func(T) string
	indexes []IndexSpec[T]
}

// NewBucket wires a typed bucket to an already-open database. Callers
// must have created the underlying buckets via EnsureBuckets (normally
// done once by the migration pipeline).
func NewBucket[T any](db *bolt.DB, table string, idFn func(T) string, indexes []IndexSpec[T]) *Bucket[T] {
	return &Bucket[T]{db: db, table: table, idFn: idFn, indexes: indexes}
}

// EnsureBuckets creates the primary bucket and every index bucket for b,
// if they do not already exist. Safe to call repeatedly; never drops data.
func (b *Bucket[T]) EnsureBuckets(tx *bolt.Tx) error {
	if _, err := tx.CreateBucketIfNotExists(bucketName(b.table, "")); err != nil {
		return fmt.Errorf("create bucket %s: %w", b.table, err)
	}
	for _, idx := range b.indexes {
		if _, err := tx.CreateBucketIfNotExists(bucketName(b.table, idx.Suffix)); err != nil {
			return fmt.Errorf("create index bucket %s/%s: %w", b.table, idx.Suffix, err)
		}
	}
	return nil
}

// VerifyBuckets checks that the primary bucket and every index bucket
// for b already exist in tx, without creating anything. Used by the
// post-migration integrity check (§7 "integrity"), which must tell a
// missing store/index apart from an ordinary migration-step failure.
func (b *Bucket[T]) VerifyBuckets(tx *bolt.Tx) error {
	if tx.Bucket(bucketName(b.table, "")) == nil {
		return fmt.Errorf("missing bucket %s", b.table)
	}
	for _, idx := range b.indexes {
		if tx.Bucket(bucketName(b.table, idx.Suffix)) == nil {
			return fmt.Errorf("missing index bucket %s/%s", b.table, idx.Suffix)
		}
	}
	return nil
}

func (b *Bucket[T]) primary(tx *bolt.Tx) *bolt.Bucket {
	return tx.Bucket(bucketName(b.table, ""))
}

func (b *Bucket[T]) index(tx *bolt.Tx, suffix string) *bolt.Bucket {
	return tx.Bucket(bucketName(b.table, suffix))
}

// PutTx upserts a record within an existing transaction, removing stale
// index entries for the previous revision (if any) and writing fresh
// ones for the new value. Returns an error if a unique index would
// collide with a different record.
func (b *Bucket[T]) PutTx(tx *bolt.Tx, record T) error {
	id := []byte(b.idFn(record))
	primary := b.primary(tx)
	if primary == nil {
		return fmt.Errorf("bucket %s not initialized", b.table)
	}

	var old T
	hadOld := false
	if existing := primary.Get(id); existing != nil {
		if err := json.Unmarshal(existing, &old); err != nil {
			return fmt.Errorf("unmarshal existing %s/%s: %w", b.table, id, err)
		}
		hadOld = true
	}

	for _, idx := range b.indexes {
		ib := b.index(tx, idx.Suffix)
		if ib == nil {
			continue
		}
		if hadOld {
			oldKey := joinIndexKey(idx.ValueFn(old), id)
			if err := ib.Delete(oldKey); err != nil {
				return fmt.Errorf("delete stale index %s/%s: %w", b.table, idx.Suffix, err)
			}
		}
		newValue := idx.ValueFn(record)
		if idx.Unique {
			if owner := ib.Get(newValue); owner != nil && string(owner) != string(id) {
				return fmt.Errorf("%w: %s index %s value already owned by %s", ErrUniqueViolation, b.table, idx.Suffix, owner)
			}
			if err := ib.Put(newValue, id); err != nil {
				return fmt.Errorf("put unique index %s/%s: %w", b.table, idx.Suffix, err)
			}
			continue
		}
		newKey := joinIndexKey(newValue, id)
		if err := ib.Put(newKey, id); err != nil {
			return fmt.Errorf("put index %s/%s: %w", b.table, idx.Suffix, err)
		}
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", b.table, err)
	}
	return primary.Put(id, data)
}

// GetTx reads one record by primary key.
func (b *Bucket[T]) GetTx(tx *bolt.Tx, id string) (T, bool, error) {
	var zero T
	primary := b.primary(tx)
	if primary == nil {
		return zero, false, fmt.Errorf("bucket %s not initialized", b.table)
	}
	data := primary.Get([]byte(id))
	if data == nil {
		return zero, false, nil
	}
	var record T
	if err := json.Unmarshal(data, &record); err != nil {
		return zero, false, fmt.Errorf("unmarshal %s/%s: %w", b.table, id, err)
	}
	return record, true, nil
}

// DeleteTx removes a record and all of its index entries.
func (b *Bucket[T]) DeleteTx(tx *bolt.Tx, id string) error {
	primary := b.primary(tx)
	if primary == nil {
		return fmt.Errorf("bucket %s not initialized", b.table)
	}
	existing := primary.Get([]byte(id))
	if existing == nil {
		return nil
	}
	var old T
	if err := json.Unmarshal(existing, &old); err != nil {
		return fmt.Errorf("unmarshal %s/%s: %w", b.table, id, err)
	}
	for _, idx := range b.indexes {
		ib := b.index(tx, idx.Suffix)
		if ib == nil {
			continue
		}
		value := idx.ValueFn(old)
		if idx.Unique {
			if err := ib.Delete(value); err != nil {
				return err
			}
			continue
		}
		if err := ib.Delete(joinIndexKey(value, []byte(id))); err != nil {
			return err
		}
	}
	return primary.Delete([]byte(id))
}

// CountTx returns the number of records in the primary bucket.
func (b *Bucket[T]) CountTx(tx *bolt.Tx) (int, error) {
	primary := b.primary(tx)
	if primary == nil {
		return 0, fmt.Errorf("bucket %s not initialized", b.table)
	}
	return primary.Stats().KeyN, nil
}

// GetAllTx returns every record in the primary bucket, in bbolt's
// natural (primary-key-ascending) order.
func (b *Bucket[T]) GetAllTx(tx *bolt.Tx) ([]T, error) {
	primary := b.primary(tx)
	if primary == nil {
		return nil, fmt.Errorf("bucket %s not initialized", b.table)
	}
	var out []T
	err := primary.ForEach(func(_, v []byte) error {
		var record T
		if err := json.Unmarshal(v, &record); err != nil {
			return err
		}
		out = append(out, record)
		return nil
	})
	return out, err
}

// GetAllFromIndexTx returns every record whose index value exactly
// matches value, via a prefix scan of the composite-key index bucket.
func (b *Bucket[T]) GetAllFromIndexTx(tx *bolt.Tx, suffix string, value []byte) ([]T, error) {
	ids, err := b.idsFromIndexTx(tx, suffix, value)
	if err != nil {
		return nil, err
	}
	primary := b.primary(tx)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		data := primary.Get(id)
		if data == nil {
			continue
		}
		var record T
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

// CountFromIndexTx counts records matching an index value without
// deserializing them.
func (b *Bucket[T]) CountFromIndexTx(tx *bolt.Tx, suffix string, value []byte) (int, error) {
	ids, err := b.idsFromIndexTx(tx, suffix, value)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (b *Bucket[T]) idsFromIndexTx(tx *bolt.Tx, suffix string, value []byte) ([][]byte, error) {
	ib := b.index(tx, suffix)
	if ib == nil {
		return nil, fmt.Errorf("index %s/%s not initialized", b.table, suffix)
	}
	for _, idx := range b.indexes {
		if idx.Suffix == suffix && idx.Unique {
			if owner := ib.Get(value); owner != nil {
				return [][]byte{append([]byte(nil), owner...)}, nil
			}
			return nil, nil
		}
	}
	c := ib.Cursor()
	var ids [][]byte
	for k, v := c.Seek(value); k != nil && hasPrefix(k, value); k, v = c.Next() {
		ids = append(ids, append([]byte(nil), v...))
	}
	return ids, nil
}

// RangeTx iterates an ordered index bucket between [lo, hi) composite
// keys (nil lo/hi means unbounded on that side) and returns matching
// records in ascending key order. Used for priority+FIFO batch
// selection and oldest-first error-log eviction.
func (b *Bucket[T]) RangeTx(tx *bolt.Tx, suffix string, lo, hi []byte, limit int) ([]T, error) {
	ib := b.index(tx, suffix)
	if ib == nil {
		return nil, fmt.Errorf("index %s/%s not initialized", b.table, suffix)
	}
	primary := b.primary(tx)
	c := ib.Cursor()
	var out []T
	var k, v []byte
	if lo == nil {
		k, v = c.First()
	} else {
		k, v = c.Seek(lo)
	}
	for ; k != nil; k, v = c.Next() {
		if hi != nil && string(k) >= string(hi) {
			break
		}
		data := primary.Get(v)
		if data == nil {
			continue
		}
		var record T
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, err
		}
		out = append(out, record)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// PrefixSearchTx returns every record whose index value starts with
// prefix, in ascending order. Used for by-name_norm search-as-you-type
// (§3 "prefix search over name_norm is sufficient; full-text search is
// a non-goal") since the composite index key is <value><sep><id> and a
// cursor seek already orders by value first.
func (b *Bucket[T]) PrefixSearchTx(tx *bolt.Tx, suffix string, prefix []byte, limit int) ([]T, error) {
	ib := b.index(tx, suffix)
	if ib == nil {
		return nil, fmt.Errorf("index %s/%s not initialized", b.table, suffix)
	}
	primary := b.primary(tx)
	c := ib.Cursor()
	var out []T
	for k, v := c.Seek(prefix); k != nil && bytesHasPrefix(k, prefix); k, v = c.Next() {
		data := primary.Get(v)
		if data == nil {
			continue
		}
		var record T
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, err
		}
		out = append(out, record)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// PrefixSearch runs PrefixSearchTx in its own read-only transaction.
func (b *Bucket[T]) PrefixSearch(suffix string, prefix []byte, limit int) ([]T, error) {
	var out []T
	err := b.db.View(func(tx *bolt.Tx) error {
		var innerErr error
		out, innerErr = b.PrefixSearchTx(tx, suffix, prefix, limit)
		return innerErr
	})
	return out, err
}

// Update runs fn inside a single read-write transaction.
func (b *Bucket[T]) Update(fn func(tx *bolt.Tx) error) error {
	return b.db.Update(fn)
}

// View runs fn inside a single read-only transaction.
func (b *Bucket[T]) View(fn func(tx *bolt.Tx) error) error {
	return b.db.View(fn)
}

// Put upserts a record in its own transaction. Prefer PutTx when the
// write must be atomic with other bucket writes.
func (b *Bucket[T]) Put(record T) error {
	return b.db.Update(func(tx *bolt.Tx) error { return b.PutTx(tx, record) })
}

// Get reads one record in its own transaction.
func (b *Bucket[T]) Get(id string) (T, bool, error) {
	var record T
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		var innerErr error
		record, found, innerErr = b.GetTx(tx, id)
		return innerErr
	})
	return record, found, err
}

// Delete removes one record in its own transaction.
func (b *Bucket[T]) Delete(id string) error {
	return b.db.Update(func(tx *bolt.Tx) error { return b.DeleteTx(tx, id) })
}

// Count returns the number of records in its own transaction.
func (b *Bucket[T]) Count() (int, error) {
	var n int
	err := b.db.View(func(tx *bolt.Tx) error {
		var innerErr error
		n, innerErr = b.CountTx(tx)
		return innerErr
	})
	return n, err
}

// GetAll reads every record in its own transaction.
func (b *Bucket[T]) GetAll() ([]T, error) {
	var out []T
	err := b.db.View(func(tx *bolt.Tx) error {
		var innerErr error
		out, innerErr = b.GetAllTx(tx)
		return innerErr
	})
	return out, err
}

// GetAllFromIndex reads every record matching an index value in its own
// transaction.
func (b *Bucket[T]) GetAllFromIndex(suffix string, value []byte) ([]T, error) {
	var out []T
	err := b.db.View(func(tx *bolt.Tx) error {
		var innerErr error
		out, innerErr = b.GetAllFromIndexTx(tx, suffix, value)
		return innerErr
	})
	return out, err
}

// CountFromIndex counts records matching an index value in its own
// transaction.
func (b *Bucket[T]) CountFromIndex(suffix string, value []byte) (int, error) {
	var n int
	err := b.db.View(func(tx *bolt.Tx) error {
		var innerErr error
		n, innerErr = b.CountFromIndexTx(tx, suffix, value)
		return innerErr
	})
	return n, err
}

// Range reads an ordered slice of records in its own transaction.
func (b *Bucket[T]) Range(suffix string, lo, hi []byte, limit int) ([]T, error) {
	var out []T
	err := b.db.View(func(tx *bolt.Tx) error {
		var innerErr error
		out, innerErr = b.RangeTx(tx, suffix, lo, hi, limit)
		return innerErr
	})
	return out, err
}

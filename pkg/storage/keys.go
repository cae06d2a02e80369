package storage

import (
	"encoding/binary"
	"strings"
	"time"
)

// Composite index keys are built as <value bytes><0x00><primary key bytes>
// so that a single bbolt bucket cursor can serve both equality lookups
// (GetAllFromIndex, by prefix) and ordered range scans (Range, by full
// key comparison) without a second bucket per index.
const keySep = 0x00

// farFuture is the sentinel used to encode "no scheduled retry" so such
// operations sort after any real NextRetryAt and never match a
// "due <= now" range scan. int64 nanoseconds since the epoch overflow
// before year 2262, so this picks a safely-representable far date
// rather than a theoretical time.Time maximum.
var farFuture = time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC)

func joinIndexKey(value, primaryKey []byte) []byte {
	buf := make([]byte, 0, len(value)+1+len(primaryKey))
	buf = append(buf, value...)
	buf = append(buf, keySep)
	buf = append(buf, primaryKey...)
	return buf
}

// encodeTime renders a time as a big-endian unix-nano byte string, so
// byte-wise comparison (what bbolt cursors use) matches chronological
// order. Used for by-created-at, by-next-retry, by-updated_at, by-date.
func encodeTime(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.UTC().UnixNano()))
	return buf
}

// encodeString lower-cases nothing on its own; callers normalize before
// calling. It exists mostly for symmetry/readability at call sites.
func encodeString(s string) []byte {
	return []byte(s)
}

// encodeUint8 encodes a single small ordinal (e.g. priority rank) so it
// sorts before the timestamp component of a composite ordering key.
func encodeUint8(v uint8) []byte {
	return []byte{v}
}

// splitPrimaryKey recovers the primary key suffix from a composite index
// key, given the length of the value prefix that was used to build it.
func splitPrimaryKey(indexKey []byte, valueLen int) []byte {
	if len(indexKey) <= valueLen+1 {
		return nil
	}
	return indexKey[valueLen+1:]
}

// hasPrefix reports whether an index key was built from the given value
// bytes (i.e. its fixed-length value segment matches exactly and is
// followed by the separator).
func hasPrefix(indexKey, value []byte) bool {
	if len(indexKey) < len(value)+1 {
		return false
	}
	if indexKey[len(value)] != keySep {
		return false
	}
	return string(indexKey[:len(value)]) == string(value)
}

// bytesHasPrefix reports whether b starts with prefix, for raw
// composite-key prefix scans (by-name_norm search-as-you-type) where
// the prefix need not end on a keySep boundary.
func bytesHasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	return string(b[:len(prefix)]) == string(prefix)
}

// bucketName joins a table and suffix into a bbolt bucket name, e.g.
// "deliveries" + "by-status" -> "deliveries__by-status".
func bucketName(table, suffix string) []byte {
	var b strings.Builder
	b.WriteString(table)
	if suffix != "" {
		b.WriteString("__")
		b.WriteString(suffix)
	}
	return []byte(b.String())
}

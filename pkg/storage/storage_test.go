package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cocoasync/pkg/types"
	bolt "go.etcd.io/bbolt"
)

func TestOpenStampsCurrentSchemaVersionOnFreshStore(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	version, found, err := store.SchemaVersion()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestPeekSchemaVersionMatchesOpenStore(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	version, found, err := PeekSchemaVersion(dir)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestPeekSchemaVersionNotFoundForEmptyDir(t *testing.T) {
	_, found, err := PeekSchemaVersion(t.TempDir())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDestroyResetsEmbeddedStoreButKeepsAux(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Aux().PutQueueBackup("pre_migration_v3", []byte(`[]`)))
	require.NoError(t, store.Destroy())

	_, found, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.False(t, found, "destroy wipes the embedded store's schema_version record")

	key, data, found, err := store.Aux().LatestQueueBackup()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "pre_migration_v3", key)
	assert.Equal(t, []byte(`[]`), data)
}

func TestAuxLatestQueueBackupReturnsNewestByKeyOrder(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Aux().PutQueueBackup("pre_migration_v2", []byte(`"older"`)))
	require.NoError(t, store.Aux().PutQueueBackup("pre_migration_v3", []byte(`"newer"`)))

	key, data, found, err := store.Aux().LatestQueueBackup()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "pre_migration_v3", key)
	assert.Equal(t, `"newer"`, string(data))
}

func TestAuxLatestQueueBackupNotFoundWhenEmpty(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	_, _, found, err := store.Aux().LatestQueueBackup()
	require.NoError(t, err)
	assert.False(t, found)
}

func seedQueueOps(t *testing.T, s *Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		op := types.QueuedOperation{
			ID:             idForSeed(i),
			IdempotencyKey: "idem-" + idForSeed(i),
			Type:           types.OpCreate,
			Table:          types.TablePlanters,
			RecordID:       "rec-" + idForSeed(i),
			Priority:       types.PriorityNormal,
			Status:         types.StatusPending,
			Data:           map[string]any{"n": i},
			CreatedAt:      time.Unix(int64(1700000000+i), 0).UTC(),
			QueuedAt:       time.Unix(int64(1700000000+i), 0).UTC(),
		}
		require.NoError(t, s.Queue.Put(op))
	}
}

func idForSeed(i int) string {
	return "op-" + string(rune('a'+i))
}

// TestMigratePreservesQueueDepth covers P12: for any migration v->v',
// the queue's record count before the migration must equal its count
// after. The no-op migration steps never touch ops_queue themselves,
// so this mainly guards against the pipeline's bucket-rewiring
// accidentally dropping or duplicating queued work.
func TestMigratePreservesQueueDepth(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	seedQueueOps(t, store, 3)
	before, err := store.Queue.Count()
	require.NoError(t, err)
	require.Equal(t, 3, before)

	require.NoError(t, store.db.Update(func(tx *bolt.Tx) error {
		return store.writeSchemaVersionTx(tx, 2)
	}))
	require.NoError(t, store.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	version, found, err := reopened.SchemaVersion()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, CurrentSchemaVersion, version)

	after, err := reopened.Queue.Count()
	require.NoError(t, err)
	assert.Equal(t, before, after, "migration must preserve queue depth (P12)")
}

// TestMigrateStepFailureLeavesStoreAtPriorVersion covers review comment
// 1: an ordinary migrationStep error must not trigger rebuildFresh. The
// failing db.Update rolls back on its own, so the on-disk version and
// queue contents must be exactly what they were before Open was called.
func TestMigrateStepFailureLeavesStoreAtPriorVersion(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	seedQueueOps(t, store, 2)
	require.NoError(t, store.db.Update(func(tx *bolt.Tx) error {
		return store.writeSchemaVersionTx(tx, 3)
	}))
	require.NoError(t, store.Close())

	original := migrationSteps
	stepErr := errors.New("boom: v3->v4 step failed")
	migrationSteps = []migrationStep{
		original[0],
		original[1],
		func(tx *bolt.Tx, s *Store) error { return stepErr },
	}
	defer func() { migrationSteps = original }()

	_, err = Open(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMigrationStepFailed)
	assert.NotErrorIs(t, err, ErrMigrationFatal)

	version, found, err := PeekSchemaVersion(dir)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 3, version, "a step failure must leave the store at v_k")

	count := countRawBucketKeys(t, dir, "ops_queue")
	assert.Equal(t, 2, count, "a rolled-back transaction must not lose queued operations")
}

// TestMigrateIntegrityFailureRebuildsAndRestoresQueueBackup covers
// review comments 2 and 4: a post-migration integrity failure (as
// opposed to an ordinary step failure) is the only case that should
// trigger rebuildFresh, and the rebuild must restore the queue backup
// taken before the migration ran.
func TestMigrateIntegrityFailureRebuildsAndRestoresQueueBackup(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	seedQueueOps(t, store, 2)
	require.NoError(t, store.db.Update(func(tx *bolt.Tx) error {
		return store.writeSchemaVersionTx(tx, 3)
	}))
	require.NoError(t, store.Close())

	original := migrationSteps
	migrationSteps = []migrationStep{
		original[0],
		original[1],
		func(tx *bolt.Tx, s *Store) error {
			return tx.DeleteBucket(bucketName("ops_queue", ""))
		},
	}
	defer func() { migrationSteps = original }()

	reopened, err := Open(dir)
	require.NoError(t, err, "a successful rebuild must let Open succeed")
	defer reopened.Close()

	version, found, err := reopened.SchemaVersion()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, CurrentSchemaVersion, version)

	after, err := reopened.Queue.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, after, "rebuildFresh must restore the pre-migration queue backup")
}

func countRawBucketKeys(t *testing.T, dir, table string) int {
	t.Helper()
	db, err := bolt.Open(filepath.Join(dir, dbFileName), 0o600, &bolt.Options{ReadOnly: true})
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(table, ""))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	}))
	return n
}

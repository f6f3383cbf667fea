package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogs = Collection{Name: "sign_in_logs", Key: "logId"}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, store Store, coll Collection) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.EnsureCollection(ctx, coll))
	require.NoError(t, store.EnsureCollection(ctx, coll), "ensure must be repeatable")

	count, err := store.Count(ctx, coll)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	doc := Document{
		"logId":           "log-1",
		"createdDateTime": "2024-05-01T10:00:00Z",
		"status":          map[string]any{"errorCode": 50126, "failureReason": nil},
		"isInteractive":   true,
	}
	inserted, err := store.Upsert(ctx, coll, doc)
	require.NoError(t, err)
	assert.True(t, inserted, "first upsert creates the document")

	inserted, err = store.Upsert(ctx, coll, doc)
	require.NoError(t, err)
	assert.False(t, inserted, "second upsert must not create a second document")

	count, err = store.Count(ctx, coll)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	found, ok, err := store.FindOne(ctx, coll, "log-1")
	require.NoError(t, err)
	require.True(t, ok)
	assertSameJSON(t, doc, found)

	_, ok, err = store.FindOne(ctx, coll, "log-missing")
	require.NoError(t, err)
	assert.False(t, ok)

	err = store.Insert(ctx, coll, Document{"logId": "log-1"})
	assert.True(t, errors.Is(err, ErrDuplicateKey), "expected ErrDuplicateKey, got %v", err)

	require.NoError(t, store.Insert(ctx, coll, Document{"logId": "log-2", "riskState": "none"}))
	require.NoError(t, store.UpdateFields(ctx, coll, "log-2", Document{"riskState": "atRisk"}))
	found, ok, err = store.FindOne(ctx, coll, "log-2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "atRisk", found["riskState"])
	assert.Equal(t, "log-2", found["logId"], "fields outside the update are kept")

	err = store.UpdateFields(ctx, coll, "log-missing", Document{"riskState": "none"})
	assert.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)

	_, err = store.Upsert(ctx, coll, Document{"createdDateTime": "2024-05-01T10:00:00Z"})
	assert.True(t, errors.Is(err, ErrInvalidInput), "expected ErrInvalidInput for keyless document, got %v", err)

	count, err = store.Count(ctx, coll)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func assertSameJSON(t *testing.T, want, got Document) {
	t.Helper()
	wantJSON, err := json.Marshal(want)
	require.NoError(t, err)
	gotJSON, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(wantJSON), string(gotJSON))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(), testLogs)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	doc := Document{"logId": "log-1", "riskState": "none"}
	_, err := store.Upsert(ctx, testLogs, doc)
	require.NoError(t, err)
	doc["riskState"] = "mutated"

	found, ok, err := store.FindOne(ctx, testLogs, "log-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "none", found["riskState"])
	found["riskState"] = "mutated again"

	again, _, err := store.FindOne(ctx, testLogs, "log-1")
	require.NoError(t, err)
	assert.Equal(t, "none", again["riskState"])
}

func TestJSONFileStore(t *testing.T) {
	exerciseStore(t, NewJSONFileStore(filepath.Join(t.TempDir(), "store.json")), testLogs)
}

func TestJSONFileStorePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "store.json")
	first := NewJSONFileStore(path)
	_, err := first.Upsert(ctx, testLogs, Document{"logId": "log-1", "riskState": "none"})
	require.NoError(t, err)

	second := NewJSONFileStore(path)
	found, ok, err := second.FindOne(ctx, testLogs, "log-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "none", found["riskState"])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestJSONFileStoreRollsBackFailedSave(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")
	store := NewJSONFileStore(path)
	require.NoError(t, store.Ping(ctx))

	// A non-empty directory at the target path makes the final rename fail.
	require.NoError(t, os.MkdirAll(filepath.Join(path, "occupied"), 0o755))
	_, err := store.Upsert(ctx, testLogs, Document{"logId": "log-1"})
	require.Error(t, err)

	_, ok, err := store.FindOne(ctx, testLogs, "log-1")
	require.NoError(t, err)
	assert.False(t, ok, "unsaved write must not stay visible")

	require.NoError(t, os.RemoveAll(path))
	inserted, err := store.Upsert(ctx, testLogs, Document{"logId": "log-1"})
	require.NoError(t, err)
	assert.True(t, inserted, "retry after a failed save creates the document")
}

func TestSQLiteStorePingFailsForUnopenablePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "sub", "graphsync.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	assert.Error(t, store.Ping(context.Background()))
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	exerciseStore(t, store, testLogs)
}

func TestSQLiteStoreOnDisk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graphsync.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	users := Collection{Name: "users", Key: "userId"}
	require.NoError(t, store.EnsureCollection(ctx, users))
	require.NoError(t, store.Insert(ctx, users, Document{"userId": "u1", "businessPhones": []string{}}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	found, ok, err := reopened.FindOne(ctx, users, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []any{}, found["businessPhones"])
}

func TestSQLRebind(t *testing.T) {
	pg := &SQLStore{dialect: postgresDialect}
	assert.Equal(t, "UPDATE t SET a = $1 WHERE b = $2", pg.rebind("UPDATE t SET a = ? WHERE b = ?"))
	lite := &SQLStore{dialect: sqliteDialect}
	assert.Equal(t, "UPDATE t SET a = ? WHERE b = ?", lite.rebind("UPDATE t SET a = ? WHERE b = ?"))
}

func TestPostgresIntegrationStore(t *testing.T) {
	dsn := os.Getenv("GRAPHSYNC_POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("GRAPHSYNC_POSTGRES_TEST_DSN is not set")
	}
	store, err := NewPostgresStore(dsn)
	require.NoError(t, err)
	store.tablePrefix = "it_" + uuid.NewString()[:8] + "_"
	coll := testLogs
	t.Cleanup(func() {
		if store.db != nil {
			_, _ = store.db.Exec("DROP TABLE IF EXISTS " + store.table(coll))
		}
		_ = store.Close()
	})
	exerciseStore(t, store, coll)
}

func TestMongoIntegrationStore(t *testing.T) {
	uri := os.Getenv("GRAPHSYNC_MONGO_TEST_URI")
	if uri == "" {
		t.Skip("GRAPHSYNC_MONGO_TEST_URI is not set")
	}
	ctx := context.Background()
	store, err := NewMongoStore(ctx, uri, "graphsync_it_"+uuid.NewString()[:8])
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.db.Drop(context.Background())
		_ = store.Close()
	})
	exerciseStore(t, store, testLogs)
}

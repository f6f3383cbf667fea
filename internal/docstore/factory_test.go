package docstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/agentworkforce/graphsync/internal/config"
)

func TestBuildFromDSNMemory(t *testing.T) {
	store, err := BuildFromDSN(context.Background(), "memory://", Options{})
	if err != nil {
		t.Fatalf("build memory store failed: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected *MemoryStore, got %T", store)
	}
}

func TestBuildFromDSNFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	for _, dsn := range []string{"file://" + path, path} {
		store, err := BuildFromDSN(context.Background(), dsn, Options{})
		if err != nil {
			t.Fatalf("build file store from %q failed: %v", dsn, err)
		}
		fileStore, ok := store.(*JSONFileStore)
		if !ok {
			t.Fatalf("expected *JSONFileStore for %q, got %T", dsn, store)
		}
		if fileStore.Path != path {
			t.Fatalf("expected path %s, got %s", path, fileStore.Path)
		}
	}
}

func TestBuildFromDSNSQL(t *testing.T) {
	store, err := BuildFromDSN(context.Background(), "sqlite://:memory:", Options{})
	if err != nil {
		t.Fatalf("build sqlite store failed: %v", err)
	}
	sqlStore, ok := store.(*SQLStore)
	if !ok || sqlStore.dialect.driver != "sqlite" || sqlStore.dsn != ":memory:" {
		t.Fatalf("expected in-memory sqlite store, got %#v", store)
	}

	store, err = BuildFromDSN(context.Background(), "postgres://localhost/graphsync?sslmode=disable", Options{})
	if err != nil {
		t.Fatalf("build postgres store failed: %v", err)
	}
	if sqlStore, ok := store.(*SQLStore); !ok || sqlStore.dialect.driver != "postgres" {
		t.Fatalf("expected postgres store, got %#v", store)
	}
}

func TestBuildFromDSNMongoDoesNotDial(t *testing.T) {
	store, err := BuildFromDSN(context.Background(), "mongodb://localhost:27017/directory", Options{})
	if err != nil {
		t.Fatalf("build mongo store failed: %v", err)
	}
	mongoStore, ok := store.(*MongoStore)
	if !ok {
		t.Fatalf("expected *MongoStore, got %T", store)
	}
	if mongoStore.db.Name() != "directory" {
		t.Fatalf("expected database from uri path, got %s", mongoStore.db.Name())
	}
	_ = store.Close()

	store, err = BuildFromDSN(context.Background(), "mongodb://localhost:27017", Options{Database: "audit"})
	if err != nil {
		t.Fatalf("build mongo store failed: %v", err)
	}
	if name := store.(*MongoStore).db.Name(); name != "audit" {
		t.Fatalf("expected explicit database, got %s", name)
	}
	_ = store.Close()
}

func TestLegacyMongoURISelectsItsDatabase(t *testing.T) {
	t.Setenv("MONGO_URI", "mongodb://127.0.0.1:1/legacydb")
	t.Setenv("MONGO_DB_NAME", "")
	t.Setenv("GRAPHSYNC_STORE_DSN", "")
	t.Setenv("GRAPHSYNC_STORE_DATABASE", "")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config failed: %v", err)
	}
	store, err := BuildFromDSN(context.Background(), cfg.Store.DSN, Options{Database: cfg.Store.Database})
	if err != nil {
		t.Fatalf("build mongo store failed: %v", err)
	}
	defer store.Close()
	if name := store.(*MongoStore).db.Name(); name != "legacydb" {
		t.Fatalf("expected database from MONGO_URI path, got %s", name)
	}
}

func TestBuildFromDSNUnsupported(t *testing.T) {
	if _, err := BuildFromDSN(context.Background(), "mysql://localhost/graphsync", Options{}); err == nil {
		t.Fatalf("expected error for mysql scheme")
	}
	if _, err := BuildFromDSN(context.Background(), "redis://localhost", Options{}); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
	if _, err := BuildFromDSN(context.Background(), "  ", Options{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty dsn, got %v", err)
	}
}

func TestRegisterFactoryOverridesScheme(t *testing.T) {
	custom := NewMemoryStore()
	RegisterFactory("Custom", func(ctx context.Context, dsn string, opts Options) (Store, error) {
		return custom, nil
	})
	store, err := BuildFromDSN(context.Background(), "custom://anything", Options{})
	if err != nil {
		t.Fatalf("build registered store failed: %v", err)
	}
	if store != custom {
		t.Fatalf("expected registered factory to be used")
	}
}

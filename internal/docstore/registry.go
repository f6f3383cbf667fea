package docstore

import (
	"context"
	"strings"
	"sync"
)

// Factory builds a Store for a DSN whose scheme it was registered under.
type Factory func(ctx context.Context, dsn string, opts Options) (Store, error)

var factoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{
	factories: map[string]Factory{},
}

func init() {
	sqlite := func(ctx context.Context, dsn string, opts Options) (Store, error) {
		scheme, rest, _ := strings.Cut(dsn, "://")
		path, err := dsnPath(normalizeScheme(scheme), rest)
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(path)
	}
	postgres := func(ctx context.Context, dsn string, opts Options) (Store, error) {
		return NewPostgresStore(dsn)
	}
	mongo := func(ctx context.Context, dsn string, opts Options) (Store, error) {
		return NewMongoStore(ctx, dsn, opts.Database)
	}
	RegisterFactory("sqlite", sqlite)
	RegisterFactory("sqlite3", sqlite)
	RegisterFactory("postgres", postgres)
	RegisterFactory("postgresql", postgres)
	RegisterFactory("mongodb", mongo)
	RegisterFactory("mongodb+srv", mongo)
}

// RegisterFactory makes BuildFromDSN route scheme to factory. A later
// registration for the same scheme replaces the earlier one.
func RegisterFactory(scheme string, factory Factory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	factoryRegistry.mu.Lock()
	defer factoryRegistry.mu.Unlock()
	factoryRegistry.factories[scheme] = factory
}

func lookupFactory(scheme string) (Factory, bool) {
	scheme = normalizeScheme(scheme)
	factoryRegistry.mu.RLock()
	defer factoryRegistry.mu.RUnlock()
	factory, ok := factoryRegistry.factories[scheme]
	return factory, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

package docstore

import (
	"context"
	"fmt"
	"strings"
)

type Options struct {
	// Database selects the Mongo database. Other backends ignore it.
	Database string
}

// BuildFromDSN picks a backend from the DSN scheme:
//
//	file://<path> or a bare path JSON file
//	memory://                    process memory
//
// Every other scheme goes through the factory registry, which starts out with:
//
//	mongodb://, mongodb+srv://   Mongo
//	postgres://, postgresql://   Postgres
//	sqlite://<path>              SQLite (sqlite://:memory: for a private in-memory db)
func BuildFromDSN(ctx context.Context, dsn string, opts Options) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: store dsn is required", ErrInvalidInput)
	}
	scheme, rest, hasScheme := strings.Cut(dsn, "://")
	if !hasScheme {
		scheme, rest = "", dsn
	}
	scheme = normalizeScheme(scheme)
	switch scheme {
	case "", "file":
		path, err := dsnPath(scheme, rest)
		if err != nil {
			return nil, err
		}
		return NewJSONFileStore(path), nil
	case "memory", "mem", "inmem":
		return NewMemoryStore(), nil
	}
	factory, ok := lookupFactory(scheme)
	if !ok {
		return nil, fmt.Errorf("unsupported store scheme: %s", scheme)
	}
	return factory(ctx, dsn, opts)
}

func dsnPath(scheme, rest string) (string, error) {
	path := strings.TrimSpace(rest)
	if path == "" {
		return "", fmt.Errorf("%w: %s dsn has no path", ErrInvalidInput, scheme)
	}
	return path, nil
}

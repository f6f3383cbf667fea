package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("document not found")
	ErrDuplicateKey = errors.New("duplicate key")
)

// Document is a stored record. Values are limited to what encoding/json
// produces or accepts: strings, numbers, bools, nil, nested Documents or
// maps, and slices.
type Document map[string]any

// Collection names a set of documents and the field that uniquely keys them.
// The key field is distinct from any identity the backend assigns itself.
type Collection struct {
	Name string
	Key  string
}

func (c Collection) validate() error {
	if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Key) == "" {
		return fmt.Errorf("%w: collection name and key are required", ErrInvalidInput)
	}
	return nil
}

// KeyOf returns the string form of the document's key field, or "" when it
// is missing.
func (c Collection) KeyOf(doc Document) string {
	if doc == nil {
		return ""
	}
	switch v := doc[c.Key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Store is a document store with a unique key per collection. Every write
// touches a single document and is atomic at that granularity.
type Store interface {
	// Ping verifies the backend is reachable. Backends that connect lazily
	// connect here.
	Ping(ctx context.Context) error
	// EnsureCollection creates the collection and its unique key index when
	// they do not exist yet.
	EnsureCollection(ctx context.Context, coll Collection) error
	// Upsert writes doc keyed on coll.Key, creating it when absent. inserted
	// reports whether the write created the document.
	Upsert(ctx context.Context, coll Collection, doc Document) (inserted bool, err error)
	// Insert creates doc and fails with ErrDuplicateKey when the key exists.
	Insert(ctx context.Context, coll Collection, doc Document) error
	FindOne(ctx context.Context, coll Collection, key string) (Document, bool, error)
	// UpdateFields sets exactly the given fields on an existing document.
	UpdateFields(ctx context.Context, coll Collection, key string, fields Document) error
	Count(ctx context.Context, coll Collection) (int64, error)
	Close() error
}

// Clone deep-copies a document through its JSON form, which is also the
// shape every backend hands back on reads.
func (d Document) Clone() (Document, error) {
	if d == nil {
		return nil, nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var clone Document
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	return clone, nil
}

func requireKey(coll Collection, doc Document) (string, error) {
	if err := coll.validate(); err != nil {
		return "", err
	}
	key := coll.KeyOf(doc)
	if key == "" {
		return "", fmt.Errorf("%w: document has no %s", ErrInvalidInput, coll.Key)
	}
	return key, nil
}

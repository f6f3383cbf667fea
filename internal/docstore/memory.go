package docstore

import (
	"context"
	"fmt"
	"sync"
)

type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: map[string]map[string]Document{}}
}

func (s *MemoryStore) EnsureCollection(ctx context.Context, coll Collection) error {
	if err := coll.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collectionLocked(coll.Name)
	return nil
}

func (s *MemoryStore) Upsert(ctx context.Context, coll Collection, doc Document) (bool, error) {
	key, err := requireKey(coll, doc)
	if err != nil {
		return false, err
	}
	clone, err := doc.Clone()
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collectionLocked(coll.Name)
	existing, ok := docs[key]
	if !ok {
		docs[key] = clone
		return true, nil
	}
	for field, value := range clone {
		existing[field] = value
	}
	return false, nil
}

func (s *MemoryStore) Insert(ctx context.Context, coll Collection, doc Document) error {
	key, err := requireKey(coll, doc)
	if err != nil {
		return err
	}
	clone, err := doc.Clone()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collectionLocked(coll.Name)
	if _, ok := docs[key]; ok {
		return fmt.Errorf("%w: %s %s=%s", ErrDuplicateKey, coll.Name, coll.Key, key)
	}
	docs[key] = clone
	return nil
}

func (s *MemoryStore) FindOne(ctx context.Context, coll Collection, key string) (Document, bool, error) {
	if err := coll.validate(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.collectionLocked(coll.Name)[key]
	if !ok {
		return nil, false, nil
	}
	clone, err := doc.Clone()
	if err != nil {
		return nil, false, err
	}
	return clone, true, nil
}

func (s *MemoryStore) UpdateFields(ctx context.Context, coll Collection, key string, fields Document) error {
	if err := coll.validate(); err != nil {
		return err
	}
	clone, err := fields.Clone()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.collectionLocked(coll.Name)[key]
	if !ok {
		return fmt.Errorf("%w: %s %s=%s", ErrNotFound, coll.Name, coll.Key, key)
	}
	for field, value := range clone {
		doc[field] = value
	}
	return nil
}

func (s *MemoryStore) Count(ctx context.Context, coll Collection) (int64, error) {
	if err := coll.validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.collections[coll.Name])), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) collectionLocked(name string) map[string]Document {
	docs, ok := s.collections[name]
	if !ok {
		docs = map[string]Document{}
		s.collections[name] = docs
	}
	return docs
}

// snapshot deep-copies every collection so a failed persist can be undone.
func (s *MemoryStore) snapshot() (map[string]map[string]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]Document, len(s.collections))
	for name, docs := range s.collections {
		copied := make(map[string]Document, len(docs))
		for key, doc := range docs {
			clone, err := doc.Clone()
			if err != nil {
				return nil, err
			}
			copied[key] = clone
		}
		out[name] = copied
	}
	return out, nil
}

func (s *MemoryStore) restore(collections map[string]map[string]Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections = collections
}

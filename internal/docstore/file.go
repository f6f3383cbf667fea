package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// JSONFileStore keeps every collection in memory and rewrites a single JSON
// file after each successful write.
type JSONFileStore struct {
	Path string

	mu       sync.Mutex
	loadOnce sync.Once
	loadErr  error
	mem      *MemoryStore
}

func NewJSONFileStore(path string) *JSONFileStore {
	return &JSONFileStore{Path: strings.TrimSpace(path), mem: NewMemoryStore()}
}

func (s *JSONFileStore) EnsureCollection(ctx context.Context, coll Collection) error {
	return s.mutate(func() error {
		return s.mem.EnsureCollection(ctx, coll)
	})
}

func (s *JSONFileStore) Upsert(ctx context.Context, coll Collection, doc Document) (bool, error) {
	var inserted bool
	err := s.mutate(func() error {
		var err error
		inserted, err = s.mem.Upsert(ctx, coll, doc)
		return err
	})
	return inserted, err
}

func (s *JSONFileStore) Insert(ctx context.Context, coll Collection, doc Document) error {
	return s.mutate(func() error {
		return s.mem.Insert(ctx, coll, doc)
	})
}

func (s *JSONFileStore) FindOne(ctx context.Context, coll Collection, key string) (Document, bool, error) {
	if err := s.load(); err != nil {
		return nil, false, err
	}
	return s.mem.FindOne(ctx, coll, key)
}

func (s *JSONFileStore) UpdateFields(ctx context.Context, coll Collection, key string, fields Document) error {
	return s.mutate(func() error {
		return s.mem.UpdateFields(ctx, coll, key, fields)
	})
}

func (s *JSONFileStore) Count(ctx context.Context, coll Collection) (int64, error) {
	if err := s.load(); err != nil {
		return 0, err
	}
	return s.mem.Count(ctx, coll)
}

// Ping loads the file, so an unreadable or corrupt store fails before use.
func (s *JSONFileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.load()
}

func (s *JSONFileStore) Close() error {
	return nil
}

func (s *JSONFileStore) mutate(apply func() error) error {
	if err := s.load(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	before, err := s.mem.snapshot()
	if err != nil {
		return err
	}
	if err := apply(); err != nil {
		return err
	}
	if err := s.saveLocked(); err != nil {
		// Memory must not run ahead of what the file holds.
		s.mem.restore(before)
		return err
	}
	return nil
}

func (s *JSONFileStore) load() error {
	s.loadOnce.Do(func() {
		if s.Path == "" {
			s.loadErr = ErrInvalidInput
			return
		}
		data, err := os.ReadFile(s.Path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				s.loadErr = err
			}
			return
		}
		collections := map[string]map[string]Document{}
		if err := json.Unmarshal(data, &collections); err != nil {
			s.loadErr = err
			return
		}
		s.mem.mu.Lock()
		s.mem.collections = collections
		s.mem.mu.Unlock()
	})
	return s.loadErr
}

func (s *JSONFileStore) saveLocked() error {
	s.mem.mu.Lock()
	data, err := json.MarshalIndent(s.mem.collections, "", "  ")
	s.mem.mu.Unlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(s.Path, data, 0o600)
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}

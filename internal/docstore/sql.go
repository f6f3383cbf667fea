package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const sqlOperationTimeout = 5 * time.Second

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type sqlDialect struct {
	driver       string
	docType      string
	dollarParams bool
	lockSuffix   string
}

var (
	postgresDialect = sqlDialect{driver: "postgres", docType: "JSONB", dollarParams: true, lockSuffix: " FOR UPDATE"}
	sqliteDialect   = sqlDialect{driver: "sqlite", docType: "TEXT"}
)

// SQLStore keeps each collection in its own table, one row per document,
// with the document body serialized as JSON.
type SQLStore struct {
	dsn         string
	dialect     sqlDialect
	tablePrefix string
	openDB      sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &SQLStore{dsn: dsn, dialect: postgresDialect, openDB: sql.Open}, nil
}

// NewSQLiteStore opens a database file, or a private in-memory database for
// ":memory:".
func NewSQLiteStore(path string) (*SQLStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &SQLStore{dsn: path, dialect: sqliteDialect, openDB: sql.Open}, nil
}

func (s *SQLStore) EnsureCollection(ctx context.Context, coll Collection) error {
	if err := coll.validate(); err != nil {
		return err
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			record_key TEXT PRIMARY KEY,
			doc %s NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, s.table(coll), s.dialect.docType)
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *SQLStore) Upsert(ctx context.Context, coll Collection, doc Document) (bool, error) {
	key, err := requireKey(coll, doc)
	if err != nil {
		return false, err
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return false, err
	}
	if err := s.ensureReady(); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	inserted := false
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		created, err := s.insertIfAbsent(ctx, tx, coll, key, payload)
		if err != nil || created {
			inserted = created
			return err
		}
		current, found, err := s.selectDoc(ctx, tx, coll, key, true)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s %s=%s", ErrNotFound, coll.Name, coll.Key, key)
		}
		for field, value := range doc {
			current[field] = value
		}
		return s.updateDoc(ctx, tx, coll, key, current)
	})
	return inserted, err
}

func (s *SQLStore) Insert(ctx context.Context, coll Collection, doc Document) error {
	key, err := requireKey(coll, doc)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		created, err := s.insertIfAbsent(ctx, tx, coll, key, payload)
		if err != nil {
			return err
		}
		if !created {
			return fmt.Errorf("%w: %s %s=%s", ErrDuplicateKey, coll.Name, coll.Key, key)
		}
		return nil
	})
}

func (s *SQLStore) FindOne(ctx context.Context, coll Collection, key string) (Document, bool, error) {
	if err := coll.validate(); err != nil {
		return nil, false, err
	}
	if err := s.ensureReady(); err != nil {
		return nil, false, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := s.rebind(fmt.Sprintf("SELECT doc FROM %s WHERE record_key = ?", s.table(coll)))
	var payload string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var doc Document
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (s *SQLStore) UpdateFields(ctx context.Context, coll Collection, key string, fields Document) error {
	if err := coll.validate(); err != nil {
		return err
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		current, found, err := s.selectDoc(ctx, tx, coll, key, true)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s %s=%s", ErrNotFound, coll.Name, coll.Key, key)
		}
		for field, value := range fields {
			current[field] = value
		}
		return s.updateDoc(ctx, tx, coll, key, current)
	})
}

func (s *SQLStore) Count(ctx context.Context, coll Collection) (int64, error) {
	if err := coll.validate(); err != nil {
		return 0, err
	}
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	var count int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table(coll))).Scan(&count)
	return count, err
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB(s.dialect.driver, s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		if s.dialect.driver == sqliteDialect.driver {
			// An in-memory sqlite database lives and dies with its connection.
			db.SetMaxOpenConns(1)
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) insertIfAbsent(ctx context.Context, tx *sql.Tx, coll Collection, key string, payload []byte) (bool, error) {
	query := s.rebind(fmt.Sprintf(`
		INSERT INTO %s (record_key, doc, created_at, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (record_key) DO NOTHING`, s.table(coll)))
	result, err := tx.ExecContext(ctx, query, key, string(payload))
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *SQLStore) selectDoc(ctx context.Context, tx *sql.Tx, coll Collection, key string, lock bool) (Document, bool, error) {
	query := fmt.Sprintf("SELECT doc FROM %s WHERE record_key = ?", s.table(coll))
	if lock {
		query += s.dialect.lockSuffix
	}
	var payload string
	err := tx.QueryRowContext(ctx, s.rebind(query), key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	doc := Document{}
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (s *SQLStore) updateDoc(ctx context.Context, tx *sql.Tx, coll Collection, key string, doc Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	query := s.rebind(fmt.Sprintf(
		"UPDATE %s SET doc = ?, updated_at = CURRENT_TIMESTAMP WHERE record_key = ?", s.table(coll)))
	_, err = tx.ExecContext(ctx, query, string(payload), key)
	return err
}

func (s *SQLStore) table(coll Collection) string {
	return quoteIdentifier(s.tablePrefix + coll.Name)
}

// rebind rewrites ? placeholders as $1, $2, ... for postgres.
func (s *SQLStore) rebind(query string) string {
	if !s.dialect.dollarParams {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

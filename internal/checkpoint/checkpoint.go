// Package checkpoint persists the per-stream low-water mark that bounds the
// next incremental fetch.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/graphsync/internal/docstore"
)

// TimestampLayout is the stored form of LastFetchTimestamp: UTC with
// millisecond precision, which is also what the remote $filter accepts.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Collection holds one document per stream keyed by its "type" field.
var Collection = docstore.Collection{Name: "fetch_metadata", Key: "type"}

const (
	fieldStream    = "type"
	fieldTimestamp = "lastFetchTimestamp"
	fieldRecordID  = "lastLogId"
	fieldUpdatedAt = "updatedAt"
)

var ErrInvalidCheckpoint = errors.New("invalid checkpoint")

type Checkpoint struct {
	Stream             string
	LastFetchTimestamp time.Time
	LastRecordID       string
	UpdatedAt          time.Time
}

// FilterValue renders the timestamp the way it is stored and queried.
func (c Checkpoint) FilterValue() string {
	return FormatTimestamp(c.LastFetchTimestamp)
}

func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts RFC 3339 at any sub-second precision, as the remote
// API reports it.
func ParseTimestamp(value string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

type Store struct {
	docs docstore.Store
	now  func() time.Time

	mu      sync.Mutex
	ensured bool
}

func NewStore(docs docstore.Store) *Store {
	return &Store{docs: docs, now: time.Now}
}

// Read returns the stored checkpoint for stream. ok is false when none has
// been written yet, meaning the stream should be fetched without a bound.
func (s *Store) Read(ctx context.Context, stream string) (Checkpoint, bool, error) {
	if err := s.ensure(ctx); err != nil {
		return Checkpoint{}, false, err
	}
	doc, ok, err := s.docs.FindOne(ctx, Collection, stream)
	if err != nil || !ok {
		return Checkpoint{}, false, err
	}
	cp, err := decode(doc)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("decode checkpoint %s: %w", stream, err)
	}
	return cp, true, nil
}

// Write replaces the stream's checkpoint. Timestamp and record id are stored
// in one document write.
func (s *Store) Write(ctx context.Context, cp Checkpoint) error {
	cp.Stream = strings.TrimSpace(cp.Stream)
	if cp.Stream == "" || cp.LastFetchTimestamp.IsZero() {
		return fmt.Errorf("%w: stream and timestamp are required", ErrInvalidCheckpoint)
	}
	if err := s.ensure(ctx); err != nil {
		return err
	}
	updatedAt := cp.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}
	_, err := s.docs.Upsert(ctx, Collection, docstore.Document{
		fieldStream:    cp.Stream,
		fieldTimestamp: FormatTimestamp(cp.LastFetchTimestamp),
		fieldRecordID:  cp.LastRecordID,
		fieldUpdatedAt: FormatTimestamp(updatedAt),
	})
	return err
}

// List returns the checkpoints that exist among streams, in the given order.
func (s *Store) List(ctx context.Context, streams ...string) ([]Checkpoint, error) {
	out := make([]Checkpoint, 0, len(streams))
	for _, stream := range streams {
		cp, ok, err := s.Read(ctx, stream)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, cp)
		}
	}
	return out, nil
}

func (s *Store) ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}
	if err := s.docs.EnsureCollection(ctx, Collection); err != nil {
		return err
	}
	s.ensured = true
	return nil
}

func decode(doc docstore.Document) (Checkpoint, error) {
	cp := Checkpoint{Stream: Collection.KeyOf(doc)}
	ts, err := timeField(doc[fieldTimestamp])
	if err != nil {
		return Checkpoint{}, err
	}
	if ts.IsZero() {
		return Checkpoint{}, fmt.Errorf("%w: missing %s", ErrInvalidCheckpoint, fieldTimestamp)
	}
	cp.LastFetchTimestamp = ts
	if id, ok := doc[fieldRecordID].(string); ok {
		cp.LastRecordID = id
	}
	if updatedAt, err := timeField(doc[fieldUpdatedAt]); err == nil {
		cp.UpdatedAt = updatedAt
	}
	return cp, nil
}

// timeField accepts the stored string form and native date values written by
// older versions of the data layout.
func timeField(value any) (time.Time, error) {
	switch v := value.(type) {
	case nil:
		return time.Time{}, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return time.Time{}, nil
		}
		return ParseTimestamp(v)
	case time.Time:
		return v.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unexpected timestamp type %T", ErrInvalidCheckpoint, value)
	}
}

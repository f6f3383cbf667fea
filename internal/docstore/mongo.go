package docstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DefaultMongoDatabase  = "graphsync"
	mongoOperationTimeout = 10 * time.Second
)

// MongoStore maps each Collection onto a Mongo collection with a unique
// index on its key field. Mongo's own _id is never exposed.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore connects lazily: no server round trip happens until the
// first operation. database falls back to the URI path, then to
// DefaultMongoDatabase.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, ErrInvalidInput
	}
	database = strings.TrimSpace(database)
	if database == "" {
		database = mongoDatabaseFromURI(uri)
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return &MongoStore{client: client, db: client.Database(database)}, nil
}

func (s *MongoStore) EnsureCollection(ctx context.Context, coll Collection) error {
	if err := coll.validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, mongoOperationTimeout)
	defer cancel()
	_, err := s.db.Collection(coll.Name).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: coll.Key, Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (s *MongoStore) Upsert(ctx context.Context, coll Collection, doc Document) (bool, error) {
	key, err := requireKey(coll, doc)
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, mongoOperationTimeout)
	defer cancel()
	result, err := s.db.Collection(coll.Name).UpdateOne(ctx,
		bson.M{coll.Key: key},
		bson.M{"$set": bson.M(doc)},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, err
	}
	return result.UpsertedCount > 0, nil
}

func (s *MongoStore) Insert(ctx context.Context, coll Collection, doc Document) error {
	key, err := requireKey(coll, doc)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, mongoOperationTimeout)
	defer cancel()
	if _, err := s.db.Collection(coll.Name).InsertOne(ctx, bson.M(doc)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s %s=%s", ErrDuplicateKey, coll.Name, coll.Key, key)
		}
		return err
	}
	return nil
}

func (s *MongoStore) FindOne(ctx context.Context, coll Collection, key string) (Document, bool, error) {
	if err := coll.validate(); err != nil {
		return nil, false, err
	}
	ctx, cancel := context.WithTimeout(ctx, mongoOperationTimeout)
	defer cancel()
	var raw bson.M
	err := s.db.Collection(coll.Name).FindOne(ctx, bson.M{coll.Key: key}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	delete(raw, "_id")
	converted, _ := fromBSON(raw).(map[string]any)
	return Document(converted), true, nil
}

func (s *MongoStore) UpdateFields(ctx context.Context, coll Collection, key string, fields Document) error {
	if err := coll.validate(); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, mongoOperationTimeout)
	defer cancel()
	result, err := s.db.Collection(coll.Name).UpdateOne(ctx,
		bson.M{coll.Key: key},
		bson.M{"$set": bson.M(fields)},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s %s=%s", ErrNotFound, coll.Name, coll.Key, key)
	}
	return nil
}

func (s *MongoStore) Count(ctx context.Context, coll Collection) (int64, error) {
	if err := coll.validate(); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, mongoOperationTimeout)
	defer cancel()
	return s.db.Collection(coll.Name).CountDocuments(ctx, bson.M{})
}

func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOperationTimeout)
	defer cancel()
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoOperationTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// fromBSON converts decoded driver values into the plain shapes the other
// backends return, so comparisons do not depend on the backend.
func fromBSON(value any) any {
	switch v := value.(type) {
	case primitive.M:
		out := map[string]any{}
		for key, item := range v {
			out[key] = fromBSON(item)
		}
		return out
	case primitive.D:
		out := map[string]any{}
		for _, elem := range v {
			out[elem.Key] = fromBSON(elem.Value)
		}
		return out
	case map[string]any:
		return fromBSON(primitive.M(v))
	case Document:
		return fromBSON(primitive.M(v))
	case primitive.A:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, fromBSON(item))
		}
		return out
	case []any:
		return fromBSON(primitive.A(v))
	case primitive.DateTime:
		return v.Time().UTC()
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return v
	}
}

func mongoDatabaseFromURI(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return DefaultMongoDatabase
	}
	name := strings.Trim(parsed.Path, "/")
	if name == "" {
		return DefaultMongoDatabase
	}
	return name
}

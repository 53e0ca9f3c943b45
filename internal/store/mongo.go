package store

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoConfig configures the mongo backend.
type MongoConfig struct {
	URI      string
	Database string
	Scope    string
	Logger   *slog.Logger
}

// MongoStore keeps one collection per scope with documents {_id: key, value: string|null}.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *slog.Logger
}

type mongoEntry struct {
	Key   string        `bson:"_id"`
	Value bson.RawValue `bson:"value"`
}

func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "automove"
	}
	if cfg.Scope == "" {
		cfg.Scope = DefaultScope
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI).SetConnectTimeout(10*time.Second))
	if err != nil {
		return nil, unavailable("mongo connect", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, unavailable("mongo ping", err)
	}

	return &MongoStore{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Scope),
		logger: cfg.Logger,
	}, nil
}

func (m *MongoStore) Get(ctx context.Context, key string) (string, bool, error) {
	var entry mongoEntry
	err := m.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get "+key, err)
	}
	v, ok := entryValue(entry.Value)
	if !ok && len(entry.Value.Value) > 0 {
		m.logger.Warn("mongo value of unexpected type treated as unset", "key", key, "type", entry.Value.Type.String())
	}
	return v, ok, nil
}

// entryValue reads a stored value. Ids written as numbers by older
// deployments are accepted; null, empty and other types read as unset.
func entryValue(rv bson.RawValue) (string, bool) {
	if s, ok := rv.StringValueOK(); ok {
		return s, s != ""
	}
	if n, ok := rv.Int64OK(); ok {
		return strconv.FormatInt(n, 10), true
	}
	if n, ok := rv.Int32OK(); ok {
		return strconv.FormatInt(int64(n), 10), true
	}
	if f, ok := rv.DoubleOK(); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return "", false
}

func (m *MongoStore) Set(ctx context.Context, key, value string) error {
	var v any
	if value != "" {
		v = value
	}
	_, err := m.coll.UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"value": v}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return unavailable("set "+key, err)
	}
	return nil
}

func (m *MongoStore) EnsureDefaults(ctx context.Context, keys []string) error {
	for _, k := range keys {
		_, err := m.coll.UpdateOne(ctx,
			bson.M{"_id": k},
			bson.M{"$setOnInsert": bson.M{"value": nil}},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return unavailable("ensure "+k, err)
		}
	}
	return nil
}

func (m *MongoStore) Keys(ctx context.Context) ([]string, error) {
	cur, err := m.coll.Find(ctx, bson.M{},
		options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.M{"_id": 1}),
	)
	if err != nil {
		return nil, unavailable("list keys", err)
	}
	var entries []mongoEntry
	if err := cur.All(ctx, &entries); err != nil {
		return nil, unavailable("list keys", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys, nil
}

func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

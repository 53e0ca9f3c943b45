package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Scope    string
	Logger   *slog.Logger
}

// RedisStore keeps one hash per scope. An empty field value means "present but unset".
type RedisStore struct {
	client *redis.Client
	hash   string
	logger *slog.Logger
}

func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, unavailable("redis ping "+cfg.Addr, err)
	}
	return newRedisStore(client, cfg.Scope, cfg.Logger), nil
}

func newRedisStore(client *redis.Client, scope string, logger *slog.Logger) *RedisStore {
	if scope == "" {
		scope = DefaultScope
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: client,
		hash:   fmt.Sprintf("%s:config", scope),
		logger: logger,
	}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.HGet(ctx, r.hash, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get "+key, err)
	}
	return v, v != "", nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := r.client.HSet(ctx, r.hash, key, value).Err(); err != nil {
		return unavailable("set "+key, err)
	}
	return nil
}

func (r *RedisStore) EnsureDefaults(ctx context.Context, keys []string) error {
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range keys {
			p.HSetNX(ctx, r.hash, k, "")
		}
		return nil
	})
	if err != nil {
		return unavailable("ensure defaults", err)
	}
	return nil
}

func (r *RedisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := r.client.HKeys(ctx, r.hash).Result()
	if err != nil {
		return nil, unavailable("list keys", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

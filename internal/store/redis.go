package store

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each collection in a hash named <prefix>:<collection>.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: strings.TrimSuffix(prefix, ":")}
}

func (s *RedisStore) hash(collection string) string {
	if s.prefix == "" {
		return collection
	}
	return s.prefix + ":" + collection
}

func (s *RedisStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	v, err := s.rdb.HGet(ctx, s.hash(collection), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *RedisStore) Put(ctx context.Context, collection, key string, body []byte) error {
	return s.rdb.HSet(ctx, s.hash(collection), key, body).Err()
}

func (s *RedisStore) Delete(ctx context.Context, collection, key string) error {
	return s.rdb.HDel(ctx, s.hash(collection), key).Err()
}

func (s *RedisStore) Keys(ctx context.Context, collection string) ([]string, error) {
	keys, err := s.rdb.HKeys(ctx, s.hash(collection)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

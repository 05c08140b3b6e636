// Package redisstore implements the store.KV contract on Redis. Each entry
// is a hash holding the JSON value and its cas stamp; writes run as Lua
// scripts so the stamp check and the write are atomic.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"framedata/api/internal/store"
	"github.com/redis/go-redis/v9"
)

const (
	fieldValue = "v"
	fieldStamp = "cas"
)

var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'cas', 1)
return 1
`)

// returns -1 when the key is missing, 0 on stamp mismatch, 1 on success
var replaceScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'cas')
if not current then
  return -1
end
if current ~= ARGV[2] then
  return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1])
redis.call('HINCRBY', KEYS[1], 'cas', 1)
return 1
`)

var upsertScript = redis.NewScript(`
redis.call('HSET', KEYS[1], 'v', ARGV[1])
return redis.call('HINCRBY', KEYS[1], 'cas', 1)
`)

type Store struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

func New(redisURL, prefix string, timeout time.Duration) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client, prefix, timeout), nil
}

func NewWithClient(client *redis.Client, prefix string, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = store.DefaultTimeout
	}
	return &Store{client: client, prefix: prefix, timeout: timeout}
}

func (s *Store) key(key string) string {
	return s.prefix + key
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("check %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *Store) Get(ctx context.Context, key string) (store.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	values, err := s.client.HMGet(ctx, s.key(key), fieldValue, fieldStamp).Result()
	if err != nil {
		return store.Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	if len(values) != 2 || values[0] == nil || values[1] == nil {
		return store.Entry{}, fmt.Errorf("get %s: %w", key, store.ErrNotFound)
	}
	value, _ := values[0].(string)
	rawStamp, _ := values[1].(string)
	stamp, err := strconv.ParseUint(rawStamp, 10, 64)
	if err != nil {
		return store.Entry{}, fmt.Errorf("get %s: bad stamp %q", key, rawStamp)
	}
	return store.Entry{Value: json.RawMessage(value), Stamp: store.Stamp(stamp)}, nil
}

func (s *Store) Insert(ctx context.Context, key string, value any) error {
	payload, err := store.Encode(value)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	inserted, err := insertScript.Run(ctx, s.client, []string{s.key(key)}, string(payload)).Int64()
	if err != nil {
		return fmt.Errorf("insert %s: %w", key, err)
	}
	if inserted == 0 {
		return fmt.Errorf("insert %s: %w", key, store.ErrAlreadyExists)
	}
	return nil
}

func (s *Store) Replace(ctx context.Context, key string, value any, stamp store.Stamp) error {
	payload, err := store.Encode(value)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := replaceScript.Run(ctx, s.client, []string{s.key(key)},
		string(payload), strconv.FormatUint(uint64(stamp), 10)).Int64()
	if err != nil {
		return fmt.Errorf("replace %s: %w", key, err)
	}
	switch result {
	case -1:
		return fmt.Errorf("replace %s: %w", key, store.ErrNotFound)
	case 0:
		return fmt.Errorf("replace %s: %w", key, store.ErrConflict)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, key string, value any) error {
	payload, err := store.Encode(value)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := upsertScript.Run(ctx, s.client, []string{s.key(key)}, string(payload)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

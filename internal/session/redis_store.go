package session

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisStore implements Store against a real go-redis client.
type RedisStore struct {
	rdb *goredis.Client
}

func NewRedisStore(rdb *goredis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.rdb.Incr(ctx, key).Result()
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.SetNX(ctx, key, value, ttl).Err()
}

const moveScript = `
local v = redis.call("GET", KEYS[1])
if not v then
  return false
end
redis.call("DEL", KEYS[1])
redis.call("SET", KEYS[2], v, "PX", ARGV[1])
return v
`

func (s *RedisStore) Move(ctx context.Context, src, dst string, ttl time.Duration) (string, bool, error) {
	ms := ttl.Milliseconds()
	if ms <= 0 {
		ms = int64((7 * 24 * time.Hour).Milliseconds())
	}
	res, err := s.rdb.Eval(ctx, moveScript, []string{src, dst}, ms).Result()
	if err != nil {
		return "", false, err
	}
	if res == nil {
		return "", false, nil
	}
	val, ok := res.(string)
	if !ok {
		return "", false, nil
	}
	return val, true, nil
}

package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// acquireScript runs the whole check as one server-side operation: prune
// entries that slid out of the window, count what is left, and only insert the
// new timestamp when a slot is free. Scores are unix milliseconds. The reply
// is {allowed, count, oldestScore}.
var acquireScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. (now - window))
local count = redis.call('ZCARD', key)

if max > 0 and count < max then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, window)
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {1, count + 1, tonumber(oldest[2])}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
  return {0, count, tonumber(oldest[2])}
end
return {0, count, 0}
`)

type RedisStoreOpts struct {
	UUIDProvider func() uuid.UUID
}

type RedisStore struct {
	client       redis.Cmdable
	uuidProvider func() uuid.UUID
}

func NewRedisStore(client redis.Cmdable, opts *RedisStoreOpts) *RedisStore {
	uuidProvider := uuid.New
	if opts != nil && opts.UUIDProvider != nil {
		uuidProvider = opts.UUIDProvider
	}
	return &RedisStore{
		client:       client,
		uuidProvider: uuidProvider,
	}
}

func (s *RedisStore) Acquire(
	ctx context.Context,
	key string,
	now time.Time,
	window time.Duration,
	max int64,
) (AcquireResult, error) {
	member := fmt.Sprintf("%d:%s", now.UnixMilli(), s.uuidProvider().String())

	raw, err := acquireScript.Run(ctx, s.client,
		[]string{key},
		now.UnixMilli(),
		window.Milliseconds(),
		max,
		member,
	).Result()
	if err != nil {
		return AcquireResult{}, fmt.Errorf("acquire script for key %s: %w", key, err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 3 {
		return AcquireResult{}, fmt.Errorf("acquire script for key %s: unexpected reply %v", key, raw)
	}

	allowed, err := replyInt(reply[0])
	if err != nil {
		return AcquireResult{}, fmt.Errorf("acquire script for key %s: %w", key, err)
	}
	count, err := replyInt(reply[1])
	if err != nil {
		return AcquireResult{}, fmt.Errorf("acquire script for key %s: %w", key, err)
	}
	oldestMs, err := replyInt(reply[2])
	if err != nil {
		return AcquireResult{}, fmt.Errorf("acquire script for key %s: %w", key, err)
	}

	return AcquireResult{
		Allowed: allowed == 1,
		Count:   count,
		Oldest:  fromUnixMilli(oldestMs),
	}, nil
}

func (s *RedisStore) Usage(
	ctx context.Context,
	key string,
	now time.Time,
	window time.Duration,
) (Usage, error) {
	// Inclusive bound, matching what the acquire script's prune retains.
	cutoff := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

	count, err := s.client.ZCount(ctx, key, cutoff, "+inf").Result()
	if err != nil {
		return Usage{}, fmt.Errorf("usage count for key %s: %w", key, err)
	}
	if count == 0 {
		return Usage{}, nil
	}

	oldest, err := s.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   cutoff,
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil {
		return Usage{}, fmt.Errorf("usage oldest for key %s: %w", key, err)
	}

	usage := Usage{Count: count}
	if len(oldest) > 0 {
		usage.Oldest = fromUnixMilli(int64(oldest[0].Score))
	}
	return usage, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("reset key %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Sweep(ctx context.Context, pattern string, olderThan time.Time) (int64, error) {
	cutoff := "(" + strconv.FormatInt(olderThan.UnixMilli(), 10)

	var removed int64
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if err := s.client.ZRemRangeByScore(ctx, key, "-inf", cutoff).Err(); err != nil {
			return removed, fmt.Errorf("sweep prune for key %s: %w", key, err)
		}
		count, err := s.client.ZCard(ctx, key).Result()
		if err != nil {
			return removed, fmt.Errorf("sweep count for key %s: %w", key, err)
		}
		if count == 0 {
			if err := s.client.Del(ctx, key).Err(); err != nil {
				return removed, fmt.Errorf("sweep delete for key %s: %w", key, err)
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("sweep scan: %w", err)
	}
	return removed, nil
}

func replyInt(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected reply element %T", v)
	}
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

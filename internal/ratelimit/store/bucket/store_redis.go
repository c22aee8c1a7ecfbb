package bucket

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ticketd/internal/ratelimit/models"
	"ticketd/pkg/requestcontext"
)

// slidingWindowScript trims the window, then admits cost members if there is
// room. Scores are unix milliseconds. Returns {allowed, count, oldest}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count + cost <= limit then
  for i = 1, cost do
    redis.call('ZADD', key, now, member .. ':' .. i)
  end
  redis.call('PEXPIRE', key, window)
  count = count + cost
  allowed = 1
end
local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
  oldest = tonumber(first[2])
end
return {allowed, count, oldest}
`)

// RedisBucketStore shares sliding windows across replicas. The check and
// the insert run in one script so concurrent requests cannot both take the
// last slot.
type RedisBucketStore struct {
	client redis.UniversalClient
}

func NewRedisBucketStore(client redis.UniversalClient) *RedisBucketStore {
	return &RedisBucketStore{client: client}
}

func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	return s.AllowN(ctx, key, 1, limit, window)
}

func (s *RedisBucketStore) AllowN(ctx context.Context, key string, cost, limit int, window time.Duration) (*models.Result, error) {
	now := requestcontext.Now(ctx)
	raw, err := slidingWindowScript.Run(ctx, s.client, []string{key},
		now.UnixMilli(), window.Milliseconds(), limit, cost, uuid.NewString()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit script: %w", err)
	}
	if len(raw) != 3 {
		return nil, fmt.Errorf("rate limit script: unexpected reply of %d values", len(raw))
	}

	resetAt := time.UnixMilli(raw[2]).Add(window)
	res := &models.Result{
		Allowed: raw[0] == 1,
		Limit:   limit,
		ResetAt: resetAt,
	}
	if res.Allowed {
		res.Remaining = limit - int(raw[1])
	} else {
		res.RetryAfter = retryAfter(resetAt.Sub(now))
	}
	return res, nil
}

func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	return nil
}

// GetCurrentCount may include entries older than the window until the next
// Allow trims them.
func (s *RedisBucketStore) GetCurrentCount(ctx context.Context, key string) (int, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("count rate limit: %w", err)
	}
	return int(n), nil
}

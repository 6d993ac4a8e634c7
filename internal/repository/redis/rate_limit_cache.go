package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"registration-service/internal/client"
	"registration-service/internal/models"
	"registration-service/internal/util"
)

const (
	rateLimitPrefix = "otp_rate:"
	opTimeout       = 5 * time.Second
)

// incrementScript bumps the counter and arms the TTL only on the first hit,
// so the window is fixed from the first increment and never slides.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// RateLimitCache stores fixed-window abuse counters for OTP issuance and
// validation.
type RateLimitCache struct {
	client *client.RedisClient
}

func NewRateLimitCache(client *client.RedisClient) *RateLimitCache {
	return &RateLimitCache{client: client}
}

// Get returns the live count, or 0 if the counter is absent or expired.
func (c *RateLimitCache) Get(ctx context.Context, counter models.RateCounter) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := rateLimitPrefix + counter.Key()
	countStr, err := c.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return 0, nil
		}
		util.Error("Failed to get rate limit counter", util.Subject(counter.Subject), zap.Error(err))
		return 0, fmt.Errorf("failed to get rate limit counter: %w", err)
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		util.Error("Invalid counter format",
			util.Subject(counter.Subject),
			zap.String("count_str", countStr),
			zap.Error(err))
		return 0, fmt.Errorf("invalid counter format: %w", err)
	}
	return count, nil
}

// Increment atomically adds one and returns the new count. A counter created
// by this call expires after ttl; later increments keep the original expiry.
func (c *RateLimitCache) Increment(ctx context.Context, counter models.RateCounter, ttl time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := rateLimitPrefix + counter.Key()
	result, err := c.client.RunScript(ctx, incrementScript, []string{key}, ttl.Milliseconds())
	if err != nil {
		util.Error("Failed to increment rate limit counter",
			util.Subject(counter.Subject),
			zap.String("kind", string(counter.Kind)),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	count, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected result type from increment script: %T", result)
	}

	util.Debug("Rate limit counter incremented",
		util.Subject(counter.Subject),
		zap.String("kind", string(counter.Kind)),
		zap.Int64("count", count))

	return int(count), nil
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/staking-ledger/internal/models"
)

// CacheService provides high-level caching operations for the ledger's read paths
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, ttl time.Duration) *CacheService {
	return &CacheService{
		redis: redis,
		ttl:   ttl,
	}
}

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeyReferrals is for referral summaries keyed by referrer wallet
	CacheKeyReferrals CacheKeyType = "referrals"
	// CacheKeyReferralsVersion counts invalidations of a referrer's summary
	CacheKeyReferralsVersion CacheKeyType = "referrals_version"
)

// referralVersionTTL outlives any in-flight fill; an expired counter reads
// as 0 and still differs from any version a reader took before it expired
const referralVersionTTL = 24 * time.Hour

// errStaleFill aborts a fill whose version was bumped after it was read
var errStaleFill = errors.New("referral summary invalidated during fill")

// GenerateCacheKey generates a cache key for a given type and parameters
// Format: <type>:<param1>:<param2>:...
// TON addresses are case-sensitive, so parameters are used verbatim.
func (c *CacheService) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	parts := append([]string{string(keyType)}, params...)
	return strings.Join(parts, ":")
}

// GenerateReferralKey generates a cache key for a referral summary
// Format: referrals:<wallet>
func (c *CacheService) GenerateReferralKey(walletAddress string) string {
	return c.GenerateCacheKey(CacheKeyReferrals, walletAddress)
}

// GenerateReferralVersionKey generates the invalidation counter key for a referrer
// Format: referrals_version:<wallet>
func (c *CacheService) GenerateReferralVersionKey(walletAddress string) string {
	return c.GenerateCacheKey(CacheKeyReferralsVersion, walletAddress)
}

// Set stores a value in cache with the configured TTL
func (c *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return c.redis.Set(ctx, key, data, c.ttl)
}

// Get retrieves a value from cache and deserializes it
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		// Key not found is not an error, just a cache miss
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}

	return true, nil
}

// Invalidate removes one or more keys from cache
func (c *CacheService) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...)
}

// GetTTL returns the configured TTL for this cache service
func (c *CacheService) GetTTL() time.Duration {
	return c.ttl
}

// GetReferralSummary returns the cached summary for a referrer wallet
func (c *CacheService) GetReferralSummary(ctx context.Context, walletAddress string) (*models.ReferralSummary, bool, error) {
	var summary models.ReferralSummary
	found, err := c.Get(ctx, c.GenerateReferralKey(walletAddress), &summary)
	if err != nil || !found {
		return nil, false, err
	}
	return &summary, true, nil
}

// ReferralVersion returns the invalidation counter for a referrer. Read it
// before loading the summary from the store and pass it to SetReferralSummary.
func (c *CacheService) ReferralVersion(ctx context.Context, walletAddress string) (int64, error) {
	version, err := c.redis.Client().Get(ctx, c.GenerateReferralVersionKey(walletAddress)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read referral version: %w", err)
	}
	return version, nil
}

// SetReferralSummary caches a referrer's summary for the configured TTL,
// unless the summary was invalidated after version was read. A skipped fill
// is not an error.
func (c *CacheService) SetReferralSummary(ctx context.Context, walletAddress string, version int64, summary *models.ReferralSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	key := c.GenerateReferralKey(walletAddress)
	versionKey := c.GenerateReferralVersionKey(walletAddress)

	err = c.redis.Client().Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStaleFill
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}, versionKey)

	if errors.Is(err, errStaleFill) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to cache referral summary: %w", err)
	}
	return nil
}

// InvalidateReferralSummary drops a referrer's cached summary after a new
// edge and bumps its version so in-flight fills are discarded
func (c *CacheService) InvalidateReferralSummary(ctx context.Context, walletAddress string) error {
	versionKey := c.GenerateReferralVersionKey(walletAddress)

	_, err := c.redis.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey)
		pipe.Expire(ctx, versionKey, referralVersionTTL)
		pipe.Del(ctx, c.GenerateReferralKey(walletAddress))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate referral summary: %w", err)
	}
	return nil
}

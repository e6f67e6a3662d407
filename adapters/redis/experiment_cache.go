// Package redis caches experiment configuration in front of the primary
// repository. The assignment hot path reads experiments on every exposure;
// the cache absorbs those reads. Any Redis failure falls through to the
// repository.
//
// Each experiment has a version counter next to its cached value. Writers
// bump it when they evict; a loader only fills the cache if the version is
// still the one it saw before reading the repository, so a read that raced
// a write never repopulates the old row.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"abstats/domain/core"
	"abstats/domain/experiment"
	"abstats/internal"
	apperrors "abstats/internal/errors"
	"abstats/internal/metrics"
	"abstats/ports"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// PrefixExperiment namespaces experiment keys
const PrefixExperiment = "abstats:experiment:"

// DefaultTTL applies when the configured TTL is zero
const DefaultTTL = 30 * time.Second

const pingTimeout = 3 * time.Second

// versionTTL bounds how long an idle version counter lingers. It only has to
// outlive an in-flight repository read.
const versionTTL = time.Hour

// storeIfCurrent sets KEYS[1] only while KEYS[2] still holds ARGV[1]
var storeIfCurrent = redis.NewScript(`
local current = redis.call('GET', KEYS[2]) or '0'
if current ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// NewClient connects to the Redis server at url and verifies the connection
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, apperrors.ConfigInvalid(fmt.Sprintf("invalid REDIS_URL: %v", err))
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, apperrors.ExternalServiceError("redis", err)
	}
	return client, nil
}

// ExperimentKey returns the cache key of one experiment. The hash tag keeps
// it in the same cluster slot as its version key.
func ExperimentKey(id core.ExperimentID) string {
	return PrefixExperiment + "{" + id.String() + "}"
}

// VersionKey returns the key of the experiment's cache version counter
func VersionKey(id core.ExperimentID) string {
	return ExperimentKey(id) + ":version"
}

// CachedExperimentRepository is a read-through cache over an
// ExperimentRepository. Every write goes to the inner repository first and
// then evicts the key.
type CachedExperimentRepository struct {
	inner  ports.ExperimentRepository
	client redis.UniversalClient
	ttl    time.Duration
	logger *internal.Logger
	group  singleflight.Group
}

// NewCachedExperimentRepository wraps inner with a Redis cache
func NewCachedExperimentRepository(inner ports.ExperimentRepository, client redis.UniversalClient, ttl time.Duration, logger *internal.Logger) *CachedExperimentRepository {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CachedExperimentRepository{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Get serves from Redis when possible. Concurrent misses for the same
// experiment share one repository read.
func (c *CachedExperimentRepository) Get(ctx context.Context, id core.ExperimentID) (*experiment.Experiment, error) {
	key := ExperimentKey(id)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var exp experiment.Experiment
		jsonErr := json.Unmarshal(data, &exp)
		if jsonErr == nil {
			metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
			return &exp, nil
		}
		c.logger.Warn("discarding unreadable cache entry %s: %v", key, jsonErr)
		metrics.CacheRequestsTotal.WithLabelValues("error").Inc()
	case errors.Is(err, redis.Nil):
		metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
	default:
		c.logger.Debug("cache read for %s failed: %v", key, err)
		metrics.CacheRequestsTotal.WithLabelValues("error").Inc()
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		seen, verr := c.version(ctx, id)
		exp, err := c.inner.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if verr == nil {
			c.store(ctx, id, seen, exp)
		}
		return exp, nil
	})
	if err != nil {
		return nil, err
	}
	// Callers may mutate the aggregate; shared results are copied
	shared := v.(*experiment.Experiment)
	out := *shared
	out.Variants = append([]experiment.Variant(nil), shared.Variants...)
	return &out, nil
}

func (c *CachedExperimentRepository) version(ctx context.Context, id core.ExperimentID) (int64, error) {
	v, err := c.client.Get(ctx, VersionKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		c.logger.Debug("cache version read for %s failed: %v", id, err)
	}
	return v, err
}

// store fills the cache unless a writer evicted since seen was read
func (c *CachedExperimentRepository) store(ctx context.Context, id core.ExperimentID, seen int64, exp *experiment.Experiment) {
	key := ExperimentKey(id)
	data, err := json.Marshal(exp)
	if err != nil {
		c.logger.Warn("failed to encode %s for cache: %v", key, err)
		return
	}
	stored, err := storeIfCurrent.Run(ctx, c.client, []string{key, VersionKey(id)}, seen, data, c.ttl.Milliseconds()).Int()
	switch {
	case err != nil:
		c.logger.Debug("cache write for %s failed: %v", key, err)
	case stored == 0:
		c.logger.Debug("skipping cache write for %s: evicted during load", key)
		metrics.CacheRequestsTotal.WithLabelValues("stale").Inc()
	}
}

// Invalidate bumps the experiment's version and evicts its cached value
func (c *CachedExperimentRepository) Invalidate(ctx context.Context, id core.ExperimentID) {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, VersionKey(id))
		pipe.Expire(ctx, VersionKey(id), versionTTL)
		pipe.Del(ctx, ExperimentKey(id))
		return nil
	})
	if err != nil {
		c.logger.Warn("failed to evict %s: %v", ExperimentKey(id), err)
	}
}

// Create inserts through to the repository
func (c *CachedExperimentRepository) Create(ctx context.Context, exp *experiment.Experiment) error {
	if err := c.inner.Create(ctx, exp); err != nil {
		return err
	}
	c.Invalidate(ctx, exp.ID)
	return nil
}

// ListByTenant is not cached
func (c *CachedExperimentRepository) ListByTenant(ctx context.Context, tenantID core.TenantID) ([]*experiment.Experiment, error) {
	return c.inner.ListByTenant(ctx, tenantID)
}

// UpdateLifecycle writes through and evicts
func (c *CachedExperimentRepository) UpdateLifecycle(ctx context.Context, exp *experiment.Experiment) error {
	if err := c.inner.UpdateLifecycle(ctx, exp); err != nil {
		return err
	}
	c.Invalidate(ctx, exp.ID)
	return nil
}

// UpdateAllocation writes through and evicts
func (c *CachedExperimentRepository) UpdateAllocation(ctx context.Context, id core.ExperimentID, alloc experiment.Allocation, updatedAt time.Time) error {
	if err := c.inner.UpdateAllocation(ctx, id, alloc, updatedAt); err != nil {
		return err
	}
	c.Invalidate(ctx, id)
	return nil
}

// UpdateVariantContent writes through and evicts
func (c *CachedExperimentRepository) UpdateVariantContent(ctx context.Context, expID core.ExperimentID, variantID core.VariantID, subject, content string) error {
	if err := c.inner.UpdateVariantContent(ctx, expID, variantID, subject, content); err != nil {
		return err
	}
	c.Invalidate(ctx, expID)
	return nil
}

// LockedSequentialRepository evicts the experiment after every successful
// locked section, since interim checks may complete the experiment inside
// the repository's own transaction.
type LockedSequentialRepository struct {
	ports.SequentialRepository
	cache *CachedExperimentRepository
}

// NewLockedSequentialRepository wraps inner so lifecycle changes made under
// the sequential lock reach the cache
func NewLockedSequentialRepository(inner ports.SequentialRepository, cache *CachedExperimentRepository) *LockedSequentialRepository {
	return &LockedSequentialRepository{SequentialRepository: inner, cache: cache}
}

// WithExperimentLock delegates and evicts on success
func (r *LockedSequentialRepository) WithExperimentLock(ctx context.Context, expID core.ExperimentID, fn func(ctx context.Context, store ports.SequentialStore) error) error {
	if err := r.SequentialRepository.WithExperimentLock(ctx, expID, fn); err != nil {
		return err
	}
	r.cache.Invalidate(ctx, expID)
	return nil
}

var (
	_ ports.ExperimentRepository = (*CachedExperimentRepository)(nil)
	_ ports.SequentialRepository = (*LockedSequentialRepository)(nil)
)

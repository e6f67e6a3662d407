package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"abstats/adapters/memory"
	"abstats/domain/core"
	"abstats/domain/experiment"
	"abstats/internal"
	"abstats/internal/metrics"
	"abstats/ports"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedExperiment(t *testing.T, store *memory.Store) *experiment.Experiment {
	t.Helper()
	exp, err := experiment.New(experiment.NewExperiment{
		TenantID:      "tenant-cache",
		Name:          "cache test",
		Channel:       experiment.ChannelSMS,
		Method:        experiment.MethodBandit,
		MethodConfig:  []byte(`{"algorithm":"epsilon_greedy","epsilon":0.2}`),
		SuccessMetric: "reply",
		Variants: []experiment.NewVariant{
			{Name: "A", Content: "a"},
			{Name: "B", Content: "b"},
		},
	}, testNow)
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), exp))
	return exp
}

// unreachableClient points at a closed port so every command fails fast
func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestCacheFallsThroughWhenRedisIsDown(t *testing.T) {
	store := memory.NewStore()
	exp := seedExperiment(t, store)
	client := unreachableClient()
	defer client.Close()

	cache := NewCachedExperimentRepository(store, client, time.Minute, internal.NopLogger())
	before := testutil.ToFloat64(metrics.CacheRequestsTotal.WithLabelValues("error"))

	got, err := cache.Get(context.Background(), exp.ID)
	require.NoError(t, err)
	assert.Equal(t, exp.Name, got.Name)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.CacheRequestsTotal.WithLabelValues("error")))

	_, err = cache.Get(context.Background(), core.NewExperimentID())
	assert.ErrorIs(t, err, core.ErrExperimentNotFound)

	require.NoError(t, exp.Start(testNow))
	require.NoError(t, cache.UpdateLifecycle(context.Background(), exp))
	got, err = cache.Get(context.Background(), exp.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.StatusRunning, got.Status)
}

func TestCachedGetReturnsIndependentCopies(t *testing.T) {
	store := memory.NewStore()
	exp := seedExperiment(t, store)
	client := unreachableClient()
	defer client.Close()
	cache := NewCachedExperimentRepository(store, client, 0, internal.NopLogger())

	first, err := cache.Get(context.Background(), exp.ID)
	require.NoError(t, err)
	first.Variants[0].Content = "mutated"

	second, err := cache.Get(context.Background(), exp.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", second.Variants[0].Content)
}

func liveClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	client, err := NewClient(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestCacheHitAndEviction(t *testing.T) {
	client := liveClient(t)
	ctx := context.Background()
	store := memory.NewStore()
	exp := seedExperiment(t, store)
	cache := NewCachedExperimentRepository(store, client, time.Minute, internal.NopLogger())
	t.Cleanup(func() { cache.Invalidate(ctx, exp.ID) })

	_, err := cache.Get(ctx, exp.ID)
	require.NoError(t, err)
	exists, err := client.Exists(ctx, ExperimentKey(exp.ID)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)

	hits := testutil.ToFloat64(metrics.CacheRequestsTotal.WithLabelValues("hit"))
	got, err := cache.Get(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, hits+1, testutil.ToFloat64(metrics.CacheRequestsTotal.WithLabelValues("hit")))

	cfg, ok := got.Bandit()
	require.True(t, ok)
	assert.Equal(t, experiment.AlgorithmEpsilonGreedy, cfg.Algorithm)
	assert.Equal(t, 50.0, got.TrafficAllocation.Percent("B"))

	alloc, err := experiment.NewAllocation(map[string]float64{"A": 10, "B": 90})
	require.NoError(t, err)
	require.NoError(t, cache.UpdateAllocation(ctx, exp.ID, alloc, testNow))
	exists, err = client.Exists(ctx, ExperimentKey(exp.ID)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	got, err = cache.Get(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, 90.0, got.TrafficAllocation.Percent("B"))
}

func TestLockedSequentialRepositoryEvicts(t *testing.T) {
	client := liveClient(t)
	ctx := context.Background()
	store := memory.NewStore()
	exp := seedExperiment(t, store)
	cache := NewCachedExperimentRepository(store, client, time.Minute, internal.NopLogger())
	locked := NewLockedSequentialRepository(store, cache)

	_, err := cache.Get(ctx, exp.ID)
	require.NoError(t, err)

	err = locked.WithExperimentLock(ctx, exp.ID, func(ctx context.Context, s ports.SequentialStore) error {
		return nil
	})
	require.NoError(t, err)
	exists, err := client.Exists(ctx, ExperimentKey(exp.ID)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

// pausedRepository holds its first Get after reading from the inner
// repository until release is closed
type pausedRepository struct {
	ports.ExperimentRepository
	loaded  chan struct{}
	release chan struct{}
	paused  bool
}

func (p *pausedRepository) Get(ctx context.Context, id core.ExperimentID) (*experiment.Experiment, error) {
	exp, err := p.ExperimentRepository.Get(ctx, id)
	if !p.paused {
		p.paused = true
		close(p.loaded)
		<-p.release
	}
	return exp, err
}

func TestLoadRacingWriteDoesNotCacheOldRow(t *testing.T) {
	client := liveClient(t)
	ctx := context.Background()
	store := memory.NewStore()
	exp := seedExperiment(t, store)
	repo := &pausedRepository{ExperimentRepository: store, loaded: make(chan struct{}), release: make(chan struct{})}
	cache := NewCachedExperimentRepository(repo, client, time.Minute, internal.NopLogger())
	t.Cleanup(func() { cache.Invalidate(ctx, exp.ID) })

	done := make(chan *experiment.Experiment)
	go func() {
		got, err := cache.Get(ctx, exp.ID)
		assert.NoError(t, err)
		done <- got
	}()

	<-repo.loaded
	require.NoError(t, exp.Start(testNow))
	require.NoError(t, cache.UpdateLifecycle(ctx, exp))
	close(repo.release)

	stale := <-done
	assert.Equal(t, experiment.StatusDraft, stale.Status)

	exists, err := client.Exists(ctx, ExperimentKey(exp.ID)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	got, err := cache.Get(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.StatusRunning, got.Status)
	exists, err = client.Exists(ctx, ExperimentKey(exp.ID)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}

package container

import (
	"context"
	"fmt"
	"time"

	"abstats/adapters/postgres"
	rediscache "abstats/adapters/redis"
	"abstats/app"
	"abstats/internal"
	"abstats/internal/api"
	"abstats/internal/config"
	"abstats/internal/ops"
	"abstats/internal/testkit"
	"abstats/ports"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger
	Now    func() time.Time

	// Infrastructure
	DB    *sqlx.DB
	Redis *redis.Client

	// Repositories (data access layer)
	ExperimentRepo ports.ExperimentRepository
	AssignmentRepo ports.AssignmentRepository
	OutcomeRepo    ports.OutcomeRepository
	BayesianRepo   ports.BayesianRepository
	SequentialRepo ports.SequentialRepository
	BanditRepo     ports.BanditRepository
	PowerRepo      ports.PowerRepository
	RNG            ports.RNGPort

	// Application services
	Services api.Services
}

// New creates a new dependency injection container
func New(cfg *config.Config, logger *internal.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = internal.NopLogger()
	}
	return &Container{Config: cfg, Logger: logger, Now: time.Now}, nil
}

// InitWithDatabase builds the repositories and services over db. When a
// Redis URL is configured the experiment repository is fronted by the cache;
// an unreachable Redis is logged and skipped.
func (c *Container) InitWithDatabase(ctx context.Context, db *sqlx.DB) error {
	if db == nil {
		return fmt.Errorf("database connection cannot be nil")
	}
	c.DB = db

	c.initRepositories()
	c.initCache(ctx)
	c.initServices()

	c.Logger.Info("container initialized (cache=%t, seed=%d)", c.Redis != nil, c.Config.Engine.RNGSeed)
	return nil
}

// initRepositories initializes data access repositories
func (c *Container) initRepositories() {
	c.ExperimentRepo = postgres.NewExperimentRepository(c.DB)
	c.AssignmentRepo = postgres.NewAssignmentRepository(c.DB)
	c.OutcomeRepo = postgres.NewOutcomeRepository(c.DB)
	c.BayesianRepo = postgres.NewBayesianRepository(c.DB)
	c.SequentialRepo = postgres.NewSequentialRepository(c.DB)
	c.BanditRepo = postgres.NewBanditRepository(c.DB)
	c.PowerRepo = postgres.NewPowerRepository(c.DB)
	c.RNG = testkit.NewRNGAdapter(c.Config.Engine.RNGSeed)
}

func (c *Container) initCache(ctx context.Context) {
	if c.Config.Cache.RedisURL == "" {
		return
	}
	client, err := rediscache.NewClient(ctx, c.Config.Cache.RedisURL)
	if err != nil {
		c.Logger.Warn("experiment cache disabled: %v", err)
		return
	}
	c.Redis = client

	cached := rediscache.NewCachedExperimentRepository(c.ExperimentRepo, client, c.Config.Cache.TTL, c.Logger)
	c.ExperimentRepo = cached
	c.SequentialRepo = rediscache.NewLockedSequentialRepository(c.SequentialRepo, cached)
}

func (c *Container) initServices() {
	engine := c.Config.Engine
	logger := c.Logger
	now := c.Now

	bandit := app.NewBanditService(engine, c.ExperimentRepo, c.BanditRepo, c.RNG, logger.With("service", "bandit"), now)
	assigner := app.NewAssignmentService(c.ExperimentRepo, c.AssignmentRepo, bandit, c.RNG, logger.With("service", "assignment"), now)
	bayesian := app.NewBayesianService(engine, c.ExperimentRepo, c.BayesianRepo, c.RNG, logger.With("service", "bayesian"), now)
	sequential := app.NewSequentialService(c.ExperimentRepo, c.AssignmentRepo, c.SequentialRepo, logger.With("service", "sequential"), now)
	frequentist := app.NewFrequentistService(c.ExperimentRepo, c.AssignmentRepo)

	c.Services = api.Services{
		Registry:    app.NewRegistryService(c.ExperimentRepo, c.BayesianRepo, c.BanditRepo, logger.With("service", "registry"), now),
		Events:      app.NewEventService(c.ExperimentRepo, c.AssignmentRepo, c.OutcomeRepo, assigner, bayesian, sequential, bandit, logger.With("service", "events"), now),
		Frequentist: frequentist,
		Bayesian:    bayesian,
		Sequential:  sequential,
		Bandit:      bandit,
		Power:       app.NewPowerService(c.ExperimentRepo, c.PowerRepo, now),
		Reports:     app.NewReportService(c.ExperimentRepo, frequentist, c.BayesianRepo, sequential, c.BanditRepo, c.PowerRepo, now),
	}
}

// APIServer builds the public API router
func (c *Container) APIServer() *api.Server {
	return api.NewServer(c.Services, c.Logger.With("component", "api"), c.Config.Server.GinMode)
}

// OpsServer builds the health, metrics and pprof router
func (c *Container) OpsServer() *ops.Server {
	checks := map[string]ops.Check{}
	if c.DB != nil {
		checks["postgres"] = c.DB.PingContext
	}
	if c.Redis != nil {
		client := c.Redis
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	return ops.NewServer(checks)
}

// Shutdown closes the cache client and the database
func (c *Container) Shutdown(ctx context.Context) error {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("failed to close redis client: %v", err)
		}
	}
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

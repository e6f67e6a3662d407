package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"abstats/adapters/postgres"
	"abstats/internal"
	"abstats/internal/config"
	"abstats/internal/container"
	apperrors "abstats/internal/errors"
	"abstats/internal/migration"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
)

// initDatabase opens the pool and brings the schema up to date
func initDatabase(ctx context.Context, cfg *config.Config, logger *internal.Logger) (*sqlx.DB, error) {
	db, err := postgres.Open(ctx, cfg.Database.URL, postgres.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	if err := migration.NewRunner(logger).Run(ctx, db); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, "database migration failed")
	}
	return db, nil
}

func serve(name string, srv *http.Server, logger *internal.Logger, errs chan<- error) {
	logger.Info("%s server listening on %s", name, srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs <- apperrors.Wrapf(err, "%s server failed", name)
	}
}

func main() {
	bootLogger := internal.NewDefaultLogger()

	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		bootLogger.Debug("no .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		bootLogger.Error("failed to load configuration: %v", err)
		os.Exit(1)
	}
	logger := internal.NewLoggerTo(os.Stderr, internal.ParseLogLevel(cfg.Log.Level), cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize database: %v", err)
		os.Exit(1)
	}

	appContainer, err := container.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create application container: %v", err)
		os.Exit(1)
	}
	defer appContainer.Shutdown(context.Background())

	if err := appContainer.InitWithDatabase(ctx, db); err != nil {
		logger.Error("failed to initialize container: %v", err)
		os.Exit(1)
	}

	errs := make(chan error, 2)
	servers := []*http.Server{{
		Addr:              ":" + cfg.Server.Port,
		Handler:           appContainer.APIServer().Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}}
	go serve("api", servers[0], logger, errs)

	if cfg.Ops.Enabled {
		opsServer := &http.Server{
			Addr:              ":" + cfg.Ops.Port,
			Handler:           appContainer.OpsServer().Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, opsServer)
		go serve("ops", opsServer, logger, errs)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errs:
		logger.Error("%v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown of %s failed: %v", srv.Addr, err)
		}
	}
}

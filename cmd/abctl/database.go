package main

import (
	"context"
	"fmt"
	"io"

	"abstats/adapters/excel"
	"abstats/adapters/postgres"
	"abstats/domain/core"
	"abstats/internal/config"
	"abstats/internal/container"
	"abstats/internal/migration"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

func openDatabase(ctx context.Context) (*config.Config, *sqlx.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := postgres.Open(ctx, cfg.Database.URL, postgres.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the experiment tables and indexes in DATABASE_URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, db, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			runner := migration.NewRunner(logger)
			if err := runner.Run(ctx, db); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %s\n", runner.Version())
			return nil
		},
	}
}

func newReplayCmd() *cobra.Command {
	var experimentID string

	cmd := &cobra.Command{
		Use:   "replay [events.xlsx|events.csv]",
		Short: "Record exposures and outcomes from a traffic log against a running experiment",
		Long: `Replay a traffic log through the event pipeline. Each row assigns the
recipient; rows with an outcome also record it. Already recorded outcomes are
counted as duplicates, so a log can be replayed safely.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := core.ParseExperimentID(experimentID)
			if err != nil {
				return err
			}
			return runReplay(cmd.Context(), cmd.OutOrStdout(), id, args[0])
		},
	}

	cmd.Flags().StringVar(&experimentID, "experiment", "", "Experiment id")
	_ = cmd.MarkFlagRequired("experiment")

	return cmd
}

func runReplay(ctx context.Context, w io.Writer, id core.ExperimentID, path string) error {
	events, err := excel.NewEventReader(path, logger).ReadEvents()
	if err != nil {
		return err
	}

	cfg, db, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	c, err := container.New(cfg, logger)
	if err != nil {
		db.Close()
		return err
	}
	defer c.Shutdown(context.Background())
	if err := c.InitWithDatabase(ctx, db); err != nil {
		return err
	}

	exposures, outcomes, duplicates := 0, 0, 0
	for _, ev := range events {
		recipient, err := core.ParseRecipientID(ev.RecipientID)
		if err != nil {
			return fmt.Errorf("row %d: %w", ev.Row, err)
		}
		if _, err := c.Services.Events.RecordExposure(ctx, id, recipient); err != nil {
			return fmt.Errorf("row %d: %w", ev.Row, err)
		}
		exposures++
		if ev.Outcome == "" {
			continue
		}
		res, err := c.Services.Events.RecordOutcome(ctx, id, recipient, ev.Outcome)
		if err != nil {
			return fmt.Errorf("row %d: %w", ev.Row, err)
		}
		if res.Duplicate {
			duplicates++
			continue
		}
		outcomes++
	}

	fmt.Fprintf(w, "replayed %d exposures, %d outcomes (%d duplicates)\n", exposures, outcomes, duplicates)
	return nil
}

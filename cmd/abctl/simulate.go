package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"abstats/adapters/excel"
	"abstats/domain/experiment"
	"abstats/internal/config"
	"abstats/internal/report"
	"abstats/internal/simulation"
	"abstats/internal/testkit"

	"github.com/spf13/cobra"
)

type simulateOptions struct {
	method        string
	methodConfig  string
	rates         map[string]string
	recipients    int
	minSampleSize int
	seed          uint64
	format        string
	out           string
}

func newSimulateCmd() *cobra.Command {
	opts := simulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run synthetic traffic through an in-memory experiment",
		Long: `Simulate an experiment with known true conversion rates and print the
resulting report.

Example: abctl simulate --method bandit --config '{"algorithm":"ucb1"}' --rates A=0.05,B=0.08 --recipients 5000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.method, "method", "bandit", "Statistical method: frequentist, bayesian, sequential or bandit")
	cmd.Flags().StringVar(&opts.methodConfig, "config", "", "method_config as a JSON object")
	cmd.Flags().StringToStringVar(&opts.rates, "rates", map[string]string{"A": "0.10", "B": "0.12"}, "True conversion rate per variant")
	cmd.Flags().IntVar(&opts.recipients, "recipients", 1000, "Number of recipients")
	cmd.Flags().IntVar(&opts.minSampleSize, "min-sample-size", 100, "Minimum sample size per variant")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 42, "Random seed for traffic and engine draws")
	cmd.Flags().StringVar(&opts.format, "format", "markdown", "Output format: markdown, json or xlsx")
	cmd.Flags().StringVar(&opts.out, "out", "simulation.xlsx", "Output path for --format xlsx")

	return cmd
}

func runSimulate(ctx context.Context, w io.Writer, opts simulateOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	traffic := testkit.DefaultTrafficConfig()
	traffic.RecipientCount = opts.recipients
	traffic.Seed = opts.seed
	traffic.TrueRates = make(map[string]float64, len(opts.rates))
	for name, raw := range opts.rates {
		rate, err := strconv.ParseFloat(raw, 64)
		if err != nil || rate < 0 || rate > 1 {
			return fmt.Errorf("invalid rate for %s: %q", name, raw)
		}
		traffic.TrueRates[name] = rate
	}

	engine := config.DefaultEngineConfig()
	engine.RNGSeed = opts.seed

	cfg := simulation.Config{
		Method:        experiment.Method(opts.method),
		MinSampleSize: opts.minSampleSize,
		Traffic:       traffic,
		Engine:        engine,
	}
	if opts.methodConfig != "" {
		cfg.MethodConfig = json.RawMessage(opts.methodConfig)
	}

	res, err := simulation.Run(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("simulated %d exposures", res.Exposures)

	switch opts.format {
	case "markdown":
		_, err = w.Write(report.Markdown(res.Summary))
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Summary)
	case "xlsx":
		if err := excel.SaveWorkbook(opts.out, res.Summary); err != nil {
			return err
		}
		fmt.Fprintf(w, "wrote %s\n", opts.out)
		return nil
	}
	return fmt.Errorf("unknown format %q", opts.format)
}

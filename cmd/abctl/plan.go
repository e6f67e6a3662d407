package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"abstats/domain/stats"
	"abstats/internal/analysis"

	"github.com/spf13/cobra"
)

func newPowerCmd() *cobra.Command {
	var in stats.PowerInput
	var dailyTraffic int

	cmd := &cobra.Command{
		Use:   "power",
		Short: "Compute the per-variant sample size for a two-proportion test",
		Long: `Compute the sample size needed to detect a relative lift over a baseline
conversion rate.

Example: abctl power --baseline 0.10 --mde 0.20 --daily-traffic 1000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dailyTraffic > 0 {
				in.DailyTraffic = &dailyTraffic
			}
			return runPower(cmd.OutOrStdout(), in)
		},
	}

	cmd.Flags().Float64Var(&in.BaselineRate, "baseline", 0.10, "Baseline conversion rate")
	cmd.Flags().Float64Var(&in.MinimumDetectableEffect, "mde", 0.20, "Minimum detectable relative lift")
	cmd.Flags().Float64Var(&in.Power, "power", 0.80, "Statistical power")
	cmd.Flags().Float64Var(&in.SignificanceLevel, "alpha", 0.05, "Two-sided significance level")
	cmd.Flags().IntVar(&in.VariantCount, "variants", 2, "Number of variants")
	cmd.Flags().IntVar(&dailyTraffic, "daily-traffic", 0, "Recipients per day, for a duration estimate")

	return cmd
}

func runPower(w io.Writer, in stats.PowerInput) error {
	res, err := analysis.NewPower().SampleSize(in)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "sample size per variant\t%d\n", res.SampleSizePerVariant)
	fmt.Fprintf(tw, "total sample size\t%d\n", res.TotalSampleSize)
	if res.EstimatedDurationDays != nil {
		fmt.Fprintf(tw, "estimated duration\t%d days\n", *res.EstimatedDurationDays)
	}
	return tw.Flush()
}

func newBoundariesCmd() *cobra.Command {
	var checks int
	var alpha float64

	cmd := &cobra.Command{
		Use:   "boundaries",
		Short: "Print the O'Brien-Fleming schedule for a sequential plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if checks < 1 {
				return fmt.Errorf("--checks must be at least 1")
			}
			if !(alpha > 0 && alpha < 1) {
				return fmt.Errorf("--alpha must be in (0,1)")
			}
			return runBoundaries(cmd.OutOrStdout(), checks, alpha)
		},
	}

	cmd.Flags().IntVar(&checks, "checks", 5, "Number of planned looks")
	cmd.Flags().Float64Var(&alpha, "alpha", 0.05, "Overall two-sided alpha")

	return cmd
}

func runBoundaries(w io.Writer, checks int, alpha float64) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "check\tfraction\tboundary\talpha spent\t")
	for i, r := range analysis.NewSequential().Schedule(checks, alpha) {
		fmt.Fprintf(tw, "%d\t%.3f\t%.4f\t%.5f\t\n", i+1, r.InformationFraction, r.UpperBoundary, r.AlphaSpent)
	}
	return tw.Flush()
}

package excel

import (
	"fmt"
	"io"

	"abstats/internal/report"

	"github.com/xuri/excelize/v2"
)

// Sheet names of the exported workbook
const (
	SheetOverview    = "Overview"
	SheetFrequentist = "Frequentist"
	SheetComparisons = "Comparisons"
	SheetBayesian    = "Bayesian"
	SheetSequential  = "Sequential"
	SheetBandit      = "Bandit"
	SheetRegret      = "Regret"
	SheetPower       = "Power"
)

// sheet is one table of the workbook
type sheet struct {
	name    string
	headers []string
	rows    [][]interface{}
}

// BuildWorkbook lays out a summary as one sheet per analysis. Sheets for
// analyses the experiment does not run are omitted.
func BuildWorkbook(s *report.Summary) (*excelize.File, error) {
	f := excelize.NewFile()

	sheets := summarySheets(s)
	for i, sh := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sh.name); err != nil {
				f.Close()
				return nil, err
			}
		} else if _, err := f.NewSheet(sh.name); err != nil {
			f.Close()
			return nil, err
		}
		if err := writeSheet(f, sh); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write sheet %s: %w", sh.name, err)
		}
	}
	f.SetActiveSheet(0)
	return f, nil
}

// WriteWorkbook streams the workbook for s to w
func WriteWorkbook(w io.Writer, s *report.Summary) error {
	f, err := BuildWorkbook(s)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

// SaveWorkbook writes the workbook for s to path
func SaveWorkbook(path string, s *report.Summary) error {
	f, err := BuildWorkbook(s)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(path)
}

func writeSheet(f *excelize.File, sh sheet) error {
	// Header row
	for i, h := range sh.headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sh.name, cell, h); err != nil {
			return err
		}
	}
	// Data rows
	for r, row := range sh.rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sh.name, cell, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func summarySheets(s *report.Summary) []sheet {
	exp := s.Experiment
	winner := ""
	if exp.WinningVariantID != nil {
		winner = s.VariantName(*exp.WinningVariantID)
	}
	overview := sheet{
		name:    SheetOverview,
		headers: []string{"Field", "Value"},
		rows: [][]interface{}{
			{"Experiment", exp.Name},
			{"ID", exp.ID.String()},
			{"Tenant", exp.TenantID.String()},
			{"Channel", string(exp.Channel)},
			{"Status", string(exp.Status)},
			{"Method", string(exp.Method)},
			{"Success metric", exp.SuccessMetric},
			{"Confidence level", exp.ConfidenceLevel},
			{"Winner", winner},
			{"Generated at", s.GeneratedAt},
		},
	}
	for _, v := range exp.SortedVariants() {
		overview.rows = append(overview.rows, []interface{}{"Allocation " + v.Name, exp.TrafficAllocation.Percent(v.Name)})
	}
	out := []sheet{overview}

	if f := s.Frequentist; f != nil {
		rates := sheet{name: SheetFrequentist, headers: []string{"Variant", "Exposures", "Conversions", "Rate"}}
		for _, r := range f.PerVariant {
			rates.rows = append(rates.rows, []interface{}{r.Variant, r.N, r.Conversions, r.Rate})
		}
		out = append(out, rates)

		if len(f.Comparisons) > 0 {
			cmp := sheet{name: SheetComparisons, headers: []string{"A", "B", "z", "p-value", "CI low", "CI high", "Error"}}
			for _, c := range f.Comparisons {
				cmp.rows = append(cmp.rows, []interface{}{c.A, c.B, c.ZStat, c.PValue, c.CILow, c.CIHigh, c.Err})
			}
			out = append(out, cmp)
		}
	}

	if len(s.Bayesian) > 0 {
		sh := sheet{name: SheetBayesian, headers: []string{
			"Variant", "Prior alpha", "Prior beta", "Successes", "Failures",
			"Posterior alpha", "Posterior beta", "P(best)", "Expected loss", "Credible low", "Credible high",
		}}
		for _, r := range s.Bayesian {
			sh.rows = append(sh.rows, []interface{}{
				s.VariantName(r.VariantID), r.PriorAlpha, r.PriorBeta, r.Successes, r.Failures,
				r.PosteriorAlpha, r.PosteriorBeta, r.ProbabilityBest, r.ExpectedLoss, r.CredibleLow, r.CredibleHigh,
			})
		}
		out = append(out, sh)
	}

	if len(s.Sequential) > 0 {
		sh := sheet{name: SheetSequential, headers: []string{
			"Check", "Total checks", "Sample size", "Planned", "Information", "Alpha spent",
			"z", "Upper", "Lower", "Decision", "Leading variant",
		}}
		for _, r := range s.Sequential {
			leading := ""
			if r.LeadingVariantID != nil {
				leading = s.VariantName(*r.LeadingVariantID)
			}
			sh.rows = append(sh.rows, []interface{}{
				r.CheckNumber, r.TotalChecks, r.SampleSize, r.PlannedSampleSize, r.InformationFraction, r.AlphaSpent,
				r.ZStatistic, r.UpperBoundary, r.LowerBoundary, string(r.Decision), leading,
			})
		}
		out = append(out, sh)
	}

	if len(s.Bandit) > 0 {
		sh := sheet{name: SheetBandit, headers: []string{
			"Arm", "Algorithm", "Pulls", "Successes", "Failures", "Mean reward", "UCB", "Initial allocation", "Current allocation",
		}}
		for _, r := range s.Bandit {
			var ucb interface{}
			if r.UCBValue != nil {
				ucb = *r.UCBValue
			}
			sh.rows = append(sh.rows, []interface{}{
				r.VariantName, string(r.Algorithm), r.Pulls, r.SuccessCount, r.FailureCount, r.MeanReward, ucb,
				r.InitialAllocation, r.CurrentAllocation,
			})
		}
		out = append(out, sh)
	}

	if len(s.Regret) > 0 {
		sh := sheet{name: SheetRegret, headers: []string{"Total pulls", "Cumulative regret", "Optimal arm", "Recorded at"}}
		for _, r := range s.Regret {
			sh.rows = append(sh.rows, []interface{}{r.TotalPulls, r.CumulativeRegret, s.VariantName(r.OptimalVariantID), r.RecordedAt})
		}
		out = append(out, sh)
	}

	if len(s.Power) > 0 {
		sh := sheet{name: SheetPower, headers: []string{
			"Baseline", "MDE", "Power", "Alpha", "Variants", "Per variant", "Total", "Daily traffic", "Days",
		}}
		for _, p := range s.Power {
			var traffic, days interface{}
			if p.DailyTraffic != nil {
				traffic = *p.DailyTraffic
			}
			if p.EstimatedDurationDays != nil {
				days = *p.EstimatedDurationDays
			}
			sh.rows = append(sh.rows, []interface{}{
				p.BaselineRate, p.MinimumDetectableEffect, p.Power, p.SignificanceLevel, p.VariantCount,
				p.SampleSizePerVariant, p.TotalSampleSize, traffic, days,
			})
		}
		out = append(out, sh)
	}

	return out
}

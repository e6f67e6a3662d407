// Package report renders experiment summaries for people: a markdown
// executive summary and its HTML rendering.
package report

import (
	"bytes"
	"fmt"
	"time"

	"abstats/domain/core"
	"abstats/domain/experiment"
	"abstats/domain/stats"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Summary is a read-only snapshot of everything known about one experiment.
// Sections that do not apply to the experiment's method are empty.
type Summary struct {
	Experiment      *experiment.Experiment     `json:"experiment"`
	Frequentist     *stats.FrequentistReport   `json:"frequentist"`
	Bayesian        []stats.BayesianStats      `json:"bayesian,omitempty"`
	Sequential      []stats.SequentialAnalysis `json:"sequential,omitempty"`
	SequentialState stats.SequentialState      `json:"sequential_state,omitempty"`
	Bandit          []stats.BanditState        `json:"bandit,omitempty"`
	Regret          []stats.BanditRegret       `json:"regret,omitempty"`
	Power           []stats.PowerAnalysis      `json:"power,omitempty"`
	GeneratedAt     time.Time                  `json:"generated_at"`
}

// VariantName resolves a variant id to its name, falling back to the id
func (s *Summary) VariantName(id core.VariantID) string {
	if s.Experiment != nil {
		if v, ok := s.Experiment.VariantByID(id); ok {
			return v.Name
		}
	}
	return id.String()
}

// Markdown renders the executive summary
func Markdown(s *Summary) []byte {
	var b bytes.Buffer
	exp := s.Experiment

	fmt.Fprintf(&b, "# %s\n\n", exp.Name)
	fmt.Fprintf(&b, "- **Status:** %s\n", exp.Status)
	fmt.Fprintf(&b, "- **Channel:** %s\n", exp.Channel)
	fmt.Fprintf(&b, "- **Method:** %s\n", exp.Method)
	fmt.Fprintf(&b, "- **Confidence level:** %.0f%%\n", exp.ConfidenceLevel*100)
	if exp.WinningVariantID != nil {
		fmt.Fprintf(&b, "- **Winner:** %s\n", s.VariantName(*exp.WinningVariantID))
	}
	b.WriteString("\n")

	if f := s.Frequentist; f != nil {
		b.WriteString("## Conversion\n\n")
		b.WriteString("| Variant | Exposures | Conversions | Rate |\n|---|---:|---:|---:|\n")
		for _, r := range f.PerVariant {
			fmt.Fprintf(&b, "| %s | %d | %d | %.2f%% |\n", r.Variant, r.N, r.Conversions, r.Rate*100)
		}
		b.WriteString("\n")
		if f.Notice != "" {
			fmt.Fprintf(&b, "> %s\n\n", f.Notice)
		}
		if len(f.Comparisons) > 0 {
			b.WriteString("| Comparison | z | p-value | CI (B - A) |\n|---|---:|---:|---|\n")
			for _, c := range f.Comparisons {
				if c.Err != "" {
					fmt.Fprintf(&b, "| %s vs %s | - | - | %s |\n", c.B, c.A, c.Err)
					continue
				}
				fmt.Fprintf(&b, "| %s vs %s | %.3f | %.4f | [%.4f, %.4f] |\n", c.B, c.A, c.ZStat, c.PValue, c.CILow, c.CIHigh)
			}
			b.WriteString("\n")
		}
	}

	if len(s.Bayesian) > 0 {
		b.WriteString("## Bayesian posteriors\n\n")
		b.WriteString("| Variant | Posterior | P(best) | Expected loss | Credible interval |\n|---|---|---:|---:|---|\n")
		for _, r := range s.Bayesian {
			fmt.Fprintf(&b, "| %s | Beta(%.0f, %.0f) | %.3f | %.5f | [%.4f, %.4f] |\n",
				s.VariantName(r.VariantID), r.PosteriorAlpha, r.PosteriorBeta, r.ProbabilityBest, r.ExpectedLoss, r.CredibleLow, r.CredibleHigh)
		}
		b.WriteString("\n")
	}

	if len(s.Sequential) > 0 {
		fmt.Fprintf(&b, "## Sequential checks (%s)\n\n", s.SequentialState)
		b.WriteString("| Check | Information | z | Boundary | Alpha spent | Decision |\n|---:|---:|---:|---:|---:|---|\n")
		for _, r := range s.Sequential {
			fmt.Fprintf(&b, "| %d/%d | %.2f | %.3f | ±%.3f | %.4f | %s |\n",
				r.CheckNumber, r.TotalChecks, r.InformationFraction, r.ZStatistic, r.UpperBoundary, r.AlphaSpent, r.Decision)
		}
		b.WriteString("\n")
	}

	if len(s.Bandit) > 0 {
		b.WriteString("## Bandit arms\n\n")
		b.WriteString("| Arm | Pulls | Mean reward | Allocation |\n|---|---:|---:|---:|\n")
		for _, r := range s.Bandit {
			fmt.Fprintf(&b, "| %s | %d | %.4f | %.1f%% |\n", r.VariantName, r.Pulls, r.MeanReward, r.CurrentAllocation*100)
		}
		b.WriteString("\n")
		if n := len(s.Regret); n > 0 {
			last := s.Regret[n-1]
			fmt.Fprintf(&b, "Cumulative regret after %d pulls: **%.3f**\n\n", last.TotalPulls, last.CumulativeRegret)
		}
	}

	if len(s.Power) > 0 {
		b.WriteString("## Sample size plans\n\n")
		for _, p := range s.Power {
			fmt.Fprintf(&b, "- baseline %.2f%%, MDE %.1f%%: %d per variant (%d total)",
				p.BaselineRate*100, p.MinimumDetectableEffect*100, p.SampleSizePerVariant, p.TotalSampleSize)
			if p.EstimatedDurationDays != nil {
				fmt.Fprintf(&b, ", about %d days", *p.EstimatedDurationDays)
			}
			b.WriteString("\n")
		}
	}

	return b.Bytes()
}

// HTML renders the executive summary as an HTML fragment
func HTML(s *Summary) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	r := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	return markdown.ToHTML(Markdown(s), p, r)
}

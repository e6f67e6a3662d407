package report

import (
	"strings"
	"testing"
	"time"

	"abstats/domain/core"
	"abstats/domain/experiment"
	"abstats/domain/stats"

	"github.com/stretchr/testify/assert"
)

func testSummary() *Summary {
	a := experiment.Variant{ID: core.NewVariantID(), Name: "A"}
	b := experiment.Variant{ID: core.NewVariantID(), Name: "B"}
	winner := b.ID
	return &Summary{
		Experiment: &experiment.Experiment{
			ID:               core.NewExperimentID(),
			Name:             "Spring promo",
			Status:           experiment.StatusCompleted,
			Channel:          experiment.ChannelEmail,
			Method:           experiment.MethodBayesian,
			ConfidenceLevel:  0.95,
			Variants:         []experiment.Variant{a, b},
			WinningVariantID: &winner,
		},
		Frequentist: &stats.FrequentistReport{
			PerVariant: []stats.VariantRate{
				{VariantID: a.ID, Variant: "A", N: 100, Conversions: 10, Rate: 0.10},
				{VariantID: b.ID, Variant: "B", N: 100, Conversions: 20, Rate: 0.20},
			},
			Comparisons: []stats.Comparison{{A: "A", B: "B", ZStat: 1.98, PValue: 0.047, CILow: 0.001, CIHigh: 0.199}},
		},
		Bayesian: []stats.BayesianStats{
			{VariantID: a.ID, PosteriorAlpha: 11, PosteriorBeta: 91, ProbabilityBest: 0.03},
			{VariantID: b.ID, PosteriorAlpha: 21, PosteriorBeta: 81, ProbabilityBest: 0.97},
		},
		GeneratedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestMarkdown(t *testing.T) {
	md := string(Markdown(testSummary()))

	assert.True(t, strings.HasPrefix(md, "# Spring promo\n"))
	assert.Contains(t, md, "- **Winner:** B")
	assert.Contains(t, md, "| B | 100 | 20 | 20.00% |")
	assert.Contains(t, md, "| B vs A | 1.980 | 0.0470 |")
	assert.Contains(t, md, "| B | Beta(21, 81) | 0.970 |")
	assert.NotContains(t, md, "Sequential checks")
}

func TestHTML(t *testing.T) {
	out := string(HTML(testSummary()))

	assert.Contains(t, out, "<h1")
	assert.Contains(t, out, "Spring promo")
	assert.Contains(t, out, "<table>")
}

func TestVariantNameFallsBackToID(t *testing.T) {
	s := testSummary()
	unknown := core.NewVariantID()
	assert.Equal(t, "A", s.VariantName(s.Experiment.Variants[0].ID))
	assert.Equal(t, unknown.String(), s.VariantName(unknown))
}

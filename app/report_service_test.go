package app

import (
	"context"
	"strings"
	"testing"

	"abstats/domain/experiment"
	"abstats/domain/stats"
	"abstats/internal/report"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaryCollectsMethodSections(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	seq := h.running(t, input(experiment.MethodSequential, "", "A", "B"))
	h.seedTraffic(t, seq, "A", 100, 5)
	h.seedTraffic(t, seq, "B", 100, 40)
	_, err := h.sequential.RunCheck(ctx, seq.ID)
	require.NoError(t, err)

	summary, err := h.reports.Summary(ctx, seq.ID)
	require.NoError(t, err)
	require.NotNil(t, summary.Frequentist)
	assert.Len(t, summary.Sequential, 1)
	assert.Equal(t, stats.StateStoppedWinner, summary.SequentialState)
	assert.Empty(t, summary.Bandit)
	assert.Empty(t, summary.Bayesian)

	md := string(report.Markdown(summary))
	assert.Contains(t, md, "# sequential experiment")
	assert.Contains(t, md, "**Winner:** B")
	assert.Contains(t, md, "stop_winner")

	html := string(report.HTML(summary))
	assert.True(t, strings.Contains(html, "<table>"), html)
	assert.Contains(t, html, "<h2")
}

func TestSummaryBandit(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	exp := h.running(t, input(experiment.MethodBandit, "", "A", "B"))
	_, err := h.bandit.RecordReward(ctx, h.pending(t, exp, exp.Variants[0].ID, experiment.OutcomeSuccess))
	require.NoError(t, err)

	summary, err := h.reports.Summary(ctx, exp.ID)
	require.NoError(t, err)
	assert.Len(t, summary.Bandit, 2)
	assert.Len(t, summary.Regret, 1)
	assert.Contains(t, string(report.Markdown(summary)), "Cumulative regret after 1 pulls")
}

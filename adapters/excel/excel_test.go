package excel

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"abstats/domain/experiment"
	"abstats/domain/stats"
	"abstats/internal"
	"abstats/internal/report"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func banditSummary(t *testing.T) *report.Summary {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	exp, err := experiment.New(experiment.NewExperiment{
		TenantID:      "tenant-x",
		Name:          "welcome sms",
		Channel:       experiment.ChannelSMS,
		Method:        experiment.MethodBandit,
		SuccessMetric: "reply",
		Variants: []experiment.NewVariant{
			{Name: "A", Content: "Hi"},
			{Name: "B", Content: "Hello"},
		},
	}, now)
	require.NoError(t, err)

	a, _ := exp.VariantByName("A")
	b, _ := exp.VariantByName("B")
	ucb := 1.4
	return &report.Summary{
		Experiment: exp,
		Frequentist: &stats.FrequentistReport{
			ExperimentID: exp.ID,
			PerVariant: []stats.VariantRate{
				{VariantID: a.ID, Variant: "A", N: 100, Conversions: 10, Rate: 0.1},
				{VariantID: b.ID, Variant: "B", N: 100, Conversions: 20, Rate: 0.2},
			},
			Comparisons: []stats.Comparison{{A: "A", B: "B", ZStat: 1.98, PValue: 0.047, CILow: 0.001, CIHigh: 0.199}},
		},
		Bandit: []stats.BanditState{
			{VariantID: a.ID, VariantName: "A", Algorithm: experiment.AlgorithmThompson, Pulls: 100, MeanReward: 0.1, CurrentAllocation: 0.2},
			{VariantID: b.ID, VariantName: "B", Algorithm: experiment.AlgorithmThompson, Pulls: 100, MeanReward: 0.2, UCBValue: &ucb, CurrentAllocation: 0.8},
		},
		Regret:      []stats.BanditRegret{{TotalPulls: 200, CumulativeRegret: 10, OptimalVariantID: b.ID, RecordedAt: now}},
		GeneratedAt: now,
	}
}

func TestWriteWorkbookHasOneSheetPerAnalysis(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteWorkbook(&buf, banditSummary(t)))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetOverview, SheetFrequentist, SheetComparisons, SheetBandit, SheetRegret}, f.GetSheetList())

	name, err := f.GetCellValue(SheetOverview, "B2")
	require.NoError(t, err)
	assert.Equal(t, "welcome sms", name)

	rows, err := f.GetRows(SheetBandit)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Arm", rows[0][0])
	assert.Equal(t, "B", rows[2][0])
	assert.Equal(t, "0.8", rows[2][8])

	optimal, err := f.GetCellValue(SheetRegret, "C2")
	require.NoError(t, err)
	assert.Equal(t, "B", optimal)
}

func TestReadEventsFromCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.csv")
	content := "Recipient_ID,outcome\nr-1,success\nr-2,\nr-3,0\n,1\nr-4,yes\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	events, err := NewEventReader(path, internal.NopLogger()).ReadEvents()
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, Event{Row: 2, RecipientID: "r-1", Outcome: experiment.OutcomeSuccess}, events[0])
	assert.Equal(t, experiment.OutcomeKind(""), events[1].Outcome)
	assert.Equal(t, experiment.OutcomeFailure, events[2].Outcome)
	assert.Equal(t, "r-4", events[3].RecipientID)
}

func TestReadEventsFromXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"recipient_id", "converted"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"r-1", "true"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]interface{}{"r-2", "no"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	events, err := NewEventReader(path, internal.NopLogger()).ReadEvents()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, experiment.OutcomeSuccess, events[0].Outcome)
	assert.Equal(t, experiment.OutcomeFailure, events[1].Outcome)
}

func TestReadEventsRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	noRecipient := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(noRecipient, []byte("user,outcome\nx,1\n"), 0o644))
	_, err := NewEventReader(noRecipient, internal.NopLogger()).ReadEvents()
	assert.ErrorContains(t, err, "recipient_id")

	badOutcome := filepath.Join(dir, "outcome.csv")
	require.NoError(t, os.WriteFile(badOutcome, []byte("recipient_id,outcome\nx,maybe\n"), 0o644))
	_, err = NewEventReader(badOutcome, internal.NopLogger()).ReadEvents()
	assert.ErrorContains(t, err, "row 2")

	_, err = NewEventReader(filepath.Join(dir, "missing.xlsx"), internal.NopLogger()).ReadEvents()
	assert.ErrorContains(t, err, "not found")
}

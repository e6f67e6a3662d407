package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"abstats/domain/core"
	"abstats/domain/experiment"
	"abstats/domain/stats"
	"abstats/ports"
)

// ============================================================================
// Bayesian
// ============================================================================

func (s *Store) SeedBayesian(ctx context.Context, rows []stats.BayesianStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		key := armKey{row.ExperimentID, row.VariantID}
		if _, exists := s.bayesian[key]; !exists {
			s.bayesian[key] = row
		}
	}
	return nil
}

func (s *Store) IncrementPosterior(ctx context.Context, o *experiment.Outcome, now time.Time) (*stats.BayesianStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.pendingOutcomeLocked(o.ExperimentID, o.RecipientID)
	if err != nil {
		return nil, err
	}
	key := armKey{stored.ExperimentID, stored.VariantID}
	row, ok := s.bayesian[key]
	if !ok {
		return nil, core.NewNotFoundError("bayesian stats", stored.VariantID.String())
	}
	if stored.Outcome == experiment.OutcomeSuccess {
		row.Successes++
	} else {
		row.Failures++
	}
	row.PosteriorAlpha = row.PriorAlpha + float64(row.Successes)
	row.PosteriorBeta = row.PriorBeta + float64(row.Failures)
	row.UpdatedAt = now
	s.bayesian[key] = row
	s.markAppliedLocked(stored)
	return &row, nil
}

func (s *Store) ListBayesian(ctx context.Context, expID core.ExperimentID) ([]stats.BayesianStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []stats.BayesianStats
	for key, row := range s.bayesian {
		if key.exp == expID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out, nil
}

func (s *Store) SaveDerived(ctx context.Context, rows []stats.BayesianStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		key := armKey{row.ExperimentID, row.VariantID}
		stored, ok := s.bayesian[key]
		if !ok {
			return core.NewNotFoundError("bayesian stats", row.VariantID.String())
		}
		stored.ProbabilityBest = row.ProbabilityBest
		stored.CredibleLow = row.CredibleLow
		stored.CredibleHigh = row.CredibleHigh
		stored.ExpectedLoss = row.ExpectedLoss
		stored.UpdatedAt = row.UpdatedAt
		s.bayesian[key] = stored
	}
	return nil
}

// ============================================================================
// Sequential
// ============================================================================

func (s *Store) ListChecks(ctx context.Context, expID core.ExperimentID) ([]stats.SequentialAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]stats.SequentialAnalysis(nil), s.sequential[expID]...), nil
}

func (s *Store) experimentLock(expID core.ExperimentID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.locks[expID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[expID] = l
	}
	return l
}

// WithExperimentLock serializes callers per experiment. Appends and lifecycle
// changes made through the store are buffered and applied only when fn
// succeeds.
func (s *Store) WithExperimentLock(ctx context.Context, expID core.ExperimentID, fn func(ctx context.Context, store ports.SequentialStore) error) error {
	l := s.experimentLock(expID)
	l.Lock()
	defer l.Unlock()

	tx := &sequentialTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range tx.appended {
		row.ID = s.ids.Next()
		s.sequential[row.ExperimentID] = append(s.sequential[row.ExperimentID], row)
	}
	for _, exp := range tx.lifecycle {
		if err := s.updateLifecycleLocked(exp); err != nil {
			return err
		}
	}
	return nil
}

type sequentialTx struct {
	store     *Store
	appended  []stats.SequentialAnalysis
	lifecycle []*experiment.Experiment
}

func (tx *sequentialTx) ListChecks(ctx context.Context, expID core.ExperimentID) ([]stats.SequentialAnalysis, error) {
	rows, err := tx.store.ListChecks(ctx, expID)
	if err != nil {
		return nil, err
	}
	for _, row := range tx.appended {
		if row.ExperimentID == expID {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (tx *sequentialTx) AppendCheck(ctx context.Context, row *stats.SequentialAnalysis) error {
	existing, err := tx.ListChecks(ctx, row.ExperimentID)
	if err != nil {
		return err
	}
	for _, r := range existing {
		if r.CheckNumber == row.CheckNumber {
			return fmt.Errorf("%w: check %d already recorded", core.ErrStateCorruption, row.CheckNumber)
		}
	}
	tx.appended = append(tx.appended, *row)
	return nil
}

func (tx *sequentialTx) VariantCounts(ctx context.Context, expID core.ExperimentID) ([]experiment.VariantCounts, error) {
	return tx.store.VariantCounts(ctx, expID)
}

func (tx *sequentialTx) UpdateLifecycle(ctx context.Context, exp *experiment.Experiment) error {
	tx.lifecycle = append(tx.lifecycle, exp)
	return nil
}

// ============================================================================
// Bandit
// ============================================================================

func (s *Store) SeedBandit(ctx context.Context, rows []stats.BanditState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		key := armKey{row.ExperimentID, row.VariantID}
		if _, exists := s.bandit[key]; !exists {
			s.bandit[key] = row
		}
	}
	return nil
}

func (s *Store) ListBandit(ctx context.Context, expID core.ExperimentID) ([]stats.BanditState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listBanditLocked(expID), nil
}

func (s *Store) listBanditLocked(expID core.ExperimentID) []stats.BanditState {
	var out []stats.BanditState
	for key, row := range s.bandit {
		if key.exp == expID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantName < out[j].VariantName })
	return out
}

func (s *Store) ApplyReward(ctx context.Context, o *experiment.Outcome, now time.Time) (*stats.BanditState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.pendingOutcomeLocked(o.ExperimentID, o.RecipientID)
	if err != nil {
		return nil, err
	}
	key := armKey{stored.ExperimentID, stored.VariantID}
	row, ok := s.bandit[key]
	if !ok {
		return nil, core.NewNotFoundError("bandit state", stored.VariantID.String())
	}
	row.ApplyReward(stored.Reward())
	row.UpdatedAt = now
	s.bandit[key] = row
	s.markAppliedLocked(stored)
	return &row, nil
}

func (s *Store) markAppliedLocked(o experiment.Outcome) {
	o.Applied = true
	s.outcomes[recipientKey{o.ExperimentID, o.RecipientID}] = o
}

func (s *Store) UpdateAllocations(ctx context.Context, rows []stats.BanditState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		key := armKey{row.ExperimentID, row.VariantID}
		stored, ok := s.bandit[key]
		if !ok {
			return core.NewNotFoundError("bandit state", row.VariantID.String())
		}
		stored.CurrentAllocation = row.CurrentAllocation
		stored.UCBValue = row.UCBValue
		s.bandit[key] = stored
	}
	return nil
}

func (s *Store) AppendRegret(ctx context.Context, expID core.ExperimentID, increment float64, optimal core.VariantID, now time.Time) (*stats.BanditRegret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cumulative := 0.0
	if series := s.regret[expID]; len(series) > 0 {
		cumulative = series[len(series)-1].CumulativeRegret
	}
	pulls := 0
	for _, row := range s.listBanditLocked(expID) {
		pulls += row.Pulls
	}

	snap := stats.BanditRegret{
		ID:               s.ids.Next(),
		ExperimentID:     expID,
		TotalPulls:       pulls,
		CumulativeRegret: cumulative + increment,
		OptimalVariantID: optimal,
		RecordedAt:       now,
	}
	s.regret[expID] = append(s.regret[expID], snap)
	return &snap, nil
}

func (s *Store) ListRegret(ctx context.Context, expID core.ExperimentID) ([]stats.BanditRegret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]stats.BanditRegret(nil), s.regret[expID]...), nil
}

// ============================================================================
// Power
// ============================================================================

func (s *Store) CreatePowerAnalysis(ctx context.Context, row *stats.PowerAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row.ID = s.ids.Next()
	s.power = append(s.power, *row)
	return nil
}

func (s *Store) GetPowerAnalysis(ctx context.Context, id int64) (*stats.PowerAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.power {
		if row.ID == id {
			r := row
			return &r, nil
		}
	}
	return nil, core.NewNotFoundError("power analysis", fmt.Sprint(id))
}

func (s *Store) ListPowerAnalyses(ctx context.Context, expID core.ExperimentID) ([]stats.PowerAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []stats.PowerAnalysis
	for _, row := range s.power {
		if row.ExperimentID != nil && *row.ExperimentID == expID {
			out = append(out, row)
		}
	}
	return out, nil
}

var (
	_ ports.ExperimentRepository = (*Store)(nil)
	_ ports.AssignmentRepository = (*Store)(nil)
	_ ports.OutcomeRepository    = (*Store)(nil)
	_ ports.BayesianRepository   = (*Store)(nil)
	_ ports.SequentialRepository = (*Store)(nil)
	_ ports.BanditRepository     = (*Store)(nil)
	_ ports.PowerRepository      = (*Store)(nil)
)

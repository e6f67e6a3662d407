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
)

type recipientKey struct {
	exp       core.ExperimentID
	recipient core.RecipientID
}

type armKey struct {
	exp     core.ExperimentID
	variant core.VariantID
}

// Store implements every repository port in process memory. It backs the
// service tests and the offline simulator.
type Store struct {
	mu          sync.RWMutex
	experiments map[core.ExperimentID]*experiment.Experiment
	assignments map[recipientKey]experiment.Assignment
	outcomes    map[recipientKey]experiment.Outcome
	bayesian    map[armKey]stats.BayesianStats
	sequential  map[core.ExperimentID][]stats.SequentialAnalysis
	bandit      map[armKey]stats.BanditState
	regret      map[core.ExperimentID][]stats.BanditRegret
	power       []stats.PowerAnalysis

	locksMu sync.Mutex
	locks   map[core.ExperimentID]*sync.Mutex

	ids *Sequence
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		experiments: make(map[core.ExperimentID]*experiment.Experiment),
		assignments: make(map[recipientKey]experiment.Assignment),
		outcomes:    make(map[recipientKey]experiment.Outcome),
		bayesian:    make(map[armKey]stats.BayesianStats),
		sequential:  make(map[core.ExperimentID][]stats.SequentialAnalysis),
		bandit:      make(map[armKey]stats.BanditState),
		regret:      make(map[core.ExperimentID][]stats.BanditRegret),
		locks:       make(map[core.ExperimentID]*sync.Mutex),
		ids:         NewSequence(),
	}
}

func cloneExperiment(exp *experiment.Experiment) *experiment.Experiment {
	out := *exp
	out.Variants = append([]experiment.Variant(nil), exp.Variants...)
	return &out
}

// ============================================================================
// Experiments
// ============================================================================

func (s *Store) Create(ctx context.Context, exp *experiment.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.experiments[exp.ID]; exists {
		return core.NewValidationError("id", fmt.Sprintf("experiment %s already exists", exp.ID))
	}
	s.experiments[exp.ID] = cloneExperiment(exp)
	return nil
}

func (s *Store) Get(ctx context.Context, id core.ExperimentID) (*experiment.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.experiments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrExperimentNotFound, id)
	}
	return cloneExperiment(exp), nil
}

func (s *Store) ListByTenant(ctx context.Context, tenantID core.TenantID) ([]*experiment.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*experiment.Experiment
	for _, exp := range s.experiments {
		if exp.TenantID == tenantID {
			out = append(out, cloneExperiment(exp))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) UpdateLifecycle(ctx context.Context, exp *experiment.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLifecycleLocked(exp)
}

func (s *Store) updateLifecycleLocked(exp *experiment.Experiment) error {
	stored, ok := s.experiments[exp.ID]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrExperimentNotFound, exp.ID)
	}
	stored.Status = exp.Status
	stored.StartedAt = exp.StartedAt
	stored.EndedAt = exp.EndedAt
	stored.WinningVariantID = exp.WinningVariantID
	stored.UpdatedAt = exp.UpdatedAt
	return nil
}

func (s *Store) UpdateAllocation(ctx context.Context, id core.ExperimentID, alloc experiment.Allocation, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.experiments[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrExperimentNotFound, id)
	}
	stored.TrafficAllocation = alloc
	stored.UpdatedAt = updatedAt
	return nil
}

func (s *Store) UpdateVariantContent(ctx context.Context, expID core.ExperimentID, variantID core.VariantID, subject, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.experiments[expID]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrExperimentNotFound, expID)
	}
	v, ok := stored.VariantByID(variantID)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrVariantNotFound, variantID)
	}
	for key := range s.assignments {
		if key.exp == expID {
			return core.ErrVariantLocked
		}
	}
	v.Subject = subject
	v.Content = content
	return nil
}

// ============================================================================
// Assignments and outcomes
// ============================================================================

func (s *Store) GetAssignment(ctx context.Context, expID core.ExperimentID, recipientID core.RecipientID) (*experiment.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assignments[recipientKey{expID, recipientID}]
	if !ok {
		return nil, core.ErrAssignmentNotFound
	}
	return &a, nil
}

func (s *Store) CreateAssignment(ctx context.Context, a *experiment.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recipientKey{a.ExperimentID, a.RecipientID}
	if _, exists := s.assignments[key]; exists {
		return core.ErrDuplicateAssignment
	}
	s.assignments[key] = *a
	return nil
}

func (s *Store) CountAssignments(ctx context.Context, expID core.ExperimentID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for key := range s.assignments {
		if key.exp == expID {
			n++
		}
	}
	return n, nil
}

func (s *Store) VariantCounts(ctx context.Context, expID core.ExperimentID) ([]experiment.VariantCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.variantCountsLocked(expID)
}

func (s *Store) variantCountsLocked(expID core.ExperimentID) ([]experiment.VariantCounts, error) {
	exp, ok := s.experiments[expID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrExperimentNotFound, expID)
	}

	byVariant := make(map[core.VariantID]*experiment.VariantCounts, len(exp.Variants))
	out := make([]experiment.VariantCounts, len(exp.Variants))
	for i, v := range exp.SortedVariants() {
		out[i].VariantID = v.ID
		byVariant[v.ID] = &out[i]
	}
	for key, a := range s.assignments {
		if key.exp == expID {
			if c, ok := byVariant[a.VariantID]; ok {
				c.Exposures++
			}
		}
	}
	for key, o := range s.outcomes {
		if key.exp != expID {
			continue
		}
		c, ok := byVariant[o.VariantID]
		if !ok {
			continue
		}
		if o.Outcome == experiment.OutcomeSuccess {
			c.Successes++
		} else {
			c.Failures++
		}
	}
	return out, nil
}

func (s *Store) CreateOutcome(ctx context.Context, o *experiment.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recipientKey{o.ExperimentID, o.RecipientID}
	if _, exists := s.outcomes[key]; exists {
		return core.ErrDuplicateOutcome
	}
	s.outcomes[key] = *o
	return nil
}

func (s *Store) GetOutcome(ctx context.Context, expID core.ExperimentID, recipientID core.RecipientID) (*experiment.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.outcomes[recipientKey{expID, recipientID}]
	if !ok {
		return nil, core.NewNotFoundError("outcome", recipientID.String())
	}
	return &o, nil
}

func (s *Store) MarkOutcomeApplied(ctx context.Context, expID core.ExperimentID, recipientID core.RecipientID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recipientKey{expID, recipientID}
	o, ok := s.outcomes[key]
	if !ok {
		return core.NewNotFoundError("outcome", recipientID.String())
	}
	o.Applied = true
	s.outcomes[key] = o
	return nil
}

// pendingOutcomeLocked returns the stored outcome if it has not been applied
func (s *Store) pendingOutcomeLocked(expID core.ExperimentID, recipientID core.RecipientID) (experiment.Outcome, error) {
	o, ok := s.outcomes[recipientKey{expID, recipientID}]
	if !ok {
		return o, core.NewNotFoundError("outcome", recipientID.String())
	}
	if o.Applied {
		return o, core.ErrOutcomeApplied
	}
	return o, nil
}

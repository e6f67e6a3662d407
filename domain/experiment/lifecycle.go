package experiment

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"abstats/domain/core"
)

// NewExperiment is the input for creating a draft experiment
type NewExperiment struct {
	TenantID        core.TenantID      `json:"tenant_id"`
	FormID          *string            `json:"form_id,omitempty"`
	Name            string             `json:"name"`
	Channel         Channel            `json:"channel"`
	Method          Method             `json:"statistical_method"`
	MethodConfig    json.RawMessage    `json:"method_config,omitempty"`
	SuccessMetric   string             `json:"success_metric"`
	MinSampleSize   int                `json:"min_sample_size"`
	ConfidenceLevel float64            `json:"confidence_level"`
	Allocation      map[string]float64 `json:"traffic_allocation,omitempty"`
	Variants        []NewVariant       `json:"variants"`
}

// NewVariant is the input for one arm of a new experiment
type NewVariant struct {
	Name              string  `json:"name"`
	Subject           string  `json:"subject"`
	Content           string  `json:"content"`
	DistributionJobID *string `json:"distribution_job_id,omitempty"`
	IsControl         bool    `json:"is_control"`
}

// DefaultConfidenceLevel applies when the caller leaves it zero
const DefaultConfidenceLevel = 0.95

// New validates the input and builds a draft experiment with fresh IDs
func New(in NewExperiment, now time.Time) (*Experiment, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, core.NewValidationError("name", "must not be empty")
	}
	if in.TenantID.String() == "" {
		return nil, core.NewValidationError("tenant_id", "must not be empty")
	}
	if !in.Channel.Valid() {
		return nil, core.NewValidationError("channel", fmt.Sprintf("unknown channel %q", in.Channel))
	}
	if !in.Method.Valid() {
		return nil, core.NewValidationError("statistical_method", fmt.Sprintf("unknown method %q", in.Method))
	}
	if in.ConfidenceLevel == 0 {
		in.ConfidenceLevel = DefaultConfidenceLevel
	}
	if in.ConfidenceLevel <= 0 || in.ConfidenceLevel >= 1 {
		return nil, core.NewValidationError("confidence_level", "must be in (0,1)")
	}
	if in.MinSampleSize < 0 {
		return nil, core.NewValidationError("min_sample_size", "must not be negative")
	}
	if len(in.Variants) == 0 {
		return nil, core.NewAllocationError("experiment has no variants")
	}

	id := core.NewExperimentID()
	variants := make([]Variant, 0, len(in.Variants))
	names := make([]string, 0, len(in.Variants))
	seen := make(map[string]bool, len(in.Variants))
	controls := 0
	for _, nv := range in.Variants {
		name := strings.TrimSpace(nv.Name)
		if name == "" {
			return nil, core.NewValidationError("variants.name", "must not be empty")
		}
		if seen[name] {
			return nil, core.NewValidationError("variants.name", fmt.Sprintf("duplicate variant %q", name))
		}
		seen[name] = true
		if nv.IsControl {
			controls++
		}
		variants = append(variants, Variant{
			ID:                core.NewVariantID(),
			ExperimentID:      id,
			Name:              name,
			Subject:           nv.Subject,
			Content:           nv.Content,
			DistributionJobID: nv.DistributionJobID,
			IsControl:         nv.IsControl,
			CreatedAt:         now,
		})
		names = append(names, name)
	}
	switch {
	case controls == 0:
		variants[0].IsControl = true
	case controls > 1:
		return nil, core.NewValidationError("variants.is_control", "at most one control variant")
	}

	var alloc Allocation
	var err error
	if len(in.Allocation) == 0 {
		alloc, err = EvenAllocation(names)
	} else {
		alloc, err = NewAllocation(in.Allocation)
	}
	if err != nil {
		return nil, err
	}
	if err := alloc.MatchesVariants(names); err != nil {
		return nil, err
	}

	cfg, err := ParseMethodConfig(in.Method, in.MethodConfig, in.ConfidenceLevel)
	if err != nil {
		return nil, err
	}
	if seq, ok := cfg.(SequentialConfig); ok && seq.PlannedSampleSize == 0 {
		seq.PlannedSampleSize = in.MinSampleSize * len(variants)
		if seq.PlannedSampleSize == 0 {
			return nil, core.NewValidationError("method_config.planned_sample_size",
				"required for sequential experiments when min_sample_size is zero")
		}
		cfg = seq
	}

	return &Experiment{
		ID:                id,
		TenantID:          in.TenantID,
		FormID:            in.FormID,
		Name:              strings.TrimSpace(in.Name),
		Channel:           in.Channel,
		Status:            StatusDraft,
		TrafficAllocation: alloc,
		Method:            in.Method,
		MethodConfig:      cfg,
		SuccessMetric:     in.SuccessMetric,
		MinSampleSize:     in.MinSampleSize,
		ConfidenceLevel:   in.ConfidenceLevel,
		CreatedAt:         now,
		UpdatedAt:         now,
		Variants:          variants,
	}, nil
}

// ValidateForStart checks everything that must hold before traffic flows
func (e *Experiment) ValidateForStart() error {
	if len(e.Variants) == 0 {
		return core.NewAllocationError("experiment has no variants")
	}
	if err := e.TrafficAllocation.Validate(); err != nil {
		return err
	}
	return e.TrafficAllocation.MatchesVariants(e.VariantNames())
}

// Start moves draft to running and stamps started_at
func (e *Experiment) Start(now time.Time) error {
	if e.Status != StatusDraft {
		return core.NewTransitionError(string(e.Status), string(StatusRunning))
	}
	if err := e.ValidateForStart(); err != nil {
		return err
	}
	e.Status = StatusRunning
	e.StartedAt = &now
	e.UpdatedAt = now
	return nil
}

// Pause moves running to paused
func (e *Experiment) Pause(now time.Time) error {
	if e.Status != StatusRunning {
		return core.NewTransitionError(string(e.Status), string(StatusPaused))
	}
	e.Status = StatusPaused
	e.UpdatedAt = now
	return nil
}

// Resume moves paused back to running
func (e *Experiment) Resume(now time.Time) error {
	if e.Status != StatusPaused {
		return core.NewTransitionError(string(e.Status), string(StatusRunning))
	}
	if err := e.ValidateForStart(); err != nil {
		return err
	}
	e.Status = StatusRunning
	e.UpdatedAt = now
	return nil
}

// Complete ends the experiment, optionally naming a winner. Only running or
// paused experiments can complete.
func (e *Experiment) Complete(winner *core.VariantID, now time.Time) error {
	if e.Status != StatusRunning && e.Status != StatusPaused {
		return core.NewTransitionError(string(e.Status), string(StatusCompleted))
	}
	if winner != nil {
		if _, ok := e.VariantByID(*winner); !ok {
			return fmt.Errorf("%w: winner %s is not a variant of %s", core.ErrVariantNotFound, *winner, e.ID)
		}
	}
	e.Status = StatusCompleted
	e.WinningVariantID = winner
	e.EndedAt = &now
	e.UpdatedAt = now
	return nil
}

// SetAllocation replaces the traffic split. Allowed in draft and paused only,
// or by the bandit allocator while running (live=true).
func (e *Experiment) SetAllocation(alloc Allocation, live bool, now time.Time) error {
	switch {
	case e.Status == StatusDraft, e.Status == StatusPaused:
	case live && e.Status == StatusRunning:
	default:
		return core.NewTransitionError(string(e.Status), "reallocate")
	}
	if err := alloc.Validate(); err != nil {
		return err
	}
	if err := alloc.MatchesVariants(e.VariantNames()); err != nil {
		return err
	}
	e.TrafficAllocation = alloc
	e.UpdatedAt = now
	return nil
}

// AcceptsTraffic reports whether new recipients may be assigned
func (e *Experiment) AcceptsTraffic() bool {
	return e.Status == StatusRunning
}

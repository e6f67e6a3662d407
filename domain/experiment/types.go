package experiment

import (
	"time"

	"abstats/domain/core"
)

// Status is the lifecycle state of an experiment
type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Channel is the distribution channel the experiment's messages go out on
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

// Method is the statistical method used to evaluate the experiment
type Method string

const (
	MethodFrequentist Method = "frequentist"
	MethodBayesian    Method = "bayesian"
	MethodSequential  Method = "sequential"
	MethodBandit      Method = "bandit"
)

// OutcomeKind is the result of a single recipient's exposure
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailure OutcomeKind = "failure"
)

// Experiment is the registry entry for one A/B test
type Experiment struct {
	ID                ExperimentID    `json:"id"`
	TenantID          core.TenantID   `json:"tenant_id"`
	FormID            *string         `json:"form_id,omitempty"`
	Name              string          `json:"name"`
	Channel           Channel         `json:"channel"`
	Status            Status          `json:"status"`
	TrafficAllocation Allocation      `json:"traffic_allocation"`
	Method            Method          `json:"statistical_method"`
	MethodConfig      MethodConfig    `json:"method_config"`
	SuccessMetric     string          `json:"success_metric"`
	MinSampleSize     int             `json:"min_sample_size"`
	ConfidenceLevel   float64         `json:"confidence_level"`
	WinningVariantID  *core.VariantID `json:"winning_variant_id,omitempty"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	EndedAt           *time.Time      `json:"ended_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Variants          []Variant       `json:"variants"`
}

// ExperimentID aliases the core type so callers of this package rarely need core
type ExperimentID = core.ExperimentID

// Variant is one arm of an experiment
type Variant struct {
	ID                core.VariantID `json:"id"`
	ExperimentID      ExperimentID   `json:"experiment_id"`
	Name              string         `json:"name"`
	Subject           string         `json:"subject"`
	Content           string         `json:"content"`
	DistributionJobID *string        `json:"distribution_job_id,omitempty"`
	IsControl         bool           `json:"is_control"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Assignment binds a recipient to a variant, once per experiment
type Assignment struct {
	ExperimentID ExperimentID     `json:"experiment_id"`
	VariantID    core.VariantID   `json:"variant_id"`
	RecipientID  core.RecipientID `json:"recipient_id"`
	AssignedAt   time.Time        `json:"assigned_at"`
}

// Outcome records the conversion result for an assigned recipient. Applied
// is set once the outcome has been folded into the method's running state.
type Outcome struct {
	ExperimentID ExperimentID     `json:"experiment_id"`
	VariantID    core.VariantID   `json:"variant_id"`
	RecipientID  core.RecipientID `json:"recipient_id"`
	Outcome      OutcomeKind      `json:"outcome"`
	Applied      bool             `json:"applied"`
	RecordedAt   time.Time        `json:"recorded_at"`
}

// Reward is the 0/1 bandit reward for the outcome
func (o *Outcome) Reward() int {
	if o.Outcome == OutcomeSuccess {
		return 1
	}
	return 0
}

// VariantCounts is the exposure/conversion tally for one variant
type VariantCounts struct {
	VariantID core.VariantID `json:"variant_id" db:"variant_id"`
	Exposures int            `json:"exposures" db:"exposures"`
	Successes int            `json:"successes" db:"successes"`
	Failures  int            `json:"failures" db:"failures"`
}

// VariantByID returns the variant with the given id
func (e *Experiment) VariantByID(id core.VariantID) (*Variant, bool) {
	for i := range e.Variants {
		if e.Variants[i].ID == id {
			return &e.Variants[i], true
		}
	}
	return nil, false
}

// VariantByName returns the variant with the given name
func (e *Experiment) VariantByName(name string) (*Variant, bool) {
	for i := range e.Variants {
		if e.Variants[i].Name == name {
			return &e.Variants[i], true
		}
	}
	return nil, false
}

// Control returns the control variant. Experiments built through New always
// have exactly one.
func (e *Experiment) Control() (*Variant, bool) {
	for i := range e.Variants {
		if e.Variants[i].IsControl {
			return &e.Variants[i], true
		}
	}
	return nil, false
}

// VariantNames returns the variant names in alphabetical order
func (e *Experiment) VariantNames() []string {
	names := make([]string, 0, len(e.Variants))
	for _, v := range e.Variants {
		names = append(names, v.Name)
	}
	return sortedCopy(names)
}

// SortedVariants returns the variants ordered by name
func (e *Experiment) SortedVariants() []Variant {
	byName := make(map[string]Variant, len(e.Variants))
	for _, v := range e.Variants {
		byName[v.Name] = v
	}
	out := make([]Variant, 0, len(e.Variants))
	for _, name := range e.VariantNames() {
		out = append(out, byName[name])
	}
	return out
}

// Valid reports whether the outcome kind is known
func (o OutcomeKind) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}

// Valid reports whether the channel is known
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp:
		return true
	}
	return false
}

// Valid reports whether the method is known
func (m Method) Valid() bool {
	switch m {
	case MethodFrequentist, MethodBayesian, MethodSequential, MethodBandit:
		return true
	}
	return false
}

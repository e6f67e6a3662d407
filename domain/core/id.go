package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	ExperimentID ID
	VariantID    ID
	TenantID     ID
	RecipientID  ID
)

func (id ExperimentID) String() string { return ID(id).String() }
func (id VariantID) String() string    { return ID(id).String() }
func (id TenantID) String() string     { return ID(id).String() }
func (id RecipientID) String() string  { return ID(id).String() }

// NewExperimentID returns a fresh time-ordered experiment identifier
func NewExperimentID() ExperimentID { return ExperimentID(NewID()) }

// NewVariantID returns a fresh time-ordered variant identifier
func NewVariantID() VariantID { return VariantID(NewID()) }

// ParseExperimentID parses a string into ExperimentID
func ParseExperimentID(s string) (ExperimentID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: experiment ID cannot be empty", ErrInvalidInput)
	}
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("%w: experiment ID %q is not a UUID", ErrInvalidInput, s)
	}
	return ExperimentID(s), nil
}

// ParseVariantID parses a string into VariantID
func ParseVariantID(s string) (VariantID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: variant ID cannot be empty", ErrInvalidInput)
	}
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("%w: variant ID %q is not a UUID", ErrInvalidInput, s)
	}
	return VariantID(s), nil
}

// ParseRecipientID parses a string into RecipientID. Recipient IDs come from
// the distribution system and are opaque, so only emptiness is checked.
func ParseRecipientID(s string) (RecipientID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: recipient ID cannot be empty", ErrInvalidInput)
	}
	return RecipientID(s), nil
}

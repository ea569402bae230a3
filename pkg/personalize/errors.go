package personalize

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrContentNotFound indicates a content item was not found
	ErrContentNotFound = errors.New("content item not found")

	// ErrOverrideNotFound indicates a visibility override was not found
	ErrOverrideNotFound = errors.New("visibility override not found")

	// ErrExperimentNotFound indicates an experiment was not found
	ErrExperimentNotFound = errors.New("experiment not found")

	// ErrVariantNotFound indicates a variant was not found
	ErrVariantNotFound = errors.New("variant not found")

	// ErrAssignmentNotFound indicates no assignment exists for a session
	ErrAssignmentNotFound = errors.New("assignment not found")

	// ErrDuplicateOverride indicates an override already exists for the same
	// (content item, persona, funnel stage) triple
	ErrDuplicateOverride = errors.New("override already exists for this persona/stage combination")

	// ErrDuplicateTarget indicates a target already exists for the same
	// (experiment, persona, funnel stage) triple
	ErrDuplicateTarget = errors.New("target already exists for this persona/stage combination")

	// ErrInvalidExperimentStatus indicates an unknown experiment status
	ErrInvalidExperimentStatus = errors.New("invalid experiment status")

	// ErrInvalidStatusTransition indicates a disallowed lifecycle transition
	ErrInvalidStatusTransition = errors.New("invalid experiment status transition")

	// ErrExperimentNotEditable indicates the experiment is past the draft
	// stage and its variant set can no longer be restructured
	ErrExperimentNotEditable = errors.New("experiment is not editable in its current status")
)

// ValidationError reports invalid admin input on the write path. The
// resolution path never raises it.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %v", e.Err)
	}
	return fmt.Sprintf("validation failed for %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ExperimentError represents an error related to experiment operations
type ExperimentError struct {
	ExperimentID uuid.UUID
	Op           string
	Err          error
}

func (e *ExperimentError) Error() string {
	return fmt.Sprintf("experiment operation %s failed for experiment %s: %v", e.Op, e.ExperimentID, e.Err)
}

func (e *ExperimentError) Unwrap() error {
	return e.Err
}

// ContentError represents an error related to content item operations
type ContentError struct {
	ContentItemID uuid.UUID
	Op            string
	Err           error
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("content operation %s failed for item %s: %v", e.Op, e.ContentItemID, e.Err)
}

func (e *ContentError) Unwrap() error {
	return e.Err
}

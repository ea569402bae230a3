package personalize

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the interface for personalization data persistence.
type Repository interface {
	// Content item operations
	CreateContentItem(ctx context.Context, item *ContentItem) error
	GetContentItem(ctx context.Context, id uuid.UUID) (*ContentItem, error)
	UpdateContentItem(ctx context.Context, item *ContentItem) error
	ListContentItems(ctx context.Context, contentType ContentType) ([]*ContentItem, error)

	// Visibility override operations. CreateOverride must fail with
	// ErrDuplicateOverride when an override already exists for the exact
	// (content item, persona, funnel stage) triple.
	CreateOverride(ctx context.Context, override *VisibilityOverride) error
	UpdateOverride(ctx context.Context, override *VisibilityOverride) error
	DeleteOverride(ctx context.Context, id uuid.UUID) error
	ListOverridesForContent(ctx context.Context, contentItemID uuid.UUID) ([]*VisibilityOverride, error)

	// Experiment operations
	CreateExperiment(ctx context.Context, experiment *Experiment) error
	GetExperiment(ctx context.Context, id uuid.UUID) (*Experiment, error)
	UpdateExperiment(ctx context.Context, experiment *Experiment) error
	// ListActiveExperiments returns active experiments for a content type,
	// with targets and variants populated, ordered by creation time then id.
	ListActiveExperiments(ctx context.Context, contentType ContentType) ([]*Experiment, error)

	// Variant and target operations
	CreateVariant(ctx context.Context, variant *Variant) error
	UpdateVariant(ctx context.Context, variant *Variant) error
	GetVariant(ctx context.Context, id uuid.UUID) (*Variant, error)
	ListVariants(ctx context.Context, experimentID uuid.UUID) ([]*Variant, error)
	AddTarget(ctx context.Context, target *ExperimentTarget) error
	RemoveTarget(ctx context.Context, target *ExperimentTarget) error

	AssignmentStore
}

// AssignmentStore is the sticky-bucketing persistence contract. Implementors
// must uphold at-most-one assignment per (experiment, session) via a
// uniqueness constraint plus insert-or-fetch semantics, not via in-process
// locking: multiple process instances may serve the same session.
type AssignmentStore interface {
	// InsertAssignmentIfAbsent atomically records the assignment unless one
	// already exists for the pair. It returns the winning assignment and
	// whether this call inserted it; a losing concurrent insert is expected
	// and silently reconciled by returning the existing row.
	InsertAssignmentIfAbsent(ctx context.Context, assignment *Assignment) (*Assignment, bool, error)

	// GetAssignment returns the assignment for the pair, or
	// ErrAssignmentNotFound.
	GetAssignment(ctx context.Context, experimentID uuid.UUID, sessionID string) (*Assignment, error)

	// CountAssignments tallies assignments per variant for an experiment.
	CountAssignments(ctx context.Context, experimentID uuid.UUID) ([]AssignmentCount, error)
}

// EventSink defines the interface for personalization event handling.
// Sink failures are logged by the service and never fail the operation.
type EventSink interface {
	// AssignmentCreated is fired when a session is first bucketed into a variant
	AssignmentCreated(ctx context.Context, assignment *Assignment) error

	// ExperimentStatusChanged is fired on a lifecycle transition
	ExperimentStatusChanged(ctx context.Context, experiment *Experiment, from ExperimentStatus) error

	// OverrideSaved is fired when an override is created or updated
	OverrideSaved(ctx context.Context, override *VisibilityOverride) error
}

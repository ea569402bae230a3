package personalize

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the main interface for the personalize library
type Service interface {
	// Content item operations
	CreateContentItem(ctx context.Context, req CreateContentItemRequest) (*ContentItem, error)
	GetContentItem(ctx context.Context, id uuid.UUID) (*ContentItem, error)
	UpdateContentItem(ctx context.Context, req UpdateContentItemRequest) error
	ListContentItems(ctx context.Context, contentType ContentType) ([]*ContentItem, error)

	// Visibility override operations
	CreateOverride(ctx context.Context, req SaveOverrideRequest) (*VisibilityOverride, error)
	UpdateOverride(ctx context.Context, id uuid.UUID, req SaveOverrideRequest) (*VisibilityOverride, error)
	DeleteOverride(ctx context.Context, id uuid.UUID) error
	ListOverridesForContent(ctx context.Context, contentItemID uuid.UUID) ([]*VisibilityOverride, error)

	// Experiment operations
	CreateExperiment(ctx context.Context, req CreateExperimentRequest) (*Experiment, error)
	GetExperiment(ctx context.Context, id uuid.UUID) (*Experiment, error)
	UpdateExperimentStatus(ctx context.Context, id uuid.UUID, status ExperimentStatus) error
	AddVariant(ctx context.Context, req AddVariantRequest) (*Variant, error)
	UpdateVariantWeight(ctx context.Context, variantID uuid.UUID, weight int) error
	AddTarget(ctx context.Context, experimentID uuid.UUID, target TargetSpec) error
	RemoveTarget(ctx context.Context, experimentID uuid.UUID, target TargetSpec) error
	CountAssignments(ctx context.Context, experimentID uuid.UUID) ([]AssignmentCount, error)

	// Resolution operations
	Resolve(ctx context.Context, req ResolveRequest) (*ResolvedContent, error)
	ResolveAll(ctx context.Context, req ResolveAllRequest) ([]*ResolvedContent, error)

	// Assign buckets a session into an active experiment. A nil variant
	// means the session is outside the experiment.
	Assign(ctx context.Context, experiment *Experiment, visitor VisitorContext) (*Variant, error)
}

package personalize

import "github.com/google/uuid"

// Request/Response DTOs

// CreateContentItemRequest contains parameters for creating a content item
type CreateContentItemRequest struct {
	Type        ContentType
	Title       string
	Description string
	ImageRef    string
	IsActive    bool
}

// UpdateContentItemRequest contains parameters for updating a content item
type UpdateContentItemRequest struct {
	Item *ContentItem
}

// SaveOverrideRequest contains parameters for creating or updating a
// visibility override. Nil Persona/FunnelStage are wildcards.
type SaveOverrideRequest struct {
	ContentItemID uuid.UUID
	Persona       *Persona
	FunnelStage   *FunnelStage
	IsVisible     bool
	Title         *string
	Description   *string
	ImageRef      *string
	Order         int
}

// CreateExperimentRequest contains parameters for creating an experiment.
// Experiments start in draft status.
type CreateExperimentRequest struct {
	Name              string
	ContentType       ContentType
	TrafficAllocation int
	Targets           []TargetSpec
}

// TargetSpec names one persona/stage pair an experiment applies to.
type TargetSpec struct {
	Persona     Persona
	FunnelStage FunnelStage
}

// AddVariantRequest contains parameters for adding a variant to an experiment
type AddVariantRequest struct {
	ExperimentID        uuid.UUID
	Name                string
	TrafficWeight       int
	IsControl           bool
	LinkedContentItemID *uuid.UUID
	Config              *VariantConfig
}

// ResolveRequest contains parameters for resolving a single content item
type ResolveRequest struct {
	ContentItemID uuid.UUID
	Visitor       VisitorContext
	Preview       *PreviewOverride
}

// ResolveAllRequest contains parameters for resolving every active item of a
// content type for one visitor in a single call.
type ResolveAllRequest struct {
	ContentType ContentType
	Visitor     VisitorContext
	Preview     *PreviewOverride
}

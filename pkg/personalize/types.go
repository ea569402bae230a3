package personalize

import (
	"time"

	"github.com/google/uuid"
)

// ContentType is the domain type for the kind of content item being rendered.
type ContentType string

// Content type constants (typed).
const (
	ContentTypeHero        ContentType = "hero"
	ContentTypeCTA         ContentType = "cta"
	ContentTypeService     ContentType = "service"
	ContentTypeEvent       ContentType = "event"
	ContentTypeTestimonial ContentType = "testimonial"
	ContentTypeLeadMagnet  ContentType = "lead_magnet"
)

// Persona is a named visitor archetype, one axis of personalization.
type Persona string

// Known persona constants. Sites may define additional personas; the engine
// treats the type as an open set.
const (
	PersonaDonor   Persona = "donor"
	PersonaParent  Persona = "parent"
	PersonaStudent Persona = "student"
)

// FunnelStage is a named stage of the visitor journey, the second
// personalization axis.
type FunnelStage string

// Known funnel stage constants.
const (
	StageAwareness     FunnelStage = "awareness"
	StageConsideration FunnelStage = "consideration"
	StageDecision      FunnelStage = "decision"
	StageRetention     FunnelStage = "retention"
)

// ExperimentStatus is the domain type for experiment lifecycle states.
type ExperimentStatus string

// Experiment status constants (typed).
const (
	ExperimentStatusDraft     ExperimentStatus = "draft"
	ExperimentStatusActive    ExperimentStatus = "active"
	ExperimentStatusPaused    ExperimentStatus = "paused"
	ExperimentStatusCompleted ExperimentStatus = "completed"
)

// IsValid checks whether the status is a known lifecycle state.
func (s ExperimentStatus) IsValid() bool {
	switch s {
	case ExperimentStatusDraft, ExperimentStatusActive, ExperimentStatusPaused, ExperimentStatusCompleted:
		return true
	}
	return false
}

// ContentItem represents a base content entity. Items are authored through
// the admin surface and treated as immutable during resolution.
type ContentItem struct {
	ID          uuid.UUID   `json:"id"`
	Type        ContentType `json:"type"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	ImageRef    string      `json:"image_ref,omitempty"`
	IsActive    bool        `json:"is_active"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// VisibilityOverride replaces a content item's visibility, title, description
// or image for a persona/funnel-stage combination. A nil Persona and/or
// FunnelStage acts as a wildcard matching any value on that axis.
//
// At most one override may exist per exact (ContentItemID, Persona,
// FunnelStage) triple, wildcard triples included.
type VisibilityOverride struct {
	ID            uuid.UUID    `json:"id"`
	ContentItemID uuid.UUID    `json:"content_item_id"`
	Persona       *Persona     `json:"persona,omitempty"`
	FunnelStage   *FunnelStage `json:"funnel_stage,omitempty"`
	IsVisible     bool         `json:"is_visible"`
	Title         *string      `json:"title,omitempty"`
	Description   *string      `json:"description,omitempty"`
	ImageRef      *string      `json:"image_ref,omitempty"`
	Order         int          `json:"order"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// ExperimentTarget narrows an experiment to one persona/funnel-stage pair.
// An experiment with no targets applies to every pair for its content type.
type ExperimentTarget struct {
	ExperimentID uuid.UUID   `json:"experiment_id"`
	Persona      Persona     `json:"persona"`
	FunnelStage  FunnelStage `json:"funnel_stage"`
}

// Experiment represents a live A/B comparison of content variants targeted
// at a content type and optionally specific persona/stage combinations.
type Experiment struct {
	ID                uuid.UUID          `json:"id"`
	Name              string             `json:"name"`
	ContentType       ContentType        `json:"content_type"`
	Status            ExperimentStatus   `json:"status"`
	TrafficAllocation int                `json:"traffic_allocation"` // percent of sessions eligible, 0-100
	Targets           []ExperimentTarget `json:"targets,omitempty"`
	Variants          []*Variant         `json:"variants,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// AppliesTo reports whether the experiment covers the given persona/stage
// pair. An empty target set applies to every pair.
func (e *Experiment) AppliesTo(persona Persona, stage FunnelStage) bool {
	if len(e.Targets) == 0 {
		return true
	}
	for _, t := range e.Targets {
		if t.Persona == persona && t.FunnelStage == stage {
			return true
		}
	}
	return false
}

// Variant is one option within an experiment. TrafficWeight is a relative
// share among the experiment's variants; weights need not sum to 100.
// LinkedContentItemID optionally points at an alternate content item whose
// base fields are rendered as-is when the variant is selected.
type Variant struct {
	ID                  uuid.UUID      `json:"id"`
	ExperimentID        uuid.UUID      `json:"experiment_id"`
	Name                string         `json:"name,omitempty"`
	TrafficWeight       int            `json:"traffic_weight"`
	IsControl           bool           `json:"is_control"`
	LinkedContentItemID *uuid.UUID     `json:"linked_content_item_id,omitempty"`
	Config              *VariantConfig `json:"config,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
}

// VariantConfig is a tagged union of per-content-type variation payloads.
// Exactly one field may be set and it must agree with the owning
// experiment's content type.
type VariantConfig struct {
	Hero        *HeroVariation        `json:"hero,omitempty"`
	CTA         *CTAVariation         `json:"cta,omitempty"`
	Service     *ServiceVariation     `json:"service,omitempty"`
	Event       *EventVariation       `json:"event,omitempty"`
	Testimonial *TestimonialVariation `json:"testimonial,omitempty"`
	LeadMagnet  *LeadMagnetVariation  `json:"lead_magnet,omitempty"`
}

// ContentType returns the content type implied by the populated payload, or
// "" when no payload is set.
func (c *VariantConfig) ContentType() ContentType {
	switch {
	case c == nil:
		return ""
	case c.Hero != nil:
		return ContentTypeHero
	case c.CTA != nil:
		return ContentTypeCTA
	case c.Service != nil:
		return ContentTypeService
	case c.Event != nil:
		return ContentTypeEvent
	case c.Testimonial != nil:
		return ContentTypeTestimonial
	case c.LeadMagnet != nil:
		return ContentTypeLeadMagnet
	}
	return ""
}

// HeroVariation overrides hero section copy for a variant.
type HeroVariation struct {
	Headline    string `json:"headline,omitempty"`
	Subheadline string `json:"subheadline,omitempty"`
	ImageRef    string `json:"image_ref,omitempty"`
}

// CTAVariation overrides call-to-action copy for a variant.
type CTAVariation struct {
	Label    string `json:"label,omitempty"`
	URL      string `json:"url,omitempty"`
	Tone     string `json:"tone,omitempty"`
	ImageRef string `json:"image_ref,omitempty"`
}

// ServiceVariation overrides a service card for a variant.
type ServiceVariation struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	ImageRef    string `json:"image_ref,omitempty"`
}

// EventVariation overrides an event listing for a variant.
type EventVariation struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	ImageRef    string `json:"image_ref,omitempty"`
}

// TestimonialVariation overrides a testimonial for a variant.
type TestimonialVariation struct {
	Quote       string `json:"quote,omitempty"`
	Attribution string `json:"attribution,omitempty"`
	ImageRef    string `json:"image_ref,omitempty"`
}

// LeadMagnetVariation overrides a lead magnet offer for a variant.
type LeadMagnetVariation struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	AssetRef    string `json:"asset_ref,omitempty"`
}

// Assignment is the sticky record bucketing a session into a variant.
// Exactly one assignment may exist per (ExperimentID, SessionID); once
// created it is never mutated or replaced while the experiment is active.
type Assignment struct {
	ExperimentID uuid.UUID   `json:"experiment_id"`
	SessionID    string      `json:"session_id"`
	VariantID    uuid.UUID   `json:"variant_id"`
	Persona      Persona     `json:"persona,omitempty"`
	FunnelStage  FunnelStage `json:"funnel_stage,omitempty"`
	AssignedAt   time.Time   `json:"assigned_at"`
}

// VisitorContext carries the per-request personalization inputs.
type VisitorContext struct {
	Persona     Persona     `json:"persona"`
	FunnelStage FunnelStage `json:"funnel_stage"`
	SessionID   string      `json:"session_id"`
}

// PreviewOverride is the admin-supplied forced context. Any field left unset
// falls back to the real input; a forced variant for an experiment skips
// bucketing entirely for that experiment. Preview calls never read or write
// assignments.
type PreviewOverride struct {
	ForcedPersona     *Persona                `json:"forced_persona,omitempty"`
	ForcedFunnelStage *FunnelStage            `json:"forced_funnel_stage,omitempty"`
	ForcedVariants    map[uuid.UUID]uuid.UUID `json:"forced_variants,omitempty"` // experiment id -> variant id
}

// ResolvedContent is the merged, precedence-ordered output of resolution.
type ResolvedContent struct {
	ContentItemID   uuid.UUID      `json:"content_item_id"`
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	ImageRef        string         `json:"image_ref,omitempty"`
	IsVisible       bool           `json:"is_visible"`
	Order           int            `json:"order"`
	SourceVariantID *uuid.UUID     `json:"source_variant_id,omitempty"`
	SourceItemID    *uuid.UUID     `json:"source_item_id,omitempty"` // linked item a variant resolved from
	VariantConfig   *VariantConfig `json:"variant_config,omitempty"`
}

// AssignmentCount is a per-variant tally for an experiment (admin dashboard).
type AssignmentCount struct {
	ExperimentID uuid.UUID `json:"experiment_id"`
	VariantID    uuid.UUID `json:"variant_id"`
	Count        int64     `json:"count"`
}

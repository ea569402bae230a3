package personalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// service implements the Service interface
type service struct {
	repository  Repository
	assignments AssignmentStore
	eventSink   EventSink
	logger      *slog.Logger
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithAssignmentStore overrides the sticky-assignment store. By default
// assignments are stored through the repository; a dedicated store (e.g.
// Redis) can be substituted for multi-instance deployments.
func WithAssignmentStore(store AssignmentStore) Option {
	return func(s *service) {
		s.assignments = store
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithLogger sets the structured logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.assignments == nil {
		s.assignments = s.repository
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrAssignmentNotFound) ||
		errors.Is(err, ErrContentNotFound) ||
		errors.Is(err, ErrOverrideNotFound) ||
		errors.Is(err, ErrExperimentNotFound) ||
		errors.Is(err, ErrVariantNotFound)
}

// Content item operations

func (s *service) CreateContentItem(ctx context.Context, req CreateContentItemRequest) (*ContentItem, error) {
	if req.Type == "" {
		return nil, &ValidationError{Field: "type", Err: fmt.Errorf("content type is required")}
	}
	if req.Title == "" {
		return nil, &ValidationError{Field: "title", Err: fmt.Errorf("title is required")}
	}

	now := time.Now().UTC()
	item := &ContentItem{
		ID:          uuid.New(),
		Type:        req.Type,
		Title:       req.Title,
		Description: req.Description,
		ImageRef:    req.ImageRef,
		IsActive:    req.IsActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repository.CreateContentItem(ctx, item); err != nil {
		return nil, &ContentError{ContentItemID: item.ID, Op: "create", Err: err}
	}

	return item, nil
}

func (s *service) GetContentItem(ctx context.Context, id uuid.UUID) (*ContentItem, error) {
	return s.repository.GetContentItem(ctx, id)
}

func (s *service) UpdateContentItem(ctx context.Context, req UpdateContentItemRequest) error {
	req.Item.UpdatedAt = time.Now().UTC()

	if err := s.repository.UpdateContentItem(ctx, req.Item); err != nil {
		return &ContentError{ContentItemID: req.Item.ID, Op: "update", Err: err}
	}

	return nil
}

func (s *service) ListContentItems(ctx context.Context, contentType ContentType) ([]*ContentItem, error) {
	return s.repository.ListContentItems(ctx, contentType)
}

// Visibility override operations

func (s *service) CreateOverride(ctx context.Context, req SaveOverrideRequest) (*VisibilityOverride, error) {
	if _, err := s.repository.GetContentItem(ctx, req.ContentItemID); err != nil {
		return nil, &ValidationError{Field: "content_item_id", Err: err}
	}

	now := time.Now().UTC()
	override := &VisibilityOverride{
		ID:            uuid.New(),
		ContentItemID: req.ContentItemID,
		Persona:       req.Persona,
		FunnelStage:   req.FunnelStage,
		IsVisible:     req.IsVisible,
		Title:         req.Title,
		Description:   req.Description,
		ImageRef:      req.ImageRef,
		Order:         req.Order,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repository.CreateOverride(ctx, override); err != nil {
		if errors.Is(err, ErrDuplicateOverride) {
			return nil, &ValidationError{Field: "persona/funnel_stage", Err: err}
		}
		return nil, &ContentError{ContentItemID: req.ContentItemID, Op: "create_override", Err: err}
	}

	s.fireOverrideSaved(ctx, override)
	return override, nil
}

func (s *service) UpdateOverride(ctx context.Context, id uuid.UUID, req SaveOverrideRequest) (*VisibilityOverride, error) {
	override := &VisibilityOverride{
		ID:            id,
		ContentItemID: req.ContentItemID,
		Persona:       req.Persona,
		FunnelStage:   req.FunnelStage,
		IsVisible:     req.IsVisible,
		Title:         req.Title,
		Description:   req.Description,
		ImageRef:      req.ImageRef,
		Order:         req.Order,
		UpdatedAt:     time.Now().UTC(),
	}

	if err := s.repository.UpdateOverride(ctx, override); err != nil {
		if errors.Is(err, ErrDuplicateOverride) {
			return nil, &ValidationError{Field: "persona/funnel_stage", Err: err}
		}
		return nil, &ContentError{ContentItemID: req.ContentItemID, Op: "update_override", Err: err}
	}

	s.fireOverrideSaved(ctx, override)
	return override, nil
}

func (s *service) DeleteOverride(ctx context.Context, id uuid.UUID) error {
	return s.repository.DeleteOverride(ctx, id)
}

func (s *service) ListOverridesForContent(ctx context.Context, contentItemID uuid.UUID) ([]*VisibilityOverride, error) {
	return s.repository.ListOverridesForContent(ctx, contentItemID)
}

func (s *service) fireOverrideSaved(ctx context.Context, override *VisibilityOverride) {
	if s.eventSink == nil {
		return
	}
	if err := s.eventSink.OverrideSaved(ctx, override); err != nil {
		s.logger.Warn("override event sink failed", "override_id", override.ID, "error", err)
	}
}

// Experiment operations

func (s *service) CreateExperiment(ctx context.Context, req CreateExperimentRequest) (*Experiment, error) {
	if req.Name == "" {
		return nil, &ValidationError{Field: "name", Err: fmt.Errorf("name is required")}
	}
	if req.ContentType == "" {
		return nil, &ValidationError{Field: "content_type", Err: fmt.Errorf("content type is required")}
	}
	if req.TrafficAllocation < 0 || req.TrafficAllocation > 100 {
		return nil, &ValidationError{Field: "traffic_allocation", Err: fmt.Errorf("traffic allocation must be between 0 and 100, got %d", req.TrafficAllocation)}
	}

	now := time.Now().UTC()
	experiment := &Experiment{
		ID:                uuid.New(),
		Name:              req.Name,
		ContentType:       req.ContentType,
		Status:            ExperimentStatusDraft,
		TrafficAllocation: req.TrafficAllocation,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.repository.CreateExperiment(ctx, experiment); err != nil {
		return nil, &ExperimentError{ExperimentID: experiment.ID, Op: "create", Err: err}
	}

	for _, spec := range req.Targets {
		target := &ExperimentTarget{
			ExperimentID: experiment.ID,
			Persona:      spec.Persona,
			FunnelStage:  spec.FunnelStage,
		}
		if err := s.repository.AddTarget(ctx, target); err != nil {
			return nil, &ExperimentError{ExperimentID: experiment.ID, Op: "add_target", Err: err}
		}
		experiment.Targets = append(experiment.Targets, *target)
	}

	return experiment, nil
}

func (s *service) GetExperiment(ctx context.Context, id uuid.UUID) (*Experiment, error) {
	return s.repository.GetExperiment(ctx, id)
}

func (s *service) UpdateExperimentStatus(ctx context.Context, id uuid.UUID, status ExperimentStatus) error {
	if !status.IsValid() {
		return &ValidationError{Field: "status", Err: fmt.Errorf("%w: %s", ErrInvalidExperimentStatus, status)}
	}

	experiment, err := s.repository.GetExperiment(ctx, id)
	if err != nil {
		return &ExperimentError{ExperimentID: id, Op: "update_status", Err: err}
	}

	from := experiment.Status
	if err := validateStatusTransition(from, status); err != nil {
		return &ExperimentError{ExperimentID: id, Op: "update_status", Err: err}
	}

	if status == ExperimentStatusActive {
		if err := s.validateActivation(ctx, experiment); err != nil {
			return err
		}
	}

	experiment.Status = status
	experiment.UpdatedAt = time.Now().UTC()
	if err := s.repository.UpdateExperiment(ctx, experiment); err != nil {
		return &ExperimentError{ExperimentID: id, Op: "update_status", Err: err}
	}

	if s.eventSink != nil {
		if err := s.eventSink.ExperimentStatusChanged(ctx, experiment, from); err != nil {
			s.logger.Warn("experiment event sink failed", "experiment_id", id, "error", err)
		}
	}

	return nil
}

// validateActivation enforces the one-active-experiment-per-slot invariant
// on the write path: activating an experiment whose slot is already occupied
// is a configuration error surfaced to the admin, not something resolution
// should have to disambiguate.
func (s *service) validateActivation(ctx context.Context, experiment *Experiment) error {
	if len(experiment.Variants) == 0 {
		return &ValidationError{Field: "variants", Err: fmt.Errorf("experiment needs at least one variant before activation")}
	}

	total := 0
	for _, v := range experiment.Variants {
		total += v.TrafficWeight
	}
	if total <= 0 {
		return &ValidationError{Field: "variants", Err: fmt.Errorf("variant weights must sum to a positive total")}
	}

	active, err := s.repository.ListActiveExperiments(ctx, experiment.ContentType)
	if err != nil {
		return &ExperimentError{ExperimentID: experiment.ID, Op: "activate", Err: err}
	}
	for _, other := range active {
		if other.ID == experiment.ID {
			continue
		}
		if slotsOverlap(experiment, other) {
			return &ValidationError{
				Field: "targets",
				Err:   fmt.Errorf("experiment %s already targets this content type and audience", other.ID),
			}
		}
	}
	return nil
}

// slotsOverlap reports whether two experiments on the same content type
// contend for at least one (persona, stage) slot. An empty target set
// overlaps with everything.
func slotsOverlap(a, b *Experiment) bool {
	if len(a.Targets) == 0 || len(b.Targets) == 0 {
		return true
	}
	for _, ta := range a.Targets {
		for _, tb := range b.Targets {
			if ta.Persona == tb.Persona && ta.FunnelStage == tb.FunnelStage {
				return true
			}
		}
	}
	return false
}

func (s *service) AddVariant(ctx context.Context, req AddVariantRequest) (*Variant, error) {
	if req.TrafficWeight < 0 {
		return nil, &ValidationError{Field: "traffic_weight", Err: fmt.Errorf("traffic weight must be non-negative, got %d", req.TrafficWeight)}
	}

	experiment, err := s.repository.GetExperiment(ctx, req.ExperimentID)
	if err != nil {
		return nil, &ExperimentError{ExperimentID: req.ExperimentID, Op: "add_variant", Err: err}
	}
	if experiment.Status == ExperimentStatusCompleted {
		return nil, &ExperimentError{ExperimentID: req.ExperimentID, Op: "add_variant", Err: ErrExperimentNotEditable}
	}

	if req.Config != nil {
		if got := req.Config.ContentType(); got == "" {
			return nil, &ValidationError{Field: "config", Err: fmt.Errorf("variant config has no payload")}
		} else if got != experiment.ContentType {
			return nil, &ValidationError{Field: "config", Err: fmt.Errorf("variant config is for %s but experiment targets %s", got, experiment.ContentType)}
		}
	}

	if req.LinkedContentItemID != nil {
		linked, err := s.repository.GetContentItem(ctx, *req.LinkedContentItemID)
		if err != nil {
			return nil, &ValidationError{Field: "linked_content_item_id", Err: err}
		}
		if linked.Type != experiment.ContentType {
			return nil, &ValidationError{Field: "linked_content_item_id", Err: fmt.Errorf("linked item is %s content but experiment targets %s", linked.Type, experiment.ContentType)}
		}
	}

	variant := &Variant{
		ID:                  uuid.New(),
		ExperimentID:        req.ExperimentID,
		Name:                req.Name,
		TrafficWeight:       req.TrafficWeight,
		IsControl:           req.IsControl,
		LinkedContentItemID: req.LinkedContentItemID,
		Config:              req.Config,
		CreatedAt:           time.Now().UTC(),
	}

	if err := s.repository.CreateVariant(ctx, variant); err != nil {
		return nil, &ExperimentError{ExperimentID: req.ExperimentID, Op: "add_variant", Err: err}
	}

	return variant, nil
}

func (s *service) UpdateVariantWeight(ctx context.Context, variantID uuid.UUID, weight int) error {
	if weight < 0 {
		return &ValidationError{Field: "traffic_weight", Err: fmt.Errorf("traffic weight must be non-negative, got %d", weight)}
	}

	variant, err := s.repository.GetVariant(ctx, variantID)
	if err != nil {
		return err
	}

	variant.TrafficWeight = weight
	return s.repository.UpdateVariant(ctx, variant)
}

func (s *service) AddTarget(ctx context.Context, experimentID uuid.UUID, spec TargetSpec) error {
	target := &ExperimentTarget{
		ExperimentID: experimentID,
		Persona:      spec.Persona,
		FunnelStage:  spec.FunnelStage,
	}
	if err := s.repository.AddTarget(ctx, target); err != nil {
		if errors.Is(err, ErrDuplicateTarget) {
			return &ValidationError{Field: "targets", Err: err}
		}
		return &ExperimentError{ExperimentID: experimentID, Op: "add_target", Err: err}
	}
	return nil
}

func (s *service) RemoveTarget(ctx context.Context, experimentID uuid.UUID, spec TargetSpec) error {
	target := &ExperimentTarget{
		ExperimentID: experimentID,
		Persona:      spec.Persona,
		FunnelStage:  spec.FunnelStage,
	}
	return s.repository.RemoveTarget(ctx, target)
}

func (s *service) CountAssignments(ctx context.Context, experimentID uuid.UUID) ([]AssignmentCount, error) {
	return s.assignments.CountAssignments(ctx, experimentID)
}

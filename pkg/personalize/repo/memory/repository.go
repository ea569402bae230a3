package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/tendwell/personalize/pkg/personalize"
)

// Repository implements personalize.Repository using in-memory storage
type Repository struct {
	mu                 sync.RWMutex
	items              map[uuid.UUID]*personalize.ContentItem
	overrides          map[uuid.UUID]*personalize.VisibilityOverride
	overridesByContent map[uuid.UUID][]uuid.UUID
	experiments        map[uuid.UUID]*personalize.Experiment
	variants           map[uuid.UUID]*personalize.Variant
	variantsByExp      map[uuid.UUID][]uuid.UUID
	targets            map[uuid.UUID][]personalize.ExperimentTarget
	assignments        map[string]*personalize.Assignment // "experiment:session" -> assignment
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		items:              make(map[uuid.UUID]*personalize.ContentItem),
		overrides:          make(map[uuid.UUID]*personalize.VisibilityOverride),
		overridesByContent: make(map[uuid.UUID][]uuid.UUID),
		experiments:        make(map[uuid.UUID]*personalize.Experiment),
		variants:           make(map[uuid.UUID]*personalize.Variant),
		variantsByExp:      make(map[uuid.UUID][]uuid.UUID),
		targets:            make(map[uuid.UUID][]personalize.ExperimentTarget),
		assignments:        make(map[string]*personalize.Assignment),
	}
}

func assignmentKey(experimentID uuid.UUID, sessionID string) string {
	return fmt.Sprintf("%s:%s", experimentID, sessionID)
}

// Content item operations

func (r *Repository) CreateContentItem(ctx context.Context, item *personalize.ContentItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	itemCopy := *item
	r.items[item.ID] = &itemCopy

	return nil
}

func (r *Repository) GetContentItem(ctx context.Context, id uuid.UUID) (*personalize.ContentItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, exists := r.items[id]
	if !exists {
		return nil, personalize.ErrContentNotFound
	}

	itemCopy := *item
	return &itemCopy, nil
}

func (r *Repository) UpdateContentItem(ctx context.Context, item *personalize.ContentItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[item.ID]; !exists {
		return personalize.ErrContentNotFound
	}

	itemCopy := *item
	r.items[item.ID] = &itemCopy

	return nil
}

func (r *Repository) ListContentItems(ctx context.Context, contentType personalize.ContentType) ([]*personalize.ContentItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*personalize.ContentItem
	for _, item := range r.items {
		if contentType != "" && item.Type != contentType {
			continue
		}
		itemCopy := *item
		result = append(result, &itemCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return bytes.Compare(result[i].ID[:], result[j].ID[:]) < 0
	})

	return result, nil
}

// Visibility override operations

func (r *Repository) CreateOverride(ctx context.Context, override *personalize.VisibilityOverride) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[override.ContentItemID]; !exists {
		return personalize.ErrContentNotFound
	}

	// Uniqueness constraint: at most one override per exact
	// (content item, persona, stage) triple, wildcards included.
	for _, id := range r.overridesByContent[override.ContentItemID] {
		if sameOverrideKey(r.overrides[id], override) {
			return personalize.ErrDuplicateOverride
		}
	}

	overrideCopy := *override
	r.overrides[override.ID] = &overrideCopy
	r.overridesByContent[override.ContentItemID] = append(r.overridesByContent[override.ContentItemID], override.ID)

	return nil
}

func (r *Repository) UpdateOverride(ctx context.Context, override *personalize.VisibilityOverride) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.overrides[override.ID]
	if !exists {
		return personalize.ErrOverrideNotFound
	}

	for _, id := range r.overridesByContent[override.ContentItemID] {
		if id != override.ID && sameOverrideKey(r.overrides[id], override) {
			return personalize.ErrDuplicateOverride
		}
	}

	overrideCopy := *override
	overrideCopy.CreatedAt = existing.CreatedAt
	r.overrides[override.ID] = &overrideCopy

	return nil
}

func (r *Repository) DeleteOverride(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	override, exists := r.overrides[id]
	if !exists {
		return personalize.ErrOverrideNotFound
	}

	delete(r.overrides, id)
	ids := r.overridesByContent[override.ContentItemID]
	for i, oid := range ids {
		if oid == id {
			r.overridesByContent[override.ContentItemID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}

	return nil
}

func (r *Repository) ListOverridesForContent(ctx context.Context, contentItemID uuid.UUID) ([]*personalize.VisibilityOverride, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.overridesByContent[contentItemID]
	result := make([]*personalize.VisibilityOverride, 0, len(ids))
	for _, id := range ids {
		if override, exists := r.overrides[id]; exists {
			overrideCopy := *override
			result = append(result, &overrideCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Order < result[j].Order
	})

	return result, nil
}

func sameOverrideKey(a, b *personalize.VisibilityOverride) bool {
	if a.ContentItemID != b.ContentItemID {
		return false
	}
	if (a.Persona == nil) != (b.Persona == nil) {
		return false
	}
	if a.Persona != nil && *a.Persona != *b.Persona {
		return false
	}
	if (a.FunnelStage == nil) != (b.FunnelStage == nil) {
		return false
	}
	if a.FunnelStage != nil && *a.FunnelStage != *b.FunnelStage {
		return false
	}
	return true
}

// Experiment operations

func (r *Repository) CreateExperiment(ctx context.Context, experiment *personalize.Experiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	expCopy := *experiment
	expCopy.Targets = nil
	expCopy.Variants = nil
	r.experiments[experiment.ID] = &expCopy

	return nil
}

func (r *Repository) GetExperiment(ctx context.Context, id uuid.UUID) (*personalize.Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	experiment, exists := r.experiments[id]
	if !exists {
		return nil, personalize.ErrExperimentNotFound
	}

	return r.hydrateExperiment(experiment), nil
}

func (r *Repository) UpdateExperiment(ctx context.Context, experiment *personalize.Experiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.experiments[experiment.ID]; !exists {
		return personalize.ErrExperimentNotFound
	}

	expCopy := *experiment
	expCopy.Targets = nil
	expCopy.Variants = nil
	r.experiments[experiment.ID] = &expCopy

	return nil
}

func (r *Repository) ListActiveExperiments(ctx context.Context, contentType personalize.ContentType) ([]*personalize.Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*personalize.Experiment
	for _, experiment := range r.experiments {
		if experiment.Status != personalize.ExperimentStatusActive {
			continue
		}
		if contentType != "" && experiment.ContentType != contentType {
			continue
		}
		result = append(result, r.hydrateExperiment(experiment))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return bytes.Compare(result[i].ID[:], result[j].ID[:]) < 0
	})

	return result, nil
}

// hydrateExperiment copies the experiment with its targets and variants
// attached, variants in creation order. Callers must hold the lock.
func (r *Repository) hydrateExperiment(experiment *personalize.Experiment) *personalize.Experiment {
	expCopy := *experiment
	expCopy.Targets = append([]personalize.ExperimentTarget(nil), r.targets[experiment.ID]...)

	ids := r.variantsByExp[experiment.ID]
	expCopy.Variants = make([]*personalize.Variant, 0, len(ids))
	for _, id := range ids {
		if variant, exists := r.variants[id]; exists {
			variantCopy := *variant
			expCopy.Variants = append(expCopy.Variants, &variantCopy)
		}
	}
	sort.Slice(expCopy.Variants, func(i, j int) bool {
		a, b := expCopy.Variants[i], expCopy.Variants[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})

	return &expCopy
}

// Variant and target operations

func (r *Repository) CreateVariant(ctx context.Context, variant *personalize.Variant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.experiments[variant.ExperimentID]; !exists {
		return personalize.ErrExperimentNotFound
	}

	variantCopy := *variant
	r.variants[variant.ID] = &variantCopy
	r.variantsByExp[variant.ExperimentID] = append(r.variantsByExp[variant.ExperimentID], variant.ID)

	return nil
}

func (r *Repository) UpdateVariant(ctx context.Context, variant *personalize.Variant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.variants[variant.ID]; !exists {
		return personalize.ErrVariantNotFound
	}

	variantCopy := *variant
	r.variants[variant.ID] = &variantCopy

	return nil
}

func (r *Repository) GetVariant(ctx context.Context, id uuid.UUID) (*personalize.Variant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	variant, exists := r.variants[id]
	if !exists {
		return nil, personalize.ErrVariantNotFound
	}

	variantCopy := *variant
	return &variantCopy, nil
}

func (r *Repository) ListVariants(ctx context.Context, experimentID uuid.UUID) ([]*personalize.Variant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.variantsByExp[experimentID]
	result := make([]*personalize.Variant, 0, len(ids))
	for _, id := range ids {
		if variant, exists := r.variants[id]; exists {
			variantCopy := *variant
			result = append(result, &variantCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return bytes.Compare(result[i].ID[:], result[j].ID[:]) < 0
	})

	return result, nil
}

func (r *Repository) AddTarget(ctx context.Context, target *personalize.ExperimentTarget) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.experiments[target.ExperimentID]; !exists {
		return personalize.ErrExperimentNotFound
	}

	for _, t := range r.targets[target.ExperimentID] {
		if t.Persona == target.Persona && t.FunnelStage == target.FunnelStage {
			return personalize.ErrDuplicateTarget
		}
	}

	r.targets[target.ExperimentID] = append(r.targets[target.ExperimentID], *target)

	return nil
}

func (r *Repository) RemoveTarget(ctx context.Context, target *personalize.ExperimentTarget) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	targets := r.targets[target.ExperimentID]
	for i, t := range targets {
		if t.Persona == target.Persona && t.FunnelStage == target.FunnelStage {
			r.targets[target.ExperimentID] = append(targets[:i], targets[i+1:]...)
			return nil
		}
	}

	return personalize.ErrExperimentNotFound
}

// Assignment operations

func (r *Repository) InsertAssignmentIfAbsent(ctx context.Context, assignment *personalize.Assignment) (*personalize.Assignment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := assignmentKey(assignment.ExperimentID, assignment.SessionID)
	if existing, exists := r.assignments[key]; exists {
		existingCopy := *existing
		return &existingCopy, false, nil
	}

	assignmentCopy := *assignment
	r.assignments[key] = &assignmentCopy

	resultCopy := assignmentCopy
	return &resultCopy, true, nil
}

func (r *Repository) GetAssignment(ctx context.Context, experimentID uuid.UUID, sessionID string) (*personalize.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	assignment, exists := r.assignments[assignmentKey(experimentID, sessionID)]
	if !exists {
		return nil, personalize.ErrAssignmentNotFound
	}

	assignmentCopy := *assignment
	return &assignmentCopy, nil
}

func (r *Repository) CountAssignments(ctx context.Context, experimentID uuid.UUID) ([]personalize.AssignmentCount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[uuid.UUID]int64)
	for _, assignment := range r.assignments {
		if assignment.ExperimentID == experimentID {
			counts[assignment.VariantID]++
		}
	}

	result := make([]personalize.AssignmentCount, 0, len(counts))
	for variantID, count := range counts {
		result = append(result, personalize.AssignmentCount{
			ExperimentID: experimentID,
			VariantID:    variantID,
			Count:        count,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].VariantID[:], result[j].VariantID[:]) < 0
	})

	return result, nil
}

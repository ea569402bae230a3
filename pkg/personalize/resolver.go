package personalize

import (
	"context"
	"sort"
)

// Resolve produces the exact title/description/image to render for one
// content item and visitor context.
//
// Resolution precedence, highest first:
//
//  1. Preview override — forced persona/stage/variants from the admin UI
//     replace the real inputs for this call; no assignment rows are read or
//     written.
//  2. Experiment variant — the session's sticky variant for the active
//     experiment on (item type, persona, stage), if any.
//  3. Visibility override — most specific matching override row.
//  4. Base item fields.
//
// Missing or inactive referenced data never fails the call; the affected
// layer is skipped and resolution falls through to the next one.
func (s *service) Resolve(ctx context.Context, req ResolveRequest) (*ResolvedContent, error) {
	item, err := s.repository.GetContentItem(ctx, req.ContentItemID)
	if err != nil {
		return nil, &ContentError{ContentItemID: req.ContentItemID, Op: "resolve", Err: err}
	}

	experiments, err := s.repository.ListActiveExperiments(ctx, item.Type)
	if err != nil {
		return nil, &ContentError{ContentItemID: req.ContentItemID, Op: "resolve", Err: err}
	}
	registry := NewExperimentRegistry(experiments, s.logger)

	return s.resolveItem(ctx, item, registry, req.Visitor, req.Preview)
}

// ResolveAll resolves every active item of a content type for one visitor in
// a single call, sharing one registry load. Items suppressed by an override
// are excluded; the rest are ordered by override order, then creation time.
func (s *service) ResolveAll(ctx context.Context, req ResolveAllRequest) ([]*ResolvedContent, error) {
	items, err := s.repository.ListContentItems(ctx, req.ContentType)
	if err != nil {
		return nil, err
	}

	experiments, err := s.repository.ListActiveExperiments(ctx, req.ContentType)
	if err != nil {
		return nil, err
	}
	registry := NewExperimentRegistry(experiments, s.logger)

	results := make([]*ResolvedContent, 0, len(items))
	order := make(map[*ResolvedContent]int, len(items))
	for i, item := range items {
		if !item.IsActive {
			continue
		}
		resolved, err := s.resolveItem(ctx, item, registry, req.Visitor, req.Preview)
		if err != nil {
			return nil, err
		}
		if !resolved.IsVisible {
			continue
		}
		results = append(results, resolved)
		order[resolved] = i
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Order != results[j].Order {
			return results[i].Order < results[j].Order
		}
		return order[results[i]] < order[results[j]]
	})

	return results, nil
}

func (s *service) resolveItem(ctx context.Context, item *ContentItem, registry *ExperimentRegistry, visitor VisitorContext, preview *PreviewOverride) (*ResolvedContent, error) {
	persona := visitor.Persona
	stage := visitor.FunnelStage
	if preview != nil {
		if preview.ForcedPersona != nil {
			persona = *preview.ForcedPersona
		}
		if preview.ForcedFunnelStage != nil {
			stage = *preview.ForcedFunnelStage
		}
	}

	result := &ResolvedContent{
		ContentItemID: item.ID,
		Title:         item.Title,
		Description:   item.Description,
		ImageRef:      item.ImageRef,
		IsVisible:     item.IsActive,
	}
	if !item.IsActive {
		return result, nil
	}

	// Experiment layer.
	if experiment := registry.FindActive(item.Type, persona, stage); experiment != nil {
		variant := s.selectVariant(ctx, experiment, visitor, preview)
		if variant != nil && s.applyVariant(ctx, result, item, variant) {
			return result, nil
		}
	}

	// Override layer.
	overrides, err := s.repository.ListOverridesForContent(ctx, item.ID)
	if err != nil {
		s.logger.Warn("override lookup failed, serving base content",
			"content_item_id", item.ID, "error", err)
		return result, nil
	}
	if match := NewOverrideIndex(overrides).Lookup(persona, stage); match != nil {
		match.apply(result)
	}

	return result, nil
}

// selectVariant picks the variant for the experiment layer. In preview mode
// only an explicitly forced variant applies and bucketing is skipped
// entirely, so preview output ignores any pre-existing real assignment.
func (s *service) selectVariant(ctx context.Context, experiment *Experiment, visitor VisitorContext, preview *PreviewOverride) *Variant {
	if preview != nil {
		forcedID, ok := preview.ForcedVariants[experiment.ID]
		if !ok {
			return nil
		}
		for _, v := range experiment.Variants {
			if v.ID == forcedID {
				return v
			}
		}
		s.logger.Warn("forced preview variant not found on experiment",
			"experiment_id", experiment.ID, "variant_id", forcedID)
		return nil
	}

	variant, err := s.Assign(ctx, experiment, visitor)
	if err != nil {
		// Bucketing failures degrade to the override/base layers rather than
		// blocking rendering.
		s.logger.Warn("experiment assignment failed, serving non-experiment content",
			"experiment_id", experiment.ID, "session_id", visitor.SessionID, "error", err)
		return nil
	}
	return variant
}

// applyVariant writes the variant's content into the result. It reports
// whether the variant supplied content of its own: a control variant with no
// linked item and no config payload leaves the result untouched and
// resolution falls through to the override layer, still recording which
// variant the session saw.
func (s *service) applyVariant(ctx context.Context, result *ResolvedContent, item *ContentItem, variant *Variant) bool {
	result.SourceVariantID = &variant.ID

	if variant.LinkedContentItemID != nil {
		linked, err := s.repository.GetContentItem(ctx, *variant.LinkedContentItemID)
		if err != nil || !linked.IsActive {
			// Dangling or inactive link: drop the experiment layer.
			s.logger.Warn("variant links to missing or inactive content item",
				"variant_id", variant.ID, "linked_item_id", *variant.LinkedContentItemID, "error", err)
			result.SourceVariantID = nil
			return false
		}
		// The linked item's own base fields are used as-is; no further
		// override layering applies to it.
		result.Title = linked.Title
		result.Description = linked.Description
		result.ImageRef = linked.ImageRef
		result.SourceItemID = &linked.ID
		result.VariantConfig = variant.Config
		return true
	}

	if variant.Config != nil {
		applyVariantConfig(result, item.Type, variant.Config)
		result.VariantConfig = variant.Config
		return true
	}

	return false
}

// applyVariantConfig overlays the typed variation payload for the item's
// content type onto the base fields. Empty payload fields keep the base
// value.
func applyVariantConfig(result *ResolvedContent, contentType ContentType, config *VariantConfig) {
	setIf := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	switch contentType {
	case ContentTypeHero:
		if c := config.Hero; c != nil {
			setIf(&result.Title, c.Headline)
			setIf(&result.Description, c.Subheadline)
			setIf(&result.ImageRef, c.ImageRef)
		}
	case ContentTypeCTA:
		if c := config.CTA; c != nil {
			setIf(&result.Title, c.Label)
			setIf(&result.ImageRef, c.ImageRef)
		}
	case ContentTypeService:
		if c := config.Service; c != nil {
			setIf(&result.Title, c.Title)
			setIf(&result.Description, c.Description)
			setIf(&result.ImageRef, c.ImageRef)
		}
	case ContentTypeEvent:
		if c := config.Event; c != nil {
			setIf(&result.Title, c.Title)
			setIf(&result.Description, c.Description)
			setIf(&result.ImageRef, c.ImageRef)
		}
	case ContentTypeTestimonial:
		if c := config.Testimonial; c != nil {
			setIf(&result.Title, c.Quote)
			setIf(&result.Description, c.Attribution)
			setIf(&result.ImageRef, c.ImageRef)
		}
	case ContentTypeLeadMagnet:
		if c := config.LeadMagnet; c != nil {
			setIf(&result.Title, c.Title)
			setIf(&result.Description, c.Description)
			setIf(&result.ImageRef, c.AssetRef)
		}
	}
}

package personalize

// OverrideIndex evaluates visibility override precedence for one content
// item. It is built per request from the item's override rows and holds no
// shared mutable state; lookups are pure reads.
type OverrideIndex struct {
	overrides []*VisibilityOverride
}

// NewOverrideIndex creates an index over the given override rows. All rows
// are expected to belong to the same content item.
func NewOverrideIndex(overrides []*VisibilityOverride) *OverrideIndex {
	return &OverrideIndex{overrides: overrides}
}

// Lookup returns the most specific override matching the persona/stage pair.
// Candidate keys are evaluated in this exact precedence order, returning the
// first match:
//
//  1. (persona, stage)  — fully specific
//  2. (persona, nil)    — persona-specific, stage-wildcard
//  3. (nil, stage)      — stage-specific, persona-wildcard
//  4. (nil, nil)        — fully wildcard
//
// No match returns nil and the caller falls back to the base content item.
func (ix *OverrideIndex) Lookup(persona Persona, stage FunnelStage) *VisibilityOverride {
	if match := ix.find(&persona, &stage); match != nil {
		return match
	}
	if match := ix.find(&persona, nil); match != nil {
		return match
	}
	if match := ix.find(nil, &stage); match != nil {
		return match
	}
	return ix.find(nil, nil)
}

func (ix *OverrideIndex) find(persona *Persona, stage *FunnelStage) *VisibilityOverride {
	for _, o := range ix.overrides {
		if !axisEqual(o.Persona, persona) {
			continue
		}
		if !stageEqual(o.FunnelStage, stage) {
			continue
		}
		return o
	}
	return nil
}

func axisEqual(a, b *Persona) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func stageEqual(a, b *FunnelStage) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// apply merges the override onto the base result. Each override field is
// applied independently: a nil field falls back to the base item's field,
// never to a less-specific override's field. IsVisible=false suppresses the
// item regardless of the other fields.
func (o *VisibilityOverride) apply(result *ResolvedContent) {
	result.Order = o.Order
	if !o.IsVisible {
		result.IsVisible = false
		return
	}
	if o.Title != nil {
		result.Title = *o.Title
	}
	if o.Description != nil {
		result.Description = *o.Description
	}
	if o.ImageRef != nil {
		result.ImageRef = *o.ImageRef
	}
}

package personalize

import (
	"bytes"
	"log/slog"
	"sort"
)

// ExperimentRegistry is an explicit, request-scoped view of active
// experiments. It is constructed per request (or refreshed on a defined
// interval) and passed by reference into the resolver rather than cached in
// package-level state shared across concurrent requests.
type ExperimentRegistry struct {
	experiments []*Experiment
	logger      *slog.Logger
}

// NewExperimentRegistry creates a registry over the given experiments.
func NewExperimentRegistry(experiments []*Experiment, logger *slog.Logger) *ExperimentRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExperimentRegistry{experiments: experiments, logger: logger}
}

// FindActive returns the active experiment covering (contentType, persona,
// stage), or nil when none does. An experiment matches when its content type
// matches and its target set either is empty or contains the pair.
//
// At most one active experiment should exist per slot; the admin surface
// enforces that. If the invariant is violated anyway the pick must still be
// deterministic: candidates are ordered by creation time, then by id byte
// order, and the first wins. The conflict is logged so admins can repair the
// configuration.
func (r *ExperimentRegistry) FindActive(contentType ContentType, persona Persona, stage FunnelStage) *Experiment {
	var candidates []*Experiment
	for _, e := range r.experiments {
		if e.Status != ExperimentStatusActive {
			continue
		}
		if e.ContentType != contentType {
			continue
		}
		if !e.AppliesTo(persona, stage) {
			continue
		}
		candidates = append(candidates, e)
	}

	switch len(candidates) {
	case 0:
		return nil
	case 1:
		return candidates[0]
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return bytes.Compare(candidates[i].ID[:], candidates[j].ID[:]) < 0
	})

	r.logger.Warn("multiple active experiments target the same slot",
		"content_type", contentType,
		"persona", persona,
		"funnel_stage", stage,
		"selected", candidates[0].ID,
		"shadowed", candidates[1].ID)

	return candidates[0]
}

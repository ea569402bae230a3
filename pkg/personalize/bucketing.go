package personalize

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Hash salts separating the allocation gate from the variant pick so the two
// decisions are independent for the same session.
const (
	allocationSalt = "alloc"
	variantSalt    = "variant"
)

// stableHash maps (experimentID, sessionID, salt) uniformly into [0, bound).
// It is a pure function of its inputs, with no RNG or wall-clock dependency,
// so the allocation gate and the variant pick are reproducible across
// processes and restarts.
func stableHash(experimentID uuid.UUID, sessionID, salt string, bound uint64) uint64 {
	d := xxhash.New()
	d.Write(experimentID[:])
	d.WriteString("|")
	d.WriteString(sessionID)
	d.WriteString("|")
	d.WriteString(salt)
	// Fold to 52 bits before reducing; the modulo bias is negligible for any
	// realistic bound (allocation is 100, weights sum to a few thousand).
	return (d.Sum64() >> 12) % bound
}

// inAllocation reports whether the session passes the experiment's traffic
// allocation gate. The gate is deterministic: the same session always gates
// the same way for a given experiment, for its entire lifetime.
func inAllocation(experiment *Experiment, sessionID string) bool {
	if experiment.TrafficAllocation <= 0 {
		return false
	}
	if experiment.TrafficAllocation >= 100 {
		return true
	}
	h := stableHash(experiment.ID, sessionID, allocationSalt, 100)
	return h < uint64(experiment.TrafficAllocation)
}

// pickVariant selects a variant by weighted hash. Variants are walked in the
// stable order the repository returns them (creation time, then id),
// accumulating weight; the first variant whose cumulative upper bound exceeds
// the hash wins. Returns nil when the total weight is zero.
func pickVariant(experiment *Experiment, sessionID string) *Variant {
	var total uint64
	for _, v := range experiment.Variants {
		if v.TrafficWeight > 0 {
			total += uint64(v.TrafficWeight)
		}
	}
	if total == 0 {
		return nil
	}

	h := stableHash(experiment.ID, sessionID, variantSalt, total)
	var cum uint64
	for _, v := range experiment.Variants {
		if v.TrafficWeight <= 0 {
			continue
		}
		cum += uint64(v.TrafficWeight)
		if h < cum {
			return v
		}
	}
	// Unreachable: cum equals total after the loop.
	return experiment.Variants[len(experiment.Variants)-1]
}

// Assign decides experiment inclusion and variant selection for a session.
// A nil variant means the session is outside the experiment.
//
// An existing assignment always wins, even if the variant's weight was since
// reduced to zero or the variant set changed: that is the sticky-bucketing
// guarantee. New assignments are persisted with insert-or-fetch semantics so
// concurrent first-touch requests from the same session converge on one row.
func (s *service) Assign(ctx context.Context, experiment *Experiment, visitor VisitorContext) (*Variant, error) {
	if experiment.Status != ExperimentStatusActive {
		return nil, nil
	}
	if visitor.SessionID == "" {
		return nil, nil
	}

	if !inAllocation(experiment, visitor.SessionID) {
		return nil, nil
	}

	// Sticky check before selection: a prior assignment is returned
	// unconditionally.
	existing, err := s.assignments.GetAssignment(ctx, experiment.ID, visitor.SessionID)
	if err == nil {
		return s.variantByID(ctx, experiment, existing.VariantID)
	}
	if !isNotFound(err) {
		return nil, &ExperimentError{ExperimentID: experiment.ID, Op: "assign", Err: err}
	}

	selected := pickVariant(experiment, visitor.SessionID)
	if selected == nil {
		return nil, nil
	}

	assignment := &Assignment{
		ExperimentID: experiment.ID,
		SessionID:    visitor.SessionID,
		VariantID:    selected.ID,
		Persona:      visitor.Persona,
		FunnelStage:  visitor.FunnelStage,
		AssignedAt:   time.Now().UTC(),
	}

	winner, inserted, err := s.assignments.InsertAssignmentIfAbsent(ctx, assignment)
	if err != nil {
		return nil, &ExperimentError{ExperimentID: experiment.ID, Op: "assign", Err: err}
	}

	if inserted {
		if s.eventSink != nil {
			if err := s.eventSink.AssignmentCreated(ctx, winner); err != nil {
				s.logger.Warn("assignment event sink failed",
					"experiment_id", experiment.ID, "session_id", visitor.SessionID, "error", err)
			}
		}
		return selected, nil
	}

	// A concurrent request inserted first; discard the local pick and honor
	// the winning row.
	return s.variantByID(ctx, experiment, winner.VariantID)
}

// variantByID resolves a variant id against the experiment's loaded variant
// set, falling back to the repository for variants added after the experiment
// was loaded.
func (s *service) variantByID(ctx context.Context, experiment *Experiment, id uuid.UUID) (*Variant, error) {
	for _, v := range experiment.Variants {
		if v.ID == id {
			return v, nil
		}
	}
	v, err := s.repository.GetVariant(ctx, id)
	if err != nil {
		return nil, &ExperimentError{
			ExperimentID: experiment.ID,
			Op:           "assign",
			Err:          fmt.Errorf("assigned variant %s: %w", id, err),
		}
	}
	return v, nil
}

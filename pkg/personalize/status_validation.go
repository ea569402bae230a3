package personalize

import "fmt"

// validateStatusTransition checks an experiment lifecycle transition.
//
// Allowed transitions:
//
//	draft     -> active
//	active    -> paused, completed
//	paused    -> active, completed
//	completed -> (terminal)
//
// Pausing keeps existing assignments; resuming serves them again. Completing
// freezes the experiment out of resolution permanently.
func validateStatusTransition(from, to ExperimentStatus) error {
	if from == to {
		return nil
	}

	allowed := map[ExperimentStatus][]ExperimentStatus{
		ExperimentStatusDraft:     {ExperimentStatusActive},
		ExperimentStatusActive:    {ExperimentStatusPaused, ExperimentStatusCompleted},
		ExperimentStatusPaused:    {ExperimentStatusActive, ExperimentStatusCompleted},
		ExperimentStatusCompleted: {},
	}

	nexts, ok := allowed[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidExperimentStatus, from)
	}
	for _, next := range nexts {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, from, to)
}

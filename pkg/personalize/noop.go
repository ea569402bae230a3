package personalize

import "context"

// NoopEventSink is a no-operation implementation of EventSink.
// Useful for production when you don't need event handling or for testing.
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

// AssignmentCreated does nothing and returns nil
func (n *NoopEventSink) AssignmentCreated(ctx context.Context, assignment *Assignment) error {
	return nil
}

// ExperimentStatusChanged does nothing and returns nil
func (n *NoopEventSink) ExperimentStatusChanged(ctx context.Context, experiment *Experiment, from ExperimentStatus) error {
	return nil
}

// OverrideSaved does nothing and returns nil
func (n *NoopEventSink) OverrideSaved(ctx context.Context, override *VisibilityOverride) error {
	return nil
}

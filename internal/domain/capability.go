package domain

import "context"

// ObservationSource supplies a weather snapshot for a named location.
// Implementations must honor ctx deadlines; failures are classified via
// Transient/Terminal wrapping.
type ObservationSource interface {
	Fetch(ctx context.Context, location string) (Observation, error)
}

// Classifier judges an observation, returning a disaster type, severity
// level, and a short rationale. The reasoning is opaque to the engine.
type Classifier interface {
	Classify(ctx context.Context, obs Observation) (Assessment, error)
}

// Notifier delivers a formatted alert to its recipients.
type Notifier interface {
	Send(ctx context.Context, msg AlertMessage) error
}

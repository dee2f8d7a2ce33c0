package audit

import (
	"context"
	"errors"
)

// ErrUnavailable marks a sink that cannot currently accept appends.
// The engine treats this as degraded logging, never as a workflow failure.
var ErrUnavailable = errors.New("audit sink unavailable")

// Sink accepts audit records. Append must be safe for concurrent use;
// concurrent appends must not interleave within a single record.
type Sink interface {
	Append(ctx context.Context, rec Record) error
	Close() error
}

// MultiSink fans out every record to all underlying sinks. An append error
// in one sink does not stop the others.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks into one. With a single sink it is returned
// as-is.
func NewMultiSink(sinks ...Sink) Sink {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Append(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

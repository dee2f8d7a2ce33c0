// Package audit provides the append-only audit trail of the workflow
// engine: every state transition, decision, and outcome of an incident is
// recorded as an immutable Record. Records for a single incident are
// appended in strict transition order; no ordering holds across incidents.
package audit

import "time"

// Kind enumerates the auditable workflow events.
type Kind string

const (
	KindObserved          Kind = "observed"
	KindClassified        Kind = "classified"
	KindPolicyDecided     Kind = "policy-decided"
	KindApprovalRequested Kind = "approval-requested"
	KindApprovalResolved  Kind = "approval-resolved"
	KindDispatched        Kind = "dispatched"
	KindDispatchFailed    Kind = "dispatch-failed"
	KindAborted           Kind = "aborted"
)

// Record captures one workflow transition. Append-only; never mutated.
type Record struct {
	IncidentID string         `json:"incident_id"`
	Location   string         `json:"location,omitempty"`
	Kind       Kind           `json:"kind"`
	Timestamp  time.Time      `json:"timestamp"`
	Payload    map[string]any `json:"payload,omitempty"`
}

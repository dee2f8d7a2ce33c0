package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// State identifies a workflow state of an incident.
type State string

const (
	StatePendingObservation State = "PENDING_OBSERVATION"
	StateObserved           State = "OBSERVED"
	StateClassified         State = "CLASSIFIED"
	StateAwaitingApproval   State = "AWAITING_APPROVAL"
	StateApproved           State = "APPROVED"
	StateRejected           State = "REJECTED"
	StateExpired            State = "EXPIRED"
	StateDispatched         State = "DISPATCHED"
	StateDispatchFailed     State = "DISPATCH_FAILED"
	StateDone               State = "DONE"
	StateAborted            State = "ABORTED"
)

// Abort reasons recorded on the ABORTED transition.
const (
	AbortObservationUnavailable = "observation-unavailable"
	AbortClassificationFailed   = "classification-failed"
)

// transitions holds the allowed forward edges of the incident state machine.
// ABORTED is additionally reachable from every non-terminal state.
var transitions = map[State][]State{
	StatePendingObservation: {StateObserved},
	StateObserved:           {StateClassified},
	StateClassified:         {StateAwaitingApproval, StateDispatched, StateDispatchFailed},
	StateAwaitingApproval:   {StateApproved, StateRejected, StateExpired},
	StateApproved:           {StateDispatched, StateDispatchFailed},
	StateRejected:           {StateDone},
	StateExpired:            {StateDone},
	StateDispatched:         {StateDone},
	StateDispatchFailed:     {},
	StateDone:               {},
	StateAborted:            {},
}

// Terminal reports whether s is a terminal workflow state.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateAborted, StateDispatchFailed:
		return true
	default:
		return false
	}
}

// Incident is one workflow execution: a single observation tracked through
// classification, gating, and dispatch. Mutable only by the workflow engine.
type Incident struct {
	ID         string    `json:"id"`
	Location   string    `json:"location"`
	CycleStart time.Time `json:"cycle_start"`
	State      State     `json:"state"`

	Observation *Observation `json:"observation,omitempty"`
	Assessment  *Assessment  `json:"assessment,omitempty"`

	// RequiresApproval is set once the severity policy has been consulted.
	RequiresApproval *bool `json:"requires_approval,omitempty"`

	// ApprovalResolution is the approval gate outcome
	// (approved, rejected, expired); empty until resolved.
	ApprovalResolution string `json:"approval_resolution,omitempty"`

	Dispatched       bool   `json:"dispatched"`
	DispatchAttempts int    `json:"dispatch_attempts,omitempty"`
	AbortReason      string `json:"abort_reason,omitempty"`
}

// NewIncident creates an incident in PENDING_OBSERVATION for one location
// and polling cycle. The ID is deterministic over (location, cycleStart).
func NewIncident(location string, cycleStart time.Time) *Incident {
	return &Incident{
		ID:         incidentID(location, cycleStart),
		Location:   location,
		CycleStart: cycleStart.UTC(),
		State:      StatePendingObservation,
	}
}

// Transition advances the incident to the given state, enforcing the state
// machine ordering. ABORTED is allowed from any non-terminal state.
func (i *Incident) Transition(to State) error {
	if to == StateAborted {
		if i.State.Terminal() {
			return fmt.Errorf("transition %s -> %s: incident already terminal", i.State, to)
		}
		i.State = StateAborted
		return nil
	}
	for _, allowed := range transitions[i.State] {
		if allowed == to {
			i.State = to
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s", i.State, to)
}

// incidentID produces a deterministic ID from the location and cycle time.
// The location slug prefix keeps IDs human-scannable in logs and audit trails.
func incidentID(location string, cycleStart time.Time) string {
	input := fmt.Sprintf("%s|%s", strings.ToLower(location), cycleStart.UTC().Format(time.RFC3339Nano))
	hash := sha256.Sum256([]byte(input))
	short := hex.EncodeToString(hash[:8])

	slug := strings.ToLower(strings.Join(strings.Fields(location), "-"))
	if slug == "" {
		return short
	}
	return slug + "-" + short
}

package audit

import (
	"errors"
	"fmt"

	"github.com/cirruswatch/stormsentry/internal/domain"
)

// ReplayResult is the incident state reconstructed from an audit trail.
type ReplayResult struct {
	IncidentID         string
	Location           string
	State              domain.State
	Dispatched         bool
	ApprovalResolution string
	AbortReason        string
	Records            int
}

// Replay walks an incident's audit records in order and reconstructs its
// final workflow state. The reconstruction is deterministic: it drives the
// same transition table the engine uses, so a trail that replays cleanly is
// proof the engine respected the state machine ordering.
func Replay(records []Record) (ReplayResult, error) {
	if len(records) == 0 {
		return ReplayResult{}, errors.New("no audit records")
	}

	inc := domain.NewIncident(records[0].Location, records[0].Timestamp)
	result := ReplayResult{
		IncidentID: records[0].IncidentID,
		Location:   records[0].Location,
		Records:    len(records),
	}

	for i, rec := range records {
		if rec.IncidentID != result.IncidentID {
			return ReplayResult{}, fmt.Errorf("record %d belongs to incident %s, expected %s", i, rec.IncidentID, result.IncidentID)
		}
		if err := applyRecord(inc, &result, rec); err != nil {
			return ReplayResult{}, fmt.Errorf("record %d (%s): %w", i, rec.Kind, err)
		}
	}

	result.State = inc.State
	return result, nil
}

func applyRecord(inc *domain.Incident, result *ReplayResult, rec Record) error {
	switch rec.Kind {
	case KindObserved:
		return inc.Transition(domain.StateObserved)

	case KindClassified:
		return inc.Transition(domain.StateClassified)

	case KindPolicyDecided:
		// A gating decision, not a state change.
		if inc.State != domain.StateClassified {
			return fmt.Errorf("policy decision in state %s", inc.State)
		}
		return nil

	case KindApprovalRequested:
		return inc.Transition(domain.StateAwaitingApproval)

	case KindApprovalResolved:
		res, _ := rec.Payload["resolution"].(string)
		result.ApprovalResolution = res
		switch res {
		case "approved":
			return inc.Transition(domain.StateApproved)
		case "rejected":
			if err := inc.Transition(domain.StateRejected); err != nil {
				return err
			}
			return inc.Transition(domain.StateDone)
		case "expired":
			if err := inc.Transition(domain.StateExpired); err != nil {
				return err
			}
			return inc.Transition(domain.StateDone)
		default:
			return fmt.Errorf("unknown approval resolution %q", res)
		}

	case KindDispatched:
		result.Dispatched = true
		if err := inc.Transition(domain.StateDispatched); err != nil {
			return err
		}
		return inc.Transition(domain.StateDone)

	case KindDispatchFailed:
		return inc.Transition(domain.StateDispatchFailed)

	case KindAborted:
		reason, _ := rec.Payload["reason"].(string)
		result.AbortReason = reason
		return inc.Transition(domain.StateAborted)

	default:
		return fmt.Errorf("unknown record kind %q", rec.Kind)
	}
}

// Package approval implements the human approval gate: the suspend/resume
// point where an incident waits for an external approve/reject decision
// under a deadline.
//
// Resolution is single-writer, first-wins: once a request is approved,
// rejected, or expired, every later resolution attempt fails with
// ErrInvalidState and the recorded outcome never changes. Expiry is driven
// by the gate's clock, so a request never waits forever even if no operator
// responds.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/cirruswatch/stormsentry/internal/domain"
)

// Decision is an operator's resolution of an approval request.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Resolution is the lifecycle state of an approval request.
type Resolution string

const (
	ResolutionPending  Resolution = "pending"
	ResolutionApproved Resolution = "approved"
	ResolutionRejected Resolution = "rejected"
	ResolutionExpired  Resolution = "expired"
)

var (
	// ErrNotFound is returned when no request exists for the given ID.
	ErrNotFound = errors.New("approval request not found")

	// ErrInvalidState is returned when resolving a request that is
	// already resolved or past its deadline.
	ErrInvalidState = errors.New("approval request already resolved or expired")
)

// resolvedRetention bounds how long resolved requests stay queryable so a
// late operator call gets ErrInvalidState instead of ErrNotFound.
const resolvedRetention = time.Hour

// Request is an immutable snapshot of an approval request.
type Request struct {
	ID           string          `json:"id"`
	IncidentID   string          `json:"incident_id"`
	Location     string          `json:"location"`
	DisasterType string          `json:"disaster_type,omitempty"`
	Severity     domain.Severity `json:"severity,omitempty"`
	RequestedAt  time.Time       `json:"requested_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
	Resolution   Resolution      `json:"resolution"`
	ResolvedBy   string          `json:"resolved_by,omitempty"`
}

// request is the gate's mutable record; all fields are guarded by Gate.mu.
type request struct {
	Request
	done chan struct{}
}

// Gate tracks outstanding approval requests. It is the only shared mutable
// structure between incidents and is safe for concurrent use.
type Gate struct {
	ttl   time.Duration
	clock clockwork.Clock

	mu       sync.Mutex
	pending  map[string]*request // incident ID -> outstanding request
	byID     map[string]*request
	resolved []*request // kept for late-resolve detection, pruned by retention
}

// NewGate creates a gate whose requests expire ttl after creation.
func NewGate(ttl time.Duration, clock clockwork.Clock) *Gate {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Gate{
		ttl:     ttl,
		clock:   clock,
		pending: make(map[string]*request),
		byID:    make(map[string]*request),
	}
}

// Request creates an approval request for the incident, or returns the
// existing one if a request for this incident is still pending. An incident
// never has more than one outstanding request.
func (g *Gate) Request(inc *domain.Incident) Request {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.pending[inc.ID]; ok {
		return existing.Request
	}

	now := g.clock.Now()
	r := &request{
		Request: Request{
			ID:          uuid.NewString(),
			IncidentID:  inc.ID,
			Location:    inc.Location,
			RequestedAt: now,
			ExpiresAt:   now.Add(g.ttl),
			Resolution:  ResolutionPending,
		},
		done: make(chan struct{}),
	}
	if inc.Assessment != nil {
		r.DisasterType = inc.Assessment.DisasterType
		r.Severity = inc.Assessment.Severity
	}

	g.pending[inc.ID] = r
	g.byID[r.ID] = r
	g.pruneLocked(now)

	return r.Request
}

// Resolve records an operator decision. The first resolution wins: if the
// request is already resolved or its deadline has passed, Resolve returns
// ErrInvalidState and the recorded resolution is unchanged.
func (g *Gate) Resolve(id string, decision Decision, actor string) error {
	if decision != DecisionApproved && decision != DecisionRejected {
		return fmt.Errorf("unknown decision %q", decision)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.byID[id]
	if !ok {
		return ErrNotFound
	}
	if r.Resolution != ResolutionPending {
		return ErrInvalidState
	}
	if g.clock.Now().After(r.ExpiresAt) {
		// Deadline passed before the waiter's timer fired; a late resolve
		// must fail rather than silently succeed.
		g.finishLocked(r, ResolutionExpired, "")
		return ErrInvalidState
	}

	g.finishLocked(r, Resolution(decision), actor)
	return nil
}

// Wait blocks until the request is resolved, its deadline passes, or ctx is
// cancelled, and returns the final request snapshot. Cancellation expires
// the request so the incident still reaches a recorded outcome.
func (g *Gate) Wait(ctx context.Context, id string) (Request, error) {
	g.mu.Lock()
	r, ok := g.byID[id]
	if !ok {
		g.mu.Unlock()
		return Request{}, ErrNotFound
	}
	if r.Resolution != ResolutionPending {
		snapshot := r.Request
		g.mu.Unlock()
		return snapshot, nil
	}
	done := r.done
	remaining := r.ExpiresAt.Sub(g.clock.Now())
	g.mu.Unlock()

	select {
	case <-done:
	case <-g.clock.After(remaining):
		g.expire(id)
	case <-ctx.Done():
		g.expire(id)
	}

	return g.Get(id)
}

// Get returns a snapshot of a request by ID.
func (g *Gate) Get(id string) (Request, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.byID[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return r.Request, nil
}

// Pending returns snapshots of all outstanding requests, oldest first.
func (g *Gate) Pending() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Request, 0, len(g.pending))
	for _, r := range g.pending {
		out = append(out, r.Request)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

// expire marks a request expired if it is still pending.
func (g *Gate) expire(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.byID[id]
	if !ok || r.Resolution != ResolutionPending {
		return
	}
	g.finishLocked(r, ResolutionExpired, "")
}

// finishLocked records the final resolution and wakes the waiter.
// Caller must hold g.mu.
func (g *Gate) finishLocked(r *request, res Resolution, actor string) {
	r.Resolution = res
	r.ResolvedBy = actor
	close(r.done)
	delete(g.pending, r.IncidentID)
	g.resolved = append(g.resolved, r)
}

// pruneLocked drops resolved requests past the retention window.
// Caller must hold g.mu.
func (g *Gate) pruneLocked(now time.Time) {
	kept := g.resolved[:0]
	for _, r := range g.resolved {
		if now.Sub(r.ExpiresAt) > resolvedRetention {
			delete(g.byID, r.ID)
			continue
		}
		kept = append(kept, r)
	}
	g.resolved = kept
}

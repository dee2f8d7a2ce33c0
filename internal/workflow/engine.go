// Package workflow implements the decision-and-dispatch engine. Each polling
// cycle opens one incident per monitored location and drives it through the
// state machine: observation, classification, severity gating, an optional
// human approval wait, and notification dispatch. Every transition is written
// to the audit trail.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cirruswatch/stormsentry/internal/approval"
	"github.com/cirruswatch/stormsentry/internal/audit"
	"github.com/cirruswatch/stormsentry/internal/domain"
	"github.com/cirruswatch/stormsentry/internal/observability"
	"github.com/cirruswatch/stormsentry/internal/policy"
)

// Capability labels used in logs and retry metrics.
const (
	capObservationSource = "observation-source"
	capClassifier        = "classifier"
	capNotifier          = "notifier"
)

// Config holds the engine's tunables.
type Config struct {
	Locations    []string
	PollInterval time.Duration

	FetchTimeout    time.Duration
	ClassifyTimeout time.Duration
	NotifyTimeout   time.Duration

	Retry RetryPolicy

	// Recipients is the fallback recipient list when the active policy
	// does not carry its own.
	Recipients []string
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Source     domain.ObservationSource
	Classifier domain.Classifier
	Notifier   domain.Notifier
	Gate       *approval.Gate
	Policies   *policy.Store
	Audit      audit.Sink
	Clock      clockwork.Clock
	Logger     *slog.Logger
	Metrics    *observability.Metrics
}

// Engine runs the monitoring workflow. Incidents for different locations
// proceed concurrently; each incident is owned by a single goroutine.
type Engine struct {
	cfg Config

	source     domain.ObservationSource
	classifier domain.Classifier
	notifier   domain.Notifier
	gate       *approval.Gate
	policies   *policy.Store
	sink       audit.Sink
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics

	mu        sync.Mutex
	incidents map[string]*domain.Incident // location -> latest incident snapshot

	ready atomic.Bool
}

// New wires an engine. A nil Clock gets the real clock.
func New(cfg Config, deps Deps) *Engine {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		cfg:        cfg,
		source:     deps.Source,
		classifier: deps.Classifier,
		notifier:   deps.Notifier,
		gate:       deps.Gate,
		policies:   deps.Policies,
		sink:       deps.Audit,
		clock:      clock,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		incidents:  make(map[string]*domain.Incident),
	}
}

// Run executes polling cycles until ctx is cancelled. The first cycle starts
// immediately; subsequent cycles fire on the poll interval.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started",
		"locations", len(e.cfg.Locations),
		"poll_interval", e.cfg.PollInterval.String())

	e.metrics.EngineRunning.Set(1)
	defer e.metrics.EngineRunning.Set(0)

	ticker := e.clock.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	e.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping")
			return nil
		case <-ticker.Chan():
			e.RunCycle(ctx)
		}
	}
}

// RunCycle opens one incident per configured location and runs them to
// completion concurrently.
func (e *Engine) RunCycle(ctx context.Context) {
	start := e.clock.Now()

	var wg sync.WaitGroup
	for _, location := range e.cfg.Locations {
		wg.Add(1)
		go func(location string) {
			defer wg.Done()
			e.runIncident(ctx, location, start)
		}(location)
	}
	wg.Wait()

	e.metrics.CycleDuration.Observe(e.clock.Since(start).Seconds())
	e.ready.Store(true)
}

// runIncident drives a single incident through the full state machine and
// returns it in a terminal state.
func (e *Engine) runIncident(ctx context.Context, location string, cycleStart time.Time) *domain.Incident {
	inc := domain.NewIncident(location, cycleStart)
	e.metrics.IncidentsStarted.Inc()
	e.track(inc)

	logger := e.logger.With("incident_id", inc.ID, "location", location)
	logger.Debug("incident opened")

	obs, err := e.observe(ctx, inc)
	if err != nil {
		e.abort(ctx, inc, domain.AbortObservationUnavailable, err, logger)
		return inc
	}
	inc.Observation = &obs
	_ = inc.Transition(domain.StateObserved)
	e.record(ctx, inc, audit.KindObserved, map[string]any{
		"description":   obs.Description,
		"temperature_c": obs.TemperatureC,
		"wind_speed_ms": obs.WindSpeedMS,
		"humidity_pct":  obs.HumidityPct,
		"pressure_hpa":  obs.PressureHPa,
	})

	assessment, err := e.classify(ctx, inc, obs, logger)
	if err != nil {
		e.abort(ctx, inc, domain.AbortClassificationFailed, err, logger)
		return inc
	}
	inc.Assessment = &assessment
	_ = inc.Transition(domain.StateClassified)
	e.record(ctx, inc, audit.KindClassified, map[string]any{
		"disaster_type": assessment.DisasterType,
		"severity":      string(assessment.Severity),
		"raw_severity":  assessment.RawSeverity,
		"rationale":     assessment.Rationale,
	})

	pol := e.policies.Current()
	decision := pol.Decide(assessment.Severity)
	requires := decision.RequiresApproval
	inc.RequiresApproval = &requires
	e.record(ctx, inc, audit.KindPolicyDecided, map[string]any{
		"severity":          string(assessment.Severity),
		"requires_approval": requires,
	})
	logger.Info("severity gated",
		"severity", assessment.Severity,
		"requires_approval", requires)

	humanVerified := false
	if requires {
		if done := e.awaitApproval(ctx, inc, logger); done {
			return inc
		}
		// Only an approval continues the workflow.
		humanVerified = true
	}

	e.dispatch(ctx, inc, pol, humanVerified, logger)
	return inc
}

// observe fetches the weather observation with retries.
func (e *Engine) observe(ctx context.Context, inc *domain.Incident) (domain.Observation, error) {
	obs, attempts, err := callWithRetry(ctx, e.clock, e.cfg.Retry,
		func(ctx context.Context) (domain.Observation, error) {
			callCtx, cancel := e.callContext(ctx, e.cfg.FetchTimeout)
			defer cancel()
			return e.source.Fetch(callCtx, inc.Location)
		})
	e.countRetries(capObservationSource, attempts)
	return obs, err
}

// classify runs the classifier with retries and applies the severity
// fail-safe: an unrecognized severity is demoted to Medium so the incident
// routes through human approval instead of auto-dispatching.
func (e *Engine) classify(ctx context.Context, inc *domain.Incident, obs domain.Observation, logger *slog.Logger) (domain.Assessment, error) {
	assessment, attempts, err := callWithRetry(ctx, e.clock, e.cfg.Retry,
		func(ctx context.Context) (domain.Assessment, error) {
			callCtx, cancel := e.callContext(ctx, e.cfg.ClassifyTimeout)
			defer cancel()
			return e.classifier.Classify(callCtx, obs)
		})
	e.countRetries(capClassifier, attempts)
	if err != nil {
		return domain.Assessment{}, err
	}

	if _, ok := domain.ParseSeverity(string(assessment.Severity)); !ok {
		normalized, fellBack := domain.NormalizeSeverity(assessment.RawSeverity)
		if fellBack {
			logger.Warn("unrecognized severity, defaulting to Medium",
				"raw_severity", assessment.RawSeverity)
		}
		assessment.Severity = normalized
	}
	return assessment, nil
}

// awaitApproval suspends the incident on the approval gate. It returns true
// when the incident reached a terminal state here (rejected or expired) and
// the workflow must not dispatch.
func (e *Engine) awaitApproval(ctx context.Context, inc *domain.Incident, logger *slog.Logger) bool {
	req := e.gate.Request(inc)
	_ = inc.Transition(domain.StateAwaitingApproval)
	e.metrics.ApprovalRequests.Inc()
	e.record(ctx, inc, audit.KindApprovalRequested, map[string]any{
		"request_id": req.ID,
		"expires_at": req.ExpiresAt.UTC().Format(time.RFC3339),
	})
	logger.Info("awaiting human approval", "request_id", req.ID, "expires_at", req.ExpiresAt)

	final, err := e.gate.Wait(ctx, req.ID)
	if err != nil {
		// The request vanished from the gate; treat as expired so the
		// incident still reaches a recorded outcome.
		logger.Error("approval wait failed", "request_id", req.ID, "error", err)
		final.Resolution = approval.ResolutionExpired
	}

	inc.ApprovalResolution = string(final.Resolution)
	e.metrics.ApprovalResolutions.WithLabelValues(string(final.Resolution)).Inc()
	e.record(ctx, inc, audit.KindApprovalResolved, map[string]any{
		"request_id":  req.ID,
		"resolution":  string(final.Resolution),
		"resolved_by": final.ResolvedBy,
	})

	switch final.Resolution {
	case approval.ResolutionApproved:
		_ = inc.Transition(domain.StateApproved)
		logger.Info("dispatch approved", "resolved_by", final.ResolvedBy)
		return false
	case approval.ResolutionRejected:
		_ = inc.Transition(domain.StateRejected)
		logger.Info("dispatch rejected", "resolved_by", final.ResolvedBy)
	default:
		_ = inc.Transition(domain.StateExpired)
		logger.Info("approval request expired")
	}

	_ = inc.Transition(domain.StateDone)
	e.finish(inc, "suppressed", logger)
	return true
}

// dispatch formats and sends the alert, retrying transient notifier failures.
func (e *Engine) dispatch(ctx context.Context, inc *domain.Incident, pol policy.Policy, humanVerified bool, logger *slog.Logger) {
	recipients := pol.Recipients
	if len(recipients) == 0 {
		recipients = e.cfg.Recipients
	}
	team := ""
	if inc.Assessment != nil {
		team = pol.RouteTeam(inc.Assessment.DisasterType, inc.Assessment.Severity)
	}
	msg := domain.BuildAlertMessage(inc, team, recipients, humanVerified, e.clock.Now())

	_, attempts, err := callWithRetry(ctx, e.clock, e.cfg.Retry,
		func(ctx context.Context) (struct{}, error) {
			callCtx, cancel := e.callContext(ctx, e.cfg.NotifyTimeout)
			defer cancel()
			return struct{}{}, e.notifier.Send(callCtx, msg)
		})
	e.countRetries(capNotifier, attempts)
	inc.DispatchAttempts = attempts
	e.metrics.DispatchAttempts.Observe(float64(attempts))

	if err != nil {
		_ = inc.Transition(domain.StateDispatchFailed)
		e.record(ctx, inc, audit.KindDispatchFailed, map[string]any{
			"attempts": attempts,
			"error":    err.Error(),
		})
		e.metrics.IncidentOutcomes.WithLabelValues("dispatch_failed").Inc()
		e.track(inc)
		logger.Error("alert dispatch failed", "attempts", attempts, "error", err)
		return
	}

	inc.Dispatched = true
	_ = inc.Transition(domain.StateDispatched)
	e.record(ctx, inc, audit.KindDispatched, map[string]any{
		"attempts":   attempts,
		"team":       team,
		"recipients": len(recipients),
	})
	_ = inc.Transition(domain.StateDone)
	e.finish(inc, "dispatched", logger)
	logger.Info("alert dispatched", "team", team, "attempts", attempts)
}

// abort moves the incident to ABORTED with the given reason.
func (e *Engine) abort(ctx context.Context, inc *domain.Incident, reason string, cause error, logger *slog.Logger) {
	inc.AbortReason = reason
	_ = inc.Transition(domain.StateAborted)
	e.record(ctx, inc, audit.KindAborted, map[string]any{
		"reason": reason,
		"error":  cause.Error(),
	})
	e.metrics.IncidentOutcomes.WithLabelValues("aborted").Inc()
	e.track(inc)
	logger.Error("incident aborted", "reason", reason, "error", cause)
}

func (e *Engine) finish(inc *domain.Incident, outcome string, logger *slog.Logger) {
	e.metrics.IncidentOutcomes.WithLabelValues(outcome).Inc()
	e.track(inc)
	logger.Debug("incident finished", "state", inc.State, "outcome", outcome)
}

// record appends one audit record and keeps the incident snapshot fresh.
// Append failures degrade to a warning; they never stall the workflow.
func (e *Engine) record(ctx context.Context, inc *domain.Incident, kind audit.Kind, payload map[string]any) {
	e.track(inc)
	rec := audit.Record{
		IncidentID: inc.ID,
		Location:   inc.Location,
		Kind:       kind,
		Timestamp:  e.clock.Now().UTC(),
		Payload:    payload,
	}
	if err := e.sink.Append(context.WithoutCancel(ctx), rec); err != nil {
		e.metrics.AuditFailures.Inc()
		e.logger.Warn("audit append failed",
			"incident_id", inc.ID, "kind", kind, "error", err)
	}
}

// callContext bounds an external call by its own timeout, detached from the
// run context so an in-flight incident finishes its current step during
// shutdown instead of being killed mid-transition.
func (e *Engine) callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if timeout <= 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, timeout)
}

func (e *Engine) countRetries(capability string, attempts int) {
	if attempts > 1 {
		e.metrics.CapabilityRetries.WithLabelValues(capability).Add(float64(attempts - 1))
	}
}

// track stores a value snapshot of the incident for the HTTP API. Snapshots
// are read-only copies; the running goroutine keeps mutating its own struct.
func (e *Engine) track(inc *domain.Incident) {
	cp := *inc
	e.mu.Lock()
	e.incidents[inc.Location] = &cp
	e.mu.Unlock()
}

// Snapshot returns the latest incident per location, sorted by location.
func (e *Engine) Snapshot() []domain.Incident {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.Incident, 0, len(e.incidents))
	for _, inc := range e.incidents {
		out = append(out, *inc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Location < out[j].Location })
	return out
}

// CheckReadiness reports whether the engine has completed at least one
// polling cycle.
func (e *Engine) CheckReadiness(context.Context) error {
	if !e.ready.Load() {
		return errors.New("no polling cycle completed yet")
	}
	return nil
}

package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cirruswatch/stormsentry/internal/approval"
	"github.com/cirruswatch/stormsentry/internal/audit"
	"github.com/cirruswatch/stormsentry/internal/domain"
	"github.com/cirruswatch/stormsentry/internal/observability"
	"github.com/cirruswatch/stormsentry/internal/policy"
)

var testCycleStart = time.Date(2026, 4, 26, 15, 0, 0, 0, time.UTC)

var testObservation = domain.Observation{
	Location:      "Austin",
	ObservedAt:    testCycleStart,
	Description:   "heavy rain",
	TemperatureC:  28.5,
	WindSpeedMS:   12,
	HumidityPct:   85,
	PressureHPa:   1004,
	CloudCoverPct: 95,
}

type sourceFunc func(ctx context.Context, location string) (domain.Observation, error)

func (f sourceFunc) Fetch(ctx context.Context, location string) (domain.Observation, error) {
	return f(ctx, location)
}

type classifierFunc func(ctx context.Context, obs domain.Observation) (domain.Assessment, error)

func (f classifierFunc) Classify(ctx context.Context, obs domain.Observation) (domain.Assessment, error) {
	return f(ctx, obs)
}

type notifierFunc func(ctx context.Context, msg domain.AlertMessage) error

func (f notifierFunc) Send(ctx context.Context, msg domain.AlertMessage) error {
	return f(ctx, msg)
}

func staticSource() sourceFunc {
	return func(context.Context, string) (domain.Observation, error) {
		return testObservation, nil
	}
}

func staticClassifier(disasterType string, severity domain.Severity) classifierFunc {
	return func(context.Context, domain.Observation) (domain.Assessment, error) {
		return domain.Assessment{
			DisasterType: disasterType,
			Severity:     severity,
			RawSeverity:  string(severity),
			Rationale:    "sustained conditions over threshold",
		}, nil
	}
}

// captureNotifier records sent messages and never fails.
type captureNotifier struct {
	mu   sync.Mutex
	sent []domain.AlertMessage
}

func (n *captureNotifier) Send(_ context.Context, msg domain.AlertMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *captureNotifier) messages() []domain.AlertMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.AlertMessage(nil), n.sent...)
}

// recordingSink collects audit records in append order.
type recordingSink struct {
	mu      sync.Mutex
	records []audit.Record
	fail    bool
}

func (s *recordingSink) Append(_ context.Context, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return audit.ErrUnavailable
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) kinds() []audit.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Kind, len(s.records))
	for i, rec := range s.records {
		out[i] = rec.Kind
	}
	return out
}

func (s *recordingSink) find(kind audit.Kind) (audit.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.Kind == kind {
			return rec, true
		}
	}
	return audit.Record{}, false
}

func (s *recordingSink) all() []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Record(nil), s.records...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type engineFixture struct {
	engine *Engine
	gate   *approval.Gate
	sink   *recordingSink
	clock  *clockwork.FakeClock
}

func newFixture(t *testing.T, src domain.ObservationSource, cls domain.Classifier, ntf domain.Notifier) *engineFixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testCycleStart)
	gate := approval.NewGate(15*time.Minute, clock)
	sink := &recordingSink{}

	eng := New(Config{
		Locations:       []string{"Austin"},
		PollInterval:    10 * time.Minute,
		FetchTimeout:    time.Second,
		ClassifyTimeout: time.Second,
		NotifyTimeout:   time.Second,
		Retry:           RetryPolicy{MaxRetries: 3},
		Recipients:      []string{"ops@example.com"},
	}, Deps{
		Source:     src,
		Classifier: cls,
		Notifier:   ntf,
		Gate:       gate,
		Policies:   policy.NewStore(policy.Default()),
		Audit:      sink,
		Clock:      clock,
		Logger:     discardLogger(),
		Metrics:    observability.NewMetricsForTesting(),
	})
	return &engineFixture{engine: eng, gate: gate, sink: sink, clock: clock}
}

// run drives one incident synchronously.
func (f *engineFixture) run() *domain.Incident {
	return f.engine.runIncident(context.Background(), "Austin", f.clock.Now())
}

// runAsync drives one incident in the background, for flows that suspend on
// the approval gate.
func (f *engineFixture) runAsync() <-chan *domain.Incident {
	out := make(chan *domain.Incident, 1)
	go func() {
		out <- f.run()
	}()
	return out
}

// pendingRequest waits for the incident's approval request to appear.
func (f *engineFixture) pendingRequest(t *testing.T) approval.Request {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(f.gate.Pending()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	return f.gate.Pending()[0]
}

func TestHighSeverityBypassesApproval(t *testing.T) {
	notifier := &captureNotifier{}
	f := newFixture(t, staticSource(), staticClassifier("Hurricane", domain.SeverityHigh), notifier)

	inc := f.run()

	assert.Equal(t, domain.StateDone, inc.State)
	assert.True(t, inc.Dispatched)
	require.NotNil(t, inc.RequiresApproval)
	assert.False(t, *inc.RequiresApproval)

	assert.Equal(t, []audit.Kind{
		audit.KindObserved,
		audit.KindClassified,
		audit.KindPolicyDecided,
		audit.KindDispatched,
	}, f.sink.kinds())

	msgs := notifier.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Subject, "High severity weather event in Austin")
	assert.Contains(t, msgs[0].Body, "Response Team: emergency-response")
	assert.NotContains(t, msgs[0].Body, "verified by a human operator")
}

func TestMediumSeverityApprovedThenDispatched(t *testing.T) {
	notifier := &captureNotifier{}
	f := newFixture(t, staticSource(), staticClassifier("Flood", domain.SeverityMedium), notifier)

	done := f.runAsync()
	req := f.pendingRequest(t)
	require.NoError(t, f.gate.Resolve(req.ID, approval.DecisionApproved, "operator@example.com"))

	inc := <-done
	assert.Equal(t, domain.StateDone, inc.State)
	assert.True(t, inc.Dispatched)
	assert.Equal(t, "approved", inc.ApprovalResolution)

	assert.Equal(t, []audit.Kind{
		audit.KindObserved,
		audit.KindClassified,
		audit.KindPolicyDecided,
		audit.KindApprovalRequested,
		audit.KindApprovalResolved,
		audit.KindDispatched,
	}, f.sink.kinds())

	resolved, ok := f.sink.find(audit.KindApprovalResolved)
	require.True(t, ok)
	assert.Equal(t, "approved", resolved.Payload["resolution"])
	assert.Equal(t, "operator@example.com", resolved.Payload["resolved_by"])

	msgs := notifier.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Body, "Response Team: public-works")
	assert.Contains(t, msgs[0].Body, "verified by a human operator")
}

func TestMediumSeverityRejectedSuppressesDispatch(t *testing.T) {
	notifier := &captureNotifier{}
	f := newFixture(t, staticSource(), staticClassifier("Flood", domain.SeverityMedium), notifier)

	done := f.runAsync()
	req := f.pendingRequest(t)
	require.NoError(t, f.gate.Resolve(req.ID, approval.DecisionRejected, "operator@example.com"))

	inc := <-done
	assert.Equal(t, domain.StateDone, inc.State)
	assert.False(t, inc.Dispatched)
	assert.Equal(t, "rejected", inc.ApprovalResolution)
	assert.Empty(t, notifier.messages())

	kinds := f.sink.kinds()
	assert.NotContains(t, kinds, audit.KindDispatched)
	assert.Equal(t, audit.KindApprovalResolved, kinds[len(kinds)-1])
}

func TestApprovalTimeoutExpiresAndSuppresses(t *testing.T) {
	notifier := &captureNotifier{}
	f := newFixture(t, staticSource(), staticClassifier("Heatwave", domain.SeverityLow), notifier)

	done := f.runAsync()
	f.pendingRequest(t)

	// The only clock waiter is the approval deadline.
	f.clock.BlockUntil(1)
	f.clock.Advance(16 * time.Minute)

	inc := <-done
	assert.Equal(t, domain.StateDone, inc.State)
	assert.False(t, inc.Dispatched)
	assert.Equal(t, "expired", inc.ApprovalResolution)
	assert.Empty(t, notifier.messages())

	resolved, ok := f.sink.find(audit.KindApprovalResolved)
	require.True(t, ok)
	assert.Equal(t, "expired", resolved.Payload["resolution"])
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	var calls int32
	notifier := notifierFunc(func(context.Context, domain.AlertMessage) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return domain.Transient("notifier", errors.New("connection reset"))
		}
		return nil
	})
	f := newFixture(t, staticSource(), staticClassifier("Severe Storm", domain.SeverityCritical), notifier)

	inc := f.run()

	assert.Equal(t, domain.StateDone, inc.State)
	assert.True(t, inc.Dispatched)
	assert.Equal(t, 3, inc.DispatchAttempts)

	dispatched, ok := f.sink.find(audit.KindDispatched)
	require.True(t, ok)
	assert.Equal(t, 3, dispatched.Payload["attempts"])
}

func TestDispatchFailsAfterBudgetExhausted(t *testing.T) {
	notifier := notifierFunc(func(context.Context, domain.AlertMessage) error {
		return domain.Transient("notifier", errors.New("connection reset"))
	})
	f := newFixture(t, staticSource(), staticClassifier("Severe Storm", domain.SeverityCritical), notifier)

	inc := f.run()

	assert.Equal(t, domain.StateDispatchFailed, inc.State)
	assert.False(t, inc.Dispatched)
	assert.Equal(t, 4, inc.DispatchAttempts) // budget of 3 retries + initial attempt

	failed, ok := f.sink.find(audit.KindDispatchFailed)
	require.True(t, ok)
	assert.Equal(t, 4, failed.Payload["attempts"])
}

func TestDispatchStopsOnTerminalNotifierError(t *testing.T) {
	var calls int32
	notifier := notifierFunc(func(context.Context, domain.AlertMessage) error {
		atomic.AddInt32(&calls, 1)
		return domain.Terminal("notifier", domain.ErrAuthRejected)
	})
	f := newFixture(t, staticSource(), staticClassifier("Hurricane", domain.SeverityCritical), notifier)

	inc := f.run()

	assert.Equal(t, domain.StateDispatchFailed, inc.State)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestObservationFailureAborts(t *testing.T) {
	src := sourceFunc(func(context.Context, string) (domain.Observation, error) {
		return domain.Observation{}, domain.Transient("observation-source", errors.New("503"))
	})
	f := newFixture(t, src, staticClassifier("Flood", domain.SeverityHigh), &captureNotifier{})

	inc := f.run()

	assert.Equal(t, domain.StateAborted, inc.State)
	assert.Equal(t, domain.AbortObservationUnavailable, inc.AbortReason)

	require.Equal(t, []audit.Kind{audit.KindAborted}, f.sink.kinds())
	aborted, _ := f.sink.find(audit.KindAborted)
	assert.Equal(t, domain.AbortObservationUnavailable, aborted.Payload["reason"])
}

func TestClassifierFailureAborts(t *testing.T) {
	cls := classifierFunc(func(context.Context, domain.Observation) (domain.Assessment, error) {
		return domain.Assessment{}, domain.Transient("classifier", domain.ErrModelUnavailable)
	})
	f := newFixture(t, staticSource(), cls, &captureNotifier{})

	inc := f.run()

	assert.Equal(t, domain.StateAborted, inc.State)
	assert.Equal(t, domain.AbortClassificationFailed, inc.AbortReason)
	assert.Equal(t, []audit.Kind{audit.KindObserved, audit.KindAborted}, f.sink.kinds())
}

func TestUnrecognizedSeverityDefaultsToMediumAndGates(t *testing.T) {
	cls := classifierFunc(func(context.Context, domain.Observation) (domain.Assessment, error) {
		return domain.Assessment{DisasterType: "Hurricane", RawSeverity: "apocalyptic"}, nil
	})
	f := newFixture(t, staticSource(), cls, &captureNotifier{})

	done := f.runAsync()
	req := f.pendingRequest(t)
	require.NoError(t, f.gate.Resolve(req.ID, approval.DecisionRejected, "operator@example.com"))
	inc := <-done

	require.NotNil(t, inc.Assessment)
	assert.Equal(t, domain.SeverityMedium, inc.Assessment.Severity)
	assert.Equal(t, "apocalyptic", inc.Assessment.RawSeverity)

	classified, ok := f.sink.find(audit.KindClassified)
	require.True(t, ok)
	assert.Equal(t, "Medium", classified.Payload["severity"])
	assert.Equal(t, "apocalyptic", classified.Payload["raw_severity"])

	decided, ok := f.sink.find(audit.KindPolicyDecided)
	require.True(t, ok)
	assert.Equal(t, true, decided.Payload["requires_approval"])
}

func TestAuditFailureDoesNotStallWorkflow(t *testing.T) {
	notifier := &captureNotifier{}
	f := newFixture(t, staticSource(), staticClassifier("Hurricane", domain.SeverityCritical), notifier)
	f.sink.fail = true

	inc := f.run()

	assert.Equal(t, domain.StateDone, inc.State)
	assert.True(t, inc.Dispatched)
	require.Len(t, notifier.messages(), 1)
}

func TestRunCycleUpdatesSnapshotAndReadiness(t *testing.T) {
	f := newFixture(t, staticSource(), staticClassifier("Hurricane", domain.SeverityHigh), &captureNotifier{})

	require.Error(t, f.engine.CheckReadiness(context.Background()))
	f.engine.RunCycle(context.Background())
	require.NoError(t, f.engine.CheckReadiness(context.Background()))

	snap := f.engine.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "Austin", snap[0].Location)
	assert.Equal(t, domain.StateDone, snap[0].State)
	assert.True(t, snap[0].Dispatched)
}

func TestIncidentIDsDeterministicPerCycle(t *testing.T) {
	f := newFixture(t, staticSource(), staticClassifier("Hurricane", domain.SeverityHigh), &captureNotifier{})

	a := f.run()
	b := f.run()
	assert.Equal(t, a.ID, b.ID)

	f.clock.Advance(10 * time.Minute)
	c := f.run()
	assert.NotEqual(t, a.ID, c.ID)
}

func TestReplayAgreesWithLiveRun(t *testing.T) {
	notifier := &captureNotifier{}
	f := newFixture(t, staticSource(), staticClassifier("Hurricane", domain.SeverityHigh), notifier)

	inc := f.run()

	result, err := audit.Replay(f.sink.all())
	require.NoError(t, err)
	assert.Equal(t, inc.ID, result.IncidentID)
	assert.Equal(t, inc.State, result.State)
	assert.Equal(t, inc.Dispatched, result.Dispatched)
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"fleetmaint/internal/types"
)

func driverTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ============================================================
// Mocks
// ============================================================

type mockScheduleStore struct {
	mu sync.Mutex

	schedules []types.RecurringSchedule
	listErr   error

	evaluated     []string
	markEvalErr   error
	failureCounts map[string]int
	recordErr     error
	resets        []string
	attention     []string
	attentionErr  error
}

func (m *mockScheduleStore) ListActive(_ context.Context, _ string, _ int) ([]types.RecurringSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.schedules, nil
}

func (m *mockScheduleStore) MarkEvaluated(_ context.Context, scheduleID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markEvalErr != nil {
		return m.markEvalErr
	}
	m.evaluated = append(m.evaluated, scheduleID)
	return nil
}

func (m *mockScheduleStore) RecordFailure(_ context.Context, scheduleID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return 0, m.recordErr
	}
	if m.failureCounts == nil {
		m.failureCounts = make(map[string]int)
	}
	m.failureCounts[scheduleID]++
	return m.failureCounts[scheduleID], nil
}

func (m *mockScheduleStore) ResetFailures(_ context.Context, scheduleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, scheduleID)
	if m.failureCounts != nil {
		m.failureCounts[scheduleID] = 0
	}
	return nil
}

func (m *mockScheduleStore) MarkNeedsAttention(_ context.Context, scheduleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attentionErr != nil {
		return m.attentionErr
	}
	m.attention = append(m.attention, scheduleID)
	// Mirror the UPDATE ... WHERE status = 'active' guard so later ticks
	// list the schedule with its flipped status.
	for i := range m.schedules {
		if m.schedules[i].ID == scheduleID && m.schedules[i].Status == types.ScheduleActive {
			m.schedules[i].Status = types.ScheduleNeedsAttention
		}
	}
	return nil
}

type mockReadingSource struct {
	mu       sync.Mutex
	readings map[string]*types.AssetReadings
	errs     map[string]error
}

func (m *mockReadingSource) Current(_ context.Context, assetID string) (*types.AssetReadings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs[assetID]; err != nil {
		return nil, err
	}
	if r, ok := m.readings[assetID]; ok {
		return r, nil
	}
	return &types.AssetReadings{AssetID: assetID}, nil
}

type mockLeaseStore struct {
	mu       sync.Mutex
	denied   map[string]bool
	acquired []string
	released []string
}

func (m *mockLeaseStore) TryAcquire(_ context.Context, scheduleID, workerID string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.denied[scheduleID] {
		return false, nil
	}
	m.acquired = append(m.acquired, scheduleID)
	return true, nil
}

func (m *mockLeaseStore) Release(_ context.Context, scheduleID, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, scheduleID)
	return nil
}

type mockHistoryStore struct {
	mu        sync.Mutex
	entries   []types.ExecutionHistoryEntry
	generated map[string]bool // scheduleID+cycleKey already generated
	appendErr error
}

func (m *mockHistoryStore) Append(_ context.Context, entry *types.ExecutionHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *mockHistoryStore) HasGeneratedForCycle(_ context.Context, scheduleID, cycleKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generated[scheduleID+cycleKey], nil
}

func (m *mockHistoryStore) outcomes() map[types.HistoryOutcome]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[types.HistoryOutcome]int)
	for _, e := range m.entries {
		counts[e.Outcome]++
	}
	return counts
}

type mockCycleCommitter struct {
	mu            sync.Mutex
	commits       []types.WorkOrder
	entries       []types.ExecutionHistoryEntry
	alreadyExists bool
	commitErr     error
}

func (m *mockCycleCommitter) CommitGeneration(
	_ context.Context,
	wo *types.WorkOrder,
	tracks types.TriggerMetrics,
	entry *types.ExecutionHistoryEntry,
	_ time.Time,
) (*types.WorkOrder, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return nil, false, m.commitErr
	}
	if m.alreadyExists {
		existing := *wo
		return &existing, true, nil
	}
	m.commits = append(m.commits, *wo)
	m.entries = append(m.entries, *entry)
	return wo, false, nil
}

type mockNotifier struct {
	mu     sync.Mutex
	events []types.NotificationEvent
	err    error
}

func (m *mockNotifier) Notify(_ context.Context, event types.NotificationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *mockNotifier) eventsOfType(et types.EventType) []types.NotificationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.NotificationEvent
	for _, e := range m.events {
		if e.Type == et {
			out = append(out, e)
		}
	}
	return out
}

type mockTickRunStore struct {
	mu         sync.Mutex
	started    int
	finished   int
	lastStatus string
}

func (m *mockTickRunStore) Start(_ context.Context, _ string, _ time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
	return int64(m.started), nil
}

func (m *mockTickRunStore) Finish(_ context.Context, _ int64, status string, _, _, _ int, _ error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished++
	m.lastStatus = status
	return nil
}

// ============================================================
// Fixtures
// ============================================================

type driverFixture struct {
	schedules *mockScheduleStore
	readings  *mockReadingSource
	leases    *mockLeaseStore
	history   *mockHistoryStore
	committer *mockCycleCommitter
	notifier  *mockNotifier
	tickRuns  *mockTickRunStore
	driver    *Driver
}

func newDriverFixture(schedules []types.RecurringSchedule, readings map[string]*types.AssetReadings) *driverFixture {
	f := &driverFixture{
		schedules: &mockScheduleStore{schedules: schedules},
		readings:  &mockReadingSource{readings: readings},
		leases:    &mockLeaseStore{},
		history:   &mockHistoryStore{},
		committer: &mockCycleCommitter{},
		notifier:  &mockNotifier{},
		tickRuns:  &mockTickRunStore{},
	}
	f.driver = NewDriver(DriverConfig{
		Schedules:           f.schedules,
		Readings:            f.readings,
		Leases:              f.leases,
		History:             f.history,
		Committer:           f.committer,
		Generator:           NewGenerator(nil),
		Notifier:            f.notifier,
		TickRuns:            f.tickRuns,
		Workers:             4,
		EscalationThreshold: 3,
		Logger:              driverTestLogger(),
	})
	return f
}

func dueSchedule(id string) types.RecurringSchedule {
	return types.RecurringSchedule{
		ID:       id,
		TenantID: "tenant_1",
		AssetID:  "asset_" + id,
		Status:   types.ScheduleActive,
		Tracks: types.TriggerMetrics{
			{Kind: types.MetricOdometer, Interval: 5000, LastService: 50000, NextDue: 55000},
		},
		Template: types.WorkOrderTemplate{
			ServiceType: "oil_change",
			Priority:    types.PriorityMedium,
		},
	}
}

func dueReadings(s types.RecurringSchedule) *types.AssetReadings {
	return &types.AssetReadings{
		AssetID: s.AssetID,
		Values:  map[types.MetricKind]float64{types.MetricOdometer: 56000},
	}
}

func notDueReadings(s types.RecurringSchedule) *types.AssetReadings {
	return &types.AssetReadings{
		AssetID: s.AssetID,
		Values:  map[types.MetricKind]float64{types.MetricOdometer: 51000},
	}
}

// ============================================================
// Tests
// ============================================================

func TestDriverTick_GeneratesDueSchedule(t *testing.T) {
	s := dueSchedule("sched_1")
	f := newDriverFixture([]types.RecurringSchedule{s}, map[string]*types.AssetReadings{
		s.AssetID: dueReadings(s),
	})

	now := time.Date(2026, 2, 1, 6, 0, 0, 0, time.UTC)
	stats, err := f.driver.Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.Candidates != 1 || stats.Generated != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(f.committer.commits) != 1 {
		t.Fatalf("expected one committed work order, got %d", len(f.committer.commits))
	}
	wo := f.committer.commits[0]
	if wo.ServiceType != "oil_change" || *wo.ScheduleID != "sched_1" {
		t.Fatalf("unexpected work order: %+v", wo)
	}
	if len(f.committer.entries) != 1 || f.committer.entries[0].Outcome != types.OutcomeGenerated {
		t.Fatalf("expected generated history entry in the commit, got %+v", f.committer.entries)
	}

	// The schedule was stamped, leased, and released.
	if len(f.schedules.evaluated) != 1 || f.schedules.evaluated[0] != "sched_1" {
		t.Fatalf("expected sched_1 marked evaluated, got %v", f.schedules.evaluated)
	}
	if len(f.leases.acquired) != 1 || len(f.leases.released) != 1 {
		t.Fatalf("lease not acquired/released: %v / %v", f.leases.acquired, f.leases.released)
	}

	events := f.notifier.eventsOfType(types.EventWorkOrderGenerated)
	if len(events) != 1 {
		t.Fatalf("expected one generation event, got %d", len(events))
	}
	if events[0].WorkOrderID != wo.ID || events[0].ScheduleID != "sched_1" {
		t.Fatalf("unexpected event payload: %+v", events[0])
	}

	if f.tickRuns.started != 1 || f.tickRuns.finished != 1 || f.tickRuns.lastStatus != "success" {
		t.Fatalf("tick run bookkeeping wrong: %+v", f.tickRuns)
	}
}

func TestDriverTick_NotDueWritesHistoryAndResets(t *testing.T) {
	s := dueSchedule("sched_1")
	f := newDriverFixture([]types.RecurringSchedule{s}, map[string]*types.AssetReadings{
		s.AssetID: notDueReadings(s),
	})

	stats, err := f.driver.Tick(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.SkippedNotDue != 1 || stats.Generated != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if got := f.history.outcomes()[types.OutcomeSkippedNotDue]; got != 1 {
		t.Fatalf("expected skipped_not_due history entry, got %d", got)
	}
	if len(f.schedules.resets) != 1 {
		t.Fatalf("clean evaluation must reset the failure counter, got %v", f.schedules.resets)
	}
	if len(f.committer.commits) != 0 {
		t.Fatal("not-due schedule must not commit anything")
	}
}

func TestDriverTick_FailureIsolation(t *testing.T) {
	a := dueSchedule("sched_a")
	b := dueSchedule("sched_b")
	c := dueSchedule("sched_c")

	f := newDriverFixture([]types.RecurringSchedule{a, b, c}, map[string]*types.AssetReadings{
		a.AssetID: dueReadings(a),
		c.AssetID: dueReadings(c),
	})
	f.readings.errs = map[string]error{b.AssetID: errors.New("telemetry store down")}

	stats, err := f.driver.Tick(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("one schedule's failure must not fail the tick: %v", err)
	}

	if stats.Generated != 2 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if got := f.history.outcomes()[types.OutcomeFailed]; got != 1 {
		t.Fatalf("expected one failed history entry, got %d", got)
	}
	if f.schedules.failureCounts["sched_b"] != 1 {
		t.Fatalf("expected failure recorded for sched_b, got %v", f.schedules.failureCounts)
	}
	if f.schedules.failureCounts["sched_a"] != 0 || f.schedules.failureCounts["sched_c"] != 0 {
		t.Fatalf("healthy schedules must not accrue failures: %v", f.schedules.failureCounts)
	}
}

func TestDriverTick_EscalatesExactlyAtThreshold(t *testing.T) {
	s := dueSchedule("sched_1")
	f := newDriverFixture([]types.RecurringSchedule{s}, nil)
	f.readings.errs = map[string]error{s.AssetID: errors.New("telemetry store down")}

	// Two failing ticks: below threshold, no escalation.
	for i := 0; i < 2; i++ {
		if _, err := f.driver.Tick(context.Background(), time.Now()); err != nil {
			t.Fatalf("unexpected tick error: %v", err)
		}
	}
	if len(f.schedules.attention) != 0 {
		t.Fatalf("escalated before threshold: %v", f.schedules.attention)
	}
	if len(f.notifier.eventsOfType(types.EventScheduleEscalated)) != 0 {
		t.Fatal("escalation event emitted before threshold")
	}

	// Third failure hits the threshold exactly.
	if _, err := f.driver.Tick(context.Background(), time.Now()); err != nil {
		t.Fatalf("unexpected tick error: %v", err)
	}
	if len(f.schedules.attention) != 1 || f.schedules.attention[0] != "sched_1" {
		t.Fatalf("expected exactly one escalation at threshold, got %v", f.schedules.attention)
	}
	events := f.notifier.eventsOfType(types.EventScheduleEscalated)
	if len(events) != 1 {
		t.Fatalf("expected one escalation event, got %d", len(events))
	}
	if events[0].ConsecutiveFailures != 3 {
		t.Fatalf("expected failure count 3 in event, got %d", events[0].ConsecutiveFailures)
	}

	// A fourth failure stays flagged but does not re-escalate.
	if _, err := f.driver.Tick(context.Background(), time.Now()); err != nil {
		t.Fatalf("unexpected tick error: %v", err)
	}
	if len(f.schedules.attention) != 1 {
		t.Fatalf("re-escalated past threshold: %v", f.schedules.attention)
	}
	if len(f.notifier.eventsOfType(types.EventScheduleEscalated)) != 1 {
		t.Fatal("escalation event re-emitted past threshold")
	}
}

func TestDriverTick_AlreadyGeneratedViaHistoryGuard(t *testing.T) {
	s := dueSchedule("sched_1")
	f := newDriverFixture([]types.RecurringSchedule{s}, map[string]*types.AssetReadings{
		s.AssetID: dueReadings(s),
	})

	key := CycleKey(s.ID, s.Tracks, types.MetricKinds{types.MetricOdometer})
	f.history.generated = map[string]bool{s.ID + key: true}

	stats, err := f.driver.Tick(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.AlreadyGenerated != 1 || stats.Generated != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(f.committer.commits) != 0 {
		t.Fatal("already-generated cycle must not reach the committer")
	}
	if got := f.history.outcomes()[types.OutcomeAlreadyGenerated]; got != 1 {
		t.Fatalf("expected already_generated history entry, got %d", got)
	}
	if len(f.schedules.resets) != 1 {
		t.Fatal("already-generated is a success and must reset the failure counter")
	}
}

func TestDriverTick_AlreadyGeneratedViaCommitRace(t *testing.T) {
	s := dueSchedule("sched_1")
	f := newDriverFixture([]types.RecurringSchedule{s}, map[string]*types.AssetReadings{
		s.AssetID: dueReadings(s),
	})
	f.committer.alreadyExists = true

	stats, err := f.driver.Tick(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.AlreadyGenerated != 1 || stats.Generated != 0 || stats.Failed != 0 {
		t.Fatalf("losing a commit race is success, not failure: %+v", stats)
	}
	entries := f.history.outcomes()
	if entries[types.OutcomeAlreadyGenerated] != 1 {
		t.Fatalf("expected already_generated history entry, got %v", entries)
	}
	if len(f.notifier.eventsOfType(types.EventWorkOrderGenerated)) != 0 {
		t.Fatal("race loser must not emit a generation event")
	}
}

func TestDriverTick_LeaseContentionSkipsQuietly(t *testing.T) {
	a := dueSchedule("sched_a")
	b := dueSchedule("sched_b")
	f := newDriverFixture([]types.RecurringSchedule{a, b}, map[string]*types.AssetReadings{
		a.AssetID: dueReadings(a),
		b.AssetID: dueReadings(b),
	})
	f.leases.denied = map[string]bool{"sched_b": true}

	stats, err := f.driver.Tick(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.LeaseContended != 1 || stats.Generated != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	// A contended schedule is neither evaluated nor written to history.
	if len(f.schedules.evaluated) != 1 || f.schedules.evaluated[0] != "sched_a" {
		t.Fatalf("contended schedule must not be marked evaluated: %v", f.schedules.evaluated)
	}
	for _, e := range f.history.entries {
		if e.ScheduleID == "sched_b" {
			t.Fatalf("contended schedule must leave no history entry: %+v", e)
		}
	}
}

func TestDriverTick_ConfigErrorFlagsNeedsAttention(t *testing.T) {
	s := dueSchedule("sched_1")
	s.Tracks[0].Interval = 0

	f := newDriverFixture([]types.RecurringSchedule{s}, map[string]*types.AssetReadings{
		s.AssetID: dueReadings(s),
	})

	stats, err := f.driver.Tick(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(f.schedules.attention) != 1 {
		t.Fatalf("misconfigured schedule must be flagged immediately, got %v", f.schedules.attention)
	}
	if got := f.history.outcomes()[types.OutcomeFailed]; got != 1 {
		t.Fatalf("expected failed history entry, got %d", got)
	}
	if len(f.notifier.eventsOfType(types.EventScheduleEscalated)) != 1 {
		t.Fatal("expected escalation event for misconfigured schedule")
	}
	// Config errors bypass the transient failure counter.
	if f.schedules.failureCounts["sched_1"] != 0 {
		t.Fatalf("config error must not count as transient failure: %v", f.schedules.failureCounts)
	}
}

func TestDriverTick_ConfigErrorEscalatesOnlyOnce(t *testing.T) {
	s := dueSchedule("sched_1")
	s.Tracks[0].Interval = 0

	f := newDriverFixture([]types.RecurringSchedule{s}, map[string]*types.AssetReadings{
		s.AssetID: dueReadings(s),
	})

	// The flagged schedule stays a candidate on every tick until an
	// operator fixes it; the escalation channel must not be re-notified
	// each time.
	now := time.Date(2026, 2, 1, 6, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, err := f.driver.Tick(context.Background(), now.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("tick %d: unexpected error: %v", i, err)
		}
	}

	if got := len(f.notifier.eventsOfType(types.EventScheduleEscalated)); got != 1 {
		t.Fatalf("expected exactly one escalation event across 3 ticks, got %d", got)
	}
	if len(f.schedules.attention) != 1 {
		t.Fatalf("expected one needs_attention flip, got %v", f.schedules.attention)
	}
	// The failure itself is still recorded every tick.
	if got := f.history.outcomes()[types.OutcomeFailed]; got != 3 {
		t.Fatalf("expected a failed history entry per tick, got %d", got)
	}
}

func TestDriverTick_IncompleteTemplateFlagsNeedsAttention(t *testing.T) {
	s := dueSchedule("sched_1")
	s.Template.Priority = ""

	f := newDriverFixture([]types.RecurringSchedule{s}, map[string]*types.AssetReadings{
		s.AssetID: dueReadings(s),
	})

	stats, err := f.driver.Tick(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.Failed != 1 || stats.Generated != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(f.schedules.attention) != 1 {
		t.Fatalf("incomplete template must flag the schedule, got %v", f.schedules.attention)
	}
	if len(f.committer.commits) != 0 {
		t.Fatal("no work order may be generated from an incomplete template")
	}
}

func TestDriverTick_ListFailureFailsTick(t *testing.T) {
	f := newDriverFixture(nil, nil)
	f.schedules.listErr = errors.New("database unreachable")

	_, err := f.driver.Tick(context.Background(), time.Now())
	if err == nil {
		t.Fatal("infrastructure outage must fail the tick")
	}
	if f.tickRuns.lastStatus != "failed" {
		t.Fatalf("expected failed tick run status, got %q", f.tickRuns.lastStatus)
	}
}

func TestDriverTick_NotifierFailureDoesNotFailCycle(t *testing.T) {
	s := dueSchedule("sched_1")
	f := newDriverFixture([]types.RecurringSchedule{s}, map[string]*types.AssetReadings{
		s.AssetID: dueReadings(s),
	})
	f.notifier.err = errors.New("queue unavailable")

	stats, err := f.driver.Tick(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Generated != 1 || stats.Failed != 0 {
		t.Fatalf("notification is fire-and-forget; stats: %+v", stats)
	}
	if len(f.committer.commits) != 1 {
		t.Fatal("work order must commit regardless of notifier health")
	}
}

func TestDriverTick_EmptyCandidateList(t *testing.T) {
	f := newDriverFixture(nil, nil)

	stats, err := f.driver.Tick(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Candidates != 0 || stats.Evaluated != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if f.tickRuns.lastStatus != "success" {
		t.Fatalf("empty tick is still a success, got %q", f.tickRuns.lastStatus)
	}
}

func TestDriverTick_ManySchedulesBoundedPool(t *testing.T) {
	var schedules []types.RecurringSchedule
	readings := make(map[string]*types.AssetReadings)
	for i := 0; i < 50; i++ {
		s := dueSchedule(fmt.Sprintf("sched_%03d", i))
		schedules = append(schedules, s)
		readings[s.AssetID] = notDueReadings(s)
	}
	f := newDriverFixture(schedules, readings)

	stats, err := f.driver.Tick(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Candidates != 50 || stats.Evaluated != 50 {
		t.Fatalf("every candidate must be processed: %+v", stats)
	}
	if len(f.leases.released) != 50 {
		t.Fatalf("every lease must be released, got %d", len(f.leases.released))
	}
}

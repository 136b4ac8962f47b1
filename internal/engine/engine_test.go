package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/interpool/backend/internal/db"
	"github.com/interpool/backend/internal/models"
)

type fixture struct {
	engine  *Engine
	store   *fakeStore
	pool    *fakePool
	checker *fakeChecker
	history *fakeHistory
	now     time.Time
}

func newFixture(t *testing.T, pol models.AssignmentPolicy, entries ...models.PoolEntry) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	store := newFakeStore()
	store.interps = []models.Interpreter{
		{EmpCode: "E1", Active: true, JoinedAt: now.AddDate(-1, 0, 0)},
		{EmpCode: "E2", Active: true, JoinedAt: now.AddDate(-1, 0, 0)},
	}
	store.hours = map[string]float64{"E1": 20, "E2": 5}

	pool := newFakePool(entries...)
	checker := &fakeChecker{busy: map[string]bool{}}
	history := &fakeHistory{drCount: map[string]int{}}

	eng := New(Deps{
		Store:    store,
		Pool:     pool,
		Policies: &fakePolicies{policy: pol},
		Checker:  checker,
		History:  history,
		Logger:   zerolog.Nop(),
	})
	eng.now = func() time.Time { return now }

	return &fixture{engine: eng, store: store, pool: pool, checker: checker, history: history, now: now}
}

func normalPolicy() models.AssignmentPolicy {
	return models.AssignmentPolicy{
		Mode:                 models.ModeNormal,
		FairnessWeight:       0.5,
		UrgencyWeight:        0.5,
		DRConsecutivePenalty: -0.5,
		UrgentThresholdDays:  2,
		GeneralThresholdDays: 14,
		FairnessWindowDays:   30,
		Version:              1,
	}
}

func readyEntry(f func() time.Time, id int64) models.PoolEntry {
	now := f()
	return models.PoolEntry{
		BookingID:   id,
		MeetingType: models.MeetingGeneral,
		StartAt:     now.Add(36 * time.Hour),
		EndAt:       now.Add(38 * time.Hour),
		Mode:        models.ModeNormal,
		Status:      models.PoolReady,
		EntryTime:   now.Add(-time.Hour),
		DeadlineAt:  now.Add(12 * time.Hour),
	}
}

func TestRunTickAssignsReadyEntry(t *testing.T) {
	fix := newFixture(t, normalPolicy())
	entry := readyEntry(func() time.Time { return fix.now }, 1)
	fix.pool.entries[1] = &entry

	summary, err := fix.engine.RunTick(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	require.Equal(t, OutcomeAssigned, summary.Results[0].Outcome)
	require.NotNil(t, summary.Results[0].InterpreterEmpCode)
	require.Equal(t, "E2", *summary.Results[0].InterpreterEmpCode)

	require.Len(t, fix.store.commits, 1)
	require.Equal(t, models.PoolProcessing, fix.pool.entries[1].Status)
	require.NotEmpty(t, summary.BatchID)
}

func TestRunTickSkipsEntryClaimedElsewhere(t *testing.T) {
	fix := newFixture(t, normalPolicy())
	entry := readyEntry(func() time.Time { return fix.now }, 1)
	entry.Status = models.PoolProcessing
	fix.pool.entries[1] = &entry

	// Listing raced ahead of another instance's claim; the conditional claim
	// must lose cleanly and commit nothing.
	res := fix.engine.processEntry(context.Background(), normalPolicy(), entry, false, false)
	require.Equal(t, OutcomeSkipped, res.Outcome)
	require.Empty(t, fix.store.commits)
}

func TestRunTickForcesPastDeadlineWaitingEntry(t *testing.T) {
	fix := newFixture(t, normalPolicy())
	entry := readyEntry(func() time.Time { return fix.now }, 1)
	entry.Status = models.PoolWaiting
	entry.DeadlineAt = fix.now.Add(-time.Hour)
	fix.pool.entries[1] = &entry

	summary, err := fix.engine.RunTick(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	require.Equal(t, OutcomeAssigned, summary.Results[0].Outcome)
	require.Equal(t, 1, summary.Counts["forced"])
}

func TestRunTickNoCandidatesReleasesEntry(t *testing.T) {
	fix := newFixture(t, normalPolicy())
	entry := readyEntry(func() time.Time { return fix.now }, 1)
	fix.pool.entries[1] = &entry
	fix.checker.busy["E1"] = true
	fix.checker.busy["E2"] = true

	summary, err := fix.engine.RunTick(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	require.Equal(t, OutcomeNoCandidates, summary.Results[0].Outcome)

	// Availability conflicts are not failures: the entry goes back to ready
	// with its attempt counter untouched.
	require.Contains(t, fix.pool.released, int64(1))
	require.Equal(t, models.PoolReady, fix.pool.entries[1].Status)
	require.Zero(t, fix.pool.entries[1].Attempts)
}

func TestRunTickCommitContentionReleasesAfterRetries(t *testing.T) {
	fix := newFixture(t, normalPolicy())
	entry := readyEntry(func() time.Time { return fix.now }, 1)
	fix.pool.entries[1] = &entry
	fix.store.commitErrs[1] = []error{
		db.ErrAssignmentUnsafe, db.ErrAssignmentUnsafe, db.ErrAssignmentUnsafe, db.ErrAssignmentUnsafe,
	}

	summary, err := fix.engine.RunTick(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeContention, summary.Results[0].Outcome)
	require.Equal(t, models.PoolReady, fix.pool.entries[1].Status)
	require.Empty(t, fix.store.commits)
}

func TestRunTickCommitRaceRecoversOnRetry(t *testing.T) {
	fix := newFixture(t, normalPolicy())
	entry := readyEntry(func() time.Time { return fix.now }, 1)
	fix.pool.entries[1] = &entry
	fix.store.commitErrs[1] = []error{db.ErrAssignmentUnsafe, nil}

	summary, err := fix.engine.RunTick(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeAssigned, summary.Results[0].Outcome)
	require.Len(t, fix.store.commits, 1)
}

func TestRunTickPersistentErrorMarksFailed(t *testing.T) {
	fix := newFixture(t, normalPolicy())
	entry := readyEntry(func() time.Time { return fix.now }, 1)
	fix.pool.entries[1] = &entry
	boom := errors.New("connection reset")
	fix.store.commitErrs[1] = []error{boom}

	summary, err := fix.engine.RunTick(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, summary.Results[0].Outcome)
	require.Equal(t, models.PoolFailed, fix.pool.entries[1].Status)
	require.Equal(t, 1, fix.pool.entries[1].Attempts)
	require.Equal(t, "connection reset", fix.pool.failures[1])
}

func TestRunTickBalanceBatchSpreadsLoad(t *testing.T) {
	pol := normalPolicy()
	pol.Mode = models.ModeBalance
	pol.FairnessWeight = 0.7
	pol.UrgencyWeight = 0.3

	fix := newFixture(t, pol)
	for id := int64(1); id <= 2; id++ {
		entry := readyEntry(func() time.Time { return fix.now }, id)
		entry.Mode = models.ModeBalance
		entry.EntryTime = fix.now.Add(-time.Duration(id) * time.Hour)
		fix.pool.entries[id] = &entry
	}

	summary, err := fix.engine.RunTick(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 2)
	require.Equal(t, 2, summary.Counts["balance_batch"])

	// E2 starts far lighter (5h vs 20h) and stays the lighter side even after
	// the first pick's projection update, so both entries land on E2.
	byEmp := map[string]int{}
	for _, r := range summary.Results {
		require.Equal(t, OutcomeAssigned, r.Outcome)
		byEmp[*r.InterpreterEmpCode]++
	}
	require.Equal(t, 2, byEmp["E2"])
}

func TestRunTickEmergencyPullsWaitingEntriesForward(t *testing.T) {
	fix := newFixture(t, normalPolicy())

	critical := readyEntry(func() time.Time { return fix.now }, 1)
	critical.DeadlineAt = fix.now.Add(-time.Hour)
	fix.pool.entries[1] = &critical

	waiting := readyEntry(func() time.Time { return fix.now }, 2)
	waiting.Status = models.PoolWaiting
	waiting.DeadlineAt = fix.now.Add(4 * time.Hour)
	fix.pool.entries[2] = &waiting

	summary, err := fix.engine.RunTick(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 2)
	require.Equal(t, 2, summary.Counts["forced"])
	for _, r := range summary.Results {
		require.Equal(t, OutcomeAssigned, r.Outcome)
	}
}

func TestRunDeadlineTickProcessesOnlyDeadlineEntries(t *testing.T) {
	fix := newFixture(t, normalPolicy())

	overdue := readyEntry(func() time.Time { return fix.now }, 1)
	overdue.Status = models.PoolWaiting
	overdue.DeadlineAt = fix.now.Add(-time.Hour)
	fix.pool.entries[1] = &overdue

	fresh := readyEntry(func() time.Time { return fix.now }, 2)
	fresh.DeadlineAt = fix.now.Add(48 * time.Hour)
	fix.pool.entries[2] = &fresh

	summary, err := fix.engine.RunDeadlineTick(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	require.Equal(t, int64(1), summary.Results[0].BookingID)
	require.Equal(t, OutcomeAssigned, summary.Results[0].Outcome)
	require.Equal(t, models.PoolReady, fix.pool.entries[2].Status, "fresh entries untouched")
}

func TestRunBookingAssignsUnpooledBooking(t *testing.T) {
	fix := newFixture(t, normalPolicy())
	fix.store.bookings[7] = models.Booking{
		ID:          7,
		MeetingType: models.MeetingGeneral,
		StartAt:     fix.now.Add(24 * time.Hour),
		EndAt:       fix.now.Add(26 * time.Hour),
		Status:      models.BookingWaiting,
	}

	res, err := fix.engine.RunBooking(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, OutcomeAssigned, res.Outcome)
	require.Equal(t, "E2", *res.InterpreterEmpCode)
}

func TestRunBookingRejectsCancelledAndAssigned(t *testing.T) {
	fix := newFixture(t, normalPolicy())
	emp := "E1"
	fix.store.bookings[1] = models.Booking{ID: 1, Status: models.BookingCancel}
	fix.store.bookings[2] = models.Booking{ID: 2, Status: models.BookingApprove, InterpreterEmpCode: &emp}

	_, err := fix.engine.RunBooking(context.Background(), 1)
	require.Error(t, err)
	_, err = fix.engine.RunBooking(context.Background(), 2)
	require.Error(t, err)
	_, err = fix.engine.RunBooking(context.Background(), 99)
	require.ErrorIs(t, err, db.ErrNotFound)
}

func TestRunBookingNoCandidates(t *testing.T) {
	fix := newFixture(t, normalPolicy())
	fix.store.bookings[7] = models.Booking{
		ID:          7,
		MeetingType: models.MeetingGeneral,
		StartAt:     fix.now.Add(24 * time.Hour),
		EndAt:       fix.now.Add(26 * time.Hour),
		Status:      models.BookingWaiting,
	}
	fix.checker.busy["E1"] = true
	fix.checker.busy["E2"] = true

	_, err := fix.engine.RunBooking(context.Background(), 7)
	require.ErrorIs(t, err, ErrNoCandidates)
}

func TestSuggestRanksAndFlagsBlocked(t *testing.T) {
	pol := normalPolicy()
	pol.Mode = models.ModeBalance
	fix := newFixture(t, pol)
	fix.store.bookings[7] = models.Booking{
		ID:          7,
		MeetingType: models.MeetingDR,
		StartAt:     fix.now.Add(24 * time.Hour),
		EndAt:       fix.now.Add(26 * time.Hour),
		Status:      models.BookingWaiting,
	}
	fix.history.lastDR = &models.DRAssignmentRef{InterpreterEmpCode: "E2", BookingID: 3}
	fix.history.drCount = map[string]int{"E1": 2, "E2": 5}

	suggestions, err := fix.engine.Suggest(context.Background(), 7, 10)
	require.NoError(t, err)
	require.Len(t, suggestions, 2)

	require.Equal(t, "E1", suggestions[0].EmpCode)
	require.False(t, suggestions[0].Blocked)
	require.Equal(t, 2, suggestions[0].Reasoning["dr_count_window"])

	require.Equal(t, "E2", suggestions[1].EmpCode)
	require.True(t, suggestions[1].Blocked)
}

func TestSuggestRejectsAssignedBooking(t *testing.T) {
	fix := newFixture(t, normalPolicy())
	emp := "E1"
	fix.store.bookings[7] = models.Booking{ID: 7, InterpreterEmpCode: &emp}

	_, err := fix.engine.Suggest(context.Background(), 7, 10)
	require.Error(t, err)
}

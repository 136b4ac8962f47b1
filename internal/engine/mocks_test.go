package engine

import (
	"context"
	"time"

	"github.com/interpool/backend/internal/db"
	"github.com/interpool/backend/internal/models"
)

type commitRecord struct {
	BookingID int64
	EmpCode   string
}

type fakeStore struct {
	bookings   map[int64]models.Booking
	interps    []models.Interpreter
	hours      map[string]float64
	commitErrs map[int64][]error
	commits    []commitRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		bookings:   map[int64]models.Booking{},
		hours:      map[string]float64{},
		commitErrs: map[int64][]error{},
	}
}

func (f *fakeStore) GetBooking(_ context.Context, id int64) (models.Booking, error) {
	b, ok := f.bookings[id]
	if !ok {
		return models.Booking{}, db.ErrNotFound
	}
	return b, nil
}

func (f *fakeStore) ListActiveInterpreters(context.Context) ([]models.Interpreter, error) {
	return f.interps, nil
}

func (f *fakeStore) InterpreterHours(context.Context, int) (map[string]float64, error) {
	return f.hours, nil
}

func (f *fakeStore) CommitAssignment(_ context.Context, bookingID int64, empCode string, _ models.MeetingType, _, _ time.Time) error {
	if errs := f.commitErrs[bookingID]; len(errs) > 0 {
		err := errs[0]
		f.commitErrs[bookingID] = errs[1:]
		if err != nil {
			return err
		}
	}
	f.commits = append(f.commits, commitRecord{BookingID: bookingID, EmpCode: empCode})
	f.hours[empCode] += 1
	return nil
}

type fakePool struct {
	entries  map[int64]*models.PoolEntry
	failures map[int64]string
	released []int64
}

func newFakePool(entries ...models.PoolEntry) *fakePool {
	p := &fakePool{entries: map[int64]*models.PoolEntry{}, failures: map[int64]string{}}
	for i := range entries {
		e := entries[i]
		p.entries[e.BookingID] = &e
	}
	return p
}

func (p *fakePool) list(statuses ...models.PoolStatus) []models.PoolEntry {
	var out []models.PoolEntry
	for _, e := range p.entries {
		for _, st := range statuses {
			if e.Status == st {
				out = append(out, *e)
			}
		}
	}
	return out
}

func (p *fakePool) ReadyForAssignment(_ context.Context, now time.Time) ([]models.PoolEntry, error) {
	return p.list(models.PoolReady), nil
}

func (p *fakePool) DeadlineEntries(_ context.Context, now time.Time) ([]models.PoolEntry, error) {
	var out []models.PoolEntry
	for _, e := range p.entries {
		if (e.Status == models.PoolWaiting || e.Status == models.PoolReady) && !e.DeadlineAt.After(now) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (p *fakePool) WaitingEntries(context.Context) ([]models.PoolEntry, error) {
	return p.list(models.PoolWaiting), nil
}

func (p *fakePool) Claim(_ context.Context, bookingID int64) (bool, error) {
	e, ok := p.entries[bookingID]
	if !ok || e.Status != models.PoolReady {
		return false, nil
	}
	e.Status = models.PoolProcessing
	return true, nil
}

func (p *fakePool) ClaimForced(_ context.Context, bookingID int64) (bool, error) {
	e, ok := p.entries[bookingID]
	if !ok || (e.Status != models.PoolReady && e.Status != models.PoolWaiting) {
		return false, nil
	}
	e.Status = models.PoolProcessing
	return true, nil
}

func (p *fakePool) Release(_ context.Context, bookingID int64) error {
	if e, ok := p.entries[bookingID]; ok {
		e.Status = models.PoolReady
	}
	p.released = append(p.released, bookingID)
	return nil
}

func (p *fakePool) MarkFailed(_ context.Context, bookingID int64, cause string) error {
	if e, ok := p.entries[bookingID]; ok {
		e.Status = models.PoolFailed
		e.Attempts++
	}
	p.failures[bookingID] = cause
	return nil
}

type fakePolicies struct {
	policy models.AssignmentPolicy
}

func (f *fakePolicies) Load(context.Context) (models.AssignmentPolicy, error) {
	return f.policy, nil
}

type fakeChecker struct {
	busy map[string]bool
}

func (f *fakeChecker) FilterAvailableInterpreters(_ context.Context, empCodes []string, _, _ time.Time) ([]string, error) {
	var free []string
	for _, code := range empCodes {
		if !f.busy[code] {
			free = append(free, code)
		}
	}
	return free, nil
}

type fakeHistory struct {
	lastDR  *models.DRAssignmentRef
	drCount map[string]int
}

func (f *fakeHistory) LastGlobalDRAssignment(context.Context) (*models.DRAssignmentRef, error) {
	return f.lastDR, nil
}

func (f *fakeHistory) CountInWindow(_ context.Context, empCode string, _ int) (int, error) {
	return f.drCount[empCode], nil
}

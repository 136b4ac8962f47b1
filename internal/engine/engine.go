package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/interpool/backend/internal/db"
	"github.com/interpool/backend/internal/models"
	"github.com/interpool/backend/internal/policy"
	"github.com/interpool/backend/internal/roster"
)

// Emergency thresholds: one entry past deadline, or three entries past or
// within six hours of deadline, trigger the out-of-band pass.
const (
	criticalEmergencyMin = 1
	combinedEmergencyMin = 3
	highUrgencyWindow    = 6 * time.Hour
)

var ErrNoCandidates = errors.New("engine: no eligible interpreter")

const (
	OutcomeAssigned     = "assigned"
	OutcomeNoCandidates = "no_candidates"
	OutcomeSkipped      = "skipped_already_claimed"
	OutcomeContention   = "commit_contention"
	OutcomeFailed       = "failed"
)

type Deps struct {
	Store         Store
	Pool          PoolService
	Policies      PolicyService
	Checker       AvailabilityChecker
	History       DRHistory
	Logger        zerolog.Logger
	CommitRetries int
}

// Engine runs the periodic assignment tick and the on-demand paths. It holds
// no in-process locks across I/O; mutual exclusion comes from the pool's
// conditional claim and the commit transaction.
type Engine struct {
	store         Store
	pool          PoolService
	policies      PolicyService
	checker       AvailabilityChecker
	history       DRHistory
	logger        zerolog.Logger
	commitRetries int
	now           func() time.Time
}

func New(d Deps) *Engine {
	retries := d.CommitRetries
	if retries <= 0 {
		retries = 3
	}
	return &Engine{
		store:         d.Store,
		pool:          d.Pool,
		policies:      d.Policies,
		checker:       d.Checker,
		history:       d.History,
		logger:        d.Logger,
		commitRetries: retries,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// TickSummary is the audit record of one scheduler tick.
type TickSummary struct {
	BatchID string               `json:"batch_id"`
	Events  []map[string]any     `json:"events"`
	Counts  map[string]any       `json:"counts"`
	Results []models.BatchResult `json:"results"`
}

type EmergencyState struct {
	Active      bool `json:"active"`
	Critical    int  `json:"critical"`
	HighUrgency int  `json:"high_urgency"`
}

// DetectEmergency classifies live entries by deadline pressure.
func DetectEmergency(entries []models.PoolEntry, now time.Time) EmergencyState {
	var st EmergencyState
	for _, e := range entries {
		switch {
		case !e.DeadlineAt.After(now):
			st.Critical++
		case e.DeadlineAt.Sub(now) <= highUrgencyWindow:
			st.HighUrgency++
		}
	}
	st.Active = st.Critical >= criticalEmergencyMin || st.Critical+st.HighUrgency >= combinedEmergencyMin
	return st
}

// RunTick is one pass of the scheduler: deadline entries first, then the
// BALANCE batch, then individual ready entries, all under a single policy
// snapshot taken at the top.
func (e *Engine) RunTick(ctx context.Context) (TickSummary, error) {
	now := e.now()
	summary := TickSummary{BatchID: uuid.NewString(), Counts: map[string]any{}}

	pol, err := e.policies.Load(ctx)
	if err != nil {
		return summary, fmt.Errorf("load policy: %w", err)
	}

	deadline, err := e.pool.DeadlineEntries(ctx, now)
	if err != nil {
		return summary, err
	}
	ready, err := e.pool.ReadyForAssignment(ctx, now)
	if err != nil {
		return summary, err
	}
	waiting, err := e.pool.WaitingEntries(ctx)
	if err != nil {
		return summary, err
	}

	live := make([]models.PoolEntry, 0, len(ready)+len(waiting))
	live = append(live, ready...)
	live = append(live, waiting...)
	emergency := DetectEmergency(live, now)

	summary.Events = append(summary.Events, map[string]any{
		"type":      "tick_start",
		"deadline":  len(deadline),
		"ready":     len(ready),
		"waiting":   len(waiting),
		"emergency": emergency,
		"policy":    pol.Mode,
		"version":   pol.Version,
		"time":      now,
	})

	processed := map[int64]bool{}

	// Forced set: deadline entries always; under an active emergency, every
	// entry within the high-urgency window joins regardless of mode.
	forced := append([]models.PoolEntry(nil), deadline...)
	if emergency.Active {
		for _, en := range live {
			if !processedOrListed(processed, forced, en.BookingID) && en.DeadlineAt.Sub(now) <= highUrgencyWindow {
				forced = append(forced, en)
			}
		}
	}
	sortByPriority(forced)

	var forcedCount int
	for _, en := range forced {
		if processed[en.BookingID] {
			continue
		}
		res := e.processEntry(ctx, pol, en, true, emergency.Active)
		summary.Results = append(summary.Results, res)
		processed[en.BookingID] = true
		forcedCount++
	}

	var balanceBatch, individual []models.PoolEntry
	for _, en := range ready {
		if processed[en.BookingID] {
			continue
		}
		if en.Mode == models.ModeBalance {
			balanceBatch = append(balanceBatch, en)
		} else {
			individual = append(individual, en)
		}
	}

	if len(balanceBatch) > 0 {
		results := e.processBalanceBatch(ctx, pol, balanceBatch, now)
		summary.Results = append(summary.Results, results...)
		for _, r := range results {
			processed[r.BookingID] = true
		}
	}

	sortByPriority(individual)
	for _, en := range individual {
		res := e.processEntry(ctx, pol, en, false, false)
		summary.Results = append(summary.Results, res)
		processed[en.BookingID] = true
	}

	outcomes := map[string]int{}
	for _, r := range summary.Results {
		outcomes[r.Outcome]++
	}
	summary.Counts["processed"] = len(summary.Results)
	summary.Counts["forced"] = forcedCount
	summary.Counts["balance_batch"] = len(balanceBatch)
	summary.Counts["outcomes"] = outcomes

	summary.Events = append(summary.Events, map[string]any{
		"type":       "tick_done",
		"elapsed_ms": time.Since(now).Milliseconds(),
		"time":       e.now(),
	})

	e.logger.Info().Str("batch_id", summary.BatchID).Int("processed", len(summary.Results)).
		Interface("outcomes", outcomes).Msg("tick complete")
	return summary, nil
}

// RunDeadlineTick is the minimal pass used under critical degradation: only
// entries at or past their deadline are processed, nothing else touches the
// database.
func (e *Engine) RunDeadlineTick(ctx context.Context) (TickSummary, error) {
	now := e.now()
	summary := TickSummary{BatchID: uuid.NewString(), Counts: map[string]any{}}

	pol, err := e.policies.Load(ctx)
	if err != nil {
		return summary, fmt.Errorf("load policy: %w", err)
	}
	deadline, err := e.pool.DeadlineEntries(ctx, now)
	if err != nil {
		return summary, err
	}
	sortByPriority(deadline)

	for _, en := range deadline {
		summary.Results = append(summary.Results, e.processEntry(ctx, pol, en, true, true))
	}
	summary.Counts["processed"] = len(summary.Results)
	summary.Counts["forced"] = len(summary.Results)
	return summary, nil
}

func processedOrListed(processed map[int64]bool, listed []models.PoolEntry, id int64) bool {
	if processed[id] {
		return true
	}
	for _, e := range listed {
		if e.BookingID == id {
			return true
		}
	}
	return false
}

// sortByPriority orders entries for individual processing: mode priority
// first, then longest-waiting.
func sortByPriority(entries []models.PoolEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		pi, pj := entries[i].Mode.ProcessingPriority(), entries[j].Mode.ProcessingPriority()
		if pi != pj {
			return pi < pj
		}
		return entries[i].EntryTime.Before(entries[j].EntryTime)
	})
}

// scoreInputFor pins the DR rule to the mode recorded on the entry while the
// weights come from the tick's policy snapshot.
func scoreInputFor(pol models.AssignmentPolicy, entry models.PoolEntry, now time.Time, critical bool) ScoreInput {
	rp := pol
	if entry.Mode.Valid() {
		rp.Mode = entry.Mode
	}
	return ScoreInput{
		Policy:           pol,
		Rule:             policy.DRRuleFor(rp),
		Now:              now,
		Start:            entry.StartAt,
		IsDR:             entry.MeetingType == models.MeetingDR,
		CriticalCoverage: critical,
	}
}

// processEntry claims and assigns one entry. forced claims from waiting as
// well as ready; critical enables the DR-block emergency override.
func (e *Engine) processEntry(ctx context.Context, pol models.AssignmentPolicy, entry models.PoolEntry, forced, critical bool) models.BatchResult {
	claim := e.pool.Claim
	if forced {
		claim = e.pool.ClaimForced
	}
	claimed, err := claim(ctx, entry.BookingID)
	if err != nil {
		return models.BatchResult{BookingID: entry.BookingID, Outcome: OutcomeFailed, Reason: err.Error()}
	}
	if !claimed {
		// Benign race: another instance owns the entry.
		return models.BatchResult{BookingID: entry.BookingID, Outcome: OutcomeSkipped}
	}
	return e.assignClaimed(ctx, pol, entry, critical)
}

// assignClaimed scores and commits an entry that this instance owns. Race
// losses at commit recompute the candidate list up to the retry budget.
func (e *Engine) assignClaimed(ctx context.Context, pol models.AssignmentPolicy, entry models.PoolEntry, critical bool) models.BatchResult {
	now := e.now()
	in := scoreInputFor(pol, entry, now, critical)

	for attempt := 0; attempt <= e.commitRetries; attempt++ {
		cands, err := e.buildCandidates(ctx, pol, entry.StartAt, entry.EndAt, entry.MeetingType, now)
		if err != nil {
			return e.markFailed(ctx, entry, err)
		}
		eligible, _ := Rank(cands, in)
		if len(eligible) == 0 {
			// Availability conflict, not a failure: report and let the next
			// tick retry without touching the attempt counter.
			if relErr := e.pool.Release(ctx, entry.BookingID); relErr != nil {
				e.logger.Error().Err(relErr).Int64("booking_id", entry.BookingID).Msg("release after no candidates")
			}
			return models.BatchResult{BookingID: entry.BookingID, Outcome: OutcomeNoCandidates}
		}

		top := eligible[0]
		err = e.store.CommitAssignment(ctx, entry.BookingID, top.EmpCode, entry.MeetingType, entry.StartAt, entry.EndAt)
		if err == nil {
			if top.OverrideApplied {
				e.logger.Warn().Int64("booking_id", entry.BookingID).Str("interpreter", top.EmpCode).
					Msg("consecutive-DR block lifted for critical coverage")
			}
			emp := top.EmpCode
			return models.BatchResult{BookingID: entry.BookingID, InterpreterEmpCode: &emp, Outcome: OutcomeAssigned}
		}
		if errors.Is(err, db.ErrAssignmentUnsafe) {
			e.logger.Debug().Err(err).Int64("booking_id", entry.BookingID).Int("attempt", attempt+1).
				Msg("commit lost race, recomputing candidates")
			continue
		}
		return e.markFailed(ctx, entry, err)
	}

	if relErr := e.pool.Release(ctx, entry.BookingID); relErr != nil {
		e.logger.Error().Err(relErr).Int64("booking_id", entry.BookingID).Msg("release after contention")
	}
	return models.BatchResult{BookingID: entry.BookingID, Outcome: OutcomeContention}
}

func (e *Engine) markFailed(ctx context.Context, entry models.PoolEntry, cause error) models.BatchResult {
	if err := e.pool.MarkFailed(ctx, entry.BookingID, cause.Error()); err != nil {
		e.logger.Error().Err(err).Int64("booking_id", entry.BookingID).Msg("mark failed")
	}
	return models.BatchResult{BookingID: entry.BookingID, Outcome: OutcomeFailed, Reason: cause.Error()}
}

// processBalanceBatch assigns a BALANCE batch in spread-minimizing order.
func (e *Engine) processBalanceBatch(ctx context.Context, pol models.AssignmentPolicy, entries []models.PoolEntry, now time.Time) []models.BatchResult {
	hours, err := e.store.InterpreterHours(ctx, pol.FairnessWindowDays)
	if err != nil {
		return e.failAll(ctx, entries, err)
	}

	eligible := make(map[int64][]Scored, len(entries))
	for _, entry := range entries {
		cands, err := e.buildCandidates(ctx, pol, entry.StartAt, entry.EndAt, entry.MeetingType, now)
		if err != nil {
			return e.failAll(ctx, entries, err)
		}
		elig, _ := Rank(cands, scoreInputFor(pol, entry, now, false))
		eligible[entry.BookingID] = elig
	}

	picks := PlanBalanceBatch(entries, eligible, hours)
	picked := make(map[int64]string, len(picks))
	for _, p := range picks {
		picked[p.BookingID] = p.EmpCode
	}

	var results []models.BatchResult
	for _, entry := range entries {
		emp, ok := picked[entry.BookingID]
		if !ok {
			results = append(results, models.BatchResult{BookingID: entry.BookingID, Outcome: OutcomeNoCandidates})
			continue
		}
		claimed, err := e.pool.Claim(ctx, entry.BookingID)
		if err != nil {
			results = append(results, models.BatchResult{BookingID: entry.BookingID, Outcome: OutcomeFailed, Reason: err.Error()})
			continue
		}
		if !claimed {
			results = append(results, models.BatchResult{BookingID: entry.BookingID, Outcome: OutcomeSkipped})
			continue
		}
		err = e.store.CommitAssignment(ctx, entry.BookingID, emp, entry.MeetingType, entry.StartAt, entry.EndAt)
		switch {
		case err == nil:
			empCopy := emp
			results = append(results, models.BatchResult{BookingID: entry.BookingID, InterpreterEmpCode: &empCopy, Outcome: OutcomeAssigned})
		case errors.Is(err, db.ErrAssignmentUnsafe):
			// Planned pick went stale; fall back to individual scoring.
			results = append(results, e.assignClaimed(ctx, pol, entry, false))
		default:
			results = append(results, e.markFailed(ctx, entry, err))
		}
	}
	return results
}

func (e *Engine) failAll(ctx context.Context, entries []models.PoolEntry, cause error) []models.BatchResult {
	results := make([]models.BatchResult, 0, len(entries))
	for _, entry := range entries {
		results = append(results, e.markFailed(ctx, entry, cause))
	}
	return results
}

// buildCandidates assembles the scoring-time view: active roster, fairness
// hours, availability filter, consecutive-DR flag, and the tenure-scaled
// fairness factor for recent joiners.
func (e *Engine) buildCandidates(ctx context.Context, pol models.AssignmentPolicy, start, end time.Time, mt models.MeetingType, now time.Time) ([]models.InterpreterCandidate, error) {
	interps, err := e.store.ListActiveInterpreters(ctx)
	if err != nil {
		return nil, err
	}
	hours, err := e.store.InterpreterHours(ctx, pol.FairnessWindowDays)
	if err != nil {
		return nil, err
	}

	codes := make([]string, 0, len(interps))
	byCode := make(map[string]models.Interpreter, len(interps))
	for _, it := range interps {
		codes = append(codes, it.EmpCode)
		byCode[it.EmpCode] = it
	}
	free, err := e.checker.FilterAvailableInterpreters(ctx, codes, start, end)
	if err != nil {
		return nil, err
	}

	var lastDR *models.DRAssignmentRef
	if mt == models.MeetingDR {
		lastDR, err = e.history.LastGlobalDRAssignment(ctx)
		if err != nil {
			return nil, err
		}
	}

	cands := make([]models.InterpreterCandidate, 0, len(free))
	for _, code := range free {
		it := byCode[code]
		cands = append(cands, models.InterpreterCandidate{
			EmpCode:        code,
			HoursInWindow:  hours[code],
			Languages:      it.Languages,
			ConsecutiveDR:  lastDR != nil && lastDR.InterpreterEmpCode == code,
			FairnessFactor: roster.FairnessFactor(it.JoinedAt, now, pol.FairnessWindowDays),
		})
	}
	return cands, nil
}

// RunBooking assigns one booking on demand, outside the scheduled tick. The
// commit transaction still guards against concurrent assignment.
func (e *Engine) RunBooking(ctx context.Context, bookingID int64) (models.BatchResult, error) {
	booking, err := e.store.GetBooking(ctx, bookingID)
	if err != nil {
		return models.BatchResult{}, err
	}
	if booking.Status == models.BookingCancel {
		return models.BatchResult{}, fmt.Errorf("booking %d is cancelled", bookingID)
	}
	if booking.InterpreterEmpCode != nil {
		return models.BatchResult{}, fmt.Errorf("booking %d already assigned", bookingID)
	}

	pol, err := e.policies.Load(ctx)
	if err != nil {
		return models.BatchResult{}, err
	}

	entry := models.PoolEntry{
		BookingID:   booking.ID,
		MeetingType: booking.MeetingType,
		StartAt:     booking.StartAt,
		EndAt:       booking.EndAt,
		Mode:        pol.Mode,
	}
	now := e.now()
	in := scoreInputFor(pol, entry, now, false)

	for attempt := 0; attempt <= e.commitRetries; attempt++ {
		cands, err := e.buildCandidates(ctx, pol, booking.StartAt, booking.EndAt, booking.MeetingType, now)
		if err != nil {
			return models.BatchResult{}, err
		}
		eligible, _ := Rank(cands, in)
		if len(eligible) == 0 {
			return models.BatchResult{}, ErrNoCandidates
		}
		top := eligible[0]
		err = e.store.CommitAssignment(ctx, bookingID, top.EmpCode, booking.MeetingType, booking.StartAt, booking.EndAt)
		if err == nil {
			emp := top.EmpCode
			return models.BatchResult{BookingID: bookingID, InterpreterEmpCode: &emp, Outcome: OutcomeAssigned}, nil
		}
		if !errors.Is(err, db.ErrAssignmentUnsafe) {
			return models.BatchResult{}, err
		}
	}
	return models.BatchResult{}, fmt.Errorf("booking %d: %w", bookingID, db.ErrAssignmentUnsafe)
}

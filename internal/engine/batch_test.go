package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/interpool/backend/internal/models"
)

func balanceEntry(id int64, entryAt time.Time, durHours int) models.PoolEntry {
	start := entryAt.Add(72 * time.Hour)
	return models.PoolEntry{
		BookingID:   id,
		MeetingType: models.MeetingGeneral,
		StartAt:     start,
		EndAt:       start.Add(time.Duration(durHours) * time.Hour),
		Mode:        models.ModeBalance,
		EntryTime:   entryAt,
	}
}

func TestPlanBalanceBatchPicksLeastLoaded(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	entry := balanceEntry(1, base, 2)

	picks := PlanBalanceBatch(
		[]models.PoolEntry{entry},
		map[int64][]Scored{1: {
			{InterpreterCandidate: models.InterpreterCandidate{EmpCode: "A"}},
			{InterpreterCandidate: models.InterpreterCandidate{EmpCode: "B"}},
		}},
		map[string]float64{"A": 10, "B": 6},
	)

	require.Len(t, picks, 1)
	require.Equal(t, "B", picks[0].EmpCode)
	require.InDelta(t, 8.0, picks[0].Projected, 1e-9)
}

func TestPlanBalanceBatchUpdatesProjection(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	entries := []models.PoolEntry{
		balanceEntry(1, base, 4),
		balanceEntry(2, base.Add(time.Minute), 4),
	}
	cands := []Scored{
		{InterpreterCandidate: models.InterpreterCandidate{EmpCode: "A"}},
		{InterpreterCandidate: models.InterpreterCandidate{EmpCode: "B"}},
	}
	eligible := map[int64][]Scored{1: cands, 2: cands}
	hours := map[string]float64{"A": 10, "B": 6}

	picks := PlanBalanceBatch(entries, eligible, hours)

	// B takes the first entry (6 < 10), which lifts B to 10; the second entry
	// then goes to A on the emp-code tie-break, not back to B.
	require.Len(t, picks, 2)
	require.Equal(t, "B", picks[0].EmpCode)
	require.Equal(t, "A", picks[1].EmpCode)

	projected := map[string]float64{"A": 14, "B": 10}
	require.LessOrEqual(t, WorkloadSpread(projected), WorkloadSpread(hours))
}

func TestPlanBalanceBatchOrdersByPriorityThenEntryTime(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	older := balanceEntry(1, base, 2)
	newer := balanceEntry(2, base.Add(time.Hour), 2)
	urgent := balanceEntry(3, base.Add(2*time.Hour), 2)
	urgent.Mode = models.ModeUrgent

	only := []Scored{{InterpreterCandidate: models.InterpreterCandidate{EmpCode: "A"}}}
	picks := PlanBalanceBatch(
		[]models.PoolEntry{newer, older, urgent},
		map[int64][]Scored{1: only, 2: only, 3: only},
		map[string]float64{"A": 0},
	)

	require.Len(t, picks, 3)
	require.Equal(t, int64(3), picks[0].BookingID)
	require.Equal(t, int64(1), picks[1].BookingID)
	require.Equal(t, int64(2), picks[2].BookingID)
}

func TestPlanBalanceBatchSkipsEntryWithoutCandidates(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	entries := []models.PoolEntry{balanceEntry(1, base, 2), balanceEntry(2, base, 2)}

	picks := PlanBalanceBatch(entries,
		map[int64][]Scored{2: {{InterpreterCandidate: models.InterpreterCandidate{EmpCode: "A"}}}},
		map[string]float64{"A": 0},
	)

	require.Len(t, picks, 1)
	require.Equal(t, int64(2), picks[0].BookingID)
}

func TestWorkloadSpread(t *testing.T) {
	require.Equal(t, 0.0, WorkloadSpread(nil))
	require.Equal(t, 0.0, WorkloadSpread(map[string]float64{"A": 5}))
	require.Equal(t, 4.0, WorkloadSpread(map[string]float64{"A": 10, "B": 6}))
}

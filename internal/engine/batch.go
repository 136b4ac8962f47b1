package engine

import (
	"sort"

	"github.com/interpool/backend/internal/models"
)

// BatchPick is one tentative assignment inside a BALANCE batch.
type BatchPick struct {
	BookingID int64
	EmpCode   string
	Projected float64
}

// PlanBalanceBatch orders the batch and picks, per entry, the eligible
// interpreter with the lowest projected workload hours, updating the
// projection after every pick so later entries observe earlier ones. That
// greedy rule actively shrinks the max-min workload spread rather than taking
// input order as given. Entries with no eligible candidate get no pick.
func PlanBalanceBatch(entries []models.PoolEntry, eligible map[int64][]Scored, hours map[string]float64) []BatchPick {
	ordered := make([]models.PoolEntry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := ordered[i].Mode.ProcessingPriority(), ordered[j].Mode.ProcessingPriority()
		if pi != pj {
			return pi < pj
		}
		return ordered[i].EntryTime.Before(ordered[j].EntryTime)
	})

	projected := make(map[string]float64, len(hours))
	for emp, h := range hours {
		projected[emp] = h
	}

	var picks []BatchPick
	for _, entry := range ordered {
		cands := eligible[entry.BookingID]
		if len(cands) == 0 {
			continue
		}
		best := ""
		for _, c := range cands {
			if best == "" {
				best = c.EmpCode
				continue
			}
			if projected[c.EmpCode] < projected[best] ||
				(projected[c.EmpCode] == projected[best] && c.EmpCode < best) {
				best = c.EmpCode
			}
		}
		projected[best] += entry.EndAt.Sub(entry.StartAt).Hours()
		picks = append(picks, BatchPick{BookingID: entry.BookingID, EmpCode: best, Projected: projected[best]})
	}
	return picks
}

// WorkloadSpread is max hours minus min hours across the map; the balance
// batch must not widen it relative to a naive ordering.
func WorkloadSpread(hours map[string]float64) float64 {
	first := true
	var lo, hi float64
	for _, h := range hours {
		if first {
			lo, hi = h, h
			first = false
			continue
		}
		if h < lo {
			lo = h
		}
		if h > hi {
			hi = h
		}
	}
	return hi - lo
}

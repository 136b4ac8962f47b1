package recovery

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelNormal   Level = "normal"
	LevelReduced  Level = "reduced"
	LevelCritical Level = "critical"
)

// DegradationManager tracks consecutive infrastructure failures and derives
// the operating level. It implements db.Observer, so every store operation
// feeds it. Reduced disables non-essential features; critical keeps only core
// assignment work. Any success snaps back to normal.
type DegradationManager struct {
	logger        zerolog.Logger
	reducedAfter  int
	criticalAfter int

	mu          sync.Mutex
	consecutive int
	lastError   string
	lastErrorAt time.Time
}

func NewDegradationManager(logger zerolog.Logger) *DegradationManager {
	return &DegradationManager{logger: logger, reducedAfter: 3, criticalAfter: 10}
}

func (d *DegradationManager) RecordSuccess() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.consecutive >= d.reducedAfter {
		d.logger.Info().Msg("database recovered, degradation cleared")
	}
	d.consecutive = 0
}

func (d *DegradationManager) RecordFailure(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consecutive++
	d.lastError = err.Error()
	d.lastErrorAt = time.Now().UTC()
	switch d.consecutive {
	case d.reducedAfter:
		d.logger.Warn().Err(err).Msg("entering reduced operation")
	case d.criticalAfter:
		d.logger.Error().Err(err).Msg("entering critical operation, core assignment only")
	}
}

func (d *DegradationManager) Level() Level {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.consecutive >= d.criticalAfter:
		return LevelCritical
	case d.consecutive >= d.reducedAfter:
		return LevelReduced
	default:
		return LevelNormal
	}
}

type DegradationSnapshot struct {
	Level               Level     `json:"level"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastErrorAt         time.Time `json:"last_error_at"`
}

func (d *DegradationManager) Snapshot() DegradationSnapshot {
	level := d.Level()
	d.mu.Lock()
	defer d.mu.Unlock()
	return DegradationSnapshot{
		Level:               level,
		ConsecutiveFailures: d.consecutive,
		LastError:           d.lastError,
		LastErrorAt:         d.lastErrorAt,
	}
}

package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/interpool/backend/internal/models"
)

// balanceDeadlineSlackDays is the extra holding day BALANCE mode adds between
// its pool deadline and the urgent threshold. The original policy used
// urgentThresholdDays for the immediate-assignment bypass but
// urgentThresholdDays+1 for the BALANCE deadline; the off-by-one is kept
// configurable here instead of inlined, pending a ruling from the policy owner.
const balanceDeadlineSlackDays = 1

// earlyProcessingMargin is how long before its deadline a pooled entry becomes
// eligible for batch processing in non-urgent modes.
const earlyProcessingMargin = 24 * time.Hour

var ErrInvalidPolicy = errors.New("policy: invalid configuration")

type store interface {
	LoadPolicy(ctx context.Context) (models.AssignmentPolicy, error)
	SavePolicy(ctx context.Context, p models.AssignmentPolicy) (models.AssignmentPolicy, error)
}

// Service owns the active assignment policy. Reads go to the store so admin
// updates are visible to the next tick; the cached copy is only served when
// the store is unreachable, keeping scoring alive under degradation.
type Service struct {
	store    store
	logger   zerolog.Logger
	validate *validator.Validate

	mu     sync.RWMutex
	cached *models.AssignmentPolicy
}

func NewService(s store, logger zerolog.Logger) *Service {
	return &Service{store: s, logger: logger, validate: validator.New()}
}

func (s *Service) Load(ctx context.Context) (models.AssignmentPolicy, error) {
	p, err := s.store.LoadPolicy(ctx)
	if err != nil {
		s.mu.RLock()
		cached := s.cached
		s.mu.RUnlock()
		if cached != nil {
			s.logger.Warn().Err(err).Int("version", cached.Version).Msg("policy load failed, serving cached policy")
			return *cached, nil
		}
		return models.AssignmentPolicy{}, err
	}
	s.mu.Lock()
	s.cached = &p
	s.mu.Unlock()
	return p, nil
}

// Update is a partial update: nil fields keep their current value. Non-CUSTOM
// modes reset weights and penalty to the mode preset; explicit weight fields
// are only honored under CUSTOM.
type Update struct {
	Mode                 *models.Mode `json:"mode"`
	FairnessWeight       *float64     `json:"fairness_weight" validate:"omitempty,gte=0,lte=1"`
	UrgencyWeight        *float64     `json:"urgency_weight" validate:"omitempty,gte=0,lte=1"`
	DRConsecutivePenalty *float64     `json:"dr_consecutive_penalty" validate:"omitempty,gte=-5,lte=0"`
	UrgentThresholdDays  *int         `json:"urgent_threshold_days" validate:"omitempty,gte=0"`
	GeneralThresholdDays *int         `json:"general_threshold_days" validate:"omitempty,gte=0"`
	FairnessWindowDays   *int         `json:"fairness_window_days" validate:"omitempty,gte=1,lte=365"`
}

func (s *Service) Update(ctx context.Context, u Update) (models.AssignmentPolicy, error) {
	if err := s.validate.Struct(u); err != nil {
		return models.AssignmentPolicy{}, fmt.Errorf("%w: %s", ErrInvalidPolicy, err)
	}
	if u.Mode != nil && !u.Mode.Valid() {
		return models.AssignmentPolicy{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidPolicy, *u.Mode)
	}

	current, err := s.Load(ctx)
	if err != nil {
		return models.AssignmentPolicy{}, err
	}

	next := Apply(current, u)
	if err := Validate(next); err != nil {
		return models.AssignmentPolicy{}, err
	}

	saved, err := s.store.SavePolicy(ctx, next)
	if err != nil {
		return models.AssignmentPolicy{}, err
	}
	s.mu.Lock()
	s.cached = &saved
	s.mu.Unlock()
	s.logger.Info().Str("mode", string(saved.Mode)).Int("version", saved.Version).Msg("policy updated")
	return saved, nil
}

// Apply merges an update into a policy. Mode presets win over stale weights;
// CUSTOM keeps whatever weights are supplied or already present.
func Apply(p models.AssignmentPolicy, u Update) models.AssignmentPolicy {
	if u.Mode != nil && *u.Mode != p.Mode {
		p.Mode = *u.Mode
		if preset, ok := Preset(p.Mode); ok {
			p.FairnessWeight = preset.FairnessWeight
			p.UrgencyWeight = preset.UrgencyWeight
			p.DRConsecutivePenalty = preset.DRConsecutivePenalty
		}
	}
	if p.Mode == models.ModeCustom {
		if u.FairnessWeight != nil {
			p.FairnessWeight = *u.FairnessWeight
		}
		if u.UrgencyWeight != nil {
			p.UrgencyWeight = *u.UrgencyWeight
		}
		if u.DRConsecutivePenalty != nil {
			p.DRConsecutivePenalty = *u.DRConsecutivePenalty
		}
	}
	if u.UrgentThresholdDays != nil {
		p.UrgentThresholdDays = *u.UrgentThresholdDays
	}
	if u.GeneralThresholdDays != nil {
		p.GeneralThresholdDays = *u.GeneralThresholdDays
	}
	if u.FairnessWindowDays != nil {
		p.FairnessWindowDays = *u.FairnessWindowDays
	}
	return p
}

// Preset returns the fixed weights for non-CUSTOM modes.
func Preset(mode models.Mode) (models.AssignmentPolicy, bool) {
	switch mode {
	case models.ModeBalance:
		return models.AssignmentPolicy{Mode: mode, FairnessWeight: 0.7, UrgencyWeight: 0.3, DRConsecutivePenalty: -0.7}, true
	case models.ModeUrgent:
		return models.AssignmentPolicy{Mode: mode, FairnessWeight: 0.2, UrgencyWeight: 0.8, DRConsecutivePenalty: -0.1}, true
	case models.ModeNormal:
		return models.AssignmentPolicy{Mode: mode, FairnessWeight: 0.5, UrgencyWeight: 0.5, DRConsecutivePenalty: -0.5}, true
	}
	return models.AssignmentPolicy{}, false
}

func Validate(p models.AssignmentPolicy) error {
	if !p.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidPolicy, p.Mode)
	}
	if p.FairnessWeight < 0 || p.FairnessWeight > 1 {
		return fmt.Errorf("%w: fairness weight %v out of [0,1]", ErrInvalidPolicy, p.FairnessWeight)
	}
	if p.UrgencyWeight < 0 || p.UrgencyWeight > 1 {
		return fmt.Errorf("%w: urgency weight %v out of [0,1]", ErrInvalidPolicy, p.UrgencyWeight)
	}
	if p.DRConsecutivePenalty > 0 || p.DRConsecutivePenalty < -5 {
		return fmt.Errorf("%w: DR penalty %v out of [-5,0]", ErrInvalidPolicy, p.DRConsecutivePenalty)
	}
	if p.UrgentThresholdDays < 0 || p.GeneralThresholdDays < 0 {
		return fmt.Errorf("%w: threshold days must be non-negative", ErrInvalidPolicy)
	}
	if p.FairnessWindowDays < 1 {
		return fmt.Errorf("%w: fairness window must be at least one day", ErrInvalidPolicy)
	}
	return nil
}

// DeadlineFor computes the forced-processing time for a booking entering the
// pool under the given policy.
func DeadlineFor(p models.AssignmentPolicy, bookingStart time.Time) time.Time {
	days := p.UrgentThresholdDays
	if p.Mode == models.ModeBalance {
		days += balanceDeadlineSlackDays
	}
	return bookingStart.AddDate(0, 0, -days)
}

// ReadyTimeFor computes when a pooled entry becomes eligible for processing.
// URGENT entries are eligible immediately; other modes are held until the
// early-processing margin before their deadline, or immediately when the
// booking is already inside the urgent threshold.
func ReadyTimeFor(p models.AssignmentPolicy, now, bookingStart time.Time) time.Time {
	if p.Mode == models.ModeUrgent {
		return now
	}
	if now.After(bookingStart.AddDate(0, 0, -p.UrgentThresholdDays)) {
		return now
	}
	ready := DeadlineFor(p, bookingStart).Add(-earlyProcessingMargin)
	if ready.Before(now) {
		return now
	}
	return ready
}

// ImmediateFor reports whether a new booking should bypass the pool entirely.
func ImmediateFor(p models.AssignmentPolicy, now, bookingStart time.Time) bool {
	return !bookingStart.After(now.AddDate(0, 0, p.UrgentThresholdDays))
}

// DRRule is the consecutive-DR policy in effect for a mode.
type DRRule struct {
	Penalty float64
	Forbid  bool
}

// DRRuleFor derives the consecutive-DR behavior. BALANCE hard-blocks, URGENT
// and NORMAL apply fixed soft penalties, CUSTOM takes the configured penalty
// with values at or below -1.0 behaving as a block.
func DRRuleFor(p models.AssignmentPolicy) DRRule {
	switch p.Mode {
	case models.ModeBalance:
		return DRRule{Forbid: true}
	case models.ModeUrgent:
		return DRRule{Penalty: -0.1}
	case models.ModeNormal:
		return DRRule{Penalty: -0.5}
	default:
		return DRRule{Penalty: p.DRConsecutivePenalty, Forbid: p.DRConsecutivePenalty <= -1.0}
	}
}

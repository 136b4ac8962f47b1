package models

import "time"

type MeetingType string

const (
	MeetingGeneral MeetingType = "General"
	MeetingDR      MeetingType = "DR"
	MeetingUrgent  MeetingType = "Urgent"
	MeetingOther   MeetingType = "Other"
)

type BookingStatus string

const (
	BookingWaiting BookingStatus = "waiting"
	BookingApprove BookingStatus = "approve"
	BookingCancel  BookingStatus = "cancel"
)

type PoolStatus string

const (
	PoolWaiting    PoolStatus = "waiting"
	PoolReady      PoolStatus = "ready"
	PoolProcessing PoolStatus = "processing"
	PoolAssigned   PoolStatus = "assigned"
	PoolFailed     PoolStatus = "failed"
)

// Mode is the assignment policy preset. The set is closed; anything outside
// the four constants fails Valid and is rejected at the policy layer.
type Mode string

const (
	ModeBalance Mode = "BALANCE"
	ModeUrgent  Mode = "URGENT"
	ModeNormal  Mode = "NORMAL"
	ModeCustom  Mode = "CUSTOM"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeBalance, ModeUrgent, ModeNormal, ModeCustom:
		return true
	}
	return false
}

// ProcessingPriority orders deadline processing: lower runs first.
func (m Mode) ProcessingPriority() int {
	switch m {
	case ModeUrgent:
		return 1
	case ModeBalance:
		return 2
	default:
		return 3
	}
}

type Booking struct {
	ID                 int64         `json:"id"`
	OwnerEmpCode       string        `json:"owner_emp_code"`
	Room               string        `json:"room"`
	MeetingType        MeetingType   `json:"meeting_type"`
	StartAt            time.Time     `json:"start_at"`
	EndAt              time.Time     `json:"end_at"`
	Status             BookingStatus `json:"status"`
	InterpreterEmpCode *string       `json:"interpreter_emp_code"`
	CreatedAt          time.Time     `json:"created_at"`
}

// PoolEntry is the scheduling view of a booking awaiting assignment. It lives
// on the booking row itself, so at most one entry exists per booking.
type PoolEntry struct {
	BookingID   int64       `json:"booking_id"`
	MeetingType MeetingType `json:"meeting_type"`
	StartAt     time.Time   `json:"start_at"`
	EndAt       time.Time   `json:"end_at"`
	Mode        Mode        `json:"mode"`
	Status      PoolStatus  `json:"status"`
	EntryTime   time.Time   `json:"entry_time"`
	DeadlineAt  time.Time   `json:"deadline_at"`
	Attempts    int         `json:"attempts"`
	LastError   *string     `json:"last_error,omitempty"`
}

type AssignmentPolicy struct {
	Mode                 Mode      `json:"mode"`
	FairnessWeight       float64   `json:"fairness_weight"`
	UrgencyWeight        float64   `json:"urgency_weight"`
	DRConsecutivePenalty float64   `json:"dr_consecutive_penalty"`
	UrgentThresholdDays  int       `json:"urgent_threshold_days"`
	GeneralThresholdDays int       `json:"general_threshold_days"`
	FairnessWindowDays   int       `json:"fairness_window_days"`
	Version              int       `json:"version"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type Interpreter struct {
	EmpCode   string    `json:"emp_code"`
	Name      string    `json:"name"`
	Languages []string  `json:"languages"`
	Active    bool      `json:"active"`
	JoinedAt  time.Time `json:"joined_at"`
}

// InterpreterCandidate is a scoring-time view, computed fresh per pass and
// never persisted.
type InterpreterCandidate struct {
	EmpCode        string   `json:"emp_code"`
	HoursInWindow  float64  `json:"hours_in_window"`
	ConsecutiveDR  bool     `json:"consecutive_dr"`
	DRCountWindow  int      `json:"dr_count_window"`
	Languages      []string `json:"languages"`
	FairnessFactor float64  `json:"fairness_factor"`
}

type DRAssignmentRef struct {
	InterpreterEmpCode string    `json:"interpreter_emp_code"`
	BookingID          int64     `json:"booking_id"`
	StartAt            time.Time `json:"start_at"`
}

type BatchResult struct {
	BookingID          int64   `json:"booking_id"`
	InterpreterEmpCode *string `json:"interpreter_emp_code,omitempty"`
	Outcome            string  `json:"outcome"`
	Reason             string  `json:"reason,omitempty"`
}

type ProcessingBatch struct {
	ID        string        `json:"id"`
	Mode      Mode          `json:"mode"`
	StartedAt time.Time     `json:"started_at"`
	Results   []BatchResult `json:"results"`
}

type Suggestion struct {
	EmpCode       string         `json:"emp_code"`
	Score         float64        `json:"score"`
	HoursInWindow float64        `json:"hours_in_window"`
	Blocked       bool           `json:"blocked"`
	Reasoning     map[string]any `json:"reasoning"`
}

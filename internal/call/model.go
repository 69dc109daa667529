package call

import (
	"time"

	"gorm.io/datatypes"
)

// Call is the authoritative lifecycle record for one outbound call attempt.
// ExecutionID is the external correlation key; every incoming notification
// is keyed by it and it is the idempotency key for the whole lifecycle.
type Call struct {
	ID              string         `gorm:"column:id;type:varchar(64);primaryKey"                json:"id"`
	ExecutionID     string         `gorm:"column:execution_id;type:varchar(128);uniqueIndex"    json:"execution_id"`
	UserID          string         `gorm:"column:user_id;type:varchar(64);index"                json:"user_id"`
	AgentID         string         `gorm:"column:agent_id;type:varchar(64)"                     json:"agent_id"`
	PhoneNumber     string         `gorm:"column:phone_number;type:varchar(32)"                 json:"phone_number"`
	CallType        string         `gorm:"column:call_type;type:varchar(16)"                    json:"call_type"`
	LifecycleStatus string         `gorm:"column:lifecycle_status;type:varchar(24);not null"    json:"lifecycle_status"`
	InitiatedAt     *time.Time     `gorm:"column:initiated_at"                                  json:"initiated_at"`
	RingingAt       *time.Time     `gorm:"column:ringing_at"                                    json:"ringing_at"`
	AnsweredAt      *time.Time     `gorm:"column:answered_at"                                   json:"answered_at"`
	DisconnectedAt  *time.Time     `gorm:"column:disconnected_at"                               json:"disconnected_at"`
	CompletedAt     *time.Time     `gorm:"column:completed_at"                                  json:"completed_at"`
	DurationSeconds int            `gorm:"column:duration_seconds;default:0"                    json:"duration_seconds"`
	TranscriptRef   *string        `gorm:"column:transcript_ref;type:text"                      json:"transcript_ref"`
	RecordingURL    *string        `gorm:"column:recording_url;type:text"                       json:"recording_url"`
	HangupBy        *string        `gorm:"column:hangup_by;type:varchar(32)"                    json:"hangup_by"`
	HangupReason    *string        `gorm:"column:hangup_reason;type:varchar(64)"                json:"hangup_reason"`
	Metadata        datatypes.JSON `gorm:"column:metadata;type:jsonb"                           json:"metadata"`
	CreatedAt       time.Time      `gorm:"column:created_at;autoCreateTime"                     json:"created_at"`
	UpdatedAt       time.Time      `gorm:"column:updated_at;autoUpdateTime"                     json:"updated_at"`
}

func (Call) TableName() string {
	return "calls"
}

// StatusPending is the pre-lifecycle state a Call is born in when the
// scheduler dispatches it; the first notification moves it into the
// lifecycle proper.
const (
	StatusPending          = "pending"
	StatusInitiated        = "initiated"
	StatusRinging          = "ringing"
	StatusInProgress       = "in_progress"
	StatusCallDisconnected = "call_disconnected"
	StatusCompleted        = "completed"
	StatusBusy             = "busy"
	StatusNoAnswer         = "no_answer"
	StatusFailed           = "failed"
)

const (
	HangupBySystem = "system"
)

const (
	terminalOrdinal = 4
)

var ordinals = map[string]int{
	StatusPending:          -1,
	StatusInitiated:        0,
	StatusRinging:          1,
	StatusInProgress:       2,
	StatusCallDisconnected: 3,
	StatusCompleted:        terminalOrdinal,
	StatusBusy:             terminalOrdinal,
	StatusNoAnswer:         terminalOrdinal,
	StatusFailed:           terminalOrdinal,
}

// Ordinal returns the position of status within the lifecycle progression,
// or -2 for an unknown status.
func Ordinal(status string) int {
	ordinal, ok := ordinals[status]
	if !ok {
		return -2
	}

	return ordinal
}

func IsKnownStatus(status string) bool {
	_, ok := ordinals[status]

	return ok && status != StatusPending
}

// IsTerminal reports whether status ends the lifecycle.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusBusy, StatusNoAnswer, StatusFailed:
		return true
	default:
		return false
	}
}

func isBranchTerminal(status string) bool {
	switch status {
	case StatusBusy, StatusNoAnswer, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a notification targeting next may advance a
// call currently in current. The ordinal comparison rejects duplicates and
// out-of-order deliveries; the branch terminals are only reachable before
// the call is answered.
func CanTransition(current, next string) bool {
	if !IsKnownStatus(next) {
		return false
	}

	if isBranchTerminal(current) {
		return false
	}

	if isBranchTerminal(next) {
		return Ordinal(current) <= Ordinal(StatusRinging)
	}

	return Ordinal(next) > Ordinal(current)
}

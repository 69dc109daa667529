package queue

import "time"

// QueueItem is one pending or historical request to place a campaign call.
// Position is assigned by a database sequence and never changes afterwards;
// it is the FIFO tie-break inside a priority class.
type QueueItem struct {
	ID            string     `gorm:"column:id;type:varchar(64);primaryKey"            json:"id"`
	CampaignID    string     `gorm:"column:campaign_id;type:varchar(64);index;not null" json:"campaign_id"`
	UserID        string     `gorm:"column:user_id;type:varchar(64);index;not null"   json:"user_id"`
	AgentID       string     `gorm:"column:agent_id;type:varchar(64);not null"        json:"agent_id"`
	ContactID     *string    `gorm:"column:contact_id;type:varchar(64)"               json:"contact_id"`
	PhoneNumber   string     `gorm:"column:phone_number;type:varchar(32);not null"    json:"phone_number"`
	ScheduledFor  time.Time  `gorm:"column:scheduled_for;not null"                    json:"scheduled_for"`
	Status        string     `gorm:"column:status;type:varchar(20);default:'queued';not null" json:"status"`
	Priority      int        `gorm:"column:priority;default:0;not null"               json:"priority"`
	Position      int64      `gorm:"column:position;autoIncrement;uniqueIndex"        json:"position"`
	CallID        *string    `gorm:"column:call_id;type:varchar(64);index"            json:"call_id"`
	Attempts      int        `gorm:"column:attempts;default:0;not null"               json:"attempts"`
	LastAttemptAt *time.Time `gorm:"column:last_attempt_at"                           json:"last_attempt_at"`
	FailureReason *string    `gorm:"column:failure_reason;type:text"                  json:"failure_reason"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"                 json:"created_at"`
}

func (QueueItem) TableName() string {
	return "queue_items"
}

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const (
	PriorityNamedContact = 100
	PriorityAnonymous    = 0
)

const (
	FailureReasonPreempted    = "preempted"
	FailureReasonCancelled    = "cancelled"
	FailureReasonOrphanReaped = "orphan_reaped"
)

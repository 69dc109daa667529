package campaign

import "time"

// Campaign rows are owned by the campaign manager; this service only reads
// them to gate queue item eligibility.
type Campaign struct {
	ID            string     `gorm:"column:id;type:varchar(64);primaryKey"          json:"id"`
	UserID        string     `gorm:"column:user_id;type:varchar(64);index;not null" json:"user_id"`
	Name          string     `gorm:"column:name;type:varchar(255)"                  json:"name"`
	Status        string     `gorm:"column:status;type:varchar(20);not null"        json:"status"`
	FirstCallTime string     `gorm:"column:first_call_time;type:varchar(5)"         json:"first_call_time"`
	LastCallTime  string     `gorm:"column:last_call_time;type:varchar(5)"          json:"last_call_time"`
	StartDate     *time.Time `gorm:"column:start_date"                              json:"start_date"`
	EndDate       *time.Time `gorm:"column:end_date"                                json:"end_date"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"               json:"created_at"`
}

func (Campaign) TableName() string {
	return "campaigns"
}

const (
	StatusDraft     = "draft"
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

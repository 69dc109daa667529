package ledger

import "time"

// ActiveSlot is one unit of concurrency capacity, held for the duration of
// one live outbound call. Its row exists exactly while the call is in a
// non-terminal lifecycle state.
type ActiveSlot struct {
	CallID    string    `gorm:"column:call_id;type:varchar(64);primaryKey" json:"call_id"`
	UserID    string    `gorm:"column:user_id;type:varchar(64);index;not null" json:"user_id"`
	CallType  string    `gorm:"column:call_type;type:varchar(16);not null" json:"call_type"`
	StartedAt time.Time `gorm:"column:started_at;autoCreateTime" json:"started_at"`
}

func (ActiveSlot) TableName() string {
	return "active_slots"
}

const (
	CallTypeDirect   = "direct"
	CallTypeCampaign = "campaign"
)

const (
	DeniedUserLimit   = "user_limit"
	DeniedSystemLimit = "system_limit"
)

type Stats struct {
	Active    int `json:"active"`
	Limit     int `json:"limit"`
	Available int `json:"available"`
}

package usersettings

import "time"

type UserSettings struct {
	UserID             string     `gorm:"column:user_id;type:varchar(64);primaryKey" json:"user_id"`
	MaxConcurrentCalls int        `gorm:"column:max_concurrent_calls;not null"       json:"max_concurrent_calls"`
	CreatedAt          *time.Time `gorm:"column:created_at;autoCreateTime"           json:"created_at"`
	UpdatedAt          *time.Time `gorm:"column:updated_at;autoUpdateTime"           json:"updated_at"`
}

func (UserSettings) TableName() string {
	return "user_settings"
}

package analysis

import (
	"time"
)

// Job is the Kafka message that asks for one completed call to be analyzed.
type Job struct {
	ExecutionID string `json:"execution_id"`
	CallID      string `json:"call_id"`
	CreatedAt   string `json:"created_at"`
}

type CallAnalysis struct {
	ExecutionID string    `gorm:"column:execution_id;type:varchar(255);primaryKey;not null"`
	CallID      string    `gorm:"column:call_id;type:varchar(255);index;not null"`
	Summary     string    `gorm:"column:summary;type:text;not null"`
	Outcome     string    `gorm:"column:outcome;type:varchar(32);not null"`
	Sentiment   string    `gorm:"column:sentiment;type:varchar(16);not null"`
	Model       string    `gorm:"column:model;type:varchar(64);not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (CallAnalysis) TableName() string {
	return "call_analyses"
}

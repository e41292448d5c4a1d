package model

import (
	"time"
)

// Subscription binds a source topic path to a recovery push endpoint. The
// ingestion gateway snapshots the endpoints of all subscriptions bound to a
// record's topic at creation time; replay never re-resolves them.
type Subscription struct {
	ID        uint      `json:"-" gorm:"column:id;primaryKey;autoIncrement"`
	TopicPath string    `json:"topicPath" gorm:"column:topic_path;index;not null"`
	Endpoint  string    `json:"endpoint" gorm:"column:endpoint;not null"`
	Position  int       `json:"position" gorm:"column:position;default:0"`
	CreatedAt time.Time `json:"createdAt" gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (Subscription) TableName() string {
	return "subscriptions"
}

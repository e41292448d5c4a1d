package model

import (
	"time"

	"gorm.io/datatypes"

	"gitlab.com/timkado/api/daisi-deadletter-service/pkg/utils"
)

// Dead letter dispositions. PENDING is initial; SUCCESS is terminal for
// automated transitions; FAILED may be retried.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Replay modes. Local probes a single override endpoint without resolving the
// queue entry; remote redelivers to the full endpoint snapshot.
const (
	ReplayModeLocal  = "local"
	ReplayModeRemote = "remote"
)

// DeadLetter is a message a downstream consumer failed to process, captured
// for inspection and replay. ID equals the originating message's identifier
// and is the dedupe key. Version is the optimistic-concurrency token: it is
// incremented by exactly one on every successful update.
type DeadLetter struct {
	ID                string         `json:"id" gorm:"column:id;primaryKey"`
	Version           int            `json:"version" gorm:"column:version;not null"`
	OriginalMessage   datatypes.JSON `json:"originalMessage" gorm:"type:jsonb;column:original_message;not null"`
	OriginalTopicPath string         `json:"originalTopicPath" gorm:"column:original_topic_path;index"`
	EndPoints         datatypes.JSON `json:"endPoints" gorm:"type:jsonb;column:end_points"`
	Status            string         `json:"status" gorm:"column:status;index"`
	RetryCount        int            `json:"retryCount" gorm:"column:retry_count"`
	ErrorMessage      string         `json:"errorMessage,omitempty" gorm:"column:error_message"`
	CreatedAt         time.Time      `json:"createdAt" gorm:"column:created_at"`
	LastTriedAt       *time.Time     `json:"lastTriedAt,omitempty" gorm:"column:last_tried_at"`
}

// TableName specifies the table name for GORM.
func (DeadLetter) TableName() string {
	return "dead_letters"
}

// NewDeadLetter constructs a pending record at version 1 with the endpoint
// snapshot taken at ingestion time. The snapshot is immutable afterwards.
func NewDeadLetter(messageID string, originalMessage []byte, originalTopicPath string, endPoints []string) *DeadLetter {
	return &DeadLetter{
		ID:                messageID,
		Version:           1,
		OriginalMessage:   datatypes.JSON(originalMessage),
		OriginalTopicPath: originalTopicPath,
		EndPoints:         datatypes.JSON(utils.MustMarshalJSON(endPoints)),
		Status:            StatusPending,
		RetryCount:        0,
		CreatedAt:         utils.Now(),
	}
}

// EndPointList decodes the snapshotted recovery endpoints, preserving order.
func (d *DeadLetter) EndPointList() ([]string, error) {
	if len(d.EndPoints) == 0 {
		return nil, nil
	}
	var endpoints []string
	if err := utils.UnmarshalJSON(d.EndPoints, &endpoints); err != nil {
		return nil, err
	}
	return endpoints, nil
}

// RecordAttempt increments the retry counter and stamps the attempt time.
// It does not change the status.
func (d *DeadLetter) RecordAttempt() {
	d.RetryCount++
	now := utils.Now()
	d.LastTriedAt = &now
}

// MarkSuccess sets the terminal success status and clears the error message.
func (d *DeadLetter) MarkSuccess() {
	d.Status = StatusSuccess
	d.ErrorMessage = ""
}

// MarkFailed sets the retryable failed status with the aggregate failure text.
func (d *DeadLetter) MarkFailed(errorMessage string) {
	d.Status = StatusFailed
	d.ErrorMessage = errorMessage
}

// IsTerminal reports whether automated transitions are finished for this record.
func (d *DeadLetter) IsTerminal() bool {
	return d.Status == StatusSuccess
}

// Package models provides data model definitions for the sync agent.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/kimhsiao/teamsync/agent/internal/uuid"
)

// Action is the verb of a queued mutation.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// QueueStatus represents the status of a queued record.
// There is no completed status: a record that replayed successfully is deleted.
type QueueStatus string

const (
	QueueStatusPending QueueStatus = "pending"
	QueueStatusFailed  QueueStatus = "failed"
)

// QueueRecord is one mutation performed offline and awaiting replay.
type QueueRecord struct {
	ID         string                 `db:"id" json:"id"`
	Type       string                 `db:"type" json:"type"`     // workout, session
	Action     Action                 `db:"action" json:"action"` // create, update, delete
	Data       map[string]interface{} `db:"data" json:"data"`
	Status     QueueStatus            `db:"status" json:"status"`
	RetryCount int                    `db:"retry_count" json:"retryCount"`
	Error      string                 `db:"error" json:"error,omitempty"`
	Timestamp  int64                  `db:"timestamp" json:"timestamp"` // unix millis
}

// TableName returns the table name for QueueRecord.
func (QueueRecord) TableName() string {
	return "sync_queue"
}

// NewQueueRecord creates a pending record with a fresh id and timestamp.
func NewQueueRecord(recordType string, action Action, data map[string]interface{}) *QueueRecord {
	if data == nil {
		data = map[string]interface{}{}
	}
	return &QueueRecord{
		ID:        uuid.New(),
		Type:      recordType,
		Action:    action,
		Data:      data,
		Status:    QueueStatusPending,
		Timestamp: time.Now().UnixMilli(),
	}
}

// IsPending reports whether the record is eligible for replay.
func (r *QueueRecord) IsPending() bool {
	return r.Status == QueueStatusPending
}

// MarkFailed records a failed replay attempt.
func (r *QueueRecord) MarkFailed(err error) {
	r.Status = QueueStatusFailed
	r.RetryCount++
	if err != nil {
		r.Error = err.Error()
	}
	if r.Error == "" {
		r.Error = "unknown error"
	}
}

// EntityID returns data.id, if present.
func (r *QueueRecord) EntityID() (interface{}, bool) {
	if r.Data == nil {
		return nil, false
	}
	id, ok := r.Data["id"]
	if !ok || id == nil {
		return nil, false
	}
	if s, isString := id.(string); isString && strings.TrimSpace(s) == "" {
		return nil, false
	}
	return id, true
}

// Validate checks the fields an enqueue caller controls.
func (r *QueueRecord) Validate() error {
	if strings.TrimSpace(r.Type) == "" {
		return fmt.Errorf("type is required")
	}
	if !r.Action.Valid() {
		return fmt.Errorf("unknown action %q", r.Action)
	}
	if r.Action != ActionCreate {
		if _, ok := r.EntityID(); !ok {
			return fmt.Errorf("data.id is required for %s", r.Action)
		}
	}
	return nil
}

// Clone returns a copy whose Data map can be modified independently.
func (r *QueueRecord) Clone() *QueueRecord {
	c := *r
	if r.Data != nil {
		c.Data = make(map[string]interface{}, len(r.Data))
		for k, v := range r.Data {
			c.Data[k] = v
		}
	}
	return &c
}

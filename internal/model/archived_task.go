package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// ArchivedTask is a terminal task moved out of the live queue document
type ArchivedTask struct {
	ID          string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProfileID   string         `gorm:"type:varchar(128);not null;index" json:"profileId"`
	Label       string         `gorm:"type:varchar(255)" json:"label"`
	Status      TaskStatus     `gorm:"type:enum('COMPLETED','FAILED');not null;index" json:"status"`
	CreatedAt   time.Time      `gorm:"not null" json:"createdAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `gorm:"index" json:"completedAt,omitempty"`
	Error       string         `gorm:"type:text" json:"error,omitempty"`
	Ctx         datatypes.JSON `gorm:"type:json" json:"ctx"`
	ArchivedAt  time.Time      `gorm:"not null;index" json:"archivedAt"`
}

// TableName specifies the table name for ArchivedTask
func (ArchivedTask) TableName() string {
	return "archived_tasks"
}

// NewArchivedTask converts a task record for archiving
func NewArchivedTask(t TaskRecord, archivedAt time.Time) (ArchivedTask, error) {
	ctx, err := json.Marshal(t.Ctx)
	if err != nil {
		return ArchivedTask{}, err
	}
	return ArchivedTask{
		ID:          t.ID,
		ProfileID:   t.ProfileID,
		Label:       t.Label,
		Status:      t.Status,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		Error:       t.Error,
		Ctx:         datatypes.JSON(ctx),
		ArchivedAt:  archivedAt,
	}, nil
}

// Record converts back to the queue representation
func (a *ArchivedTask) Record() TaskRecord {
	t := TaskRecord{
		ID:          a.ID,
		ProfileID:   a.ProfileID,
		Label:       a.Label,
		Status:      a.Status,
		CreatedAt:   a.CreatedAt,
		StartedAt:   a.StartedAt,
		CompletedAt: a.CompletedAt,
		Error:       a.Error,
	}
	if len(a.Ctx) > 0 {
		_ = json.Unmarshal(a.Ctx, &t.Ctx)
	}
	return t
}

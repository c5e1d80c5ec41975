package model

import (
	"fmt"
	"time"
)

// TaskStatus is the lifecycle state of a subagent task
type TaskStatus string

// Task status constants
const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are possible
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// IsActive reports whether the task still occupies the queue
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusPending || s == TaskStatusRunning
}

// Valid reports whether s is one of the known statuses
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal forward step.
// PENDING -> FAILED is accepted for tasks aborted before they started.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusRunning || next == TaskStatusFailed
	case TaskStatusRunning:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	}
	return false
}

// ParseTaskStatus accepts the canonical upper case names and the lower case
// variants the external executor sometimes reports
func ParseTaskStatus(raw string) (TaskStatus, error) {
	switch raw {
	case "PENDING", "pending":
		return TaskStatusPending, nil
	case "RUNNING", "running":
		return TaskStatusRunning, nil
	case "COMPLETED", "completed", "success", "succeeded":
		return TaskStatusCompleted, nil
	case "FAILED", "failed":
		return TaskStatusFailed, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrValidation, raw)
}

// Default task priority when neither the request nor the profile sets one
const DefaultPriority = "NORMAL"

// TaskContext is the free-form payload handed to the executor.
// Task and TaskDescription carry the same text; older executors read Task.
// Keys added by the executor are kept in Extra.
type TaskContext struct {
	Task            string `json:"task"`
	TaskDescription string `json:"taskDescription"`
	ProfileID       string `json:"profileId"`
	Priority        string `json:"priority"`
	Extra           Extra  `json:"-"`
}

// MarshalJSON writes the declared fields and the preserved unknown keys
func (t TaskContext) MarshalJSON() ([]byte, error) {
	type plain TaskContext
	return encodeWithExtra(plain(t), t.Extra)
}

// UnmarshalJSON keeps the keys TaskContext does not declare in Extra
func (t *TaskContext) UnmarshalJSON(data []byte) error {
	type plain TaskContext
	var v plain
	extra, err := decodeWithExtra(data, &v)
	if err != nil {
		return err
	}
	*t = TaskContext(v)
	t.Extra = extra
	return nil
}

// TaskRecord is one unit of requested work for a profile
type TaskRecord struct {
	ID          string      `json:"id"`
	ProfileID   string      `json:"profileId"`
	Label       string      `json:"label"`
	Status      TaskStatus  `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	Error       string      `json:"error,omitempty"`
	Ctx         TaskContext `json:"ctx"`
	Extra       Extra       `json:"-"`
}

// MarshalJSON writes the declared fields and the preserved unknown keys
func (t TaskRecord) MarshalJSON() ([]byte, error) {
	type plain TaskRecord
	return encodeWithExtra(plain(t), t.Extra)
}

// UnmarshalJSON keeps the keys TaskRecord does not declare in Extra
func (t *TaskRecord) UnmarshalJSON(data []byte) error {
	type plain TaskRecord
	var v plain
	extra, err := decodeWithExtra(data, &v)
	if err != nil {
		return err
	}
	*t = TaskRecord(v)
	t.Extra = extra
	return nil
}

// Description returns the task text, preferring taskDescription
func (t *TaskRecord) Description() string {
	if t.Ctx.TaskDescription != "" {
		return t.Ctx.TaskDescription
	}
	return t.Ctx.Task
}

// QueueStats are the aggregate counters of the queue document
type QueueStats struct {
	TotalEnqueued  int `json:"totalEnqueued"`
	TotalCompleted int `json:"totalCompleted"`
	TotalFailed    int `json:"totalFailed"`
}

// QueueConfig is the optional executor configuration stored next to the tasks
type QueueConfig struct {
	MaxConcurrent int   `json:"maxConcurrent"`
	Extra         Extra `json:"-"`
}

// MarshalJSON writes the declared fields and the preserved unknown keys
func (q QueueConfig) MarshalJSON() ([]byte, error) {
	type plain QueueConfig
	return encodeWithExtra(plain(q), q.Extra)
}

// UnmarshalJSON keeps the keys QueueConfig does not declare in Extra
func (q *QueueConfig) UnmarshalJSON(data []byte) error {
	type plain QueueConfig
	var v plain
	extra, err := decodeWithExtra(data, &v)
	if err != nil {
		return err
	}
	*q = QueueConfig(v)
	q.Extra = extra
	return nil
}

// DefaultMaxConcurrent applies when the queue document has no config block
const DefaultMaxConcurrent = 7

// QueueDocument is the on-disk shape of task-queue.json
type QueueDocument struct {
	Tasks           []TaskRecord `json:"tasks"`
	RunningSessions []string     `json:"runningSessions"`
	Stats           QueueStats   `json:"stats"`
	Config          *QueueConfig `json:"config,omitempty"`
	LastHealthCheck *time.Time   `json:"lastHealthCheck,omitempty"`
	Extra           Extra        `json:"-"`
}

// MarshalJSON writes the declared fields and the preserved unknown keys
func (q QueueDocument) MarshalJSON() ([]byte, error) {
	type plain QueueDocument
	return encodeWithExtra(plain(q), q.Extra)
}

// UnmarshalJSON keeps the keys QueueDocument does not declare in Extra
func (q *QueueDocument) UnmarshalJSON(data []byte) error {
	type plain QueueDocument
	var v plain
	extra, err := decodeWithExtra(data, &v)
	if err != nil {
		return err
	}
	*q = QueueDocument(v)
	q.Extra = extra
	return nil
}

// NewQueueDocument returns an empty queue document
func NewQueueDocument() QueueDocument {
	return QueueDocument{
		Tasks:           []TaskRecord{},
		RunningSessions: []string{},
	}
}

// MaxConcurrent returns the configured concurrency limit or the default
func (q *QueueDocument) MaxConcurrent() int {
	if q.Config != nil && q.Config.MaxConcurrent > 0 {
		return q.Config.MaxConcurrent
	}
	return DefaultMaxConcurrent
}

// Find returns the index of the task with the given id, or -1
func (q *QueueDocument) Find(id string) int {
	for i := range q.Tasks {
		if q.Tasks[i].ID == id {
			return i
		}
	}
	return -1
}

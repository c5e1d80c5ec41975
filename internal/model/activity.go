package model

import "time"

// Activity actions
const (
	ActionSpawned   = "spawned"
	ActionStarted   = "started"
	ActionHeartbeat = "heartbeat"
	ActionCompleted = "completed"
	ActionFailed    = "failed"
	ActionError     = "error"
)

// ActivityLogVersion is written into the log envelope
const ActivityLogVersion = "1.0.0"

// ActivityEntry is a discrete event shown in the dashboard feed
type ActivityEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	TaskID      string    `json:"taskId"`
	ProfileID   string    `json:"profileId"`
	Action      string    `json:"action"`
	Details     string    `json:"details"`
	CurrentStep string    `json:"currentStep,omitempty"`
	Progress    *Percent  `json:"progress,omitempty"`
	Error       string    `json:"error,omitempty"`
	Extra       Extra     `json:"-"`
}

// MarshalJSON writes the declared fields and the preserved unknown keys
func (a ActivityEntry) MarshalJSON() ([]byte, error) {
	type plain ActivityEntry
	return encodeWithExtra(plain(a), a.Extra)
}

// UnmarshalJSON keeps the keys ActivityEntry does not declare in Extra
func (a *ActivityEntry) UnmarshalJSON(data []byte) error {
	type plain ActivityEntry
	var v plain
	extra, err := decodeWithExtra(data, &v)
	if err != nil {
		return err
	}
	*a = ActivityEntry(v)
	a.Extra = extra
	return nil
}

// ActivityLog is the on-disk envelope of activity-log.json
type ActivityLog struct {
	Version string          `json:"version,omitempty"`
	Entries []ActivityEntry `json:"entries"`
	Extra   Extra           `json:"-"`
}

// MarshalJSON writes the declared fields and the preserved unknown keys
func (a ActivityLog) MarshalJSON() ([]byte, error) {
	type plain ActivityLog
	return encodeWithExtra(plain(a), a.Extra)
}

// UnmarshalJSON keeps the keys ActivityLog does not declare in Extra
func (a *ActivityLog) UnmarshalJSON(data []byte) error {
	type plain ActivityLog
	var v plain
	extra, err := decodeWithExtra(data, &v)
	if err != nil {
		return err
	}
	*a = ActivityLog(v)
	a.Extra = extra
	return nil
}

// ActionForStatus maps a task status to the activity action recorded for it
func ActionForStatus(s TaskStatus) string {
	switch s {
	case TaskStatusRunning:
		return ActionStarted
	case TaskStatusCompleted:
		return ActionCompleted
	case TaskStatusFailed:
		return ActionFailed
	}
	return ActionSpawned
}

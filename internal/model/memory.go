package model

import (
	"encoding/json"
	"time"
)

// MemorySchemaVersion is the version written by this service
const MemorySchemaVersion = 1

// Session is one task run recorded in a profile's memory
type Session struct {
	TaskID      string          `json:"taskId"`
	StartedAt   time.Time       `json:"startedAt"`
	Description string          `json:"description"`
	Status      TaskStatus      `json:"status"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"` // written by the executor
	Extra       Extra           `json:"-"`
}

// MarshalJSON writes the declared fields and the preserved unknown keys
func (s Session) MarshalJSON() ([]byte, error) {
	type plain Session
	return encodeWithExtra(plain(s), s.Extra)
}

// UnmarshalJSON keeps the keys Session does not declare in Extra
func (s *Session) UnmarshalJSON(data []byte) error {
	type plain Session
	var v plain
	extra, err := decodeWithExtra(data, &v)
	if err != nil {
		return err
	}
	*s = Session(v)
	s.Extra = extra
	return nil
}

// MemoryCounters are the rollup statistics of a profile
type MemoryCounters struct {
	TotalSessions int `json:"totalSessions"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
	Running       int `json:"running"`
}

// MemoryRecord is the per-profile memory document
type MemoryRecord struct {
	SchemaVersion int            `json:"schemaVersion"`
	ProfileID     string         `json:"profileId"`
	Sessions      []Session      `json:"sessions"`
	Stats         MemoryCounters `json:"stats"`
	LastHeartbeat *time.Time     `json:"lastHeartbeat,omitempty"`
	CurrentStep   string         `json:"currentStep,omitempty"`
	Progress      Percent        `json:"progress"`
	Extra         Extra          `json:"-"`
}

// MarshalJSON writes the declared fields and the preserved unknown keys
func (m MemoryRecord) MarshalJSON() ([]byte, error) {
	type plain MemoryRecord
	return encodeWithExtra(plain(m), m.Extra)
}

// UnmarshalJSON keeps the keys MemoryRecord does not declare in Extra
func (m *MemoryRecord) UnmarshalJSON(data []byte) error {
	type plain MemoryRecord
	var v plain
	extra, err := decodeWithExtra(data, &v)
	if err != nil {
		return err
	}
	*m = MemoryRecord(v)
	m.Extra = extra
	return nil
}

// NewMemoryRecord returns the initial record for a profile
func NewMemoryRecord(profileID string) MemoryRecord {
	return MemoryRecord{
		SchemaVersion: MemorySchemaVersion,
		ProfileID:     profileID,
		Sessions:      []Session{},
	}
}

// FindSession returns the index of the session for taskID, or -1
func (m *MemoryRecord) FindSession(taskID string) int {
	for i := len(m.Sessions) - 1; i >= 0; i-- {
		if m.Sessions[i].TaskID == taskID {
			return i
		}
	}
	return -1
}

// MemoryStats is the read-side summary of a memory record
type MemoryStats struct {
	TotalSessions int            `json:"totalSessions"`
	Stats         MemoryCounters `json:"stats"`
	LastHeartbeat *time.Time     `json:"lastHeartbeat"`
	CurrentStep   *string        `json:"currentStep"`
	Progress      int            `json:"progress"`
}

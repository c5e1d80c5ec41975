package memory

import (
	"encoding/json"
	"fmt"

	"agent_dashboard/internal/model"
)

// migration upgrades a raw record from version N to N+1
type migration func(raw map[string]json.RawMessage) error

// migrations[i] upgrades version i to version i+1
var migrations = []migration{
	hoistLegacySessions,
}

// decodeRecord upgrades any known historical shape to the current one.
// Records written before schemaVersion existed are version 0.
func decodeRecord(profileID string) func([]byte) (model.MemoryRecord, error) {
	return func(data []byte) (model.MemoryRecord, error) {
		raw := map[string]json.RawMessage{}
		if err := json.Unmarshal(data, &raw); err != nil {
			return model.MemoryRecord{}, err
		}

		version := 0
		if v, ok := raw["schemaVersion"]; ok {
			if err := json.Unmarshal(v, &version); err != nil {
				return model.MemoryRecord{}, fmt.Errorf("schemaVersion: %v", err)
			}
		}
		if version > model.MemorySchemaVersion {
			return model.MemoryRecord{}, fmt.Errorf("%w: memory record %s has unsupported schema version %d",
				model.ErrStorage, profileID, version)
		}
		for ; version < model.MemorySchemaVersion; version++ {
			if err := migrations[version](raw); err != nil {
				return model.MemoryRecord{}, fmt.Errorf("migrate v%d: %v", version, err)
			}
		}

		upgraded, err := json.Marshal(raw)
		if err != nil {
			return model.MemoryRecord{}, err
		}
		rec := model.NewMemoryRecord(profileID)
		if err := json.Unmarshal(upgraded, &rec); err != nil {
			return model.MemoryRecord{}, err
		}
		rec.SchemaVersion = model.MemorySchemaVersion
		if rec.ProfileID == "" {
			rec.ProfileID = profileID
		}
		if rec.Sessions == nil {
			rec.Sessions = []model.Session{}
		}
		return rec, nil
	}
}

// hoistLegacySessions moves memory.sessions to the top level and drops the
// nested memory object
func hoistLegacySessions(raw map[string]json.RawMessage) error {
	nested, ok := raw["memory"]
	if ok {
		if _, has := raw["sessions"]; !has {
			var legacy struct {
				Sessions json.RawMessage `json:"sessions"`
			}
			if err := json.Unmarshal(nested, &legacy); err != nil {
				return err
			}
			if len(legacy.Sessions) > 0 && string(legacy.Sessions) != "null" {
				raw["sessions"] = legacy.Sessions
			} else {
				raw["sessions"] = json.RawMessage("[]")
			}
		}
		delete(raw, "memory")
	}
	raw["schemaVersion"] = json.RawMessage("1")
	return nil
}

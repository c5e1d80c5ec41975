package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskRecord_KeepsUnknownKeys(t *testing.T) {
	in := `{"id":"task_1_x","profileId":"researcher","label":"R","status":"RUNNING",
"createdAt":"2026-03-01T12:00:00Z","worker":"w-1",
"ctx":{"task":"a","taskDescription":"a","profileId":"researcher","priority":"HIGH","sessionKey":"agent:abc"}}`

	var rec TaskRecord
	require.NoError(t, json.Unmarshal([]byte(in), &rec))
	assert.Equal(t, TaskStatusRunning, rec.Status)
	assert.Equal(t, "HIGH", rec.Ctx.Priority)
	assert.JSONEq(t, `"w-1"`, string(rec.Extra["worker"]))
	assert.JSONEq(t, `"agent:abc"`, string(rec.Ctx.Extra["sessionKey"]))
	assert.NotContains(t, rec.Extra, "ctx")

	rec.Status = TaskStatusCompleted
	rec.Extra["status"] = json.RawMessage(`"STALE"`)
	out, err := json.Marshal(rec)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(out, &raw))
	assert.Equal(t, "COMPLETED", raw["status"], "declared fields win over extra keys")
	assert.Equal(t, "w-1", raw["worker"])
	assert.Equal(t, "agent:abc", raw["ctx"].(map[string]any)["sessionKey"])
}

func TestTaskRecord_NoExtraMarshalsPlain(t *testing.T) {
	out, err := json.Marshal(TaskRecord{ID: "t", Status: TaskStatusPending})
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(out, &raw))
	assert.NotContains(t, raw, "Extra")
	assert.Equal(t, "t", raw["id"])
}

func TestPercent_Unmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want Percent
	}{
		{`42`, 42},
		{`42.5`, 43},
		{`42.4`, 42},
		{`-3`, 0},
		{`180.2`, 100},
		{`"55"`, 55},
		{`null`, 0},
		{`"soon"`, 0},
		{`true`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var p Percent
			require.NoError(t, json.Unmarshal([]byte(tt.in), &p))
			assert.Equal(t, tt.want, p)
		})
	}
}

func TestMemoryRecord_FractionalProgress(t *testing.T) {
	var rec MemoryRecord
	require.NoError(t, json.Unmarshal([]byte(`{"profileId":"p","sessions":[],"progress":99.6,"notes":"x"}`), &rec))
	assert.Equal(t, Percent(100), rec.Progress)
	assert.JSONEq(t, `"x"`, string(rec.Extra["notes"]))
}

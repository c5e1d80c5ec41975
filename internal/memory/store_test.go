package memory

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent_dashboard/internal/model"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "memory", "subagents")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(Options{Dir: dir, Now: func() time.Time { return now }})
	t.Cleanup(s.Close)
	return s, dir
}

func readRaw(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestCreateSession(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	rec, err := s.CreateSession(ctx, "researcher", "task_1_aaaaaaaaa", "scan feed")
	require.NoError(t, err)
	assert.Equal(t, "researcher", rec.ProfileID)
	assert.Equal(t, model.MemorySchemaVersion, rec.SchemaVersion)
	require.Len(t, rec.Sessions, 1)
	assert.Equal(t, model.TaskStatusPending, rec.Sessions[0].Status)
	assert.Equal(t, "scan feed", rec.Sessions[0].Description)
	assert.Equal(t, 1, rec.Stats.TotalSessions)

	rec, err = s.CreateSession(ctx, "researcher", "task_2_bbbbbbbbb", "second")
	require.NoError(t, err)
	assert.Len(t, rec.Sessions, 2)
	assert.Equal(t, 2, rec.Stats.TotalSessions)

	raw := readRaw(t, s.Path("researcher"))
	assert.EqualValues(t, 1, raw["schemaVersion"])
}

func TestCreateSession_RejectsBadProfileID(t *testing.T) {
	s, _ := newTestStore(t)
	for _, id := range []string{"", "../escape", "a/b", ".."} {
		_, err := s.CreateSession(context.Background(), id, "task_1", "x")
		assert.ErrorIs(t, err, model.ErrValidation, id)
	}
}

func TestRecordStatusChange_Counters(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, "researcher", "t1", "x")
	require.NoError(t, err)

	rec, err := s.RecordStatusChange(ctx, "researcher", "t1", model.TaskStatusRunning)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Stats.Running)

	rec, err = s.RecordStatusChange(ctx, "researcher", "t1", model.TaskStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Stats.Completed)
	assert.Equal(t, 0, rec.Stats.Running)
	assert.Equal(t, 1, rec.Stats.TotalSessions, "status changes do not recount sessions")
	require.NotNil(t, rec.Sessions[0].CompletedAt)
	assert.Equal(t, model.TaskStatusCompleted, rec.Sessions[0].Status)
}

func TestRecordStatusChange_RunningFlooredAtZero(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(dir, 0o755))
	legacy := `{"profileId": "researcher", "sessions": [{"taskId": "t1", "status": "RUNNING", "startedAt": "2026-03-01T11:00:00Z"}], "stats": {"totalSessions": 1, "running": 0}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "researcher.json"), []byte(legacy), 0o644))

	rec, err := s.RecordStatusChange(ctx, "researcher", "t1", model.TaskStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Stats.Completed)
	assert.Equal(t, 0, rec.Stats.Running)
}

func TestRecordStatusChange_Validation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.RecordStatusChange(ctx, "researcher", "missing", model.TaskStatusRunning)
	assert.ErrorIs(t, err, model.ErrSessionNotFound)

	_, err = s.CreateSession(ctx, "researcher", "t1", "x")
	require.NoError(t, err)

	_, err = s.RecordStatusChange(ctx, "researcher", "t1", model.TaskStatusCompleted)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = s.RecordStatusChange(ctx, "researcher", "t1", model.TaskStatus("DONE"))
	assert.ErrorIs(t, err, model.ErrValidation)

	rec, err := s.RecordStatusChange(ctx, "researcher", "t1", model.TaskStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Stats.Failed)
	assert.Equal(t, 0, rec.Stats.Running)

	_, err = s.RecordStatusChange(ctx, "researcher", "t1", model.TaskStatusRunning)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestHeartbeat(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		in, want int
	}{
		{-5, 0},
		{42, 42},
		{250, 100},
	}
	for _, tt := range tests {
		rec, err := s.Heartbeat(ctx, "researcher", "fetching", tt.in)
		require.NoError(t, err)
		assert.EqualValues(t, tt.want, rec.Progress)
		assert.Equal(t, "fetching", rec.CurrentStep)
		require.NotNil(t, rec.LastHeartbeat)
	}
}

func TestStats(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	assert.Equal(t, model.MemoryStats{}, s.Stats(ctx, "nobody"))

	_, err := s.CreateSession(ctx, "researcher", "t1", "x")
	require.NoError(t, err)
	_, err = s.Heartbeat(ctx, "researcher", "step 2", 60)
	require.NoError(t, err)

	st := s.Stats(ctx, "researcher")
	assert.Equal(t, 1, st.TotalSessions)
	assert.Equal(t, 60, st.Progress)
	require.NotNil(t, st.CurrentStep)
	assert.Equal(t, "step 2", *st.CurrentStep)
	require.NotNil(t, st.LastHeartbeat)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{nope"), 0o644))
	assert.Equal(t, model.MemoryStats{}, s.Stats(ctx, "broken"))
}

func TestLegacyRecordMigrates(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(dir, 0o755))
	legacy := `{
  "profileId": "analyst",
  "memory": {"sessions": [{"taskId": "old1", "status": "COMPLETED", "description": "legacy", "startedAt": "2025-01-01T00:00:00Z"}]},
  "stats": {"totalSessions": 1, "completed": 1},
  "progress": 10
}`
	path := filepath.Join(dir, "analyst.json")
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	rec, err := s.Get(ctx, "analyst")
	require.NoError(t, err)
	require.Len(t, rec.Sessions, 1)
	assert.Equal(t, "old1", rec.Sessions[0].TaskID)
	assert.EqualValues(t, 10, rec.Progress)

	_, err = s.CreateSession(ctx, "analyst", "new1", "fresh")
	require.NoError(t, err)

	raw := readRaw(t, path)
	assert.NotContains(t, raw, "memory")
	assert.EqualValues(t, 1, raw["schemaVersion"])
	assert.Len(t, raw["sessions"], 2)
}

func TestExecutorWrittenRecord(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(dir, 0o755))
	written := `{
  "schemaVersion": 1,
  "profileId": "researcher",
  "sessions": [{"taskId": "t0", "status": "RUNNING", "startedAt": "2026-03-01T11:00:00Z", "tokens": 1200}],
  "stats": {"totalSessions": 1, "running": 1},
  "lastHeartbeat": "2026-03-01T11:59:00Z",
  "currentStep": "summarizing",
  "progress": 42.5,
  "workingNotes": ["a", "b"]
}`
	path := filepath.Join(dir, "researcher.json")
	require.NoError(t, os.WriteFile(path, []byte(written), 0o644))

	st := s.Stats(ctx, "researcher")
	assert.Equal(t, 43, st.Progress)
	require.NotNil(t, st.LastHeartbeat)

	_, err := s.CreateSession(ctx, "researcher", "t1", "scan feed")
	require.NoError(t, err)

	raw := readRaw(t, path)
	assert.Equal(t, []any{"a", "b"}, raw["workingNotes"])
	assert.EqualValues(t, 43, raw["progress"])
	sessions := raw["sessions"].([]any)
	require.Len(t, sessions, 2)
	assert.EqualValues(t, 1200, sessions[0].(map[string]any)["tokens"])
}

func TestDecodeRecord(t *testing.T) {
	dec := decodeRecord("p")

	rec, err := dec([]byte(`{"memory": {}}`))
	require.NoError(t, err)
	assert.Equal(t, "p", rec.ProfileID)
	assert.NotNil(t, rec.Sessions)

	rec, err = dec([]byte(`{"sessions": [{"taskId": "a"}], "memory": {"sessions": [{"taskId": "b"}]}}`))
	require.NoError(t, err)
	require.Len(t, rec.Sessions, 1)
	assert.Equal(t, "a", rec.Sessions[0].TaskID, "top-level sessions win over nested ones")

	_, err = dec([]byte(`{"schemaVersion": 99}`))
	assert.ErrorIs(t, err, model.ErrStorage)
}

func TestClose(t *testing.T) {
	s, _ := newTestStore(t)
	s.Close()
	_, err := s.CreateSession(context.Background(), "researcher", "t1", "x")
	assert.Error(t, err)
}

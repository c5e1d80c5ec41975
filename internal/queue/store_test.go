package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent_dashboard/internal/model"
	"agent_dashboard/internal/profiles"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testRegistry() *profiles.Registry {
	return profiles.NewRegistry([]model.Profile{
		{ID: "researcher", Name: "Researcher", Role: "Research", DefaultPriority: "HIGH"},
		{ID: "analyst", Name: "Analyst", Role: "Data"},
	})
}

func newTestStore(t *testing.T) (*Store, *fakeClock, string) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	path := filepath.Join(t.TempDir(), "skills", "subagent-system", "task-queue.json")
	s := NewStore(Options{Path: path, Profiles: testRegistry(), Now: clock.Now})
	t.Cleanup(s.Close)
	return s, clock, path
}

var taskIDPattern = regexp.MustCompile(`^task_\d+_[0-9a-z]{9}$`)

func TestNewTaskID_Format(t *testing.T) {
	now := time.UnixMilli(1767225600123)
	id := NewTaskID(now)
	assert.Regexp(t, taskIDPattern, id)
	assert.Contains(t, id, "task_1767225600123_")
}

func TestEnqueue_CreatesPendingTask(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	task, err := s.Enqueue(ctx, EnqueueRequest{ProfileID: "researcher", TaskDescription: "scan feed"})
	require.NoError(t, err)
	assert.Regexp(t, taskIDPattern, task.ID)
	assert.Equal(t, model.TaskStatusPending, task.Status)
	assert.Equal(t, "Researcher", task.Label)
	assert.Equal(t, "HIGH", task.Ctx.Priority)
	assert.Equal(t, "scan feed", task.Ctx.Task)
	assert.Equal(t, "scan feed", task.Ctx.TaskDescription)

	q, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, q.Tasks, 1)
	assert.Equal(t, 1, q.Stats.TotalEnqueued)
}

func TestEnqueue_UniqueIDsAndCounter(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		before, err := s.Snapshot(ctx)
		require.NoError(t, err)

		task, err := s.Enqueue(ctx, EnqueueRequest{ProfileID: "analyst", TaskDescription: "crunch", Label: "custom", Priority: "LOW"})
		require.NoError(t, err)
		assert.False(t, seen[task.ID], "duplicate id %s", task.ID)
		seen[task.ID] = true
		assert.Equal(t, "custom", task.Label)
		assert.Equal(t, "LOW", task.Ctx.Priority)

		after, err := s.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, before.Stats.TotalEnqueued+1, after.Stats.TotalEnqueued)
	}
}

func TestEnqueue_DefaultPriority(t *testing.T) {
	s, _, _ := newTestStore(t)
	task, err := s.Enqueue(context.Background(), EnqueueRequest{ProfileID: "analyst", TaskDescription: "x"})
	require.NoError(t, err)
	assert.Equal(t, model.DefaultPriority, task.Ctx.Priority)
}

func TestEnqueue_AliasKeepsRequestedID(t *testing.T) {
	s, _, _ := newTestStore(t)
	task, err := s.Enqueue(context.Background(), EnqueueRequest{ProfileID: "data-analyst", TaskDescription: "x"})
	require.NoError(t, err)
	assert.Equal(t, "data-analyst", task.ProfileID)
	assert.Equal(t, "Analyst", task.Label)
}

func TestEnqueue_UnknownProfileDoesNotMutate(t *testing.T) {
	s, _, path := newTestStore(t)

	_, err := s.Enqueue(context.Background(), EnqueueRequest{ProfileID: "ghost", TaskDescription: "boo"})
	require.ErrorIs(t, err, model.ErrProfileNotFound)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "queue file must not be created")
}

func TestEnqueue_Validation(t *testing.T) {
	s, _, _ := newTestStore(t)
	tests := []struct {
		name string
		req  EnqueueRequest
	}{
		{"missing profile", EnqueueRequest{TaskDescription: "x"}},
		{"missing description", EnqueueRequest{ProfileID: "researcher"}},
		{"blank description", EnqueueRequest{ProfileID: "researcher", TaskDescription: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Enqueue(context.Background(), tt.req)
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}
}

func TestEnqueue_ConcurrentWritersLoseNothing(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Enqueue(ctx, EnqueueRequest{ProfileID: "researcher", TaskDescription: "parallel"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	q, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, q.Tasks, n)
	assert.Equal(t, n, q.Stats.TotalEnqueued)
}

func TestTransition_StateMachine(t *testing.T) {
	s, clock, _ := newTestStore(t)
	ctx := context.Background()

	task, err := s.Enqueue(ctx, EnqueueRequest{ProfileID: "researcher", TaskDescription: "x"})
	require.NoError(t, err)

	_, err = s.Transition(ctx, task.ID, model.TaskStatusCompleted, "")
	require.ErrorIs(t, err, model.ErrInvalidTransition, "PENDING cannot skip to COMPLETED")

	clock.Advance(time.Second)
	running, err := s.Transition(ctx, task.ID, model.TaskStatusRunning, "")
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)

	q, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{task.ID}, q.RunningSessions)

	_, err = s.Transition(ctx, task.ID, model.TaskStatusPending, "")
	require.ErrorIs(t, err, model.ErrInvalidTransition, "no backward moves")

	done, err := s.Transition(ctx, task.ID, model.TaskStatusCompleted, "ignored")
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)
	assert.Empty(t, done.Error, "error is set only on FAILED")

	_, err = s.Transition(ctx, task.ID, model.TaskStatusFailed, "late")
	require.ErrorIs(t, err, model.ErrInvalidTransition, "terminal is final")

	q, err = s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, q.RunningSessions)
	assert.Equal(t, 1, q.Stats.TotalCompleted)
}

func TestTransition_FailureRecordsError(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	task, err := s.Enqueue(ctx, EnqueueRequest{ProfileID: "researcher", TaskDescription: "x"})
	require.NoError(t, err)

	failed, err := s.Transition(ctx, task.ID, model.TaskStatusFailed, "executor crashed")
	require.NoError(t, err)
	assert.Equal(t, "executor crashed", failed.Error)

	q, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Stats.TotalFailed)
}

func TestTransition_UnknownTask(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.Transition(context.Background(), "task_0_missing00", model.TaskStatusRunning, "")
	assert.ErrorIs(t, err, model.ErrTaskNotFound)

	_, err = s.Get(context.Background(), "task_0_missing00")
	assert.ErrorIs(t, err, model.ErrTaskNotFound)
}

func TestListActive_ExcludesTerminal(t *testing.T) {
	s, clock, _ := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		task, err := s.Enqueue(ctx, EnqueueRequest{ProfileID: "researcher", TaskDescription: "x"})
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}
	_, err := s.Transition(ctx, ids[0], model.TaskStatusRunning, "")
	require.NoError(t, err)
	_, err = s.Transition(ctx, ids[1], model.TaskStatusRunning, "")
	require.NoError(t, err)
	_, err = s.Transition(ctx, ids[1], model.TaskStatusCompleted, "")
	require.NoError(t, err)
	_, err = s.Transition(ctx, ids[2], model.TaskStatusFailed, "nope")
	require.NoError(t, err)

	clock.Advance(5 * time.Second)
	active, err := s.ListActive(ctx, clock.Now())
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, a := range active {
		assert.True(t, a.Status.IsActive())
		assert.Equal(t, int64(5000), a.ElapsedMs)
	}
}

func TestSummarize_StarvationBoundary(t *testing.T) {
	s, clock, _ := newTestStore(t)
	ctx := context.Background()

	created := clock.Now()
	old, err := s.Enqueue(ctx, EnqueueRequest{ProfileID: "researcher", TaskDescription: "old"})
	require.NoError(t, err)
	clock.Advance(2 * time.Second)
	_, err = s.Enqueue(ctx, EnqueueRequest{ProfileID: "researcher", TaskDescription: "young"})
	require.NoError(t, err)

	// "old" is 121s old, "young" is 119s old
	h, err := s.Summarize(ctx, created.Add(121*time.Second))
	require.NoError(t, err)
	require.Len(t, h.Starved, 1)
	assert.Equal(t, old.ID, h.Starved[0].ID)
	assert.Equal(t, 2, h.Starved[0].Age)
	assert.Equal(t, 2, h.Pending)
	require.NotNil(t, h.OldestPending)
	assert.True(t, h.OldestPending.Equal(created))
	assert.Equal(t, model.DefaultMaxConcurrent, h.MaxConcurrent)

	h, err = s.Summarize(ctx, created.Add(119*time.Second))
	require.NoError(t, err)
	assert.Empty(t, h.Starved)

	h, err = s.Summarize(ctx, created.Add(120*time.Second))
	require.NoError(t, err)
	assert.Empty(t, h.Starved, "exactly 120s is not starved")
}

func TestSummary_CountsAndHealth(t *testing.T) {
	s, _, path := newTestStore(t)
	ctx := context.Background()

	task, err := s.Enqueue(ctx, EnqueueRequest{ProfileID: "researcher", TaskDescription: "x"})
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, EnqueueRequest{ProfileID: "researcher", TaskDescription: "y"})
	require.NoError(t, err)
	_, err = s.Transition(ctx, task.ID, model.TaskStatusRunning, "")
	require.NoError(t, err)

	sum, err := s.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Pending: 1, Running: 1, TotalEnqueued: 2, Health: "unknown"}, sum)

	require.NoError(t, os.WriteFile(path, []byte(`{"tasks": [], "stats": {"totalEnqueued": 9}, "lastHealthCheck": "2026-03-01T12:00:00Z", "config": {"maxConcurrent": 3}}`), 0o644))
	sum, err = s.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", sum.Health)
	assert.Equal(t, 9, sum.TotalEnqueued)

	h, err := s.Summarize(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, h.MaxConcurrent)
}

func TestArchiveTerminal(t *testing.T) {
	s, clock, _ := newTestStore(t)
	ctx := context.Background()

	done, err := s.Enqueue(ctx, EnqueueRequest{ProfileID: "researcher", TaskDescription: "done"})
	require.NoError(t, err)
	_, err = s.Transition(ctx, done.ID, model.TaskStatusFailed, "x")
	require.NoError(t, err)
	live, err := s.Enqueue(ctx, EnqueueRequest{ProfileID: "researcher", TaskDescription: "live"})
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)

	sinkErr := errors.New("archive down")
	moved, err := s.ArchiveTerminal(ctx, time.Hour, func([]model.TaskRecord) error { return sinkErr })
	require.ErrorIs(t, err, sinkErr)
	assert.Equal(t, 0, moved)

	var archived []model.TaskRecord
	moved, err = s.ArchiveTerminal(ctx, time.Hour, func(tasks []model.TaskRecord) error {
		archived = tasks
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	require.Len(t, archived, 1)
	assert.Equal(t, done.ID, archived[0].ID)

	q, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, q.Tasks, 1)
	assert.Equal(t, live.ID, q.Tasks[0].ID)
	assert.Equal(t, 2, q.Stats.TotalEnqueued, "archiving never lowers totalEnqueued")

	moved, err = s.ArchiveTerminal(ctx, time.Hour, func([]model.TaskRecord) error {
		t.Fatal("sink must not be called when nothing qualifies")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, moved)
}

func TestRewritesKeepExecutorFields(t *testing.T) {
	s, _, path := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	written := `{
  "executorVersion": "2.1",
  "tasks": [{
    "id": "task_1_abcdefghi",
    "profileId": "researcher",
    "label": "Researcher",
    "status": "PENDING",
    "createdAt": "2026-03-01T11:59:00Z",
    "worker": "w-3",
    "ctx": {"task": "scan", "taskDescription": "scan", "profileId": "researcher", "priority": "HIGH",
            "sessionKey": "agent:abc", "attempt": 2}
  }],
  "runningSessions": [],
  "stats": {"totalEnqueued": 1, "totalCompleted": 0, "totalFailed": 0},
  "config": {"maxConcurrent": 4, "pollMs": 500}
}`
	require.NoError(t, os.WriteFile(path, []byte(written), 0o644))

	_, err := s.Enqueue(ctx, EnqueueRequest{ProfileID: "analyst", TaskDescription: "crunch"})
	require.NoError(t, err)
	_, err = s.Transition(ctx, "task_1_abcdefghi", model.TaskStatusRunning, "")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw struct {
		ExecutorVersion string           `json:"executorVersion"`
		Tasks           []map[string]any `json:"tasks"`
		Config          map[string]any   `json:"config"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "2.1", raw.ExecutorVersion)
	assert.EqualValues(t, 500, raw.Config["pollMs"])
	require.Len(t, raw.Tasks, 2)
	assert.Equal(t, "w-3", raw.Tasks[0]["worker"])
	assert.Equal(t, "RUNNING", raw.Tasks[0]["status"])
	taskCtx := raw.Tasks[0]["ctx"].(map[string]any)
	assert.Equal(t, "agent:abc", taskCtx["sessionKey"])
	assert.EqualValues(t, 2, taskCtx["attempt"])
	assert.Equal(t, "scan", taskCtx["taskDescription"])
	assert.NotContains(t, raw.Tasks[1], "worker")

	got, err := s.Get(ctx, "task_1_abcdefghi")
	require.NoError(t, err)
	assert.JSONEq(t, `"agent:abc"`, string(got.Ctx.Extra["sessionKey"]))
}

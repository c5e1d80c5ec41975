package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"agent_dashboard/internal/activity"
	"agent_dashboard/internal/cache"
	"agent_dashboard/internal/heartbeat"
	"agent_dashboard/internal/memory"
	"agent_dashboard/internal/model"
	"agent_dashboard/internal/queue"
	"agent_dashboard/internal/ws"
)

// Profiles resolves a requested profile id, aliases included
type Profiles interface {
	Resolve(id string) (model.Profile, bool)
}

// Trigger queues a heartbeat run for a task
type Trigger interface {
	Trigger(taskID string) bool
}

// Metrics receives service level counters
type Metrics interface {
	TaskEnqueued()
	TaskTransition(status model.TaskStatus)
	HeartbeatTrigger(result string)
	ActivityAppended(action string)
}

// SpawnRequest is the input of Spawn
type SpawnRequest struct {
	ProfileID       string `json:"profileId"`
	TaskDescription string `json:"taskDescription"`
	Label           string `json:"label,omitempty"`
	Priority        string `json:"priority,omitempty"`
}

// SpawnResult is returned to the caller of Spawn
type SpawnResult struct {
	Task            model.TaskRecord `json:"task"`
	Message         string           `json:"message"`
	HeartbeatQueued bool             `json:"heartbeatQueued"`
	Replayed        bool             `json:"replayed,omitempty"`
}

// TaskUpdate is pushed to clients whenever a task changes
type TaskUpdate struct {
	Task   model.TaskRecord `json:"task"`
	Action string           `json:"action"`
}

// Deps wires the service to its stores
type Deps struct {
	Profiles    Profiles
	Queue       *queue.Store
	Memory      *memory.Store
	Activity    *activity.Log
	Heartbeat   Trigger
	Publisher   ws.Publisher
	Metrics     Metrics
	Idempotency *cache.Idempotency
	Logger      *logrus.Entry
}

// SubagentService orchestrates the task queue, memory records and activity log
type SubagentService struct {
	profiles    Profiles
	queue       *queue.Store
	memory      *memory.Store
	activity    *activity.Log
	heartbeat   Trigger
	publisher   ws.Publisher
	metrics     Metrics
	idempotency *cache.Idempotency
	logger      *logrus.Entry
}

// NewSubagentService creates the service and subscribes to the activity log
func NewSubagentService(d Deps) *SubagentService {
	if d.Logger == nil {
		d.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if d.Publisher == nil {
		d.Publisher = ws.Discard{}
	}
	if d.Metrics == nil {
		d.Metrics = noopMetrics{}
	}
	if d.Idempotency == nil {
		d.Idempotency = cache.NewIdempotency(cache.DefaultIdempotencyTTL)
	}
	s := &SubagentService{
		profiles:    d.Profiles,
		queue:       d.Queue,
		memory:      d.Memory,
		activity:    d.Activity,
		heartbeat:   d.Heartbeat,
		publisher:   d.Publisher,
		metrics:     d.Metrics,
		idempotency: d.Idempotency,
		logger:      d.Logger.WithField("component", "subagent-service"),
	}
	s.activity.Subscribe(func(e model.ActivityEntry) {
		s.metrics.ActivityAppended(e.Action)
		s.publisher.Publish(ws.EventActivity, e)
	})
	return s
}

// Spawn enqueues a task, opens its memory session, logs it and asks for a
// heartbeat run. Once the task is enqueued, memory and activity failures are
// logged and do not fail the call. A non-empty idempotency key replays the
// first successful result for that key.
func (s *SubagentService) Spawn(ctx context.Context, req SpawnRequest, idempotencyKey string) (SpawnResult, error) {
	v, replayed, err := s.idempotency.Do(idempotencyKey, func() (any, error) {
		return s.spawn(ctx, req)
	})
	if err != nil {
		return SpawnResult{}, err
	}
	res := v.(SpawnResult)
	res.Replayed = replayed
	return res, nil
}

func (s *SubagentService) spawn(ctx context.Context, req SpawnRequest) (SpawnResult, error) {
	task, err := s.queue.Enqueue(ctx, queue.EnqueueRequest{
		ProfileID:       req.ProfileID,
		TaskDescription: req.TaskDescription,
		Label:           req.Label,
		Priority:        req.Priority,
	})
	if err != nil {
		return SpawnResult{}, err
	}
	s.metrics.TaskEnqueued()

	profile := s.profileOf(task)
	logger := s.logger.WithFields(logrus.Fields{"taskId": task.ID, "profileId": profile.ID})

	if _, err := s.memory.CreateSession(ctx, profile.ID, task.ID, req.TaskDescription); err != nil {
		logger.Errorf("Failed to create memory session: %v", err)
	}
	s.record(ctx, model.ActivityEntry{
		TaskID:    task.ID,
		ProfileID: task.ProfileID,
		Action:    model.ActionSpawned,
		Details:   req.TaskDescription,
	})
	s.publisher.Publish(ws.EventTasks, TaskUpdate{Task: task, Action: model.ActionSpawned})

	queued := s.heartbeat != nil && s.heartbeat.Trigger(task.ID)
	msg := fmt.Sprintf("Subagent %s spawned", profile.Name)
	if queued {
		msg += " & heartbeat triggered"
	}
	return SpawnResult{Task: task, Message: msg, HeartbeatQueued: queued}, nil
}

// ReportStatus records a status reported by the execution process
func (s *SubagentService) ReportStatus(ctx context.Context, taskID string, status model.TaskStatus, errMsg string) (model.TaskRecord, error) {
	if status == model.TaskStatusFailed && strings.TrimSpace(errMsg) == "" {
		errMsg = "failed without error message"
	}
	task, err := s.queue.Transition(ctx, taskID, status, errMsg)
	if err != nil {
		return model.TaskRecord{}, err
	}
	s.metrics.TaskTransition(status)

	profile := s.profileOf(task)
	logger := s.logger.WithFields(logrus.Fields{"taskId": task.ID, "profileId": profile.ID, "status": status})
	if _, err := s.memory.RecordStatusChange(ctx, profile.ID, task.ID, status); err != nil {
		logger.Warnf("Failed to record status in memory: %v", err)
	}

	action := model.ActionForStatus(status)
	entry := model.ActivityEntry{
		TaskID:    task.ID,
		ProfileID: task.ProfileID,
		Action:    action,
		Details:   task.Description(),
	}
	if status == model.TaskStatusFailed {
		entry.Error = task.Error
	}
	s.record(ctx, entry)
	s.publisher.Publish(ws.EventTasks, TaskUpdate{Task: task, Action: action})
	logger.Info("Task status changed")
	return task, nil
}

// ReportHeartbeat stamps the task's profile memory with progress. The first
// heartbeat of a PENDING task starts it.
func (s *SubagentService) ReportHeartbeat(ctx context.Context, taskID, currentStep string, progress int) (model.MemoryRecord, error) {
	task, err := s.queue.Get(ctx, taskID)
	if err != nil {
		return model.MemoryRecord{}, err
	}
	if task.Status.IsTerminal() {
		return model.MemoryRecord{}, fmt.Errorf("%w: task %s is %s", model.ErrInvalidTransition, taskID, task.Status)
	}
	if task.Status == model.TaskStatusPending {
		if _, err := s.ReportStatus(ctx, taskID, model.TaskStatusRunning, ""); err != nil && !errors.Is(err, model.ErrInvalidTransition) {
			return model.MemoryRecord{}, err
		}
	}

	profile := s.profileOf(task)
	rec, err := s.memory.Heartbeat(ctx, profile.ID, currentStep, progress)
	if err != nil {
		return model.MemoryRecord{}, err
	}
	p := rec.Progress
	s.record(ctx, model.ActivityEntry{
		TaskID:      task.ID,
		ProfileID:   task.ProfileID,
		Action:      model.ActionHeartbeat,
		Details:     currentStep,
		CurrentStep: currentStep,
		Progress:    &p,
	})
	return rec, nil
}

// ClearActivity empties the activity log
func (s *SubagentService) ClearActivity(ctx context.Context) error {
	if err := s.activity.Clear(ctx); err != nil {
		return err
	}
	s.logger.Info("Activity log cleared")
	return nil
}

// Task returns one task
func (s *SubagentService) Task(ctx context.Context, taskID string) (model.TaskRecord, error) {
	return s.queue.Get(ctx, taskID)
}

// HandleHeartbeatResult acknowledges a heartbeat run. Failures are written to
// the activity log as error entries for every task of the run.
func (s *SubagentService) HandleHeartbeatResult(res heartbeat.Result) {
	s.metrics.HeartbeatTrigger(res.Outcome)
	switch res.Outcome {
	case heartbeat.OutcomeFailed, heartbeat.OutcomeTimeout, heartbeat.OutcomeDropped:
	default:
		return
	}

	msg := res.Outcome
	if res.Err != nil {
		msg = res.Err.Error()
	}
	ctx := context.Background()
	for _, id := range res.TaskIDs {
		entry := model.ActivityEntry{
			TaskID:  id,
			Action:  model.ActionError,
			Details: "heartbeat trigger " + res.Outcome,
			Error:   msg,
		}
		if task, err := s.queue.Get(ctx, id); err == nil {
			entry.ProfileID = s.profileOf(task).ID
		}
		s.record(ctx, entry)
	}
}

func (s *SubagentService) record(ctx context.Context, entry model.ActivityEntry) {
	if _, err := s.activity.Append(ctx, entry); err != nil {
		s.logger.WithFields(logrus.Fields{"taskId": entry.TaskID, "action": entry.Action}).
			Errorf("Failed to append activity: %v", err)
	}
}

// profileOf resolves the canonical profile of a task. Memory records are keyed
// by the canonical id so aliased tasks share a file with their profile.
func (s *SubagentService) profileOf(task model.TaskRecord) model.Profile {
	if s.profiles != nil {
		if p, ok := s.profiles.Resolve(task.ProfileID); ok {
			return p
		}
	}
	return model.Profile{ID: task.ProfileID, Name: task.ProfileID}
}

type noopMetrics struct{}

func (noopMetrics) TaskEnqueued() {}
func (noopMetrics) TaskTransition(model.TaskStatus) {}
func (noopMetrics) HeartbeatTrigger(string) {}
func (noopMetrics) ActivityAppended(string) {}

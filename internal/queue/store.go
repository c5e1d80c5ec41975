package queue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"agent_dashboard/internal/jsonstore"
	"agent_dashboard/internal/model"
)

// DefaultStarvedAfter is how long a task may stay PENDING before it is flagged
const DefaultStarvedAfter = 2 * time.Minute

// ProfileResolver finds the profile a task is assigned to
type ProfileResolver interface {
	Resolve(id string) (model.Profile, bool)
}

// EnqueueRequest is the input of Enqueue
type EnqueueRequest struct {
	ProfileID       string
	TaskDescription string
	Label           string
	Priority        string
}

// ActiveTask is a PENDING or RUNNING task annotated with its age
type ActiveTask struct {
	model.TaskRecord
	ElapsedMs int64 `json:"elapsedMs"`
}

// StarvedTask is a PENDING task older than the starvation threshold
type StarvedTask struct {
	ID        string `json:"id"`
	ProfileID string `json:"profileId"`
	Age       int    `json:"age"` // minutes
}

// QueueHealth summarizes the queue by status
type QueueHealth struct {
	TotalTasks    int           `json:"totalTasks"`
	Pending       int           `json:"pending"`
	Running       int           `json:"running"`
	Completed     int           `json:"completed"`
	Failed        int           `json:"failed"`
	OldestPending *time.Time    `json:"oldestPending"`
	MaxConcurrent int           `json:"maxConcurrent"`
	Starved       []StarvedTask `json:"-"`
}

// Summary is the compact counter view served on /queue
type Summary struct {
	Pending        int    `json:"pending"`
	Running        int    `json:"running"`
	TotalEnqueued  int    `json:"totalEnqueued"`
	TotalCompleted int    `json:"totalCompleted"`
	TotalFailed    int    `json:"totalFailed"`
	Health         string `json:"health"`
}

// Options configures a Store
type Options struct {
	Path         string
	Profiles     ProfileResolver
	StarvedAfter time.Duration
	Now          func() time.Time
	Logger       *logrus.Entry
}

// Store is the task queue backed by task-queue.json
type Store struct {
	doc          *jsonstore.Document[model.QueueDocument]
	profiles     ProfileResolver
	starvedAfter time.Duration
	now          func() time.Time
	logger       *logrus.Entry
}

// NewStore opens the queue document at opts.Path
func NewStore(opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StarvedAfter <= 0 {
		opts.StarvedAfter = DefaultStarvedAfter
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger := opts.Logger.WithField("component", "task-queue")
	return &Store{
		doc: jsonstore.Open(opts.Path, model.NewQueueDocument,
			jsonstore.WithDecoder(decodeQueue),
			jsonstore.WithLogger[model.QueueDocument](logger)),
		profiles:     opts.Profiles,
		starvedAfter: opts.StarvedAfter,
		now:          opts.Now,
		logger:       logger,
	}
}

// Close stops the document owner
func (s *Store) Close() {
	s.doc.Close()
}

// NewTaskID returns task_<unix millis>_<9 random base36 chars>
func NewTaskID(now time.Time) string {
	u := uuid.New()
	suffix := strconv.FormatUint(binary.BigEndian.Uint64(u[:8]), 36)
	if len(suffix) < 9 {
		suffix = strings.Repeat("0", 9-len(suffix)) + suffix
	}
	return fmt.Sprintf("task_%d_%s", now.UnixMilli(), suffix[:9])
}

// Enqueue validates the request and appends a PENDING task. A failed
// validation or profile lookup leaves the file untouched.
func (s *Store) Enqueue(ctx context.Context, req EnqueueRequest) (model.TaskRecord, error) {
	req.ProfileID = strings.TrimSpace(req.ProfileID)
	if req.ProfileID == "" || strings.TrimSpace(req.TaskDescription) == "" {
		return model.TaskRecord{}, fmt.Errorf("%w: missing required fields: profileId, taskDescription", model.ErrValidation)
	}
	if s.profiles == nil {
		return model.TaskRecord{}, fmt.Errorf("%w: profile with id %s not found", model.ErrProfileNotFound, req.ProfileID)
	}
	profile, ok := s.profiles.Resolve(req.ProfileID)
	if !ok {
		return model.TaskRecord{}, fmt.Errorf("%w: profile with id %s not found", model.ErrProfileNotFound, req.ProfileID)
	}

	label := req.Label
	if label == "" {
		label = profile.Name
	}
	priority := req.Priority
	if priority == "" {
		priority = profile.DefaultPriority
	}
	if priority == "" {
		priority = model.DefaultPriority
	}

	var task model.TaskRecord
	err := s.doc.Update(ctx, func(q *model.QueueDocument) error {
		now := s.now().UTC()
		id := NewTaskID(now)
		for q.Find(id) >= 0 {
			id = NewTaskID(now)
		}
		task = model.TaskRecord{
			ID:        id,
			ProfileID: req.ProfileID,
			Label:     label,
			Status:    model.TaskStatusPending,
			CreatedAt: now,
			Ctx: model.TaskContext{
				Task:            req.TaskDescription,
				TaskDescription: req.TaskDescription,
				ProfileID:       req.ProfileID,
				Priority:        priority,
			},
		}
		q.Tasks = append(q.Tasks, task)
		q.Stats.TotalEnqueued++
		return nil
	})
	if err != nil {
		return model.TaskRecord{}, err
	}
	s.logger.WithFields(logrus.Fields{"taskId": task.ID, "profileId": task.ProfileID}).Info("Task enqueued")
	return task, nil
}

// Transition moves a task forward in PENDING -> RUNNING -> {COMPLETED|FAILED}
func (s *Store) Transition(ctx context.Context, taskID string, next model.TaskStatus, errMsg string) (model.TaskRecord, error) {
	if !next.Valid() {
		return model.TaskRecord{}, fmt.Errorf("%w: unknown status %q", model.ErrValidation, next)
	}

	var task model.TaskRecord
	err := s.doc.Update(ctx, func(q *model.QueueDocument) error {
		i := q.Find(taskID)
		if i < 0 {
			return fmt.Errorf("%w: %s", model.ErrTaskNotFound, taskID)
		}
		t := &q.Tasks[i]
		if !t.Status.CanTransition(next) {
			return fmt.Errorf("%w: %s -> %s for task %s", model.ErrInvalidTransition, t.Status, next, taskID)
		}

		now := s.now().UTC()
		t.Status = next
		switch next {
		case model.TaskStatusRunning:
			t.StartedAt = &now
			q.RunningSessions = appendUnique(q.RunningSessions, taskID)
		case model.TaskStatusCompleted:
			t.CompletedAt = &now
			q.Stats.TotalCompleted++
			q.RunningSessions = remove(q.RunningSessions, taskID)
		case model.TaskStatusFailed:
			t.CompletedAt = &now
			t.Error = errMsg
			q.Stats.TotalFailed++
			q.RunningSessions = remove(q.RunningSessions, taskID)
		}
		task = *t
		return nil
	})
	if err != nil {
		return model.TaskRecord{}, err
	}
	return task, nil
}

// Get returns one task by id
func (s *Store) Get(ctx context.Context, taskID string) (model.TaskRecord, error) {
	var task model.TaskRecord
	err := s.doc.View(ctx, func(q *model.QueueDocument) error {
		i := q.Find(taskID)
		if i < 0 {
			return fmt.Errorf("%w: %s", model.ErrTaskNotFound, taskID)
		}
		task = q.Tasks[i]
		return nil
	})
	return task, err
}

// Snapshot returns a copy of the whole queue document
func (s *Store) Snapshot(ctx context.Context) (model.QueueDocument, error) {
	var out model.QueueDocument
	err := s.doc.View(ctx, func(q *model.QueueDocument) error {
		out = *q
		out.Tasks = append([]model.TaskRecord(nil), q.Tasks...)
		out.RunningSessions = append([]string(nil), q.RunningSessions...)
		return nil
	})
	return out, err
}

// ListActive returns PENDING and RUNNING tasks in queue order
func (s *Store) ListActive(ctx context.Context, now time.Time) ([]ActiveTask, error) {
	q, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return Active(q.Tasks, now), nil
}

// Active filters tasks down to the active ones
func Active(tasks []model.TaskRecord, now time.Time) []ActiveTask {
	out := make([]ActiveTask, 0)
	for _, t := range tasks {
		if !t.Status.IsActive() {
			continue
		}
		out = append(out, ActiveTask{TaskRecord: t, ElapsedMs: elapsedMs(t.CreatedAt, now)})
	}
	return out
}

// Summarize counts tasks by status and flags starved PENDING tasks
func (s *Store) Summarize(ctx context.Context, now time.Time) (QueueHealth, error) {
	q, err := s.Snapshot(ctx)
	if err != nil {
		return QueueHealth{}, err
	}
	return Health(&q, now, s.starvedAfter), nil
}

// Health computes QueueHealth for a document. A PENDING task is starved when
// its age is strictly greater than starvedAfter.
func Health(q *model.QueueDocument, now time.Time, starvedAfter time.Duration) QueueHealth {
	h := QueueHealth{
		TotalTasks:    len(q.Tasks),
		MaxConcurrent: q.MaxConcurrent(),
		Starved:       []StarvedTask{},
	}

	var pending []model.TaskRecord
	for _, t := range q.Tasks {
		switch t.Status {
		case model.TaskStatusPending:
			h.Pending++
			pending = append(pending, t)
		case model.TaskStatusRunning:
			h.Running++
		case model.TaskStatusCompleted:
			h.Completed++
		case model.TaskStatusFailed:
			h.Failed++
		}
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if len(pending) > 0 {
		oldest := pending[0].CreatedAt
		h.OldestPending = &oldest
	}
	for _, t := range pending {
		age := now.Sub(t.CreatedAt)
		if age > starvedAfter {
			h.Starved = append(h.Starved, StarvedTask{
				ID:        t.ID,
				ProfileID: t.ProfileID,
				Age:       int(age / time.Minute),
			})
		}
	}
	return h
}

// Summary returns the compact counters
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	q, err := s.Snapshot(ctx)
	if err != nil {
		return Summary{}, err
	}
	out := Summary{
		TotalEnqueued:  q.Stats.TotalEnqueued,
		TotalCompleted: q.Stats.TotalCompleted,
		TotalFailed:    q.Stats.TotalFailed,
		Health:         "unknown",
	}
	for _, t := range q.Tasks {
		switch t.Status {
		case model.TaskStatusPending:
			out.Pending++
		case model.TaskStatusRunning:
			out.Running++
		}
	}
	if q.LastHealthCheck != nil {
		out.Health = "healthy"
	}
	return out, nil
}

// ArchiveTerminal removes terminal tasks finished before now-olderThan after
// sink has accepted them. If sink fails the queue is left as it was.
func (s *Store) ArchiveTerminal(ctx context.Context, olderThan time.Duration, sink func([]model.TaskRecord) error) (int, error) {
	var moved int
	err := s.doc.Update(ctx, func(q *model.QueueDocument) error {
		cutoff := s.now().Add(-olderThan)
		var keep, out []model.TaskRecord
		for _, t := range q.Tasks {
			finished := t.CreatedAt
			if t.CompletedAt != nil {
				finished = *t.CompletedAt
			}
			if t.Status.IsTerminal() && finished.Before(cutoff) {
				out = append(out, t)
				continue
			}
			keep = append(keep, t)
		}
		if len(out) == 0 {
			return errNothingToArchive
		}
		if err := sink(out); err != nil {
			return err
		}
		if keep == nil {
			keep = []model.TaskRecord{}
		}
		q.Tasks = keep
		moved = len(out)
		return nil
	})
	if errors.Is(err, errNothingToArchive) {
		return 0, nil
	}
	return moved, err
}

var errNothingToArchive = errors.New("nothing to archive")

func decodeQueue(data []byte) (model.QueueDocument, error) {
	q := model.NewQueueDocument()
	if err := json.Unmarshal(data, &q); err != nil {
		return q, err
	}
	if q.Tasks == nil {
		q.Tasks = []model.TaskRecord{}
	}
	if q.RunningSessions == nil {
		q.RunningSessions = []string{}
	}
	return q, nil
}

func elapsedMs(since, now time.Time) int64 {
	ms := now.Sub(since).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

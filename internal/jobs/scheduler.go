package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"

	"agent_dashboard/internal/dashboard"
	"agent_dashboard/internal/model"
)

// Job names
const (
	JobArchiveTerminal = "archive-terminal"
	JobStaleSweep      = "stale-sweep"
)

// Archiver moves terminal tasks out of the live queue
type Archiver interface {
	ArchiveTerminal(ctx context.Context, olderThan time.Duration, sink func([]model.TaskRecord) error) (int, error)
}

// ArchiveSink stores archived tasks
type ArchiveSink interface {
	Archive(ctx context.Context, tasks []model.TaskRecord) error
}

// StateSource builds the dashboard projection
type StateSource interface {
	GetDashboardState(ctx context.Context) (dashboard.State, error)
}

// Gauges receives queue shape and archive counts
type Gauges interface {
	SetQueueGauges(pending, running, stale, starved int)
	TasksArchived(n int)
}

// Config holds the configuration of the maintenance scheduler
type Config struct {
	Queue        Archiver
	Sink         ArchiveSink
	State        StateSource
	Metrics      Gauges
	ArchiveEvery time.Duration
	Retention    time.Duration
	SweepEvery   time.Duration
	Timeout      time.Duration
	Logger       *logrus.Entry
}

// Scheduler runs archive-terminal and stale-sweep in singleton mode
type Scheduler struct {
	cfg       Config
	scheduler gocron.Scheduler
	logger    *logrus.Entry

	mu    sync.Mutex
	stale map[string]struct{}
}

// NewScheduler creates the scheduler and registers both jobs
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.ArchiveEvery <= 0 {
		cfg.ArchiveEvery = 10 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	gs, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	s := &Scheduler{
		cfg:       cfg,
		scheduler: gs,
		logger:    cfg.Logger.WithField("component", "jobs"),
		stale:     map[string]struct{}{},
	}

	if cfg.Queue != nil && cfg.Sink != nil {
		if err := s.add(JobArchiveTerminal, cfg.ArchiveEvery, s.RunArchive); err != nil {
			return nil, err
		}
	}
	if cfg.State != nil {
		if err := s.add(JobStaleSweep, cfg.SweepEvery, s.RunSweep); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) add(name string, every time.Duration, run func(context.Context) error) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
			defer cancel()
			if err := run(ctx); err != nil {
				s.logger.WithField("job", name).Errorf("Job failed: %v", err)
			}
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", name, err)
	}
	s.logger.Infof("Registered %s every %s", name, every)
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Stop waits for running jobs and shuts the scheduler down
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

// RunArchive moves terminal tasks older than the retention into the sink
func (s *Scheduler) RunArchive(ctx context.Context) error {
	n, err := s.cfg.Queue.ArchiveTerminal(ctx, s.cfg.Retention, func(tasks []model.TaskRecord) error {
		return s.cfg.Sink.Archive(ctx, tasks)
	})
	if err != nil {
		return fmt.Errorf("archive terminal tasks: %w", err)
	}
	if n > 0 {
		s.logger.Infof("Archived %d terminal tasks", n)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.TasksArchived(n)
		}
	}
	return nil
}

// RunSweep refreshes the queue gauges and logs each task the first time it
// is seen stale
func (s *Scheduler) RunSweep(ctx context.Context) error {
	st, err := s.cfg.State.GetDashboardState(ctx)
	if err != nil {
		return fmt.Errorf("stale sweep: %w", err)
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SetQueueGauges(st.QueueHealth.Pending, st.QueueHealth.Running,
			len(st.StaleTasks), len(st.PendingOlderThan2min))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current := make(map[string]struct{}, len(st.StaleTasks))
	for _, id := range st.StaleTasks {
		current[id] = struct{}{}
		if _, seen := s.stale[id]; !seen {
			s.logger.WithField("taskId", id).Warn("Task heartbeat is stale")
		}
	}
	s.stale = current
	for _, t := range st.PendingOlderThan2min {
		s.logger.WithFields(logrus.Fields{"taskId": t.ID, "profileId": t.ProfileID}).
			Debugf("Task pending for %d minutes", t.Age)
	}
	return nil
}

// StaleSeen returns the task ids flagged by the last sweep
func (s *Scheduler) StaleSeen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.stale))
	for id := range s.stale {
		out = append(out, id)
	}
	return out
}

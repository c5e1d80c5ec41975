// Package dashboard builds the read-side view polled by the UI. It joins the
// queue, the profile registry, the memory records and the activity log at
// read time and caches nothing.
package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"agent_dashboard/internal/activity"
	"agent_dashboard/internal/model"
	"agent_dashboard/internal/queue"
)

// DefaultStaleAfter is the heartbeat age after which an instance is stale
const DefaultStaleAfter = 2 * time.Minute

// ProfileSource is the read side of the profile registry
type ProfileSource interface {
	All() []model.Profile
	Resolve(id string) (model.Profile, bool)
	First() (model.Profile, bool)
}

// TaskSource returns the current queue document
type TaskSource interface {
	Snapshot(ctx context.Context) (model.QueueDocument, error)
}

// MemorySource returns per-profile memory stats
type MemorySource interface {
	Stats(ctx context.Context, profileID string) model.MemoryStats
}

// ActivitySource returns the newest activity entries
type ActivitySource interface {
	Recent(ctx context.Context, n int) ([]model.ActivityEntry, error)
}

// Instance is one active task joined with its profile and liveness
type Instance struct {
	ID            string           `json:"id"`
	ProfileID     string           `json:"profileId"`
	Name          string           `json:"name"`
	Role          string           `json:"role"`
	Description   string           `json:"description"`
	Status        model.TaskStatus `json:"status"`
	StartedAt     *time.Time       `json:"startedAt"`
	ElapsedMs     int64            `json:"elapsedMs"`
	Elapsed       string           `json:"elapsed"`
	LastHeartbeat *time.Time       `json:"lastHeartbeat"`
	IsStale       bool             `json:"isStale"`
	CurrentStep   *string          `json:"currentStep"`
	Progress      int              `json:"progress"`
	MemoryLayer   string           `json:"memoryLayer,omitempty"`
	Error         *string          `json:"error"`
}

// Summary holds the headline counters
type Summary struct {
	TotalProfiles int `json:"totalProfiles"`
	ActiveCount   int `json:"activeCount"`
}

// State is the full dashboard payload
type State struct {
	Profiles             []model.Profile              `json:"profiles"`
	ActiveInstances      []Instance                   `json:"activeInstances"`
	MemoryStats          map[string]model.MemoryStats `json:"memoryStats"`
	RecentActivity       []model.ActivityEntry        `json:"recentActivity"`
	QueueHealth          queue.QueueHealth            `json:"queueHealth"`
	PendingOlderThan2min []queue.StarvedTask          `json:"pendingOlderThan2min"`
	StaleTasks           []string                     `json:"staleTasks"`
	Summary              Summary                      `json:"summary"`
}

// Options wires the projection to its sources
type Options struct {
	Profiles     ProfileSource
	Tasks        TaskSource
	Memory       MemorySource
	Activity     ActivitySource
	StaleAfter   time.Duration
	StarvedAfter time.Duration
	RecentLimit  int
	Now          func() time.Time
	Logger       *logrus.Entry
}

// Projection computes State on demand
type Projection struct {
	opts   Options
	logger *logrus.Entry
}

// New creates a projection
func New(opts Options) *Projection {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.StarvedAfter <= 0 {
		opts.StarvedAfter = queue.DefaultStarvedAfter
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = activity.DefaultRecent
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Projection{opts: opts, logger: opts.Logger.WithField("component", "dashboard")}
}

// GetDashboardState reads every source once and joins them
func (p *Projection) GetDashboardState(ctx context.Context) (State, error) {
	now := p.opts.Now()

	q, err := p.opts.Tasks.Snapshot(ctx)
	if err != nil {
		return State{}, fmt.Errorf("read queue: %w", err)
	}
	// the feed is display only; an unreadable log must not hide the tasks
	recent, err := p.opts.Activity.Recent(ctx, p.opts.RecentLimit)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return State{}, ctxErr
		}
		p.logger.Warnf("Failed to read activity log, showing none: %v", err)
		recent = []model.ActivityEntry{}
	}

	profiles := p.opts.Profiles.All()
	memStats := make(map[string]model.MemoryStats, len(profiles))
	for _, prof := range profiles {
		memStats[prof.ID] = p.opts.Memory.Stats(ctx, prof.ID)
	}
	statsFor := func(id string) model.MemoryStats {
		if st, ok := memStats[id]; ok {
			return st
		}
		st := p.opts.Memory.Stats(ctx, id)
		memStats[id] = st
		return st
	}

	instances := make([]Instance, 0)
	stale := make([]string, 0)
	for _, t := range queue.Active(q.Tasks, now) {
		prof := p.profileFor(t.ProfileID)
		st := statsFor(prof.ID)

		inst := Instance{
			ID:            t.ID,
			ProfileID:     t.ProfileID,
			Name:          t.Label,
			Role:          prof.Role,
			Description:   t.Description(),
			Status:        t.Status,
			StartedAt:     t.StartedAt,
			ElapsedMs:     t.ElapsedMs,
			Elapsed:       FormatElapsed(t.ElapsedMs),
			LastHeartbeat: st.LastHeartbeat,
			IsStale:       IsStale(st.LastHeartbeat, now, p.opts.StaleAfter),
			CurrentStep:   st.CurrentStep,
			Progress:      st.Progress,
			MemoryLayer:   prof.MemoryLayer,
		}
		if inst.Name == "" {
			inst.Name = prof.Name
		}
		if t.Error != "" {
			msg := t.Error
			inst.Error = &msg
		}
		if inst.IsStale {
			stale = append(stale, t.ID)
		}
		instances = append(instances, inst)
	}

	health := queue.Health(&q, now, p.opts.StarvedAfter)
	if profiles == nil {
		profiles = []model.Profile{}
	}
	return State{
		Profiles:             profiles,
		ActiveInstances:      instances,
		MemoryStats:          memStats,
		RecentActivity:       recent,
		QueueHealth:          health,
		PendingOlderThan2min: health.Starved,
		StaleTasks:           stale,
		Summary: Summary{
			TotalProfiles: len(profiles),
			ActiveCount:   len(instances),
		},
	}, nil
}

// profileFor resolves directly, then by alias, then falls back to the first
// profile. With no profiles at all a bare profile carrying the id is returned.
func (p *Projection) profileFor(id string) model.Profile {
	if prof, ok := p.opts.Profiles.Resolve(id); ok {
		return prof
	}
	if prof, ok := p.opts.Profiles.First(); ok {
		p.logger.Debugf("Profile %s not found, falling back to %s", id, prof.ID)
		return prof
	}
	return model.Profile{ID: id, Name: id}
}

// IsStale reports whether the last heartbeat is older than after. An instance
// that never sent a heartbeat is not stale.
func IsStale(lastHeartbeat *time.Time, now time.Time, after time.Duration) bool {
	if lastHeartbeat == nil {
		return false
	}
	return now.Sub(*lastHeartbeat) > after
}

// FormatElapsed renders milliseconds as "42s", "3m 5s" or "2h 4m"
func FormatElapsed(ms int64) string {
	s := ms / 1000
	if s < 0 {
		s = 0
	}
	if s < 60 {
		return fmt.Sprintf("%ds", s)
	}
	m := s / 60
	if m < 60 {
		return fmt.Sprintf("%dm %ds", m, s%60)
	}
	return fmt.Sprintf("%dh %dm", m/60, m%60)
}

// Package memory keeps one JSON record per profile with its sessions,
// counters and the liveness fields written by the execution process.
package memory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"agent_dashboard/internal/jsonstore"
	"agent_dashboard/internal/model"
)

// Options configures a Store
type Options struct {
	Dir    string
	Now    func() time.Time
	Logger *logrus.Entry
}

// Store owns the memory/<profileId>.json files. Each file gets its own
// document owner, opened lazily.
type Store struct {
	dir    string
	now    func() time.Time
	logger *logrus.Entry

	mu     sync.Mutex
	docs   map[string]*jsonstore.Document[model.MemoryRecord]
	closed bool
}

// NewStore creates a store rooted at opts.Dir
func NewStore(opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{
		dir:    opts.Dir,
		now:    opts.Now,
		logger: opts.Logger.WithField("component", "memory"),
		docs:   make(map[string]*jsonstore.Document[model.MemoryRecord]),
	}
}

// Path returns the file backing profileID
func (s *Store) Path(profileID string) string {
	return filepath.Join(s.dir, profileID+".json")
}

// Close stops every open document
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.docs {
		d.Close()
	}
	s.docs = map[string]*jsonstore.Document[model.MemoryRecord]{}
	s.closed = true
}

func (s *Store) doc(profileID string) (*jsonstore.Document[model.MemoryRecord], error) {
	if err := validateProfileID(profileID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, jsonstore.ErrClosed
	}
	if d, ok := s.docs[profileID]; ok {
		return d, nil
	}
	d := jsonstore.Open(s.Path(profileID),
		func() model.MemoryRecord { return model.NewMemoryRecord(profileID) },
		jsonstore.WithDecoder(decodeRecord(profileID)),
		jsonstore.WithLogger[model.MemoryRecord](s.logger.WithField("profileId", profileID)))
	s.docs[profileID] = d
	return d, nil
}

// CreateSession appends a PENDING session for taskID and counts it
func (s *Store) CreateSession(ctx context.Context, profileID, taskID, description string) (model.MemoryRecord, error) {
	if taskID == "" {
		return model.MemoryRecord{}, fmt.Errorf("%w: taskId required", model.ErrValidation)
	}
	d, err := s.doc(profileID)
	if err != nil {
		return model.MemoryRecord{}, err
	}

	var out model.MemoryRecord
	err = d.Update(ctx, func(rec *model.MemoryRecord) error {
		rec.Sessions = append(rec.Sessions, model.Session{
			TaskID:      taskID,
			StartedAt:   s.now().UTC(),
			Description: description,
			Status:      model.TaskStatusPending,
		})
		rec.Stats.TotalSessions++
		out = clone(rec)
		return nil
	})
	return out, err
}

// RecordStatusChange moves the session of taskID to status and updates the
// counters. running is decremented, floored at 0, when a running session
// reaches a terminal status.
func (s *Store) RecordStatusChange(ctx context.Context, profileID, taskID string, status model.TaskStatus) (model.MemoryRecord, error) {
	if !status.Valid() {
		return model.MemoryRecord{}, fmt.Errorf("%w: unknown status %q", model.ErrValidation, status)
	}
	d, err := s.doc(profileID)
	if err != nil {
		return model.MemoryRecord{}, err
	}

	var out model.MemoryRecord
	err = d.Update(ctx, func(rec *model.MemoryRecord) error {
		i := rec.FindSession(taskID)
		if i < 0 {
			return fmt.Errorf("%w: no session for task %s in profile %s", model.ErrSessionNotFound, taskID, profileID)
		}
		sess := &rec.Sessions[i]
		prev := sess.Status
		if !prev.CanTransition(status) {
			return fmt.Errorf("%w: session %s %s -> %s", model.ErrInvalidTransition, taskID, prev, status)
		}

		sess.Status = status
		switch status {
		case model.TaskStatusRunning:
			rec.Stats.Running++
		case model.TaskStatusCompleted:
			rec.Stats.Completed++
		case model.TaskStatusFailed:
			rec.Stats.Failed++
		}
		if status.IsTerminal() {
			now := s.now().UTC()
			sess.CompletedAt = &now
			if prev == model.TaskStatusRunning && rec.Stats.Running > 0 {
				rec.Stats.Running--
			}
		}
		out = clone(rec)
		return nil
	})
	return out, err
}

// Heartbeat stamps lastHeartbeat and records progress, clamped to 0..100
func (s *Store) Heartbeat(ctx context.Context, profileID, currentStep string, progress int) (model.MemoryRecord, error) {
	d, err := s.doc(profileID)
	if err != nil {
		return model.MemoryRecord{}, err
	}

	var out model.MemoryRecord
	err = d.Update(ctx, func(rec *model.MemoryRecord) error {
		now := s.now().UTC()
		rec.LastHeartbeat = &now
		rec.CurrentStep = currentStep
		rec.Progress = model.ClampPercent(float64(progress))
		out = clone(rec)
		return nil
	})
	return out, err
}

// Get returns the record of profileID; a missing file yields an empty record
func (s *Store) Get(ctx context.Context, profileID string) (model.MemoryRecord, error) {
	d, err := s.doc(profileID)
	if err != nil {
		return model.MemoryRecord{}, err
	}
	var out model.MemoryRecord
	err = d.View(ctx, func(rec *model.MemoryRecord) error {
		out = clone(rec)
		return nil
	})
	return out, err
}

// Stats summarizes a profile's memory. A missing or unreadable file yields
// zero stats; read failures are logged, not returned.
func (s *Store) Stats(ctx context.Context, profileID string) model.MemoryStats {
	rec, err := s.Get(ctx, profileID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.WithField("profileId", profileID).Warnf("Failed to read memory stats: %v", err)
		}
		return model.MemoryStats{}
	}
	return StatsOf(&rec)
}

// StatsOf builds the read-side summary of rec
func StatsOf(rec *model.MemoryRecord) model.MemoryStats {
	st := model.MemoryStats{
		TotalSessions: len(rec.Sessions),
		Stats:         rec.Stats,
		LastHeartbeat: rec.LastHeartbeat,
		Progress:      int(rec.Progress),
	}
	if rec.CurrentStep != "" {
		step := rec.CurrentStep
		st.CurrentStep = &step
	}
	return st
}

func validateProfileID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: profileId required", model.ErrValidation)
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." || filepath.Base(id) != id {
		return fmt.Errorf("%w: invalid profileId %q", model.ErrValidation, id)
	}
	return nil
}

func clone(rec *model.MemoryRecord) model.MemoryRecord {
	out := *rec
	out.Sessions = append([]model.Session(nil), rec.Sessions...)
	if out.Sessions == nil {
		out.Sessions = []model.Session{}
	}
	return out
}

// Package activity is the bounded activity feed shown on the dashboard.
package activity

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"agent_dashboard/internal/jsonstore"
	"agent_dashboard/internal/model"
)

const (
	// DefaultMaxEntries is how many entries the log file keeps
	DefaultMaxEntries = 100
	// DefaultRecent is how many entries the dashboard shows
	DefaultRecent = 20

	fanoutBuffer = 256
)

// Subscriber receives every appended entry
type Subscriber func(model.ActivityEntry)

// Options configures a Log
type Options struct {
	Path       string
	MaxEntries int
	Now        func() time.Time
	Logger     *logrus.Entry
}

// Log is the activity-log.json document plus subscriber fan-out
type Log struct {
	doc        *jsonstore.Document[model.ActivityLog]
	maxEntries int
	now        func() time.Time
	logger     *logrus.Entry

	mu     sync.RWMutex
	subs   []Subscriber
	events chan model.ActivityEntry
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewLog opens the log and starts the fan-out goroutine
func NewLog(opts Options) *Log {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger := opts.Logger.WithField("component", "activity")
	l := &Log{
		doc: jsonstore.Open(opts.Path, emptyLog,
			jsonstore.WithDecoder(decodeLog),
			jsonstore.WithLogger[model.ActivityLog](logger)),
		maxEntries: opts.MaxEntries,
		now:        opts.Now,
		logger:     logger,
		events:     make(chan model.ActivityEntry, fanoutBuffer),
		done:       make(chan struct{}),
	}
	l.wg.Add(1)
	go l.fanout()
	return l
}

// Subscribe registers fn for every future entry. fn runs on the fan-out
// goroutine and must not block for long.
func (l *Log) Subscribe(fn Subscriber) {
	l.mu.Lock()
	l.subs = append(l.subs, fn)
	l.mu.Unlock()
}

// Append stamps the entry, stores it and drops the oldest entries beyond the cap
func (l *Log) Append(ctx context.Context, entry model.ActivityEntry) (model.ActivityEntry, error) {
	entry.Timestamp = l.now().UTC()
	err := l.doc.Update(ctx, func(log *model.ActivityLog) error {
		log.Entries = append(log.Entries, entry)
		if over := len(log.Entries) - l.maxEntries; over > 0 {
			log.Entries = append([]model.ActivityEntry(nil), log.Entries[over:]...)
		}
		return nil
	})
	if err != nil {
		return model.ActivityEntry{}, err
	}
	l.publish(entry)
	return entry, nil
}

// Recent returns at most n entries, newest first
func (l *Log) Recent(ctx context.Context, n int) ([]model.ActivityEntry, error) {
	out := make([]model.ActivityEntry, 0)
	err := l.doc.View(ctx, func(log *model.ActivityLog) error {
		for i := len(log.Entries) - 1; i >= 0 && len(out) < n; i-- {
			out = append(out, log.Entries[i])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Len returns the number of stored entries
func (l *Log) Len(ctx context.Context) (int, error) {
	var n int
	err := l.doc.View(ctx, func(log *model.ActivityLog) error {
		n = len(log.Entries)
		return nil
	})
	return n, err
}

// Clear resets the file to an empty versioned envelope
func (l *Log) Clear(ctx context.Context) error {
	if err := l.doc.Replace(ctx, emptyLog()); err != nil {
		return err
	}
	l.logger.Info("Activity log cleared")
	return nil
}

// Close stops the fan-out and the document owner
func (l *Log) Close() {
	l.once.Do(func() {
		close(l.done)
		l.wg.Wait()
		l.doc.Close()
	})
}

func (l *Log) publish(entry model.ActivityEntry) {
	l.mu.RLock()
	n := len(l.subs)
	l.mu.RUnlock()
	if n == 0 {
		return
	}
	select {
	case l.events <- entry:
	case <-l.done:
	default:
		l.logger.Warnf("Activity fan-out full, dropping %s event for %s", entry.Action, entry.TaskID)
	}
}

func (l *Log) fanout() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case e := <-l.events:
			l.mu.RLock()
			subs := append([]Subscriber(nil), l.subs...)
			l.mu.RUnlock()
			for _, fn := range subs {
				fn(e)
			}
		}
	}
}

func emptyLog() model.ActivityLog {
	return model.ActivityLog{Version: model.ActivityLogVersion, Entries: []model.ActivityEntry{}}
}

// decodeLog accepts the unversioned {entries} shape the log started with
func decodeLog(data []byte) (model.ActivityLog, error) {
	log := model.ActivityLog{}
	if err := json.Unmarshal(data, &log); err != nil {
		return log, err
	}
	if log.Entries == nil {
		log.Entries = []model.ActivityEntry{}
	}
	return log, nil
}

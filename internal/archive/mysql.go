package archive

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"agent_dashboard/internal/model"
)

// GormSink archives tasks through gorm, used with MySQL
type GormSink struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormSink wraps an already migrated connection
func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db, now: time.Now}
}

// Archive implements Sink
func (s *GormSink) Archive(ctx context.Context, tasks []model.TaskRecord) error {
	if len(tasks) == 0 {
		return nil
	}
	archivedAt := s.now().UTC()
	rows := make([]model.ArchivedTask, 0, len(tasks))
	for _, t := range tasks {
		a, err := model.NewArchivedTask(t, archivedAt)
		if err != nil {
			return fmt.Errorf("%w: encode task %s: %v", model.ErrStorage, t.ID, err)
		}
		rows = append(rows, a)
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("%w: archive tasks: %v", model.ErrStorage, err)
	}
	return nil
}

// Count implements Sink
func (s *GormSink) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.ArchivedTask{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("%w: count archive: %v", model.ErrStorage, err)
	}
	return n, nil
}

// Recent implements Sink
func (s *GormSink) Recent(ctx context.Context, limit int) ([]model.ArchivedTask, error) {
	out := make([]model.ArchivedTask, 0)
	err := s.db.WithContext(ctx).
		Order("archived_at desc").
		Order("completed_at desc").
		Limit(normalizeLimit(limit)).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("%w: query archive: %v", model.ErrStorage, err)
	}
	return out, nil
}

// Ping implements Sink
func (s *GormSink) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close implements Sink
func (s *GormSink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Package archive stores terminal tasks removed from the live queue.
package archive

import (
	"context"

	"agent_dashboard/internal/model"
)

// Sink is a durable store of archived tasks
type Sink interface {
	// Archive upserts tasks keyed by task id
	Archive(ctx context.Context, tasks []model.TaskRecord) error
	Count(ctx context.Context) (int64, error)
	// Recent returns the most recently archived tasks first
	Recent(ctx context.Context, limit int) ([]model.ArchivedTask, error)
	Ping(ctx context.Context) error
	Close() error
}

const defaultRecentLimit = 50

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultRecentLimit
	}
	return limit
}

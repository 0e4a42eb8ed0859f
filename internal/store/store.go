// Package store keeps run history and scheduled runs in an embedded libSQL
// database.
package store

import (
	"context"

	"github.com/rendis/flowfunc/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Runs
	RecordRun(ctx context.Context, s *schema.Summary) error
	GetRun(ctx context.Context, runID string) (*schema.Summary, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*schema.Summary, error)
	DeleteRun(ctx context.Context, runID string) error

	// Stage events (append-only)
	AppendStageEvent(ctx context.Context, ev schema.StageEvent) (int64, error)
	ListStageEvents(ctx context.Context, runID string) ([]*StageRecord, error)

	// Scheduled runs
	CreateScheduledRun(ctx context.Context, run *ScheduledRun) error
	GetScheduledRun(ctx context.Context, id string) (*ScheduledRun, error)
	UpdateScheduledRun(ctx context.Context, id string, update ScheduledRunUpdate) error
	ListScheduledRuns(ctx context.Context, filter ScheduledRunFilter) ([]*ScheduledRun, error)
	DeleteScheduledRun(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}

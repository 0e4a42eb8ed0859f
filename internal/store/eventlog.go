package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rendis/flowfunc/pkg/schema"
)

// EventLog records coordinator stage events and replays them into a
// per-stage view of a run.
type EventLog struct {
	store   Store
	logger  *slog.Logger
	timeout time.Duration
}

// NewEventLog wraps a Store. logger may be nil.
func NewEventLog(s Store, logger *slog.Logger) *EventLog {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &EventLog{store: s, logger: logger, timeout: 5 * time.Second}
}

// Observe appends ev. Its signature matches run.StageObserver; failures are
// logged, never returned, so a broken history database cannot fail a run.
func (el *EventLog) Observe(ev schema.StageEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), el.timeout)
	defer cancel()
	if _, err := el.store.AppendStageEvent(ctx, ev); err != nil {
		el.logger.Warn("failed to record stage event",
			slog.String("run_id", ev.RunID),
			slog.String("stage", string(ev.Stage)),
			slog.String("error", err.Error()))
	}
}

// Replay folds a run's events into stage states, in first-seen order.
// It fails when the sequence has gaps.
func (el *EventLog) Replay(ctx context.Context, runID string) ([]*StageState, error) {
	events, err := el.store.ListStageEvents(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get stage events for replay: %w", err)
	}

	for i, e := range events {
		if expected := int64(i + 1); e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	var order []*StageState
	byStage := make(map[schema.Stage]*StageState)
	for _, e := range events {
		st, ok := byStage[e.Stage]
		if !ok {
			st = &StageState{Stage: e.Stage}
			byStage[e.Stage] = st
			order = append(order, st)
		}
		ts := e.Timestamp
		switch e.Type {
		case schema.EventStageStarted:
			st.Status = StageRunning
			st.StartedAt = &ts
		case schema.EventStageCompleted:
			st.Status = StageCompleted
			st.CompletedAt = &ts
			st.Duration = e.Duration
		case schema.EventStageFailed:
			st.Status = StageFailed
			st.CompletedAt = &ts
			st.Duration = e.Duration
			st.Error = e.Error
		}
	}
	return order, nil
}

package store

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowfunc/pkg/schema"
)

func TestEventLog_ObserveAndReplay(t *testing.T) {
	s := newTestStore(t)
	el := NewEventLog(s, slog.New(slog.DiscardHandler))

	ev := func(stage schema.Stage, typ schema.StageEventType, offset time.Duration, errMsg string) schema.StageEvent {
		return schema.StageEvent{RunID: "r1", Stage: stage, Type: typ, Timestamp: t0.Add(offset), Duration: offset, Error: errMsg}
	}
	el.Observe(ev(schema.StageLoadDefinition, schema.EventStageStarted, 0, ""))
	el.Observe(ev(schema.StageLoadDefinition, schema.EventStageCompleted, 10*time.Millisecond, ""))
	el.Observe(ev(schema.StageExecute, schema.EventStageStarted, 20*time.Millisecond, ""))
	el.Observe(ev(schema.StageExecute, schema.EventStageFailed, 30*time.Millisecond, "boom"))
	el.Observe(ev(schema.StageComplete, schema.EventStageStarted, 40*time.Millisecond, ""))

	states, err := el.Replay(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, states, 3)

	assert.Equal(t, schema.StageLoadDefinition, states[0].Stage)
	assert.Equal(t, StageCompleted, states[0].Status)
	assert.Equal(t, 10*time.Millisecond, states[0].Duration)
	require.NotNil(t, states[0].StartedAt)
	require.NotNil(t, states[0].CompletedAt)

	assert.Equal(t, StageFailed, states[1].Status)
	assert.Equal(t, "boom", states[1].Error)

	assert.Equal(t, StageRunning, states[2].Status)
	assert.Nil(t, states[2].CompletedAt)
}

func TestEventLog_ReplayEmpty(t *testing.T) {
	el := NewEventLog(newTestStore(t), nil)
	states, err := el.Replay(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Empty(t, states)
}

// gapStore returns events with a missing sequence number.
type gapStore struct {
	Store
}

func (gapStore) ListStageEvents(context.Context, string) ([]*StageRecord, error) {
	return []*StageRecord{
		{StageEvent: schema.StageEvent{Stage: schema.StageExecute, Type: schema.EventStageStarted}, Sequence: 1},
		{StageEvent: schema.StageEvent{Stage: schema.StageExecute, Type: schema.EventStageCompleted}, Sequence: 3},
	}, nil
}

func TestEventLog_ReplaySequenceGap(t *testing.T) {
	el := NewEventLog(gapStore{}, nil)
	_, err := el.Replay(context.Background(), "r1")
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeStore))
}

// failingStore rejects every append.
type failingStore struct {
	Store
	calls int
}

func (f *failingStore) AppendStageEvent(context.Context, schema.StageEvent) (int64, error) {
	f.calls++
	return 0, errors.New("disk full")
}

func TestEventLog_ObserveSwallowsErrors(t *testing.T) {
	fs := &failingStore{}
	el := NewEventLog(fs, slog.New(slog.DiscardHandler))
	assert.NotPanics(t, func() {
		el.Observe(schema.StageEvent{RunID: "r1", Stage: schema.StageExecute, Type: schema.EventStageStarted})
	})
	assert.Equal(t, 1, fs.calls)
}

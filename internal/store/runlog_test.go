package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLog_AppendAssignsSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seedFlow(t, s)
	run := seedRun(t, s, f.ID)
	rl := NewRunLog(s)

	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Append(ctx, &RunEvent{RunID: run.ID, Type: EventPhaseStarted}))
	}

	events, err := rl.Events(ctx, run.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestRunLog_SequencesArePerRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seedFlow(t, s)
	run1 := seedRun(t, s, f.ID)
	run2 := seedRun(t, s, f.ID)
	rl := NewRunLog(s)

	require.NoError(t, rl.Append(ctx, &RunEvent{RunID: run1.ID, Type: EventRunStarted}))
	require.NoError(t, rl.Append(ctx, &RunEvent{RunID: run1.ID, Type: EventRunCompleted}))
	require.NoError(t, rl.Append(ctx, &RunEvent{RunID: run2.ID, Type: EventRunStarted}))

	events2, err := rl.Events(ctx, run2.ID, 0)
	require.NoError(t, err)
	require.Len(t, events2, 1)
	assert.Equal(t, int64(1), events2[0].Sequence)
}

func TestRunLog_EventsSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seedFlow(t, s)
	run := seedRun(t, s, f.ID)
	rl := NewRunLog(s)

	for i := 0; i < 5; i++ {
		require.NoError(t, rl.Append(ctx, &RunEvent{RunID: run.ID, Type: EventMeshRound, UnitID: "mesh-1"}))
	}

	tail, err := rl.Events(ctx, run.ID, 3)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, int64(4), tail[0].Sequence)
	assert.Equal(t, "mesh-1", tail[0].UnitID)
}

func TestRunLog_ConcurrentAppends(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seedFlow(t, s)
	run := seedRun(t, s, f.ID)
	rl := NewRunLog(s)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = rl.Append(ctx, &RunEvent{RunID: run.ID, Type: EventUnitStarted, UnitID: "u1"})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	events, err := rl.Events(ctx, run.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, n)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestRunLog_Replay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seedFlow(t, s)
	run := seedRun(t, s, f.ID)
	rl := NewRunLog(s)

	require.NoError(t, rl.Append(ctx, &RunEvent{RunID: run.ID, Type: EventRunStarted}))
	require.NoError(t, rl.Append(ctx, &RunEvent{RunID: run.ID, Type: EventUnitStarted, UnitID: "u1"}))
	require.NoError(t, rl.Append(ctx, &RunEvent{
		RunID: run.ID, Type: EventUnitFinished, UnitID: "u1",
		Payload: json.RawMessage(`{"summary":"done"}`),
	}))
	require.NoError(t, rl.Append(ctx, &RunEvent{RunID: run.ID, Type: EventMeshRound, UnitID: "mesh-1"}))
	require.NoError(t, rl.Append(ctx, &RunEvent{RunID: run.ID, Type: EventMeshRound, UnitID: "mesh-1"}))

	progress, err := rl.Replay(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, progress, 2)

	u1 := progress["u1"]
	require.NotNil(t, u1)
	assert.True(t, u1.Done)
	assert.NotNil(t, u1.StartedAt)
	assert.NotNil(t, u1.CompletedAt)
	assert.JSONEq(t, `{"summary":"done"}`, string(u1.Output))

	mesh := progress["mesh-1"]
	require.NotNil(t, mesh)
	assert.False(t, mesh.Done)
	assert.Equal(t, 2, mesh.MeshRounds)
}

func TestRunLog_ReplayEmptyRun(t *testing.T) {
	s := newTestStore(t)
	f := seedFlow(t, s)
	run := seedRun(t, s, f.ID)

	progress, err := NewRunLog(s).Replay(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Empty(t, progress)
}

package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-gateway/internal/tasks"
)

type fakeRooms struct {
	checked []string
	err     error
}

func (f *fakeRooms) DestroyPortalIfEmpty(_ context.Context, roomID string) error {
	f.checked = append(f.checked, roomID)
	return f.err
}

type fakeSweeper struct {
	staleAfter time.Duration
	err        error
}

func (f *fakeSweeper) SweepStale(_ context.Context, staleAfter time.Duration) ([]string, error) {
	f.staleAfter = staleAfter
	return []string{"u-1"}, f.err
}

func TestWorker_DispatchesTasks(t *testing.T) {
	rooms := &fakeRooms{}
	sweeper := &fakeSweeper{}
	ws := &WorkerServer{rooms: rooms, sessions: sweeper}
	mux := ws.Mux()
	ctx := context.Background()

	check, err := tasks.NewEmptyRoomCheckTask("room-1")
	require.NoError(t, err)
	require.NoError(t, mux.ProcessTask(ctx, check))
	assert.Equal(t, []string{"room-1"}, rooms.checked)

	sweep, err := tasks.NewSessionSweepTask(90 * time.Second)
	require.NoError(t, err)
	require.NoError(t, mux.ProcessTask(ctx, sweep))
	assert.Equal(t, 90*time.Second, sweeper.staleAfter)
}

func TestEmptyRoomCheckHandler_Errors(t *testing.T) {
	h := NewEmptyRoomCheckHandler(&fakeRooms{err: errors.New("db down")})
	ctx := context.Background()

	bad := asynq.NewTask(tasks.TypeEmptyRoomCheck, []byte(`not json`))
	err := h.ProcessTask(ctx, bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	task, _ := tasks.NewEmptyRoomCheckTask("room-1")
	err = h.ProcessTask(ctx, task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestSessionSweepHandler_Errors(t *testing.T) {
	h := NewSessionSweepHandler(&fakeSweeper{err: errors.New("redis down")})
	task, _ := tasks.NewSessionSweepTask(time.Minute)
	assert.Error(t, h.ProcessTask(context.Background(), task))

	bad := asynq.NewTask(tasks.TypeSessionSweep, []byte(`{}`))
	assert.ErrorIs(t, h.ProcessTask(context.Background(), bad), asynq.SkipRetry)
}

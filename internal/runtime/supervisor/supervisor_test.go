package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoStopsOnCancel(t *testing.T) {
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, s.Stop(waitCtx(t)))

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "loop", snap[0].Name)
	assert.Zero(t, snap[0].Active)
	assert.Empty(t, snap[0].LastErr)
}

func TestGoErrorCancelsSiblings(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	boom := errors.New("listener died")
	s.Go("server", func(context.Context) error { return boom })
	s.Go("relay", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	err := s.Wait(waitCtx(t))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "server: ")
}

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background())
	s.Go("bad", func(context.Context) error { panic("kaboom") })

	err := s.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, 1, s.Snapshot()[0].Panics)
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	s := New(context.Background())
	var calls atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithBackoff(time.Millisecond, 2*time.Millisecond))

	require.NoError(t, s.Wait(waitCtx(t)))
	assert.EqualValues(t, 3, calls.Load())

	st := s.Snapshot()[0]
	assert.Equal(t, 3, st.Runs)
	assert.Equal(t, 2, st.Restarts)
	assert.Equal(t, "transient", st.LastErr)
}

func TestGoRestartGivesUp(t *testing.T) {
	s := New(context.Background())
	var calls atomic.Int32
	s.GoRestart("doomed", func(context.Context) error {
		calls.Add(1)
		panic("always")
	}, WithBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	err := s.Wait(waitCtx(t))
	require.Error(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestGoRestartStopsOnCancel(t *testing.T) {
	s := New(context.Background())
	started := make(chan struct{})
	s.GoRestart("watch", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return errors.New("closed underneath")
	})
	<-started
	require.NoError(t, s.Stop(waitCtx(t)))
	assert.Empty(t, s.Snapshot()[0].LastErr)
}

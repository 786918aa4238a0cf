package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testService struct {
	BaseService
	started, stopped int
}

func (ts *testService) OnStart(context.Context) error { ts.started++; return nil }
func (ts *testService) OnStop()                       { ts.stopped++ }

func newTestService() *testService {
	ts := &testService{}
	ts.BaseService = *NewBaseService(nil, "TestService", ts)
	return ts
}

func TestBaseServiceWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := newTestService()
	require.NoError(t, ts.Start(ctx))

	waitFinished := make(chan struct{})
	go func() {
		ts.Wait()
		waitFinished <- struct{}{}
	}()

	go ts.Stop() //nolint:errcheck // ignore for tests

	select {
	case <-waitFinished:
		// all good
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected Wait() to finish within 100 ms.")
	}
}

func TestBaseServiceLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := newTestService()
	require.ErrorIs(t, ts.Stop(), ErrNotStarted)

	require.NoError(t, ts.Start(ctx))
	require.True(t, ts.IsRunning())
	require.ErrorIs(t, ts.Start(ctx), ErrAlreadyStarted)

	require.NoError(t, ts.Stop())
	require.False(t, ts.IsRunning())
	require.ErrorIs(t, ts.Stop(), ErrAlreadyStopped)
	require.Error(t, ts.Start(ctx))

	require.Equal(t, 1, ts.started)
	require.Equal(t, 1, ts.stopped)
}

func TestBaseServiceStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	ts := newTestService()
	require.NoError(t, ts.Start(ctx))
	cancel()

	select {
	case <-ts.Quit():
	case <-time.After(time.Second):
		t.Fatal("service did not stop after context cancellation")
	}
	require.False(t, ts.IsRunning())
}

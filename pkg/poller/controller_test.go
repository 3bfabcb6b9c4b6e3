package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/husmancristian/TA_CONSOLE/pkg/models"
	"github.com/husmancristian/TA_CONSOLE/pkg/runview"
)

type response struct {
	state string
	err   error
	gate  chan struct{} // when set the fetch blocks until it is closed
}

// scriptedFetcher answers calls in order; the last response repeats.
type scriptedFetcher struct {
	mu        sync.Mutex
	responses []response
	calls     int
}

func (f *scriptedFetcher) GetTestRun(_ context.Context, id string) (*models.TestRun, error) {
	f.mu.Lock()
	r := f.responses[min(f.calls, len(f.responses)-1)]
	f.calls++
	f.mu.Unlock()

	if r.gate != nil {
		<-r.gate
	}
	if r.err != nil {
		return nil, r.err
	}
	return &models.TestRun{ID: id, CurrentState: r.state, BrainStates: []models.BrainState{}}, nil
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newController(t *testing.T, f Fetcher, opts ...Option) (*Controller, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	opts = append([]Option{WithClock(clock)}, opts...)
	c := New(f, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	t.Cleanup(c.Close)
	return c, clock
}

func TestLoadTerminalNeverPolls(t *testing.T) {
	f := &scriptedFetcher{responses: []response{{state: "FINISHED"}}}
	c, clock := newController(t, f)

	require.NoError(t, c.Load(context.Background(), "run-1"))

	snap := c.Snapshot()
	assert.Equal(t, PhaseSettled, snap.Phase)
	assert.False(t, snap.Polling)
	require.NotNil(t, snap.View)
	assert.Equal(t, runview.StatusPassed, snap.View.Status)

	for i := 0; i < 5; i++ {
		clock.Advance(PollInterval)
	}
	require.Never(t, func() bool { return f.Calls() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 1, f.Calls())
}

func TestAlreadyTerminalRunIsNotReportedAsSettled(t *testing.T) {
	f := &scriptedFetcher{responses: []response{{state: "FINISHED"}}}
	var settled atomic.Int32
	c, _ := newController(t, f, WithSettledHook(func(context.Context, *models.TestRun, runview.RunView) {
		settled.Add(1)
	}))

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Load(context.Background(), "run-1"))
		assert.Equal(t, PhaseSettled, c.Snapshot().Phase)
	}
	require.Never(t, func() bool { return settled.Load() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestPollingStopsAfterTerminalResult(t *testing.T) {
	f := &scriptedFetcher{responses: []response{{state: "PENDING"}, {state: "PENDING"}, {state: "FINISHED"}}}
	var settled atomic.Int32
	c, clock := newController(t, f, WithSettledHook(func(context.Context, *models.TestRun, runview.RunView) {
		settled.Add(1)
	}))

	require.NoError(t, c.Load(context.Background(), "run-1"))
	assert.True(t, c.Snapshot().Polling)
	clock.BlockUntil(1)

	clock.Advance(PollInterval)
	require.Eventually(t, func() bool { return f.Calls() == 2 }, time.Second, 5*time.Millisecond)

	clock.Advance(PollInterval)
	require.Eventually(t, func() bool { return c.Snapshot().Phase == PhaseSettled }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, f.Calls())
	assert.False(t, c.Snapshot().Polling)

	for i := 0; i < 5; i++ {
		clock.Advance(PollInterval)
	}
	require.Never(t, func() bool { return f.Calls() > 3 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, int32(1), settled.Load())
}

func TestTickErrorKeepsPolling(t *testing.T) {
	f := &scriptedFetcher{responses: []response{
		{state: "RUNNING"},
		{err: errors.New("connection reset")},
		{state: "RUNNING"},
	}}
	c, clock := newController(t, f)

	require.NoError(t, c.Load(context.Background(), "run-1"))
	first := c.Snapshot().View
	clock.BlockUntil(1)

	clock.Advance(PollInterval)
	require.Eventually(t, func() bool {
		return f.Calls() == 2 && c.Snapshot().Phase == PhasePolling
	}, time.Second, 5*time.Millisecond)

	snap := c.Snapshot()
	assert.True(t, snap.Polling)
	assert.NoError(t, snap.Err)
	assert.Same(t, first, snap.View, "last good view must survive a failed tick")

	clock.Advance(PollInterval)
	require.Eventually(t, func() bool { return f.Calls() == 3 }, time.Second, 5*time.Millisecond)
}

func TestInitialLoadFailureDoesNotArm(t *testing.T) {
	boom := errors.New("dial tcp: connection refused")
	f := &scriptedFetcher{responses: []response{{err: boom}}}
	c, clock := newController(t, f)

	err := c.Load(context.Background(), "run-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	snap := c.Snapshot()
	assert.Equal(t, PhaseFailed, snap.Phase)
	assert.False(t, snap.Polling)
	assert.Nil(t, snap.View)
	assert.True(t, snap.Terminal())

	clock.Advance(3 * PollInterval)
	require.Never(t, func() bool { return f.Calls() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestCloseDiscardsLateTickResponse(t *testing.T) {
	gate := make(chan struct{})
	f := &scriptedFetcher{responses: []response{{state: "RUNNING"}, {state: "FINISHED", gate: gate}}}
	var settled atomic.Int32
	c, clock := newController(t, f, WithSettledHook(func(context.Context, *models.TestRun, runview.RunView) {
		settled.Add(1)
	}))

	require.NoError(t, c.Load(context.Background(), "run-1"))
	clock.BlockUntil(1)
	clock.Advance(PollInterval)
	require.Eventually(t, func() bool { return f.Calls() == 2 }, time.Second, 5*time.Millisecond)

	c.Close()
	close(gate)

	require.Never(t, func() bool { return settled.Load() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	snap := c.Snapshot()
	require.NotNil(t, snap.View)
	assert.Equal(t, runview.StatusPending, snap.View.Status)
	assert.False(t, snap.Polling)

	assert.ErrorIs(t, c.Load(context.Background(), "run-1"), ErrClosed)
}

func TestNewLoadSupersedesInFlightLoad(t *testing.T) {
	gate := make(chan struct{})
	f := &scriptedFetcher{responses: []response{{state: "RUNNING", gate: gate}, {state: "PASSED"}}}
	c, _ := newController(t, f)

	done := make(chan error, 1)
	go func() { done <- c.Load(context.Background(), "run-a") }()
	require.Eventually(t, func() bool { return f.Calls() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Load(context.Background(), "run-b"))
	close(gate)

	require.ErrorIs(t, <-done, ErrSuperseded)
	snap := c.Snapshot()
	assert.Equal(t, "run-b", snap.RunID)
	assert.Equal(t, PhaseSettled, snap.Phase)
	assert.False(t, snap.Polling)
}

func TestUpdatesSignalScrollOnlyOnTicks(t *testing.T) {
	f := &scriptedFetcher{responses: []response{{state: "RUNNING"}, {state: "RUNNING"}}}
	c, clock := newController(t, f)

	require.NoError(t, c.Load(context.Background(), "run-1"))
	initial := <-c.Updates()
	assert.False(t, initial.ScrollToBottom)
	assert.False(t, initial.Loading)
	assert.True(t, initial.Polling)
	assert.Equal(t, initial.Version, c.Snapshot().Version)

	clock.BlockUntil(1)
	clock.Advance(PollInterval)

	select {
	case u := <-c.Updates():
		assert.True(t, u.ScrollToBottom)
		assert.Equal(t, PhasePolling, u.Phase)
		assert.Greater(t, u.Version, initial.Version)
	case <-time.After(time.Second):
		t.Fatal("no update after tick")
	}
}

func TestUpdatesClosedOnClose(t *testing.T) {
	c, _ := newController(t, &scriptedFetcher{responses: []response{{state: "PASSED"}}})
	c.Close()
	c.Close()

	for range c.Updates() {
	}
	_, ok := <-c.Updates()
	assert.False(t, ok)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "refreshing", PhaseRefreshing.String())
	assert.Equal(t, "phase(42)", Phase(42).String())
}

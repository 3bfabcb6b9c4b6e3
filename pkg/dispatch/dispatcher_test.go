package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/husmancristian/TA_CONSOLE/pkg/backend"
	"github.com/husmancristian/TA_CONSOLE/pkg/models"
	"github.com/husmancristian/TA_CONSOLE/pkg/queue"
)

type outcome struct {
	acked   bool
	nacked  bool
	requeue bool
}

type fakeAck struct{ o *outcome }

func (a fakeAck) Ack() error {
	a.o.acked = true
	return nil
}

func (a fakeAck) Nack(requeue bool) error {
	a.o.nacked = true
	a.o.requeue = requeue
	return nil
}

type fakeSource struct {
	mu       sync.Mutex
	pending  []*models.RunRequest
	outcomes map[string]*outcome
}

func newSource(ids ...string) *fakeSource {
	s := &fakeSource{outcomes: map[string]*outcome{}}
	for _, id := range ids {
		s.pending = append(s.pending, &models.RunRequest{ID: "req-" + id, TestCaseID: id, RequestedAt: time.Now()})
	}
	return s
}

func (s *fakeSource) NextRunRequest(context.Context) (*models.RunRequest, queue.AckNacker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil, nil, nil
	}
	req := s.pending[0]
	s.pending = s.pending[1:]
	o := &outcome{}
	s.outcomes[req.TestCaseID] = o
	return req, fakeAck{o}, nil
}

type fakeTrigger struct {
	mu    sync.Mutex
	errs  map[string]error
	calls []string
}

func (f *fakeTrigger) RunTestCase(_ context.Context, id string) (*models.TestRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	return &models.TestRun{ID: "run-" + id, CurrentState: models.StatusPending}, nil
}

func (f *fakeTrigger) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestDrainDispatchesAndAcks(t *testing.T) {
	source := newSource("tc-1", "tc-2")
	trigger := &fakeTrigger{}

	n, err := New(source, trigger, time.Second, discard()).Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"tc-1", "tc-2"}, trigger.calls)
	assert.True(t, source.outcomes["tc-1"].acked)
	assert.True(t, source.outcomes["tc-2"].acked)
}

func TestDrainDropsRejectedRequests(t *testing.T) {
	source := newSource("missing", "tc-2")
	trigger := &fakeTrigger{errs: map[string]error{
		"missing": &backend.APIError{StatusCode: 404, Status: "404 Not Found"},
	}}

	n, err := New(source, trigger, time.Second, discard()).Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	dropped := source.outcomes["missing"]
	assert.True(t, dropped.nacked)
	assert.False(t, dropped.requeue)
	assert.True(t, source.outcomes["tc-2"].acked)
}

func TestDrainRequeuesAndStopsOnTransientFailure(t *testing.T) {
	source := newSource("tc-1", "tc-2")
	trigger := &fakeTrigger{errs: map[string]error{"tc-1": errors.New("connection refused")}}

	n, err := New(source, trigger, time.Second, discard()).Drain(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, n)

	assert.True(t, source.outcomes["tc-1"].requeue)
	assert.Len(t, source.pending, 1, "the round stops after a transient failure")
}

func TestRunPollsEveryInterval(t *testing.T) {
	source := newSource("tc-1")
	trigger := &fakeTrigger{}
	clock := clockwork.NewFakeClock()
	d := New(source, trigger, 5*time.Second, discard()).WithClock(clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return trigger.Calls() == 1 }, time.Second, 5*time.Millisecond)

	source.mu.Lock()
	source.pending = append(source.pending, &models.RunRequest{ID: "req-tc-2", TestCaseID: "tc-2", RequestedAt: time.Now()})
	source.mu.Unlock()

	clock.BlockUntil(1)
	clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return trigger.Calls() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

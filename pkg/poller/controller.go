// Package poller drives the load-then-poll lifecycle of one run detail view.
//
// A Controller performs the initial fetch for a run, and while the run is
// pending re-fetches it on a fixed interval until it settles. At most one
// ticker is armed per controller. Every load bumps a generation counter and
// results belonging to an older generation are dropped, so a response that
// arrives after Close or after a newer Load never reaches the view.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/husmancristian/TA_CONSOLE/pkg/models"
	"github.com/husmancristian/TA_CONSOLE/pkg/runview"
)

// PollInterval is fixed and intentionally not configurable.
const PollInterval = 3000 * time.Millisecond

const defaultFetchTimeout = 15 * time.Second

var (
	// ErrSuperseded is returned by Load when a newer Load or Close happened
	// while its fetch was in flight. The result was discarded.
	ErrSuperseded = errors.New("load superseded by a newer request")
	ErrClosed     = errors.New("poller is closed")
)

// Fetcher is the part of the backend client the controller needs.
type Fetcher interface {
	GetTestRun(ctx context.Context, id string) (*models.TestRun, error)
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhasePolling
	PhaseRefreshing
	PhaseSettled
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhasePolling:
		return "polling"
	case PhaseRefreshing:
		return "refreshing"
	case PhaseSettled:
		return "settled"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	RunID string
	Phase Phase
	// Loading is the page-level indicator. Only the initial fetch sets it.
	Loading bool
	// Polling is true while a ticker is armed.
	Polling    bool
	View       *runview.RunView
	Err        error
	Generation uint64
	// Version increases with every published update. A Snapshot carries the
	// version of the last update published before it was taken.
	Version uint64
}

// Terminal reports whether no further updates will follow for this load.
func (s Snapshot) Terminal() bool {
	return s.Phase == PhaseSettled || s.Phase == PhaseFailed
}

// Update is published after every committed state change.
type Update struct {
	Snapshot
	// ScrollToBottom is set when a tick appended data to a still pending run.
	// The initial load never sets it.
	ScrollToBottom bool
}

// SettledHook runs once per load when a tick observes the run leave a pending
// status. A run that is already terminal on the initial fetch is not reported:
// it settled before this controller was watching it. The hook runs on the poll
// goroutine, never inside Load.
type SettledHook func(ctx context.Context, run *models.TestRun, view runview.RunView)

type Option func(*Controller)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

func WithSettledHook(hook SettledHook) Option {
	return func(c *Controller) { c.onSettled = hook }
}

// WithBaseContext sets the parent context of background tick fetches and of
// the settled hook. It defaults to context.Background.
func WithBaseContext(ctx context.Context) Option {
	return func(c *Controller) { c.baseCtx = ctx }
}

func WithFetchTimeout(timeout time.Duration) Option {
	return func(c *Controller) {
		if timeout > 0 {
			c.fetchTimeout = timeout
		}
	}
}

type Controller struct {
	fetcher      Fetcher
	logger       *slog.Logger
	clock        clockwork.Clock
	onSettled    SettledHook
	baseCtx      context.Context
	fetchTimeout time.Duration

	mu          sync.Mutex
	runID       string
	phase       Phase
	view        *runview.RunView
	err         error
	generation  uint64
	version     uint64
	ticker      clockwork.Ticker
	stop        chan struct{}
	cancelFetch context.CancelFunc
	closed      bool

	updates chan Update
}

func New(fetcher Fetcher, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		fetcher:      fetcher,
		logger:       logger.With(slog.String("component", "poller")),
		clock:        clockwork.NewRealClock(),
		baseCtx:      context.Background(),
		fetchTimeout: defaultFetchTimeout,
		updates:      make(chan Update, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Updates delivers state changes. Only the latest unread update is kept; a
// slow reader skips intermediate ones but always sees the newest state. The
// channel is closed by Close.
func (c *Controller) Updates() <-chan Update {
	return c.updates
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Load disarms any running poll, fetches run id once and stores the derived
// view. A pending run arms the poll ticker; a terminal run does not and does
// not trigger the settled hook. An error
// from the initial fetch puts the controller in PhaseFailed and is returned.
func (c *Controller) Load(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.disarmLocked()
	c.generation++
	gen := c.generation
	c.runID = id
	c.phase = PhaseLoading
	c.view = nil
	c.err = nil
	c.publishLocked(Update{Snapshot: c.snapshotLocked()})
	c.mu.Unlock()

	logger := c.logger.With(slog.String("run_id", id), slog.Uint64("generation", gen))
	logger.Debug("Loading test run")

	run, err := c.fetcher.GetTestRun(ctx, id)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		logger.Debug("Discarding superseded load result")
		return ErrSuperseded
	}
	if err != nil {
		c.phase = PhaseFailed
		c.err = err
		c.publishLocked(Update{Snapshot: c.snapshotLocked()})
		c.mu.Unlock()
		logger.Error("Failed to load test run", slog.String("error", err.Error()))
		return fmt.Errorf("load test run %s: %w", id, err)
	}

	view := runview.Transform(run)
	c.view = &view
	settled := !view.Status.IsPending()
	if settled {
		c.phase = PhaseSettled
	} else {
		c.phase = PhasePolling
		c.armLocked(gen)
	}
	c.publishLocked(Update{Snapshot: c.snapshotLocked()})
	c.mu.Unlock()

	logger.Info("Test run loaded", slog.String("status", string(view.Status)), slog.Int("steps", view.TotalSteps))
	return nil
}

// Close disarms the ticker, invalidates in-flight fetches and closes Updates.
// It is safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.disarmLocked()
	c.generation++
	c.closed = true
	close(c.updates)
}

func (c *Controller) armLocked(gen uint64) {
	ticker := c.clock.NewTicker(PollInterval)
	stop := make(chan struct{})
	c.ticker = ticker
	c.stop = stop
	go c.poll(gen, ticker, stop)
}

func (c *Controller) disarmLocked() {
	if c.ticker != nil {
		c.ticker.Stop()
		close(c.stop)
		c.ticker = nil
		c.stop = nil
	}
	if c.cancelFetch != nil {
		c.cancelFetch()
		c.cancelFetch = nil
	}
}

// poll runs ticks one at a time; a tick that is still fetching when the next
// interval elapses delays that tick rather than overlapping it.
func (c *Controller) poll(gen uint64, ticker clockwork.Ticker, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if done := c.tick(gen); done {
				return
			}
		}
	}
}

// tick reports whether polling for gen is over.
func (c *Controller) tick(gen uint64) bool {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return true
	}
	id := c.runID
	c.phase = PhaseRefreshing
	ctx, cancel := context.WithTimeout(c.baseCtx, c.fetchTimeout)
	c.cancelFetch = cancel
	c.mu.Unlock()

	run, err := c.fetcher.GetTestRun(ctx, id)
	cancel()

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.logger.Debug("Discarding late poll result", slog.String("run_id", id), slog.Uint64("generation", gen))
		return true
	}
	c.cancelFetch = nil

	if err != nil {
		// Assume the run is still going; keep the last good view and try again next interval.
		c.phase = PhasePolling
		c.mu.Unlock()
		c.logger.Warn("Poll fetch failed, will retry", slog.String("run_id", id), slog.String("error", err.Error()))
		return false
	}

	view := runview.Transform(run)
	c.view = &view
	update := Update{}
	settled := !view.Status.IsPending()
	if settled {
		c.phase = PhaseSettled
		c.disarmLocked()
	} else {
		c.phase = PhasePolling
		update.ScrollToBottom = true
	}
	update.Snapshot = c.snapshotLocked()
	c.publishLocked(update)
	c.mu.Unlock()

	if settled {
		c.logger.Info("Test run settled", slog.String("run_id", id), slog.String("status", string(view.Status)))
		c.settle(run, view)
	}
	return settled
}

func (c *Controller) settle(run *models.TestRun, view runview.RunView) {
	if c.onSettled == nil {
		return
	}
	c.onSettled(c.baseCtx, run, view)
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		RunID:      c.runID,
		Phase:      c.phase,
		Loading:    c.phase == PhaseLoading,
		Polling:    c.ticker != nil,
		View:       c.view,
		Err:        c.err,
		Generation: c.generation,
		Version:    c.version,
	}
}

// publishLocked replaces any unread update with u. All writers hold c.mu, so
// the second send cannot block.
func (c *Controller) publishLocked(u Update) {
	if c.closed {
		return
	}
	c.version++
	u.Version = c.version
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- u:
	default:
	}
}

// Package dispatch turns queued run requests into backend executions.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/husmancristian/TA_CONSOLE/pkg/backend"
	"github.com/husmancristian/TA_CONSOLE/pkg/models"
	"github.com/husmancristian/TA_CONSOLE/pkg/queue"
)

// Source yields queued run requests.
type Source interface {
	NextRunRequest(ctx context.Context) (*models.RunRequest, queue.AckNacker, error)
}

// Trigger starts a test case on the backend.
type Trigger interface {
	RunTestCase(ctx context.Context, testCaseID string) (*models.TestRun, error)
}

type Dispatcher struct {
	source   Source
	trigger  Trigger
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
}

func New(source Source, trigger Trigger, interval time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		source:   source,
		trigger:  trigger,
		interval: interval,
		clock:    clockwork.NewRealClock(),
		logger:   logger.With(slog.String("component", "dispatcher")),
	}
}

// WithClock replaces the clock that spaces queue polls.
func (d *Dispatcher) WithClock(clock clockwork.Clock) *Dispatcher {
	d.clock = clock
	return d
}

// Run drains the queue every interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("Run-request dispatcher started", slog.Duration("interval", d.interval))
	ticker := d.clock.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.Drain(ctx); err != nil && ctx.Err() == nil {
			d.logger.Warn("Dispatch round failed, retrying next interval", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			d.logger.Info("Run-request dispatcher stopped")
			return nil
		case <-ticker.Chan():
		}
	}
}

// Drain dispatches queued requests until the queue is empty or a request
// fails with an error worth retrying. It returns how many runs were started.
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	started := 0
	for ctx.Err() == nil {
		req, ack, err := d.source.NextRunRequest(ctx)
		if err != nil {
			return started, err
		}
		if req == nil {
			return started, nil
		}

		logger := d.logger.With(slog.String("request_id", req.ID), slog.String("test_case_id", req.TestCaseID))
		run, err := d.trigger.RunTestCase(ctx, req.TestCaseID)
		if err != nil {
			if permanent(err) {
				logger.Error("Dropping run request rejected by backend", slog.String("error", err.Error()))
				_ = ack.Nack(false)
				continue
			}
			_ = ack.Nack(true)
			return started, err
		}
		if err := ack.Ack(); err != nil {
			logger.Error("Run started but request could not be acknowledged", slog.String("run_id", run.ID), slog.String("error", err.Error()))
		}
		logger.Info("Dispatched queued run", slog.String("run_id", run.ID), slog.Duration("queued_for", d.clock.Since(req.RequestedAt)))
		started++
	}
	return started, ctx.Err()
}

// permanent reports backend rejections (4xx) that a retry cannot fix.
func permanent(err error) bool {
	var apiErr *backend.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
		apiErr.StatusCode != 408 && apiErr.StatusCode != 429
}

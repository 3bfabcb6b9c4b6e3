package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/husmancristian/TA_CONSOLE/pkg/poller"
	"github.com/husmancristian/TA_CONSOLE/pkg/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v2"
)

func (a *App) watch(c *cli.Context) error {
	runID, err := requireArg(c, "RUN_ID")
	if err != nil {
		return err
	}
	return a.watchRun(c.Context, runID)
}

// watchRun opens the terminal viewer. The archive and queue are used when
// reachable; the viewer never fails because of them.
func (a *App) watchRun(ctx context.Context, runID string) error {
	svc, err := connectServices(ctx, a.cfg, a.viewerLogger(), false)
	if err != nil {
		return err
	}
	defer svc.close()

	ctrl, err := a.viewerController(ctx, svc)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	program := tea.NewProgram(tui.NewModel(ctx, ctrl, runID), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("viewer exited with error: %w", err)
	}
	return nil
}

func (a *App) viewerController(ctx context.Context, svc *services, extra ...poller.Option) (*poller.Controller, error) {
	logger := a.viewerLogger()
	client, err := a.backendClientWithLogger(logger)
	if err != nil {
		return nil, err
	}
	opts := []poller.Option{poller.WithBaseContext(ctx)}
	if svc.recorder.Enabled() {
		opts = append(opts, poller.WithSettledHook(svc.recorder.RunSettled))
	}
	return poller.New(client, logger, append(opts, extra...)...), nil
}

func (a *App) run(c *cli.Context) error {
	testCaseID, err := requireArg(c, "TEST_CASE_ID")
	if err != nil {
		return err
	}
	logger := a.logger.With(slog.String("test_case_id", testCaseID))

	if c.Bool("queued") {
		if c.Bool("watch") {
			return errors.New("--watch cannot be combined with --queued: the run id is only known once the request is dispatched")
		}
		if !a.cfg.QueueEnabled() {
			return errors.New("--queued needs RABBITMQ_URL to be configured")
		}
		svc, err := connectServices(c.Context, a.cfg, logger, true)
		if err != nil {
			return err
		}
		defer svc.close()
		requestID, err := svc.queue.EnqueueRunRequest(c.Context, testCaseID)
		if err != nil {
			return fmt.Errorf("failed to enqueue run request: %w", err)
		}
		fmt.Fprintf(a.out, "Queued run request %s\n", requestID)
		return nil
	}

	client, err := a.backendClient()
	if err != nil {
		return err
	}
	run, err := client.RunTestCase(c.Context, testCaseID)
	if err != nil {
		return err
	}
	logger.Info("Started test run", slog.String("run_id", run.ID))
	fmt.Fprintf(a.out, "Started run %s\n", run.ID)

	if c.Bool("watch") {
		return a.watchRun(c.Context, run.ID)
	}
	return nil
}

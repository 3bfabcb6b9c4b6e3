// Package cli is the ta-console command line: the console API server, the
// terminal run viewer and thin commands over the backend resources.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/husmancristian/TA_CONSOLE/pkg/backend"
	"github.com/husmancristian/TA_CONSOLE/pkg/config"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

const AppName = "ta-console"

type App struct {
	cli    *cli.App
	out    io.Writer
	errOut io.Writer

	cfg     *config.Config
	logger  *slog.Logger
	logFile *os.File
}

func New() *App {
	app := &App{out: os.Stdout, errOut: os.Stderr}
	app.cli = &cli.App{
		Name:  AppName,
		Usage: "Console for the test automation backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "backend-url",
				Usage:   "Backend API root, e.g. http://localhost:8000/api",
				EnvVars: []string{"BACKEND_URL"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error (overrides LOG_LEVEL)",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Write logs to this file instead of stderr",
			},
		},
		Before: app.before,
		After:  app.after,
	}

	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "serve",
		Usage:  "Run the console HTTP API",
		Action: app.serve,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "watch",
		Usage:     "Show a test run and follow it until it settles",
		ArgsUsage: "RUN_ID",
		Action:    app.watch,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "run",
		Usage:     "Execute a test case",
		ArgsUsage: "TEST_CASE_ID",
		Action:    app.run,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Follow the new run in the terminal viewer",
			},
			&cli.BoolFlag{
				Name:  "queued",
				Usage: "Enqueue a run request instead of starting the run now (needs RABBITMQ_URL)",
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, testCaseCommand(app), browserConfigCommand(app))
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:  "secrets",
		Usage: "Manage secrets",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List secrets with their values masked",
				Action: app.listSecrets,
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:  "projects",
		Usage: "Manage projects",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List projects",
				Action: app.listProjects,
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, runsCommand(app))
	return app
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetOutput redirects command output; logs are unaffected.
func (a *App) SetOutput(w io.Writer) {
	a.out = w
	a.cli.Writer = w
}

// before loads .env and the configuration and sets up logging. Flags win over
// the environment.
func (a *App) before(ctx *cli.Context) error {
	// Only attempt to load a .env file if APP_ENV is not 'production'.
	var dotenvErr error
	if os.Getenv("APP_ENV") != "production" {
		dotenvErr = godotenv.Load()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if ctx.IsSet("backend-url") {
		cfg.BackendURL = ctx.String("backend-url")
	}
	if ctx.IsSet("log-level") {
		cfg.LogLevel = ctx.String("log-level")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	w := a.errOut
	if path := ctx.String("log-file"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		a.logFile = f
		w = f
	}
	a.logger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))

	if dotenvErr != nil {
		a.logger.Debug("Could not load .env file, relying on environment variables", slog.String("error", dotenvErr.Error()))
	}
	return nil
}

func (a *App) after(*cli.Context) error {
	if a.logFile != nil {
		return a.logFile.Close()
	}
	return nil
}

// viewerLogger is the logger for everything running while the terminal viewer
// owns the screen. Without --log-file it discards: stderr is the same terminal.
func (a *App) viewerLogger() *slog.Logger {
	if a.logFile != nil {
		return a.logger
	}
	return slog.New(slog.DiscardHandler)
}

func (a *App) backendClient() (*backend.Client, error) {
	return a.backendClientWithLogger(a.logger)
}

func (a *App) backendClientWithLogger(logger *slog.Logger) (*backend.Client, error) {
	return backend.NewClient(a.cfg.BackendURL, logger,
		backend.WithToken(a.cfg.BackendToken),
		backend.WithTimeout(a.cfg.BackendTimeout),
	)
}

// requireArg returns the single positional argument of a command.
func requireArg(ctx *cli.Context, name string) (string, error) {
	if ctx.NArg() != 1 || ctx.Args().First() == "" {
		return "", fmt.Errorf("%s expects exactly one argument: %s", ctx.Command.Name, name)
	}
	return ctx.Args().First(), nil
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/husmancristian/TA_CONSOLE/pkg/api"
	"github.com/husmancristian/TA_CONSOLE/pkg/archive"
	"github.com/husmancristian/TA_CONSOLE/pkg/config"
	"github.com/husmancristian/TA_CONSOLE/pkg/dispatch"
	"github.com/husmancristian/TA_CONSOLE/pkg/queue"
	"github.com/husmancristian/TA_CONSOLE/pkg/queue/rabbitmq"
	"github.com/husmancristian/TA_CONSOLE/pkg/storage"
	"github.com/husmancristian/TA_CONSOLE/pkg/storage/persistent"

	"github.com/urfave/cli/v2"
)

// services are the optional backing services. Nil fields are disabled.
type services struct {
	store    *persistent.Store
	queue    *rabbitmq.RabbitMQManager
	recorder *archive.Recorder
}

func (s *services) close() {
	if s.queue != nil {
		_ = s.queue.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

func (s *services) runArchive() storage.RunArchive {
	if s.store != nil && s.store.ArchiveEnabled() {
		return s.store
	}
	return nil
}

func (s *services) queueManager() queue.Manager {
	if s.queue != nil {
		return s.queue
	}
	return nil
}

// connectServices connects whatever cfg enables. With strict set the first
// failure is returned; otherwise failures are logged and that service stays off.
func connectServices(ctx context.Context, cfg *config.Config, logger *slog.Logger, strict bool) (*services, error) {
	s := &services{}
	fail := func(what string, err error) error {
		if strict {
			s.close()
			return fmt.Errorf("failed to initialize %s: %w", what, err)
		}
		logger.Warn("Continuing without "+what, slog.String("error", err.Error()))
		return nil
	}

	if cfg.ArchiveEnabled() || cfg.ArtifactsEnabled() {
		store, err := persistent.NewStore(ctx, persistent.Options{
			PostgresDSN:     cfg.Postgres_DSN,
			MinIOEndpoint:   cfg.MinIO_Endpoint,
			MinIOAccessKey:  cfg.MinIO_AccessKey,
			MinIOSecretKey:  cfg.MinIO_SecretKey,
			MinIOBucketName: cfg.MinIO_BucketName,
			MinIOUseSSL:     cfg.MinIO_UseSSL,
		}, logger)
		if err != nil {
			if err := fail("run archive", err); err != nil {
				return nil, err
			}
		} else {
			s.store = store
		}
	}

	if cfg.QueueEnabled() {
		qm, err := rabbitmq.NewRabbitMQManager(cfg.RabbitMQ_URL, logger)
		if err != nil {
			if err := fail("RabbitMQ", err); err != nil {
				return nil, err
			}
		} else {
			s.queue = qm
		}
	}

	var opts []archive.Option
	if s.store != nil && s.store.ArchiveEnabled() {
		opts = append(opts, archive.WithArchive(s.store))
	}
	if s.store != nil && s.store.ArtifactsEnabled() {
		opts = append(opts, archive.WithArtifacts(s.store))
	}
	if s.queue != nil {
		opts = append(opts, archive.WithPublisher(s.queue))
	}
	s.recorder = archive.NewRecorder(logger, opts...)
	return s, nil
}

func (a *App) serve(c *cli.Context) error {
	cfg := a.cfg
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: mustLevel(cfg.LogLevel)}))
	if a.logFile != nil {
		logger = a.logger
	}
	slog.SetDefault(logger)
	logger.Info("Starting TA console server...", slog.String("log_level", cfg.LogLevel), slog.String("backend_url", cfg.BackendURL))

	// --- Context for graceful shutdown ---
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Dependency Injection ---
	client, err := a.backendClient()
	if err != nil {
		return err
	}
	svc, err := connectServices(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer svc.close()

	apiHandler := api.NewAPI(client, svc.queueManager(), svc.runArchive(), svc.recorder, logger, cfg)
	router := api.SetupRouter(apiHandler, cfg)
	logger.Info("API router configured",
		slog.Bool("archive", svc.runArchive() != nil),
		slog.Bool("queue", svc.queue != nil),
		slog.Bool("artifacts", svc.store != nil && svc.store.ArtifactsEnabled()),
	)

	if qm := svc.queueManager(); qm != nil {
		go func() {
			if err := dispatch.New(qm, client, cfg.DispatchInterval, logger).Run(ctx); err != nil {
				logger.Error("Run-request dispatcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	// --- HTTP Server Setup ---
	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: cfg.RequestTimeout + (5 * time.Second),
		// No WriteTimeout: watch streams stay open until the run settles.
		// Other routes are bounded by the router's timeout middleware.
		IdleTimeout: 60 * time.Second,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		var err error
		if cfg.TLSEnabled() {
			logger.Info("Server starting on address", "protocol", "https", "address", server.Addr)
			err = server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			logger.Info("Server starting on address", "protocol", "http", "address", server.Addr)
			err = server.ListenAndServe()
		}
		if errors.Is(err, syscall.EADDRINUSE) {
			logger.Error("Port is already in use. Is another instance of the console already running?", slog.String("address", server.Addr))
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("Shutdown signal received, starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server graceful shutdown failed", slog.String("error", err.Error()))
	} else {
		logger.Info("Server gracefully stopped")
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	default:
	}
	logger.Info("Shutdown complete.")
	return nil
}

func mustLevel(level string) slog.Level {
	l, _ := config.ParseLogLevel(level)
	return l
}

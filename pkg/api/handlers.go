package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	httperrors "github.com/husmancristian/TA_CONSOLE/errors" // Error helpers
	"github.com/husmancristian/TA_CONSOLE/pkg/archive"
	"github.com/husmancristian/TA_CONSOLE/pkg/backend"
	"github.com/husmancristian/TA_CONSOLE/pkg/config"
	"github.com/husmancristian/TA_CONSOLE/pkg/poller"
	"github.com/husmancristian/TA_CONSOLE/pkg/queue"
	"github.com/husmancristian/TA_CONSOLE/pkg/runview"
	"github.com/husmancristian/TA_CONSOLE/pkg/storage"

	"github.com/go-chi/chi/v5"
)

const (
	maxBodyBytes     = 1 << 20 // 1 MB
	runNotFound      = "Test run not found"
	testCaseNotFound = "Test case not found"
)

type API struct {
	Backend      *backend.Client
	QueueManager queue.Manager      // nil when RabbitMQ is not configured
	Archive      storage.RunArchive // nil when PostgreSQL is not configured
	Recorder     *archive.Recorder  // settled hook for watched runs, may be nil
	Logger       *slog.Logger
	Config       *config.Config

	// PollerOptions are appended to every watch stream's poller.
	PollerOptions []poller.Option
}

func NewAPI(client *backend.Client, qm queue.Manager, ar storage.RunArchive, rec *archive.Recorder, logger *slog.Logger, cfg *config.Config) *API {
	return &API{Backend: client, QueueManager: qm, Archive: ar, Recorder: rec, Logger: logger, Config: cfg}
}

// HandleGetTestRun returns the derived view of one run.
func (a *API) HandleGetTestRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	logger := a.Logger.With(slog.String("handler", "HandleGetTestRun"), slog.String("run_id", runID))

	run, err := a.Backend.GetTestRun(r.Context(), runID)
	if err != nil {
		httperrors.FromBackend(w, logger, err, runNotFound)
		return
	}
	respondJSON(w, logger, http.StatusOK, runview.Transform(run))
}

// watchFrame is the data of one "run" server-sent event.
type watchFrame struct {
	View           *runview.RunView `json:"view"`
	Phase          string           `json:"phase"`
	Polling        bool             `json:"polling"`
	ScrollToBottom bool             `json:"scroll_to_bottom"`
}

// HandleWatchTestRun streams the run as server-sent events until it settles or
// the client goes away. The first frame is the initial load; a failed initial
// load is a plain JSON error instead of a stream.
func (a *API) HandleWatchTestRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	logger := a.Logger.With(slog.String("handler", "HandleWatchTestRun"), slog.String("run_id", runID))

	flusher, ok := w.(http.Flusher)
	if !ok {
		httperrors.InternalServerError(w, logger, errors.New("response writer does not support flushing"), "Streaming is not supported")
		return
	}

	opts := []poller.Option{
		// Background ticks outlive neither the stream nor Close, which cancels in-flight fetches.
		poller.WithBaseContext(context.WithoutCancel(r.Context())),
	}
	if a.Recorder != nil && a.Recorder.Enabled() {
		opts = append(opts, poller.WithSettledHook(a.Recorder.RunSettled))
	}
	opts = append(opts, a.PollerOptions...)

	ctrl := poller.New(a.Backend, logger, opts...)
	defer ctrl.Close()

	if err := ctrl.Load(r.Context(), runID); err != nil {
		httperrors.FromBackend(w, logger, err, runNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// The first frame is the committed state right after Load. Updates already
	// covered by it are skipped, so a tick racing the stream setup can neither
	// replace nor repeat it.
	snap := ctrl.Snapshot()
	if err := writeEvent(w, "run", newWatchFrame(poller.Update{Snapshot: snap})); err != nil {
		logger.Warn("Failed to write watch frame", slog.String("error", err.Error()))
		return
	}
	flusher.Flush()
	if snap.Terminal() {
		return
	}
	seen := snap.Version

	for {
		select {
		case <-r.Context().Done():
			logger.Debug("Watch client went away")
			return
		case update, ok := <-ctrl.Updates():
			if !ok {
				return
			}
			if update.Version <= seen || update.View == nil {
				continue
			}
			seen = update.Version
			if err := writeEvent(w, "run", newWatchFrame(update)); err != nil {
				logger.Warn("Failed to write watch frame", slog.String("error", err.Error()))
				return
			}
			flusher.Flush()
			if update.Terminal() {
				return
			}
		}
	}
}

func newWatchFrame(u poller.Update) watchFrame {
	return watchFrame{
		View:           u.View,
		Phase:          u.Phase.String(),
		Polling:        u.Polling,
		ScrollToBottom: u.ScrollToBottom,
	}
}

func writeEvent(w http.ResponseWriter, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}

// HandleListTestCaseRuns lists the runs of one test case.
func (a *API) HandleListTestCaseRuns(w http.ResponseWriter, r *http.Request) {
	testCaseID := chi.URLParam(r, "id")
	logger := a.Logger.With(slog.String("handler", "HandleListTestCaseRuns"), slog.String("test_case_id", testCaseID))

	runs, err := a.Backend.ListTestRuns(r.Context(), testCaseID)
	if err != nil {
		httperrors.FromBackend(w, logger, err, testCaseNotFound)
		return
	}
	respondJSON(w, logger, http.StatusOK, runs)
}

// HandleRunTestCase starts a test case now, or with ?queued=true hands it to
// the run-request queue for the dispatcher.
func (a *API) HandleRunTestCase(w http.ResponseWriter, r *http.Request) {
	testCaseID := chi.URLParam(r, "id")
	logger := a.Logger.With(slog.String("handler", "HandleRunTestCase"), slog.String("test_case_id", testCaseID))

	queued, _ := strconv.ParseBool(r.URL.Query().Get("queued"))
	if queued {
		if a.QueueManager == nil {
			httperrors.StatusNotImplemented(w, logger, nil, "Queued runs require RABBITMQ_URL to be configured.")
			return
		}
		requestID, err := a.QueueManager.EnqueueRunRequest(r.Context(), testCaseID)
		if err != nil {
			httperrors.InternalServerError(w, logger, err, "Failed to enqueue run request")
			return
		}
		respondJSON(w, logger, http.StatusAccepted, map[string]string{"request_id": requestID})
		return
	}

	run, err := a.Backend.RunTestCase(r.Context(), testCaseID)
	if err != nil {
		httperrors.FromBackend(w, logger, err, testCaseNotFound)
		return
	}
	logger.Info("Started test run", slog.String("run_id", run.ID))
	respondJSON(w, logger, http.StatusCreated, run)
}

// HandleGetQueueStatus reports how many run requests are waiting.
func (a *API) HandleGetQueueStatus(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleGetQueueStatus"))
	if a.QueueManager == nil {
		httperrors.StatusNotImplemented(w, logger, nil, "The run-request queue is not configured.")
		return
	}
	size, err := a.QueueManager.QueueSize(r.Context())
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to get queue size")
		return
	}
	respondJSON(w, logger, http.StatusOK, map[string]int{"pending_requests": size})
}

// HandleListArchivedRuns lists archived runs, newest first.
func (a *API) HandleListArchivedRuns(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleListArchivedRuns"))
	if a.Archive == nil {
		httperrors.StatusNotImplemented(w, logger, nil, "The run archive is not configured.")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httperrors.BadRequest(w, logger, err, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	runs, err := a.Archive.ListRuns(r.Context(), limit)
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to list archived runs")
		return
	}
	respondJSON(w, logger, http.StatusOK, runs)
}

// HandleGetArchivedRun returns one archived run with its view.
func (a *API) HandleGetArchivedRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	logger := a.Logger.With(slog.String("handler", "HandleGetArchivedRun"), slog.String("run_id", runID))
	if a.Archive == nil {
		httperrors.StatusNotImplemented(w, logger, nil, "The run archive is not configured.")
		return
	}

	run, err := a.Archive.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httperrors.NotFound(w, logger, nil, "Archived run not found")
			return
		}
		httperrors.InternalServerError(w, logger, err, "Failed to get archived run")
		return
	}
	respondJSON(w, logger, http.StatusOK, run)
}

func respondJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", slog.String("error", err.Error()))
	}
}

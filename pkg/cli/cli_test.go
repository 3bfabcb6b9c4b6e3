package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/husmancristian/TA_CONSOLE/pkg/models"
	"github.com/husmancristian/TA_CONSOLE/pkg/poller"
)

type recordingBackend struct {
	mu        sync.Mutex
	projectID string
	created   []models.BrowserConfig
}

func (b *recordingBackend) handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/test-cases", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.projectID = r.URL.Query().Get("project_id")
		b.mu.Unlock()
		respond(w, http.StatusOK, []models.TestCase{{ID: "tc-1", Name: "Login", ProjectID: "p1", Goal: "Sign in"}})
	})
	r.Post("/test-cases/{id}/run", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusCreated, models.TestRun{ID: "run-9", CurrentState: models.StatusPending})
	})
	r.Get("/secrets", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, []models.Secret{{ID: "s1", Name: "PASSWORD", Value: "hunter2"}})
	})
	r.Post("/browser-configs", func(w http.ResponseWriter, r *http.Request) {
		var bc models.BrowserConfig
		_ = json.NewDecoder(r.Body).Decode(&bc)
		b.mu.Lock()
		b.created = append(b.created, bc)
		bc.ID = "bc-" + bc.Name
		b.mu.Unlock()
		respond(w, http.StatusCreated, bc)
	})
	r.Get("/test-runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, models.TestRun{
			ID:           chi.URLParam(r, "id"),
			CurrentState: models.StatusFailed,
			TestCase:     &models.TestCaseSummary{ID: "tc-1", Name: "Login", Goal: "Sign in"},
			BrainStates: []models.BrainState{{
				ID: "b1", Position: 0, NextGoal: "Open page",
				HistoryElements: []models.HistoryElement{{
					ID: "h1", HistoryElementState: "FAILED",
					Action: models.ActionPayload{InputText: &models.InputTextAction{Index: 2, Text: "<secret>PASSWORD</secret>"}},
				}},
			}},
		})
	})
	return r
}

func (b *recordingBackend) snapshot() (string, []models.BrowserConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.projectID, append([]models.BrowserConfig(nil), b.created...)
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func runApp(t *testing.T, backendURL string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("APP_ENV", "production")
	t.Setenv("RABBITMQ_URL", "")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("MINIO_ENDPOINT", "")

	var out bytes.Buffer
	app := New()
	app.SetOutput(&out)
	argv := append([]string{AppName, "--backend-url", backendURL, "--log-file", filepath.Join(t.TempDir(), "console.log")}, args...)
	err := app.Run(argv)
	return out.String(), err
}

func newBackend(t *testing.T) (*recordingBackend, string) {
	t.Helper()
	b := &recordingBackend{}
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)
	return b, srv.URL
}

func TestListTestCasesFiltersByProject(t *testing.T) {
	b, url := newBackend(t)

	out, err := runApp(t, url, "test-cases", "list", "--project", "p1")
	require.NoError(t, err)
	assert.Contains(t, out, "Login")
	assert.Contains(t, out, "Sign in")
	projectID, _ := b.snapshot()
	assert.Equal(t, "p1", projectID)
}

func TestListSecretsMasksValues(t *testing.T) {
	_, url := newBackend(t)

	out, err := runApp(t, url, "secrets", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "PASSWORD")
	assert.Contains(t, out, models.MaskedValue)
	assert.NotContains(t, out, "hunter2")
}

func TestRunPrintsRunID(t *testing.T) {
	_, url := newBackend(t)

	out, err := runApp(t, url, "run", "tc-1")
	require.NoError(t, err)
	assert.Equal(t, "Started run run-9\n", out)
}

func TestRunRejectsQueuedWatch(t *testing.T) {
	_, url := newBackend(t)

	_, err := runApp(t, url, "run", "--queued", "--watch", "tc-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--watch cannot be combined with --queued")

	_, err = runApp(t, url, "run", "--queued", "tc-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RABBITMQ_URL")
}

func TestViewRunText(t *testing.T) {
	_, url := newBackend(t)

	out, err := runApp(t, url, "runs", "view", "run-3")
	require.NoError(t, err)
	assert.Contains(t, out, "Login [FAILED] run-3")
	assert.Contains(t, out, "Steps: 1 total, 0 passed, 1 failed")
	assert.Contains(t, out, "secret PASSWORD")
}

func TestViewRunJSON(t *testing.T) {
	_, url := newBackend(t)

	out, err := runApp(t, url, "runs", "view", "--json", "run-3")
	require.NoError(t, err)

	var view map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "failed", view["status"])
	assert.Equal(t, float64(1), view["failed_steps"])
}

func TestImportBrowserConfigs(t *testing.T) {
	b, url := newBackend(t)
	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
browser_configs:
  - name: desktop
  - name: mobile
    viewport: {width: 390, height: 844}
`), 0o644))

	out, err := runApp(t, url, "browser-configs", "import", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Created browser config desktop (bc-desktop)")
	_, created := b.snapshot()
	require.Len(t, created, 2)
	assert.Equal(t, 390, created[1].Viewport.Width)
}

func TestCommandsRequireArguments(t *testing.T) {
	_, url := newBackend(t)

	_, err := runApp(t, url, "runs", "view")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RUN_ID")
}

func TestInvalidBackendURL(t *testing.T) {
	_, err := runApp(t, "ftp://backend", "projects", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BACKEND_URL")
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestViewerLogsNothingToStderrWithoutLogFile(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RABBITMQ_URL", "")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("MINIO_ENDPOINT", "")

	// The first fetch finds a running run; every poll after it fails.
	var calls atomic.Int32
	r := chi.NewRouter()
	r.Get("/test-runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			respond(w, http.StatusOK, models.TestRun{ID: "run-1", CurrentState: models.StatusRunning})
			return
		}
		respond(w, http.StatusServiceUnavailable, map[string]string{"detail": "backend restarting"})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	var stdout bytes.Buffer
	stderr := &lockedBuffer{}
	app := New()
	app.SetOutput(&stdout)
	app.errOut = stderr

	clock := clockwork.NewFakeClock()
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name: "poll-once",
		Action: func(c *cli.Context) error {
			svc, err := connectServices(c.Context, app.cfg, app.viewerLogger(), false)
			require.NoError(t, err)
			defer svc.close()
			ctrl, err := app.viewerController(c.Context, svc, poller.WithClock(clock))
			require.NoError(t, err)
			defer ctrl.Close()

			require.NoError(t, ctrl.Load(c.Context, "run-1"))
			clock.BlockUntil(1)
			clock.Advance(poller.PollInterval)
			require.Eventually(t, func() bool {
				return calls.Load() >= 2 && ctrl.Snapshot().Phase == poller.PhasePolling
			}, time.Second, 5*time.Millisecond)
			require.Never(t, func() bool { return stderr.String() != "" }, 100*time.Millisecond, 10*time.Millisecond)

			app.logger.Info("viewer closed")
			return nil
		},
	})

	require.NoError(t, app.Run([]string{AppName, "--backend-url", srv.URL, "poll-once"}))
	out := stderr.String()
	assert.NotContains(t, out, "Poll fetch failed")
	assert.NotContains(t, out, "Test run loaded")
	assert.Contains(t, out, "viewer closed")
}

package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	httperrors "github.com/husmancristian/TA_CONSOLE/errors"
	"github.com/husmancristian/TA_CONSOLE/pkg/models"

	"github.com/go-chi/chi/v5"
)

// validated is a pointer to a backend resource that can check itself.
type validated[T any] interface {
	*T
	Validate() error
}

// resource proxies the five CRUD routes of one backend collection.
type resource[T any, P validated[T]] struct {
	api      *API
	name     string // used in log and error messages
	list     func(r *http.Request) ([]T, error)
	get      func(ctx context.Context, id string) (P, error)
	create   func(ctx context.Context, item P) (P, error)
	update   func(ctx context.Context, id string, item P) (P, error)
	delete   func(ctx context.Context, id string) error
	presentL func(T) T // applied to list items
}

func (res resource[T, P]) mount(r chi.Router) {
	r.Get("/", res.handleList)
	r.Post("/", res.handleCreate)
	r.Get("/{id}", res.handleGet)
	r.Put("/{id}", res.handleUpdate)
	r.Delete("/{id}", res.handleDelete)
}

func (res resource[T, P]) logger(op string) *slog.Logger {
	return res.api.Logger.With(slog.String("handler", op), slog.String("resource", res.name))
}

func (res resource[T, P]) notFound() string {
	return res.name + " not found"
}

func (res resource[T, P]) handleList(w http.ResponseWriter, r *http.Request) {
	logger := res.logger("list")
	items, err := res.list(r)
	if err != nil {
		httperrors.FromBackend(w, logger, err, "")
		return
	}
	if res.presentL != nil {
		for i := range items {
			items[i] = res.presentL(items[i])
		}
	}
	respondJSON(w, logger, http.StatusOK, items)
}

func (res resource[T, P]) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logger := res.logger("get").With(slog.String("id", id))
	item, err := res.get(r.Context(), id)
	if err != nil {
		httperrors.FromBackend(w, logger, err, res.notFound())
		return
	}
	respondJSON(w, logger, http.StatusOK, item)
}

func (res resource[T, P]) handleCreate(w http.ResponseWriter, r *http.Request) {
	logger := res.logger("create")
	item, ok := decodeValid[T, P](w, r, logger)
	if !ok {
		return
	}
	created, err := res.create(r.Context(), item)
	if err != nil {
		httperrors.FromBackend(w, logger, err, "")
		return
	}
	respondJSON(w, logger, http.StatusCreated, created)
}

func (res resource[T, P]) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logger := res.logger("update").With(slog.String("id", id))
	item, ok := decodeValid[T, P](w, r, logger)
	if !ok {
		return
	}
	updated, err := res.update(r.Context(), id, item)
	if err != nil {
		httperrors.FromBackend(w, logger, err, res.notFound())
		return
	}
	respondJSON(w, logger, http.StatusOK, updated)
}

func (res resource[T, P]) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logger := res.logger("delete").With(slog.String("id", id))
	if err := res.delete(r.Context(), id); err != nil {
		httperrors.FromBackend(w, logger, err, res.notFound())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeValid reads a JSON body and rejects it with 400 before it reaches the backend.
func decodeValid[T any, P validated[T]](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (P, bool) {
	defer r.Body.Close()
	item := P(new(T))
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(item); err != nil {
		httperrors.BadRequest(w, logger, err, "Invalid JSON request body")
		return nil, false
	}
	if err := item.Validate(); err != nil {
		httperrors.BadRequest(w, logger, nil, err.Error())
		return nil, false
	}
	return item, true
}

func testCaseResource(a *API) resource[models.TestCase, *models.TestCase] {
	return resource[models.TestCase, *models.TestCase]{
		api:  a,
		name: "Test case",
		list: func(r *http.Request) ([]models.TestCase, error) {
			return a.Backend.ListTestCases(r.Context(), r.URL.Query().Get("project_id"))
		},
		get:    a.Backend.GetTestCase,
		create: a.Backend.CreateTestCase,
		update: a.Backend.UpdateTestCase,
		delete: a.Backend.DeleteTestCase,
	}
}

func browserConfigResource(a *API) resource[models.BrowserConfig, *models.BrowserConfig] {
	return resource[models.BrowserConfig, *models.BrowserConfig]{
		api:  a,
		name: "Browser config",
		list: func(r *http.Request) ([]models.BrowserConfig, error) {
			return a.Backend.ListBrowserConfigs(r.Context())
		},
		get:    a.Backend.GetBrowserConfig,
		create: a.Backend.CreateBrowserConfig,
		update: a.Backend.UpdateBrowserConfig,
		delete: a.Backend.DeleteBrowserConfig,
	}
}

func secretResource(a *API) resource[models.Secret, *models.Secret] {
	return resource[models.Secret, *models.Secret]{
		api:  a,
		name: "Secret",
		list: func(r *http.Request) ([]models.Secret, error) {
			return a.Backend.ListSecrets(r.Context())
		},
		get:      a.Backend.GetSecret,
		create:   a.Backend.CreateSecret,
		update:   a.Backend.UpdateSecret,
		delete:   a.Backend.DeleteSecret,
		presentL: models.Secret.Masked,
	}
}

func projectResource(a *API) resource[models.Project, *models.Project] {
	return resource[models.Project, *models.Project]{
		api:  a,
		name: "Project",
		list: func(r *http.Request) ([]models.Project, error) {
			return a.Backend.ListProjects(r.Context())
		},
		get:    a.Backend.GetProject,
		create: a.Backend.CreateProject,
		update: a.Backend.UpdateProject,
		delete: a.Backend.DeleteProject,
	}
}

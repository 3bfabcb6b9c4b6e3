package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/husmancristian/TA_CONSOLE/pkg/runview"
)

var (
	ErrNotFound = errors.New("archived run not found")
	// ErrDisabled is returned when the backing service was not configured.
	ErrDisabled = errors.New("storage component is not configured")
)

// ArchivedRun is the stored form of a settled run. View holds the full derived
// view with inline artifacts replaced by object URLs.
type ArchivedRun struct {
	RunID         string          `json:"run_id"`
	TestCaseID    string          `json:"test_case_id,omitempty"`
	Name          string          `json:"name"`
	Status        runview.Status  `json:"status"`
	BackendStatus string          `json:"backend_status"`
	TotalSteps    int             `json:"total_steps"`
	PassedSteps   int             `json:"passed_steps"`
	FailedSteps   int             `json:"failed_steps"`
	Duration      float64         `json:"duration_seconds"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
	ArchivedAt    time.Time       `json:"archived_at"`
	View          runview.RunView `json:"view"`
}

// NewArchivedRun copies the summary columns out of a view.
func NewArchivedRun(view runview.RunView) *ArchivedRun {
	return &ArchivedRun{
		RunID:         view.ID,
		TestCaseID:    view.TestCaseID,
		Name:          view.Name,
		Status:        view.Status,
		BackendStatus: view.BackendStatus,
		TotalSteps:    view.TotalSteps,
		PassedSteps:   view.PassedSteps,
		FailedSteps:   view.FailedSteps,
		Duration:      view.Duration,
		StartedAt:     view.StartedAt,
		FinishedAt:    view.FinishedAt,
		View:          view,
	}
}

// RunArchive keeps settled runs after the backend has moved on.
type RunArchive interface {
	// SaveRun inserts or replaces the archived copy of a run.
	SaveRun(ctx context.Context, run *ArchivedRun) error

	// GetRun returns ErrNotFound when the run was never archived.
	GetRun(ctx context.Context, runID string) (*ArchivedRun, error)

	// ListRuns returns the most recently archived runs first, without views.
	ListRuns(ctx context.Context, limit int) ([]ArchivedRun, error)

	Close() error
}

// ArtifactStore handles the storage of binary artifacts (screenshots, GIFs).
type ArtifactStore interface {
	// StoreArtifact uploads the object and returns a URL for it.
	StoreArtifact(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error)
}

// Package archive records settled runs: inline artifacts are mirrored to the
// artifact store, the view is saved to the run archive and a settled event is
// published. Every collaborator is optional.
package archive

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/husmancristian/TA_CONSOLE/pkg/models"
	"github.com/husmancristian/TA_CONSOLE/pkg/queue"
	"github.com/husmancristian/TA_CONSOLE/pkg/runview"
	"github.com/husmancristian/TA_CONSOLE/pkg/storage"
)

type Option func(*Recorder)

func WithArchive(a storage.RunArchive) Option {
	return func(r *Recorder) { r.archive = a }
}

func WithArtifacts(a storage.ArtifactStore) Option {
	return func(r *Recorder) { r.artifacts = a }
}

func WithPublisher(p queue.Publisher) Option {
	return func(r *Recorder) { r.publisher = p }
}

type Recorder struct {
	archive   storage.RunArchive
	artifacts storage.ArtifactStore
	publisher queue.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewRecorder(logger *slog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		logger: logger.With(slog.String("component", "archive")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enabled reports whether recording does anything at all.
func (r *Recorder) Enabled() bool {
	return r.archive != nil || r.artifacts != nil || r.publisher != nil
}

// RunSettled has the shape of poller.SettledHook. Failures are logged only;
// a settled run is displayed whether or not it could be recorded.
func (r *Recorder) RunSettled(ctx context.Context, _ *models.TestRun, view runview.RunView) {
	if err := r.Record(ctx, view); err != nil {
		r.logger.Error("Failed to record settled run", slog.String("run_id", view.ID), slog.String("error", err.Error()))
	}
}

// Record runs every configured step and joins their errors. A failed artifact
// upload leaves the inline data in the archived view.
func (r *Recorder) Record(ctx context.Context, view runview.RunView) error {
	if view.ID == "" {
		return errors.New("cannot record a run without id")
	}
	var errs []error

	archived := view
	if r.artifacts != nil {
		var err error
		archived, err = r.mirrorArtifacts(ctx, view)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if r.archive != nil {
		if err := r.archive.SaveRun(ctx, storage.NewArchivedRun(archived)); err != nil {
			errs = append(errs, fmt.Errorf("archive run: %w", err))
		}
	}

	if r.publisher != nil {
		event := &models.RunSettledEvent{
			RunID:       view.ID,
			TestCaseID:  view.TestCaseID,
			Status:      string(view.Status),
			TotalSteps:  view.TotalSteps,
			FailedSteps: view.FailedSteps,
			Duration:    view.Duration,
			SettledAt:   r.now().UTC(),
		}
		if err := r.publisher.PublishRunSettled(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("publish run settled: %w", err))
		}
	}

	if len(errs) == 0 {
		r.logger.Info("Recorded settled run", slog.String("run_id", view.ID), slog.String("status", string(view.Status)))
	}
	return errors.Join(errs...)
}

// mirrorArtifacts returns a copy of view whose inline screenshots and GIF are
// replaced by artifact URLs. The input view is not modified.
func (r *Recorder) mirrorArtifacts(ctx context.Context, view runview.RunView) (runview.RunView, error) {
	var errs []error
	upload := func(value, object string) string {
		data, contentType, ok := DecodeInline(value)
		if !ok {
			return value
		}
		name := object + extensionFor(contentType)
		url, err := r.artifacts.StoreArtifact(ctx, name, bytes.NewReader(data), int64(len(data)), contentType)
		if err != nil {
			errs = append(errs, fmt.Errorf("store artifact %s: %w", name, err))
			return value
		}
		return url
	}

	out := view
	out.GIF = upload(view.GIF, fmt.Sprintf("runs/%s/run", view.ID))
	out.Steps = make([]runview.Step, len(view.Steps))
	for i, step := range view.Steps {
		step.Actions = append([]runview.Action(nil), step.Actions...)
		for j := range step.Actions {
			object := fmt.Sprintf("runs/%s/step-%d-action-%d", view.ID, step.Number, step.Actions[j].Number)
			step.Actions[j].Screenshot = upload(step.Actions[j].Screenshot, object)
		}
		out.Steps[i] = step
	}
	return out, errors.Join(errs...)
}

// DecodeInline decodes a data URI or a bare base64 image. URLs and empty
// values are not inline and return ok=false.
func DecodeInline(value string) (data []byte, contentType string, ok bool) {
	value = strings.TrimSpace(value)
	if value == "" || strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		return nil, "", false
	}

	if rest, found := strings.CutPrefix(value, "data:"); found {
		meta, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return nil, "", false
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, "", false
		}
		contentType = strings.TrimSuffix(meta, ";base64")
		if contentType == "" {
			contentType = http.DetectContentType(data)
		}
		return data, contentType, true
	}

	// Bare payloads only count when they sniff as an image.
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil || len(data) == 0 {
		return nil, "", false
	}
	contentType = http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", false
	}
	return data, contentType, true
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}

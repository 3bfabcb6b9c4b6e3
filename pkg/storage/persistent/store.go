package persistent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"time"

	"github.com/husmancristian/TA_CONSOLE/pkg/runview"
	"github.com/husmancristian/TA_CONSOLE/pkg/storage"

	"github.com/jackc/pgx/v5"         // Import pgx directly for Rows handling
	"github.com/jackc/pgx/v5/pgxpool" // Using pgx pool
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Ensure Store implements the storage interfaces at compile time
var (
	_ storage.RunArchive    = (*Store)(nil)
	_ storage.ArtifactStore = (*Store)(nil)
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

const (
	createArchiveTableSQL = `
		CREATE TABLE IF NOT EXISTS run_archive (
			run_id VARCHAR(64) PRIMARY KEY,
			test_case_id VARCHAR(64),
			name TEXT NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL,
			backend_status TEXT NOT NULL,
			total_steps INT NOT NULL DEFAULT 0,
			passed_steps INT NOT NULL DEFAULT 0,
			failed_steps INT NOT NULL DEFAULT 0,
			duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ,
			view JSONB NOT NULL,
			archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		-- The backend may report any state string.
		ALTER TABLE run_archive ALTER COLUMN backend_status TYPE TEXT;
		CREATE INDEX IF NOT EXISTS idx_run_archive_archived_at ON run_archive (archived_at DESC);
		CREATE INDEX IF NOT EXISTS idx_run_archive_test_case_id ON run_archive (test_case_id);
	`

	// A run settles once, but the watch command and the server may both archive it.
	upsertRunSQL = `
		INSERT INTO run_archive (
			run_id, test_case_id, name, status, backend_status,
			total_steps, passed_steps, failed_steps, duration_seconds,
			started_at, finished_at, view, archived_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW()
		)
		ON CONFLICT (run_id) DO UPDATE SET
			test_case_id = COALESCE(EXCLUDED.test_case_id, run_archive.test_case_id),
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			backend_status = EXCLUDED.backend_status,
			total_steps = EXCLUDED.total_steps,
			passed_steps = EXCLUDED.passed_steps,
			failed_steps = EXCLUDED.failed_steps,
			duration_seconds = EXCLUDED.duration_seconds,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			view = EXCLUDED.view,
			archived_at = NOW();
	`

	getRunSQL = `
		SELECT
			run_id, test_case_id, name, status, backend_status,
			total_steps, passed_steps, failed_steps, duration_seconds,
			started_at, finished_at, archived_at, view
		FROM run_archive
		WHERE run_id = $1;
	`

	listRunsSQL = `
		SELECT
			run_id, test_case_id, name, status, backend_status,
			total_steps, passed_steps, failed_steps, duration_seconds,
			started_at, finished_at, archived_at
		FROM run_archive
		ORDER BY archived_at DESC
		LIMIT $1;
	`
)

// Options selects which backing services the store connects to. An empty
// Postgres DSN disables the archive, an empty MinIO endpoint disables artifacts.
type Options struct {
	PostgresDSN     string
	MinIOEndpoint   string
	MinIOAccessKey  string
	MinIOSecretKey  string
	MinIOBucketName string
	MinIOUseSSL     bool
	ConnectTimeout  time.Duration
}

// Store implements storage.RunArchive on PostgreSQL and storage.ArtifactStore on MinIO.
type Store struct {
	db          *pgxpool.Pool // PostgreSQL connection pool
	minioClient *minio.Client // MinIO client
	bucketName  string        // MinIO bucket name
	logger      *slog.Logger
}

// NewStore creates a new persistent store instance.
func NewStore(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	s := &Store{bucketName: opts.MinIOBucketName, logger: logger.With(slog.String("component", "storage"))}

	// --- Connect to PostgreSQL ---
	if opts.PostgresDSN != "" {
		dbpool, err := pgxpool.New(ctx, opts.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("unable to create connection pool: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
		if err := dbpool.Ping(pingCtx); err != nil {
			dbpool.Close()
			return nil, fmt.Errorf("unable to ping database: %w", err)
		}
		if _, err := dbpool.Exec(pingCtx, createArchiveTableSQL); err != nil {
			dbpool.Close()
			return nil, fmt.Errorf("unable to create run_archive table: %w", err)
		}
		s.db = dbpool
		s.logger.Info("PostgreSQL connection pool established")
	}

	// --- Connect to MinIO ---
	if opts.MinIOEndpoint != "" {
		if err := s.connectMinIO(ctx, opts); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *Store) connectMinIO(ctx context.Context, opts Options) error {
	if opts.MinIOBucketName == "" {
		return fmt.Errorf("minio bucket name is not configured")
	}
	minioClient, err := minio.New(opts.MinIOEndpoint, &minio.Options{Creds: credentials.NewStaticV4(opts.MinIOAccessKey, opts.MinIOSecretKey, ""), Secure: opts.MinIOUseSSL})
	if err != nil {
		return fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	s.logger.Info("MinIO client initialized", slog.String("endpoint", opts.MinIOEndpoint))

	// --- Ensure MinIO Bucket Exists ---
	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	err = minioClient.MakeBucket(ctx, opts.MinIOBucketName, minio.MakeBucketOptions{})
	if err != nil {
		exists, errBucketExists := minioClient.BucketExists(ctx, opts.MinIOBucketName)
		if errBucketExists == nil && exists {
			s.logger.Info("MinIO bucket already exists", slog.String("bucket", opts.MinIOBucketName))
		} else {
			return fmt.Errorf("failed to make/verify MinIO bucket '%s': %w", opts.MinIOBucketName, err)
		}
	} else {
		s.logger.Info("Successfully created MinIO bucket", slog.String("bucket", opts.MinIOBucketName))
	}
	s.minioClient = minioClient
	return nil
}

func (s *Store) ArchiveEnabled() bool { return s != nil && s.db != nil }

func (s *Store) ArtifactsEnabled() bool { return s != nil && s.minioClient != nil }

// Close closes the database connection pool.
func (s *Store) Close() error {
	s.logger.Info("Closing persistent storage connections")
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// SaveRun UPSERTS the archived run into PostgreSQL.
func (s *Store) SaveRun(ctx context.Context, run *storage.ArchivedRun) error {
	if s.db == nil {
		return storage.ErrDisabled
	}
	if run == nil || run.RunID == "" {
		return fmt.Errorf("cannot archive run with empty run id")
	}
	viewJSON, err := json.Marshal(run.View)
	if err != nil {
		return fmt.Errorf("failed to marshal run view: %w", err)
	}

	_, err = s.db.Exec(ctx, upsertRunSQL,
		run.RunID,
		sql.NullString{String: run.TestCaseID, Valid: run.TestCaseID != ""},
		run.Name,
		string(run.Status),
		run.BackendStatus,
		run.TotalSteps,
		run.PassedSteps,
		run.FailedSteps,
		run.Duration,
		nullTime(run.StartedAt),
		nullTime(run.FinishedAt),
		viewJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to execute upsert for run %s: %w", run.RunID, err)
	}
	s.logger.Info("Archived run", slog.String("run_id", run.RunID), slog.String("status", string(run.Status)))
	return nil
}

// GetRun retrieves one archived run including its view.
func (s *Store) GetRun(ctx context.Context, runID string) (*storage.ArchivedRun, error) {
	if s.db == nil {
		return nil, storage.ErrDisabled
	}
	var viewJSON []byte
	run, err := scanRun(s.db.QueryRow(ctx, getRunSQL, runID), &viewJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query archived run %s: %w", runID, err)
	}
	if err := json.Unmarshal(viewJSON, &run.View); err != nil {
		return nil, fmt.Errorf("failed to unmarshal view of archived run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns archived run summaries, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]storage.ArchivedRun, error) {
	if s.db == nil {
		return nil, storage.ErrDisabled
	}
	rows, err := s.db.Query(ctx, listRunsSQL, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query archived runs: %w", err)
	}
	defer rows.Close()

	runs := []storage.ArchivedRun{}
	for rows.Next() {
		run, err := scanRun(rows, nil)
		if err != nil {
			s.logger.Error("Failed to scan archived run row", slog.String("error", err.Error()))
			continue
		}
		runs = append(runs, *run)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating archived run rows: %w", err)
	}
	return runs, nil
}

// StoreArtifact uploads data to the configured MinIO bucket.
func (s *Store) StoreArtifact(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error) {
	if s.minioClient == nil {
		return "", storage.ErrDisabled
	}
	uploadInfo, err := s.minioClient.PutObject(ctx, s.bucketName, objectName, reader, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact '%s': %w", objectName, err)
	}
	s.logger.Info("Stored artifact", slog.String("bucket", uploadInfo.Bucket), slog.String("key", uploadInfo.Key), slog.Int64("size", uploadInfo.Size))
	return ObjectURL(s.minioClient.EndpointURL(), s.bucketName, objectName), nil
}

// ObjectURL is the path-style URL of an object on the given endpoint.
func ObjectURL(endpoint *url.URL, bucket, objectName string) string {
	u := url.URL{Scheme: "http", Host: endpoint.Host, Path: "/" + path.Join(bucket, objectName)}
	if endpoint.Scheme == "https" {
		u.Scheme = "https"
	}
	return u.String()
}

// ClampLimit applies the default and maximum page size of ListRuns.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// scanRun reads the summary columns; viewJSON receives the view column when non-nil.
func scanRun(row pgx.Row, viewJSON *[]byte) (*storage.ArchivedRun, error) {
	var (
		run                 storage.ArchivedRun
		testCaseID          sql.NullString
		status              string
		startedAt, finished sql.NullTime
	)
	dest := []any{
		&run.RunID, &testCaseID, &run.Name, &status, &run.BackendStatus,
		&run.TotalSteps, &run.PassedSteps, &run.FailedSteps, &run.Duration,
		&startedAt, &finished, &run.ArchivedAt,
	}
	if viewJSON != nil {
		dest = append(dest, viewJSON)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	run.TestCaseID = testCaseID.String
	run.Status = runview.Status(status)
	if startedAt.Valid {
		t := startedAt.Time
		run.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

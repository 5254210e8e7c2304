// Package postgres implements the durable job and track store on pgx.
// It is pure CRUD: state transitions are decided by the orchestrating
// service, never here.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tracklab/api/internal/model"
)

// ErrNotFound is returned when the referenced row does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	progress INT NOT NULL DEFAULT 0,
	current_step TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	error TEXT,
	external_id TEXT,
	request_data JSONB NOT NULL,
	result_data JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs (created_at DESC);

CREATE TABLE IF NOT EXISTS tracks (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
	title TEXT NOT NULL DEFAULT '',
	duration DOUBLE PRECISION NOT NULL DEFAULT 0,
	file_path_wav TEXT NOT NULL DEFAULT '',
	file_path_mp3 TEXT NOT NULL DEFAULT '',
	public_url TEXT NOT NULL DEFAULT '',
	storage_key TEXT NOT NULL DEFAULT '',
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tracks_job_id ON tracks (job_id);
CREATE INDEX IF NOT EXISTS idx_tracks_created_at ON tracks (created_at DESC);
`

// Store is the pgx-backed implementation of the job store.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to Postgres and verifies the connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the jobs and tracks tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close releases the connection pool. Callers must stop all pollers first.
func (s *Store) Close() {
	s.pool.Close()
}

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job *model.Job) error {
	const q = `
INSERT INTO jobs (id, type, status, progress, request_data, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6);
`
	_, err := s.pool.Exec(ctx, q,
		job.ID, job.Type, string(job.Status), job.Progress,
		[]byte(job.RequestData), job.CreatedAt,
	)
	return err
}

const jobColumns = `id, type, status, progress, current_step, message, error, external_id, request_data, result_data, created_at, updated_at`

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		job         model.Job
		statusText  string
		requestData []byte
		resultData  []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Type,
		&statusText,
		&job.Progress,
		&job.CurrentStep,
		&job.Message,
		&job.Error,
		&job.ExternalID,
		&requestData,
		&resultData,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	job.Status = model.JobStatus(statusText)
	job.RequestData = json.RawMessage(requestData)
	if resultData != nil {
		job.ResultData = json.RawMessage(resultData)
	}
	return &job, nil
}

// GetJob retrieves a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*model.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	return scanJob(s.pool.QueryRow(ctx, q, id))
}

// ListJobs retrieves jobs newest first with pagination.
func (s *Store) ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC LIMIT $1 OFFSET $2;`
	rows, err := s.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// JobsByStatus retrieves all jobs in a given status, oldest first. Used by
// the startup sweep that reattaches pollers.
func (s *Store) JobsByStatus(ctx context.Context, status model.JobStatus) ([]*model.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE status = $1 ORDER BY created_at ASC;`
	rows, err := s.pool.Query(ctx, q, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJob applies a partial update. Only the fields set on upd are
// written; everything else is left untouched.
func (s *Store) UpdateJob(ctx context.Context, id string, upd model.JobUpdate) error {
	sets := []string{"updated_at = now()"}
	args := []interface{}{id}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.Progress != nil {
		add("progress", *upd.Progress)
	}
	if upd.CurrentStep != nil {
		add("current_step", *upd.CurrentStep)
	}
	if upd.Message != nil {
		add("message", *upd.Message)
	}
	if upd.Error != nil {
		add("error", *upd.Error)
	} else if upd.ClearError {
		sets = append(sets, "error = NULL")
	}
	if upd.ExternalID != nil {
		add("external_id", *upd.ExternalID)
	}
	if upd.ResultData != nil {
		add("result_data", []byte(upd.ResultData))
	}

	q := fmt.Sprintf("UPDATE jobs SET %s WHERE id = $1;", strings.Join(sets, ", "))
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteJob removes a job row. Owned tracks must be deleted first by the
// caller; the FK cascade is a safety net, not the write path.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateTrack inserts a new track row.
func (s *Store) CreateTrack(ctx context.Context, track *model.Track) error {
	var metadata []byte
	if track.Metadata != nil {
		var err error
		metadata, err = json.Marshal(track.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	const q = `
INSERT INTO tracks (id, job_id, title, duration, file_path_wav, file_path_mp3, public_url, storage_key, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10);
`
	_, err := s.pool.Exec(ctx, q,
		track.ID, track.JobID, track.Title, track.Duration,
		track.FilePathWAV, track.FilePathMP3, track.PublicURL, track.StorageKey,
		metadata, track.CreatedAt,
	)
	return err
}

const trackColumns = `id, job_id, title, duration, file_path_wav, file_path_mp3, public_url, storage_key, metadata, created_at, updated_at`

func scanTrack(row pgx.Row) (*model.Track, error) {
	var (
		track    model.Track
		metadata []byte
	)
	if err := row.Scan(
		&track.ID,
		&track.JobID,
		&track.Title,
		&track.Duration,
		&track.FilePathWAV,
		&track.FilePathMP3,
		&track.PublicURL,
		&track.StorageKey,
		&metadata,
		&track.CreatedAt,
		&track.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if metadata != nil {
		if err := json.Unmarshal(metadata, &track.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &track, nil
}

// GetTrack retrieves a track by id.
func (s *Store) GetTrack(ctx context.Context, id string) (*model.Track, error) {
	q := `SELECT ` + trackColumns + ` FROM tracks WHERE id = $1;`
	return scanTrack(s.pool.QueryRow(ctx, q, id))
}

// ListTracks retrieves tracks newest first with pagination.
func (s *Store) ListTracks(ctx context.Context, limit, offset int) ([]*model.Track, error) {
	q := `SELECT ` + trackColumns + ` FROM tracks ORDER BY created_at DESC LIMIT $1 OFFSET $2;`
	rows, err := s.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tracks []*model.Track
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}
	return tracks, rows.Err()
}

// TracksByJob retrieves all tracks owned by a job.
func (s *Store) TracksByJob(ctx context.Context, jobID string) ([]*model.Track, error) {
	q := `SELECT ` + trackColumns + ` FROM tracks WHERE job_id = $1 ORDER BY created_at ASC;`
	rows, err := s.pool.Query(ctx, q, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tracks []*model.Track
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}
	return tracks, rows.Err()
}

// DeleteTracksByJob removes every track owned by a job.
func (s *Store) DeleteTracksByJob(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tracks WHERE job_id = $1;`, jobID)
	return err
}

// UpdateTrackMirror records the object-storage location of a track after
// its artifact has been mirrored.
func (s *Store) UpdateTrackMirror(ctx context.Context, id, publicURL, storageKey string) error {
	const q = `UPDATE tracks SET public_url = $2, storage_key = $3, updated_at = $4 WHERE id = $1;`
	tag, err := s.pool.Exec(ctx, q, id, publicURL, storageKey, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

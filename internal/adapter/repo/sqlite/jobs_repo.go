package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
)

// JobRepo persists and loads jobs.
type JobRepo struct{ DB *sql.DB }

// NewJobRepo constructs a JobRepo over the given handle.
func NewJobRepo(db *sql.DB) *JobRepo { return &JobRepo{DB: db} }

const jobColumns = `id, prompt, duration, aspect_ratio, image_path, status, percent, error_message,
	retry_count, max_retries, video_url, video_id, generation_id, local_path, account_id, task_state,
	created_at, updated_at`

// Create inserts a new job and returns its id.
func (r *JobRepo) Create(ctx domain.Context, j domain.Job) (int64, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()

	if j.Status == "" {
		j.Status = domain.JobDraft
	}
	if j.MaxRetries == 0 {
		j.MaxRetries = domain.DefaultMaxRetries
	}
	now := time.Now().UTC()
	state, err := marshalTaskState(j.TaskState)
	if err != nil {
		return 0, fmt.Errorf("op=job.create: %w", err)
	}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO jobs
		(prompt, duration, aspect_ratio, image_path, status, percent, error_message, retry_count,
		 max_retries, video_url, video_id, generation_id, local_path, account_id, task_state,
		 created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.Spec.Prompt, j.Spec.Duration, j.Spec.AspectRatio, j.Spec.ImagePath,
		string(j.Status), j.Percent, j.ErrorMessage, j.RetryCount,
		j.MaxRetries, j.VideoURL, j.VideoID, j.GenerationID, j.LocalPath, j.AccountID, state,
		fmtTime(now), fmtTime(now))
	if err != nil {
		return 0, fmt.Errorf("op=job.create: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("op=job.create: %w", err)
	}
	return id, nil
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx domain.Context, id int64) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()

	row := r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	return j, nil
}

// List returns a page of jobs, newest first, optionally filtered by status.
func (r *JobRepo) List(ctx domain.Context, offset, limit int, status domain.JobStatus) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.List")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if status != "" {
		q += ` WHERE status=?`
		args = append(args, string(status))
	}
	q += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=job.list: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectJobs(rows)
}

// ListByStatuses returns every job whose status is in the given set.
func (r *JobRepo) ListByStatuses(ctx domain.Context, statuses ...domain.JobStatus) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListByStatuses")
	defer span.End()

	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, s := range statuses {
		placeholders[i] = "?"
		args[i] = string(s)
	}
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE status IN (` + strings.Join(placeholders, ",") + `) ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=job.list_by_statuses: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectJobs(rows)
}

// ListStale returns active-status jobs whose updated_at is older than cutoff.
func (r *JobRepo) ListStale(ctx domain.Context, cutoff time.Time) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListStale")
	defer span.End()

	placeholders := make([]string, len(domain.ActiveStatuses))
	args := make([]any, 0, len(domain.ActiveStatuses)+1)
	for i, s := range domain.ActiveStatuses {
		placeholders[i] = "?"
		args = append(args, string(s))
	}
	args = append(args, fmtTime(cutoff.UTC()))
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE status IN (` + strings.Join(placeholders, ",") + `)
		AND updated_at <> '' AND updated_at < ? ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=job.list_stale: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectJobs(rows)
}

// CountByStatus returns job counts keyed by status.
func (r *JobRepo) CountByStatus(ctx domain.Context) (map[domain.JobStatus]int, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.CountByStatus")
	defer span.End()

	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("op=job.count_by_status: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := map[domain.JobStatus]int{}
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("op=job.count_by_status: %w", err)
		}
		out[domain.JobStatus(s)] = n
	}
	return out, rows.Err()
}

// FindByVideoID loads the job that produced the given remote video id.
func (r *JobRepo) FindByVideoID(ctx domain.Context, videoID string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.FindByVideoID")
	defer span.End()

	row := r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE video_id=? LIMIT 1`, videoID)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, fmt.Errorf("op=job.find_by_video_id: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.find_by_video_id: %w", err)
	}
	return j, nil
}

// Update persists every mutable field of the job.
func (r *JobRepo) Update(ctx domain.Context, j domain.Job) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Update")
	defer span.End()

	state, err := marshalTaskState(j.TaskState)
	if err != nil {
		return fmt.Errorf("op=job.update: %w", err)
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE jobs SET
		status=?, percent=?, error_message=?, retry_count=?, max_retries=?,
		video_url=?, video_id=?, generation_id=?, local_path=?, account_id=?, task_state=?, updated_at=?
		WHERE id=?`,
		string(j.Status), j.Percent, j.ErrorMessage, j.RetryCount, j.MaxRetries,
		j.VideoURL, j.VideoID, j.GenerationID, j.LocalPath, j.AccountID, state, fmtTime(time.Now().UTC()),
		j.ID)
	if err != nil {
		return fmt.Errorf("op=job.update: %w", err)
	}
	return requireRow(res, "job.update")
}

// UpdateIfStatus persists the job guarded by the status the caller loaded it
// with. Zero rows affected means another writer changed the status first; the
// caller must re-read before acting on the job.
func (r *JobRepo) UpdateIfStatus(ctx domain.Context, j domain.Job, expect domain.JobStatus) (bool, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.UpdateIfStatus")
	defer span.End()

	state, err := marshalTaskState(j.TaskState)
	if err != nil {
		return false, fmt.Errorf("op=job.update_if_status: %w", err)
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE jobs SET
		status=?, percent=?, error_message=?, retry_count=?, max_retries=?,
		video_url=?, video_id=?, generation_id=?, local_path=?, account_id=?, task_state=?, updated_at=?
		WHERE id=? AND status=?`,
		string(j.Status), j.Percent, j.ErrorMessage, j.RetryCount, j.MaxRetries,
		j.VideoURL, j.VideoID, j.GenerationID, j.LocalPath, j.AccountID, state, fmtTime(time.Now().UTC()),
		j.ID, string(expect))
	if err != nil {
		return false, fmt.Errorf("op=job.update_if_status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("op=job.update_if_status: %w", err)
	}
	return n > 0, nil
}

// UpdateStatus updates a job's status and optional error message.
func (r *JobRepo) UpdateStatus(ctx domain.Context, id int64, status domain.JobStatus, errMsg *string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.UpdateStatus")
	defer span.End()

	errVal := ""
	if errMsg != nil {
		errVal = *errMsg
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE jobs SET status=?, error_message=?, updated_at=? WHERE id=?`,
		string(status), errVal, fmtTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("op=job.update_status: %w", err)
	}
	return requireRow(res, "job.update_status")
}

// UpdateProgress writes the completion percentage.
func (r *JobRepo) UpdateProgress(ctx domain.Context, id int64, percent int) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.UpdateProgress")
	defer span.End()

	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE jobs SET percent=?, updated_at=? WHERE id=?`,
		percent, fmtTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("op=job.update_progress: %w", err)
	}
	return requireRow(res, "job.update_progress")
}

// Delete removes a job.
func (r *JobRepo) Delete(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Delete")
	defer span.End()

	res, err := r.DB.ExecContext(ctx, `DELETE FROM jobs WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("op=job.delete: %w", err)
	}
	return requireRow(res, "job.delete")
}

// BulkDelete removes all listed jobs in one statement.
func (r *JobRepo) BulkDelete(ctx domain.Context, ids []int64) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.BulkDelete")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	_, err := r.DB.ExecContext(ctx, `DELETE FROM jobs WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return fmt.Errorf("op=job.bulk_delete: %w", err)
	}
	return nil
}

// BulkUpdateStatus sets the status of all listed jobs.
func (r *JobRepo) BulkUpdateStatus(ctx domain.Context, ids []int64, status domain.JobStatus) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.BulkUpdateStatus")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := []any{string(status), fmtTime(time.Now().UTC())}
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	_, err := r.DB.ExecContext(ctx, `UPDATE jobs SET status=?, updated_at=? WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return fmt.Errorf("op=job.bulk_update_status: %w", err)
	}
	return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanJob(row rowScanner) (domain.Job, error) {
	var (
		j                    domain.Job
		status, state        string
		createdAt, updatedAt string
	)
	err := row.Scan(&j.ID, &j.Spec.Prompt, &j.Spec.Duration, &j.Spec.AspectRatio, &j.Spec.ImagePath,
		&status, &j.Percent, &j.ErrorMessage, &j.RetryCount, &j.MaxRetries,
		&j.VideoURL, &j.VideoID, &j.GenerationID, &j.LocalPath, &j.AccountID, &state,
		&createdAt, &updatedAt)
	if err != nil {
		return domain.Job{}, err
	}
	j.Status = domain.JobStatus(status)
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	j.TaskState = domain.TaskState{}
	if state != "" {
		if err := json.Unmarshal([]byte(state), &j.TaskState); err != nil {
			return domain.Job{}, fmt.Errorf("task_state decode: %w", err)
		}
	}
	return j, nil
}

func collectJobs(rows *sql.Rows) ([]domain.Job, error) {
	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func marshalTaskState(ts domain.TaskState) (string, error) {
	if ts == nil {
		return "{}", nil
	}
	b, err := json.Marshal(ts)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("op=%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
	}
	return nil
}

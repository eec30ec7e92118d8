// Package usecase contains the application services that sit between the HTTP
// surface and the pipeline: job lifecycle commands, bulk operations, and
// account management.
package usecase

import (
	"errors"
	"fmt"
	"time"

	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
	"github.com/fairyhunter13/ai-video-pipeline/internal/pipeline"
)

// JobService implements job lifecycle commands over the repository and the
// task bus.
type JobService struct {
	Jobs domain.JobRepository
	Bus  *pipeline.TaskBus
}

// NewJobService constructs a JobService.
func NewJobService(jobs domain.JobRepository, bus *pipeline.TaskBus) JobService {
	return JobService{Jobs: jobs, Bus: bus}
}

// Create validates the spec and stores a new draft job.
func (s JobService) Create(ctx domain.Context, spec domain.JobSpec) (domain.Job, error) {
	if err := spec.Validate(); err != nil {
		return domain.Job{}, err
	}
	job := domain.Job{
		Spec:       spec,
		Status:     domain.JobDraft,
		MaxRetries: domain.DefaultMaxRetries,
		TaskState:  domain.TaskState{},
	}
	id, err := s.Jobs.Create(ctx, job)
	if err != nil {
		return domain.Job{}, err
	}
	return s.Jobs.Get(ctx, id)
}

// Get returns one job.
func (s JobService) Get(ctx domain.Context, id int64) (domain.Job, error) {
	return s.Jobs.Get(ctx, id)
}

// List returns a page of jobs, optionally filtered by status.
func (s JobService) List(ctx domain.Context, offset, limit int, status domain.JobStatus) ([]domain.Job, error) {
	if status != "" && !status.Valid() {
		return nil, domain.WrapInvalid("unknown status filter")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.Jobs.List(ctx, offset, limit, status)
}

// Start moves a draft job to pending and hands it to the generate queue. A
// job that is already pending but not owned by a worker is re-issued; any
// other status is rejected with ErrConflict. A full generate queue surfaces
// ErrQueueFull and leaves the job pending for a later start.
func (s JobService) Start(ctx domain.Context, id int64) error {
	job, err := s.Jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	switch job.Status {
	case domain.JobDraft:
		if err := s.Jobs.UpdateStatus(ctx, id, domain.JobPending, nil); err != nil {
			return err
		}
	case domain.JobPending:
		// fall through to the idempotent enqueue
	default:
		return fmt.Errorf("op=jobs.start: cannot start job in status %s: %w", job.Status, domain.ErrConflict)
	}
	if _, err := s.Bus.StartJob(id); err != nil {
		return err
	}
	return nil
}

// Retry resets a failed or cancelled job to a clean pending state and starts
// it from the generate stage.
func (s JobService) Retry(ctx domain.Context, id int64) error {
	job, err := s.Jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != domain.JobFailed && job.Status != domain.JobCancelled {
		return fmt.Errorf("op=jobs.retry: cannot retry job in status %s: %w", job.Status, domain.ErrConflict)
	}
	if job.MaxRetries > 0 && job.RetryCount >= job.MaxRetries {
		return fmt.Errorf("op=jobs.retry: retry budget exhausted (%d/%d): %w",
			job.RetryCount, job.MaxRetries, domain.ErrConflict)
	}
	job.RetryCount++
	job.Status = domain.JobPending
	job.Percent = 0
	job.ErrorMessage = ""
	job.VideoURL = ""
	job.VideoID = ""
	job.GenerationID = ""
	job.LocalPath = ""
	job.TaskState = domain.TaskState{}
	job.UpdatedAt = time.Now().UTC()
	if err := s.Jobs.Update(ctx, job); err != nil {
		return err
	}
	if _, err := s.Bus.StartJob(id); err != nil {
		return err
	}
	return nil
}

// Cancel stops a not-yet-downloading job. Jobs already in the download stage
// run to completion; terminal jobs are rejected. The write is guarded by the
// status the job was read with, so a worker advancing the job at the same
// moment is not overwritten; the loser of that race gets ErrConflict. The id
// is left in the active set on purpose: the worker that owns any queued task
// observes the cancelled status and drops it, releasing the membership.
func (s JobService) Cancel(ctx domain.Context, id int64) error {
	job, err := s.Jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.CanTransitionTo(domain.JobCancelled) {
		return fmt.Errorf("op=jobs.cancel: cannot cancel job in status %s: %w", job.Status, domain.ErrConflict)
	}
	prev := job.Status
	job.Status = domain.JobCancelled
	ok, err := s.Jobs.UpdateIfStatus(ctx, job, prev)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("op=jobs.cancel: job moved out of status %s: %w", prev, domain.ErrConflict)
	}
	return nil
}

// Delete removes a job record. Active jobs must be cancelled first.
func (s JobService) Delete(ctx domain.Context, id int64) error {
	job, err := s.Jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.Bus.IsActive(id) && job.Status.Active() {
		return fmt.Errorf("op=jobs.delete: job is in flight: %w", domain.ErrConflict)
	}
	return s.Jobs.Delete(ctx, id)
}

// BulkResult reports the outcome for a single id in a bulk operation.
type BulkResult struct {
	ID    int64  `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Bulk applies op to every id independently and reports per-id outcomes.
func (s JobService) bulk(ctx domain.Context, ids []int64, op func(domain.Context, int64) error) []BulkResult {
	out := make([]BulkResult, 0, len(ids))
	for _, id := range ids {
		r := BulkResult{ID: id, OK: true}
		if err := op(ctx, id); err != nil {
			r.OK = false
			r.Error = userFacing(err)
		}
		out = append(out, r)
	}
	return out
}

// BulkStart starts each listed job.
func (s JobService) BulkStart(ctx domain.Context, ids []int64) []BulkResult {
	return s.bulk(ctx, ids, s.Start)
}

// BulkRetry retries each listed job.
func (s JobService) BulkRetry(ctx domain.Context, ids []int64) []BulkResult {
	return s.bulk(ctx, ids, s.Retry)
}

// BulkCancel cancels each listed job.
func (s JobService) BulkCancel(ctx domain.Context, ids []int64) []BulkResult {
	return s.bulk(ctx, ids, s.Cancel)
}

// BulkDelete deletes each listed job.
func (s JobService) BulkDelete(ctx domain.Context, ids []int64) []BulkResult {
	return s.bulk(ctx, ids, s.Delete)
}

// userFacing strips wrapping noise down to the sentinel name where possible.
func userFacing(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not found"
	case errors.Is(err, domain.ErrConflict):
		return err.Error()
	case errors.Is(err, domain.ErrQueueFull):
		return "queue full"
	default:
		return err.Error()
	}
}

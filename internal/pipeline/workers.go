package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/fairyhunter13/ai-video-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/ai-video-pipeline/internal/config"
	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
	"github.com/fairyhunter13/ai-video-pipeline/internal/service/ratelimiter"
)

// Workers holds the stage handlers shared by the three fleets. Each handler
// processes exactly one TaskContext; the supervisor runs them in loops.
type Workers struct {
	cfg      config.Config
	jobs     domain.JobRepository
	accounts domain.AccountRepository
	bus      *TaskBus
	pool     *AccountPool
	api      domain.VideoAPI
	cleaner  domain.WatermarkRemover
	limiter  ratelimiter.Limiter
	download *http.Client
}

// NewWorkers wires the stage handlers. cleaner and limiter may be nil.
func NewWorkers(
	cfg config.Config,
	jobs domain.JobRepository,
	accounts domain.AccountRepository,
	bus *TaskBus,
	pool *AccountPool,
	api domain.VideoAPI,
	cleaner domain.WatermarkRemover,
	limiter ratelimiter.Limiter,
) *Workers {
	return &Workers{
		cfg:      cfg,
		jobs:     jobs,
		accounts: accounts,
		bus:      bus,
		pool:     pool,
		api:      api,
		cleaner:  cleaner,
		limiter:  limiter,
		download: &http.Client{Timeout: 10 * time.Minute},
	}
}

// loadOwnedJob fetches the job for a dequeued task. ok is false when the job
// is gone or already terminal; in that case the id is dropped from the active
// set and the task must be discarded.
func (w *Workers) loadOwnedJob(ctx domain.Context, tc domain.TaskContext) (domain.Job, bool) {
	job, err := w.jobs.Get(ctx, tc.JobID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Error("failed to load job for task",
				slog.Int64("job_id", tc.JobID), slog.String("task", string(tc.Type)), slog.Any("error", err))
		}
		w.bus.Deactivate(tc.JobID)
		return domain.Job{}, false
	}
	if job.Status.Terminal() {
		slog.Info("dropping task for terminal job",
			slog.Int64("job_id", tc.JobID), slog.String("status", string(job.Status)))
		w.bus.Deactivate(tc.JobID)
		return domain.Job{}, false
	}
	return job, true
}

// errStatusChanged reports that the stored status moved away from the one the
// worker loaded, for example a user cancel landing while the worker was inside
// a remote call. The worker must drop the task instead of overwriting.
var errStatusChanged = errors.New("job status changed concurrently")

// transitionTo moves the job to next and persists it guarded by the status the
// worker loaded the job with, so a concurrent writer (cancel, another worker)
// is never silently overwritten. A same-status write is treated as a plain
// guarded update; an invalid edge is a programming error and is reported as
// ErrConflict without persisting. On any error the in-memory status is left
// unchanged.
func (w *Workers) transitionTo(ctx domain.Context, job *domain.Job, next domain.JobStatus) error {
	if job.Status != next && !job.Status.CanTransitionTo(next) {
		return fmt.Errorf("op=pipeline.transition %s->%s: %w", job.Status, next, domain.ErrConflict)
	}
	prev := job.Status
	job.Status = next
	ok, err := w.jobs.UpdateIfStatus(ctx, *job, prev)
	if err != nil {
		job.Status = prev
		return fmt.Errorf("op=pipeline.transition persist: %w", err)
	}
	if !ok {
		job.Status = prev
		return fmt.Errorf("op=pipeline.transition %s->%s: %w", prev, next, errStatusChanged)
	}
	return nil
}

// dropRerouted releases a task whose job was re-routed by another status
// writer while the worker held it. The other writer now owns the lifecycle.
func (w *Workers) dropRerouted(jobID int64, stage domain.TaskType) {
	slog.Info("dropping task after concurrent status change",
		slog.Int64("job_id", jobID), slog.String("stage", string(stage)))
	w.bus.Deactivate(jobID)
}

// failJob records a terminal failure: status failed, error message, failed
// stage sub-state, metrics, and active-set removal.
func (w *Workers) failJob(ctx domain.Context, job *domain.Job, stage domain.TaskType, reason, msg string) {
	slog.Warn("job failed",
		slog.Int64("job_id", job.ID), slog.String("stage", string(stage)),
		slog.String("reason", reason), slog.String("error", msg))
	if job.TaskState == nil {
		job.TaskState = domain.TaskState{}
	}
	job.TaskState.SetTask(string(stage), map[string]any{
		"status": domain.TaskStatusFailed,
		"error":  msg,
	})
	job.ErrorMessage = msg
	if err := w.transitionTo(ctx, job, domain.JobFailed); err != nil {
		if errors.Is(err, errStatusChanged) {
			w.dropRerouted(job.ID, stage)
			return
		}
		slog.Error("failed to persist job failure", slog.Int64("job_id", job.ID), slog.Any("error", err))
	}
	observability.JobsFailedTotal.WithLabelValues(reason).Inc()
	w.bus.Deactivate(job.ID)
}

// retryStage re-enqueues the task at the tail of its queue after an optional
// sleep, so a retrying job yields its slot to newer work.
func (w *Workers) retryStage(ctx domain.Context, tc domain.TaskContext, reason string, sleep time.Duration) {
	observability.JobRetriesTotal.WithLabelValues(reason).Inc()
	if sleep > 0 && !sleepCtx(ctx, sleep) {
		return
	}
	if err := w.bus.Enqueue(ctx, tc); err != nil {
		slog.Error("failed to re-enqueue task",
			slog.Int64("job_id", tc.JobID), slog.String("task", string(tc.Type)), slog.Any("error", err))
	}
}

// sleepCtx sleeps for d unless ctx is cancelled first; false means cancelled.
func sleepCtx(ctx domain.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// jitterBetween returns a uniform random duration in [min, max].
func jitterBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}

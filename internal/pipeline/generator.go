package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
)

// retryKey names the per-class counter stored in TaskContext input, e.g.
// "heavy_load_retry_count". Counters survive re-enqueue and are independent
// per class.
func retryKey(code domain.RemoteErrorCode) string {
	return string(code) + "_retry_count"
}

// handleGenerate processes one generate task: lease an account, submit the
// generation request, and on success hand the job to the poll stage. Every
// error path releases the account lease; terminal outcomes drop the job from
// the active set.
func (w *Workers) handleGenerate(ctx domain.Context, tc domain.TaskContext) {
	job, ok := w.loadOwnedJob(ctx, tc)
	if !ok {
		return
	}

	if w.limiter != nil {
		allowed, retryAfter, err := w.limiter.Allow(ctx, w.cfg.Platform)
		if err != nil {
			// Limiter trouble must not stall the pipeline; log and proceed.
			slog.Warn("rate limiter unavailable", slog.Any("error", err))
		} else if !allowed {
			if retryAfter <= 0 {
				retryAfter = time.Second
			}
			slog.Info("submit throttled",
				slog.Int64("job_id", job.ID), slog.Duration("retry_after", retryAfter))
			w.retryStage(ctx, tc, "rate_limited", retryAfter)
			return
		}
	}

	acct, err := w.pool.Acquire(ctx, w.cfg.Platform, tc.ExcludedAccounts())
	if err != nil {
		if errors.Is(err, domain.ErrNoAccount) {
			n := tc.IncRetry("no_account_retry_count")
			if n >= w.cfg.MaxNoAccountRetries {
				w.failJob(ctx, &job, domain.TaskGenerate, "no_account",
					fmt.Sprintf("No available accounts after %d retries", w.cfg.MaxNoAccountRetries))
				return
			}
			w.retryStage(ctx, tc, "no_account", w.cfg.NoAccountSleep)
			return
		}
		w.failJob(ctx, &job, domain.TaskGenerate, "internal", err.Error())
		return
	}

	job.AccountID = acct.ID
	if job.TaskState == nil {
		job.TaskState = domain.TaskState{}
	}
	job.TaskState.SetCurrent(string(domain.TaskGenerate))
	job.TaskState.SetTask(string(domain.TaskGenerate), map[string]any{
		"status":     domain.TaskStatusPending,
		"account_id": acct.ID,
		"started_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err := w.transitionTo(ctx, &job, domain.JobProcessing); err != nil {
		w.pool.Release(acct.ID)
		if errors.Is(err, errStatusChanged) {
			w.dropRerouted(job.ID, domain.TaskGenerate)
			return
		}
		w.failJob(ctx, &job, domain.TaskGenerate, "internal", err.Error())
		return
	}

	result, err := w.api.Submit(ctx, acct, domain.SubmitRequest{
		Prompt:      job.Spec.Prompt,
		Duration:    job.Spec.Duration,
		AspectRatio: job.Spec.AspectRatio,
		ImagePath:   job.Spec.ImagePath,
	})
	w.pool.Release(acct.ID)
	if err != nil {
		w.handleSubmitError(ctx, tc, &job, acct, err)
		return
	}

	job.TaskState.SetTask(string(domain.TaskGenerate), map[string]any{
		"status":       domain.TaskStatusCompleted,
		"task_id":      result.TaskID,
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	})
	job.TaskState.SetTask(string(domain.TaskPoll), map[string]any{
		"status": domain.TaskStatusPending,
	})
	job.TaskState.SetCurrent(string(domain.TaskPoll))
	if err := w.transitionTo(ctx, &job, domain.JobGenerating); err != nil {
		// A cancel that landed while Submit was in flight wins; the remote
		// task is abandoned and the job stays in the user's status.
		if errors.Is(err, errStatusChanged) {
			w.dropRerouted(job.ID, domain.TaskGenerate)
			return
		}
		w.failJob(ctx, &job, domain.TaskGenerate, "internal", err.Error())
		return
	}

	next := domain.NewTaskContext(job.ID, domain.TaskPoll)
	next.SetString("task_id", result.TaskID)
	next.SetInt64("account_id", acct.ID)
	if err := w.bus.Enqueue(ctx, next); err != nil {
		slog.Error("failed to hand job to poll stage",
			slog.Int64("job_id", job.ID), slog.Any("error", err))
		return
	}
	slog.Info("generation submitted",
		slog.Int64("job_id", job.ID), slog.String("task_id", result.TaskID),
		slog.Int64("account_id", acct.ID))
}

// handleSubmitError applies the per-class retry policy from the error
// taxonomy. Counters live in the task input so they survive re-enqueue.
func (w *Workers) handleSubmitError(ctx domain.Context, tc domain.TaskContext, job *domain.Job, acct domain.Account, err error) {
	re := domain.AsRemoteError(err)
	slog.Warn("submit failed",
		slog.Int64("job_id", job.ID), slog.Int64("account_id", acct.ID),
		slog.String("class", string(re.Code)), slog.String("error", re.Msg))

	switch re.Code {
	case domain.RemoteHeavyLoad:
		n := tc.IncRetry(retryKey(re.Code))
		if n > w.cfg.MaxRetryCount {
			w.failClassExhausted(ctx, job, re, w.cfg.MaxRetryCount)
			return
		}
		w.retryStage(ctx, tc, string(re.Code), w.cfg.HeavyLoadSleep)

	case domain.RemoteTooManyTasks:
		n := tc.IncRetry(retryKey(re.Code))
		if n > w.cfg.MaxRetryCount {
			w.failClassExhausted(ctx, job, re, w.cfg.MaxRetryCount)
			return
		}
		tc.ExcludeAccount(acct.ID)
		w.retryStage(ctx, tc, string(re.Code), w.cfg.AccountSwitchSleep)

	case domain.RemotePhoneRequired:
		w.pool.MarkPhoneRequired(ctx, acct.ID)
		n := tc.IncRetry(retryKey(re.Code))
		if n > w.cfg.MaxRetryCount {
			w.failClassExhausted(ctx, job, re, w.cfg.MaxRetryCount)
			return
		}
		tc.ExcludeAccount(acct.ID)
		w.retryStage(ctx, tc, string(re.Code), w.cfg.AccountSwitchSleep)

	case domain.RemoteNoCredits:
		w.pool.MarkNoCredits(ctx, acct.ID)
		n := tc.IncRetry(retryKey(re.Code))
		if n > w.cfg.MaxRetryCount {
			w.failClassExhausted(ctx, job, re, w.cfg.MaxRetryCount)
			return
		}
		tc.ExcludeAccount(acct.ID)
		w.retryStage(ctx, tc, string(re.Code), w.cfg.AccountSwitchSleep)

	case domain.RemoteUnauthorized:
		w.pool.MarkExpired(ctx, acct.ID)
		n := tc.IncRetry(retryKey(re.Code))
		if n > w.cfg.MaxRetryCount {
			w.failClassExhausted(ctx, job, re, w.cfg.MaxRetryCount)
			return
		}
		tc.ExcludeAccount(acct.ID)
		w.retryStage(ctx, tc, string(re.Code), w.cfg.AccountSwitchSleep)

	default: // transient
		n := tc.IncRetry(retryKey(domain.RemoteTransient))
		if n > w.cfg.MaxTransientRetries {
			w.failClassExhausted(ctx, job, re, w.cfg.MaxTransientRetries)
			return
		}
		w.retryStage(ctx, tc, string(domain.RemoteTransient), w.cfg.TransientSleep)
	}
}

func (w *Workers) failClassExhausted(ctx domain.Context, job *domain.Job, re *domain.RemoteError, cap int) {
	w.failJob(ctx, job, domain.TaskGenerate, string(re.Code),
		fmt.Sprintf("Submit failed after %d retries: %s", cap, re.Error()))
}

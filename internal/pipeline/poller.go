package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
)

// handlePoll processes one poll task: report progress, then wait for the
// remote task to settle. Pending results re-enqueue with jitter; a failed
// result or a success without a download URL is terminal and must never reach
// the download queue.
func (w *Workers) handlePoll(ctx domain.Context, tc domain.TaskContext) {
	job, ok := w.loadOwnedJob(ctx, tc)
	if !ok {
		return
	}

	taskID := tc.GetString("task_id")
	accountID := tc.GetInt64("account_id")
	if taskID == "" || accountID == 0 {
		w.failJob(ctx, &job, domain.TaskPoll, "missing_field", "Missing task_id or account_id")
		return
	}
	acct, err := w.accounts.Get(ctx, accountID)
	if err != nil {
		w.failJob(ctx, &job, domain.TaskPoll, "missing_field",
			fmt.Sprintf("Account %d not found: %v", accountID, err))
		return
	}

	if tc.RetryCount("poll_count") >= w.cfg.MaxPollCount {
		w.failJob(ctx, &job, domain.TaskPoll, "poll_timeout",
			fmt.Sprintf("Video generation timeout after %d polls", w.cfg.MaxPollCount))
		return
	}

	w.reportProgress(ctx, &job, acct, taskID)

	result, err := w.api.WaitForCompletion(ctx, acct, taskID, w.cfg.PollWaitTimeout)
	if err != nil {
		// Treat a failed status check like a pending result; the poll budget
		// bounds how long this can go on.
		slog.Warn("completion check failed",
			slog.Int64("job_id", job.ID), slog.String("task_id", taskID), slog.Any("error", err))
		w.repollLater(ctx, tc, job.ID)
		return
	}

	switch {
	case result.Status == domain.CompletionSuccess && result.DownloadURL != "":
		w.handToDownload(ctx, tc, &job, result)
	case result.Status == domain.CompletionPending:
		w.repollLater(ctx, tc, job.ID)
	default:
		msg := result.Error
		if msg == "" {
			msg = "completed without download URL"
		}
		w.failJob(ctx, &job, domain.TaskPoll, "video_failed",
			"Video generation failed: "+msg)
	}
}

// reportProgress maps the remote pending list onto the job's percent. Best
// effort; a listing failure never blocks the completion check.
func (w *Workers) reportProgress(ctx domain.Context, job *domain.Job, acct domain.Account, taskID string) {
	pending, err := w.api.ListPending(ctx, acct)
	if err != nil {
		slog.Warn("failed to list pending tasks",
			slog.Int64("job_id", job.ID), slog.Any("error", err))
		return
	}
	for _, p := range pending {
		if p.ID != taskID && !(p.ID == "" && strings.EqualFold(p.Prompt, job.Spec.Prompt)) {
			continue
		}
		percent := int(math.Round(p.ProgressFraction * 100))
		if percent != job.Percent {
			if err := w.jobs.UpdateProgress(ctx, job.ID, percent); err != nil {
				slog.Warn("failed to update progress", slog.Int64("job_id", job.ID), slog.Any("error", err))
				return
			}
			job.Percent = percent
		}
		return
	}
	// Nothing pending yet and no recorded progress: show a floor so clients
	// see motion.
	if job.Percent <= 0 {
		if err := w.jobs.UpdateProgress(ctx, job.ID, 10); err != nil {
			slog.Warn("failed to update progress", slog.Int64("job_id", job.ID), slog.Any("error", err))
			return
		}
		job.Percent = 10
	}
}

// repollLater increments the poll budget and re-enqueues after a uniform
// random delay. Jitter spreads a fleet's polls so they do not align with the
// remote side's rate-limit buckets.
func (w *Workers) repollLater(ctx domain.Context, tc domain.TaskContext, jobID int64) {
	n := tc.IncRetry("poll_count")
	delay := jitterBetween(w.cfg.PollSleepMin, w.cfg.PollSleepMax)
	slog.Debug("generation still pending",
		slog.Int64("job_id", jobID), slog.Int("poll_count", n), slog.Duration("sleep", delay))
	if !sleepCtx(ctx, delay) {
		return
	}
	if err := w.bus.Enqueue(ctx, tc); err != nil {
		slog.Error("failed to re-enqueue poll task", slog.Int64("job_id", jobID), slog.Any("error", err))
	}
}

// handToDownload records the completed generation and enqueues the download
// stage.
func (w *Workers) handToDownload(ctx domain.Context, tc domain.TaskContext, job *domain.Job, result domain.CompletionResult) {
	job.VideoURL = result.DownloadURL
	job.VideoID = result.VideoID
	job.GenerationID = result.GenerationID
	if job.TaskState == nil {
		job.TaskState = domain.TaskState{}
	}
	job.TaskState.SetTask(string(domain.TaskPoll), map[string]any{
		"status":   domain.TaskStatusCompleted,
		"video_id": result.VideoID,
	})
	job.TaskState.SetTask(string(domain.TaskDownload), map[string]any{
		"status": domain.TaskStatusPending,
	})
	job.TaskState.SetCurrent(string(domain.TaskDownload))
	if err := w.transitionTo(ctx, job, domain.JobDownload); err != nil {
		if errors.Is(err, errStatusChanged) {
			w.dropRerouted(job.ID, domain.TaskPoll)
			return
		}
		w.failJob(ctx, job, domain.TaskPoll, "internal", err.Error())
		return
	}

	next := domain.NewTaskContext(job.ID, domain.TaskDownload)
	next.SetString("video_url", result.DownloadURL)
	next.SetString("video_id", result.VideoID)
	next.SetString("generation_id", result.GenerationID)
	next.SetInt64("account_id", tc.GetInt64("account_id"))
	if err := w.bus.Enqueue(ctx, next); err != nil {
		slog.Error("failed to hand job to download stage",
			slog.Int64("job_id", job.ID), slog.Any("error", err))
		return
	}
	slog.Info("generation completed",
		slog.Int64("job_id", job.ID), slog.String("video_id", result.VideoID))
}

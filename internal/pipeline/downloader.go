package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/fairyhunter13/ai-video-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
)

// downloadChunkSize is the streaming copy buffer size.
const downloadChunkSize = 8 * 1024

// errTruncated marks a body shorter than the configured minimum.
var errTruncated = errors.New("downloaded file too small")

// handleDownload processes one download task: optionally swap in a
// watermark-free source, then stream the video to disk. Responses that are
// not 200 or produce fewer than the configured minimum bytes fail the job.
func (w *Workers) handleDownload(ctx domain.Context, tc domain.TaskContext) {
	job, ok := w.loadOwnedJob(ctx, tc)
	if !ok {
		return
	}

	sourceURL := tc.GetString("video_url")
	if sourceURL == "" {
		sourceURL = job.VideoURL
	}
	if sourceURL == "" {
		w.failJob(ctx, &job, domain.TaskDownload, "missing_field", "Missing download_url")
		return
	}
	videoID := tc.GetString("video_id")
	if videoID == "" {
		videoID = job.VideoID
	}

	if job.TaskState == nil {
		job.TaskState = domain.TaskState{}
	}
	if url, ok := w.tryCleanSource(ctx, tc, &job, videoID); ok {
		sourceURL = url
	}

	localPath, written, err := w.streamToFile(ctx, sourceURL, job.ID, videoID)
	if err != nil {
		reason := "download_http_error"
		if errors.Is(err, errTruncated) {
			reason = "download_truncated"
		}
		w.failJob(ctx, &job, domain.TaskDownload, reason, err.Error())
		return
	}

	observability.DownloadBytes.Observe(float64(written))
	job.LocalPath = localPath
	job.Percent = 100
	job.TaskState.SetTask(string(domain.TaskDownload), map[string]any{
		"status":     domain.TaskStatusCompleted,
		"local_path": localPath,
		"bytes":      written,
	})
	job.TaskState.SetCurrent("completed")
	if err := w.transitionTo(ctx, &job, domain.JobDone); err != nil {
		if errors.Is(err, errStatusChanged) {
			w.dropRerouted(job.ID, domain.TaskDownload)
			return
		}
		w.failJob(ctx, &job, domain.TaskDownload, "internal", err.Error())
		return
	}
	observability.JobsCompletedTotal.Inc()
	w.bus.Deactivate(job.ID)
	slog.Info("job completed",
		slog.Int64("job_id", job.ID), slog.String("local_path", localPath),
		slog.Int64("bytes", written))
}

// tryCleanSource asks the watermark collaborator for a clean source URL.
// Strictly best effort: any failure is swallowed and the original URL used.
func (w *Workers) tryCleanSource(ctx domain.Context, tc domain.TaskContext, job *domain.Job, videoID string) (string, bool) {
	if w.cleaner == nil || videoID == "" {
		return "", false
	}
	accountID := tc.GetInt64("account_id")
	if accountID == 0 {
		accountID = job.AccountID
	}
	if accountID == 0 {
		return "", false
	}
	acct, err := w.accounts.Get(ctx, accountID)
	if err != nil {
		return "", false
	}
	cleanURL, err := w.cleaner.CleanURL(ctx, acct, videoID)
	if err != nil || cleanURL == "" {
		if err != nil {
			slog.Debug("watermark removal unavailable",
				slog.Int64("job_id", job.ID), slog.Any("error", err))
		}
		return "", false
	}
	job.TaskState["is_clean_video"] = true
	job.TaskState["clean_url"] = cleanURL
	return cleanURL, true
}

// streamToFile downloads sourceURL to the downloads directory in fixed-size
// chunks. The partial file is removed on any error.
func (w *Workers) streamToFile(ctx domain.Context, sourceURL string, jobID int64, videoID string) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("op=download.request: %w", err)
	}
	resp, err := w.download.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("op=download.fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("op=download.fetch: unexpected HTTP status %d", resp.StatusCode)
	}

	if videoID == "" {
		videoID = "unknown"
	}
	if err := os.MkdirAll(w.cfg.DownloadsDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("op=download.mkdir: %w", err)
	}
	localPath := filepath.Join(w.cfg.DownloadsDir,
		fmt.Sprintf("%s_%d_%s.mp4", w.cfg.Platform, jobID, videoID))
	f, err := os.Create(localPath)
	if err != nil {
		return "", 0, fmt.Errorf("op=download.create: %w", err)
	}

	written, err := io.CopyBuffer(f, resp.Body, make([]byte, downloadChunkSize))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(localPath)
		return "", written, fmt.Errorf("op=download.stream: %w", err)
	}
	if written < w.cfg.MinDownloadBytes {
		_ = os.Remove(localPath)
		return "", written, fmt.Errorf(
			"%w: %d bytes (minimum %d)", errTruncated, written, w.cfg.MinDownloadBytes)
	}
	return localPath, written, nil
}

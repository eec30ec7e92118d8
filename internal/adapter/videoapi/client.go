// Package videoapi implements the domain.VideoAPI port against the remote
// video-generation HTTP service. Raw error strings are classified into the
// domain.RemoteErrorCode enum here; callers never see untagged remote errors.
package videoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/ai-video-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/ai-video-pipeline/internal/config"
	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
)

// Client is the real remote API client.
type Client struct {
	cfg     config.Config
	baseURL string
	hc      *http.Client
}

// New constructs a Client with tracing-instrumented transport.
func New(cfg config.Config) *Client {
	return &Client{
		cfg:     cfg,
		baseURL: cfg.VideoAPIBaseURL,
		hc: &http.Client{
			Timeout:   cfg.VideoAPITimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// transportBackoff retries network-level failures only. Classified remote
// errors are returned immediately; their policy belongs to the generator.
func (c *Client) transportBackoff() backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxInterval = 5 * time.Second
	expo.MaxElapsedTime = 20 * time.Second
	if c.cfg.IsTest() {
		expo.InitialInterval = 10 * time.Millisecond
		expo.MaxInterval = 50 * time.Millisecond
		expo.MaxElapsedTime = time.Second
	}
	return expo
}

type submitPayload struct {
	Prompt      string `json:"prompt"`
	Duration    int    `json:"duration"`
	AspectRatio string `json:"aspect_ratio"`
	ImagePath   string `json:"image_path,omitempty"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error,omitempty"`
}

// Submit asks the remote service to start a generation.
func (c *Client) Submit(ctx domain.Context, account domain.Account, req domain.SubmitRequest) (domain.SubmitResult, error) {
	start := time.Now()
	var out submitResponse
	err := c.doJSON(ctx, account, http.MethodPost, "/v1/videos", submitPayload{
		Prompt:      req.Prompt,
		Duration:    req.Duration,
		AspectRatio: req.AspectRatio,
		ImagePath:   req.ImagePath,
	}, &out)
	observability.RemoteRequestDuration.WithLabelValues("submit").Observe(time.Since(start).Seconds())
	if err != nil {
		observability.RemoteRequestsTotal.WithLabelValues("submit", "error").Inc()
		return domain.SubmitResult{}, err
	}
	if out.Error != "" || out.TaskID == "" {
		observability.RemoteRequestsTotal.WithLabelValues("submit", "error").Inc()
		msg := out.Error
		if msg == "" {
			msg = "submit returned no task_id"
		}
		return domain.SubmitResult{}, fmt.Errorf("op=videoapi.submit: %w", classifyErr(msg))
	}
	observability.RemoteRequestsTotal.WithLabelValues("submit", "ok").Inc()
	return domain.SubmitResult{TaskID: out.TaskID}, nil
}

type pendingEntry struct {
	ID       string  `json:"id"`
	Prompt   string  `json:"prompt"`
	Progress float64 `json:"progress"`
}

// ListPending returns in-flight generations for the account.
func (c *Client) ListPending(ctx domain.Context, account domain.Account) ([]domain.PendingTask, error) {
	start := time.Now()
	var out struct {
		Tasks []pendingEntry `json:"tasks"`
		Error string         `json:"error,omitempty"`
	}
	err := c.doJSON(ctx, account, http.MethodGet, "/v1/videos/pending", nil, &out)
	observability.RemoteRequestDuration.WithLabelValues("list_pending").Observe(time.Since(start).Seconds())
	if err != nil {
		observability.RemoteRequestsTotal.WithLabelValues("list_pending", "error").Inc()
		return nil, err
	}
	if out.Error != "" {
		observability.RemoteRequestsTotal.WithLabelValues("list_pending", "error").Inc()
		return nil, fmt.Errorf("op=videoapi.list_pending: %w", classifyErr(out.Error))
	}
	observability.RemoteRequestsTotal.WithLabelValues("list_pending", "ok").Inc()
	tasks := make([]domain.PendingTask, 0, len(out.Tasks))
	for _, e := range out.Tasks {
		tasks = append(tasks, domain.PendingTask{ID: e.ID, Prompt: e.Prompt, ProgressFraction: e.Progress})
	}
	return tasks, nil
}

type completionResponse struct {
	Status       string `json:"status"`
	DownloadURL  string `json:"download_url,omitempty"`
	ID           string `json:"id"`
	GenerationID string `json:"generation_id"`
	Error        string `json:"error,omitempty"`
}

// WaitForCompletion long-polls the remote task until it finishes or the
// per-call timeout elapses; a timeout is reported as CompletionPending.
func (c *Client) WaitForCompletion(ctx domain.Context, account domain.Account, taskID string, timeout time.Duration) (domain.CompletionResult, error) {
	start := time.Now()
	waitCtx, cancel := contextWithTimeout(ctx, timeout)
	defer cancel()

	var out completionResponse
	err := c.doJSON(waitCtx, account, http.MethodGet,
		fmt.Sprintf("/v1/videos/%s?wait=%d", taskID, int(timeout.Seconds())), nil, &out)
	observability.RemoteRequestDuration.WithLabelValues("wait_for_completion").Observe(time.Since(start).Seconds())
	if err != nil {
		if waitCtx.Err() != nil && ctx.Err() == nil {
			// Per-call timeout; the poller treats this as still pending.
			observability.RemoteRequestsTotal.WithLabelValues("wait_for_completion", "timeout").Inc()
			return domain.CompletionResult{Status: domain.CompletionPending}, nil
		}
		observability.RemoteRequestsTotal.WithLabelValues("wait_for_completion", "error").Inc()
		return domain.CompletionResult{}, err
	}
	observability.RemoteRequestsTotal.WithLabelValues("wait_for_completion", "ok").Inc()
	res := domain.CompletionResult{
		DownloadURL:  out.DownloadURL,
		VideoID:      out.ID,
		GenerationID: out.GenerationID,
		Error:        out.Error,
	}
	switch out.Status {
	case "success", "completed":
		res.Status = domain.CompletionSuccess
	case "failed", "error":
		res.Status = domain.CompletionFailed
	default:
		res.Status = domain.CompletionPending
	}
	return res, nil
}

// GetCredits fetches the account's remaining credit balance.
func (c *Client) GetCredits(ctx domain.Context, account domain.Account) (int, error) {
	start := time.Now()
	var out struct {
		Credits int    `json:"credits"`
		Error   string `json:"error,omitempty"`
	}
	err := c.doJSON(ctx, account, http.MethodGet, "/v1/credits", nil, &out)
	observability.RemoteRequestDuration.WithLabelValues("get_credits").Observe(time.Since(start).Seconds())
	if err != nil {
		observability.RemoteRequestsTotal.WithLabelValues("get_credits", "error").Inc()
		return 0, err
	}
	if out.Error != "" {
		observability.RemoteRequestsTotal.WithLabelValues("get_credits", "error").Inc()
		return 0, fmt.Errorf("op=videoapi.get_credits: %w", classifyErr(out.Error))
	}
	observability.RemoteRequestsTotal.WithLabelValues("get_credits", "ok").Inc()
	return out.Credits, nil
}

// doJSON performs one authenticated request, retrying transport failures with
// exponential backoff. Non-2xx bodies are classified into RemoteError.
func (c *Client) doJSON(ctx domain.Context, account domain.Account, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("op=videoapi.encode: %w", err)
		}
		payload = b
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("op=videoapi.request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if account.AccessToken != "" {
			req.Header.Set("Authorization", "Bearer "+account.AccessToken)
		}
		if account.DeviceID != "" {
			req.Header.Set("X-Device-Id", account.DeviceID)
		}
		if account.UserAgent != "" {
			req.Header.Set("User-Agent", account.UserAgent)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			slog.Debug("videoapi transport error, will retry", slog.String("path", path), slog.Any("error", err))
			return err // transport error: retryable
		}
		defer func() { _ = resp.Body.Close() }()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return backoff.Permanent(fmt.Errorf("op=videoapi.%s: %w", path,
				&domain.RemoteError{Code: domain.RemoteUnauthorized, Msg: string(raw)}))
		}
		if resp.StatusCode >= 500 {
			// Server hiccup: retry at the transport level.
			return fmt.Errorf("remote status %d: %s", resp.StatusCode, snippet(raw))
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("op=videoapi.%s: %w", path, classifyErr(snippet(raw))))
		}
		if out != nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return backoff.Permanent(fmt.Errorf("op=videoapi.decode: %w", err))
			}
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.transportBackoff(), ctx)); err != nil {
		return err
	}
	return nil
}

func snippet(b []byte) string {
	const max = 300
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}

func contextWithTimeout(ctx domain.Context, d time.Duration) (domain.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

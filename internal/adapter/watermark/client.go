// Package watermark implements the best-effort post-processing collaborator
// that trades a watermarked video id for a clean download URL. All failures
// are reported as errors; the downloader swallows them and falls back to the
// original URL.
package watermark

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
)

// Client calls the watermark-removal HTTP service. A nil or disabled client
// always reports no clean URL.
type Client struct {
	baseURL string
	hc      *http.Client
}

// New constructs a Client; an empty baseURL yields a disabled client.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Enabled reports whether a service endpoint is configured.
func (c *Client) Enabled() bool { return c != nil && c.baseURL != "" }

// CleanURL asks the service for a watermark-free source for videoID.
// An empty URL with nil error means the service declined.
func (c *Client) CleanURL(ctx domain.Context, account domain.Account, videoID string) (string, error) {
	if !c.Enabled() {
		return "", nil
	}
	body := strings.NewReader(fmt.Sprintf(`{"video_id":%q}`, videoID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/clean", body)
	if err != nil {
		return "", fmt.Errorf("op=watermark.clean: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if account.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+account.AccessToken)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("op=watermark.clean: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("op=watermark.clean: unexpected status %d", resp.StatusCode)
	}
	var out struct {
		CleanURL string `json:"clean_url"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("op=watermark.clean: %w", err)
	}
	return out.CleanURL, nil
}

var _ domain.WatermarkRemover = (*Client)(nil)

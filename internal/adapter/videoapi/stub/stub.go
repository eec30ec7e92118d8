// Package stub provides a scriptable in-memory implementation of
// domain.VideoAPI for development and tests. Behavior is overridable per
// operation through function fields; the zero value simulates an instant,
// always-successful remote.
package stub

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
)

// API is a scriptable VideoAPI double.
type API struct {
	SubmitFn  func(ctx domain.Context, account domain.Account, req domain.SubmitRequest) (domain.SubmitResult, error)
	PendingFn func(ctx domain.Context, account domain.Account) ([]domain.PendingTask, error)
	WaitFn    func(ctx domain.Context, account domain.Account, taskID string, timeout time.Duration) (domain.CompletionResult, error)
	CreditsFn func(ctx domain.Context, account domain.Account) (int, error)

	seq     atomic.Int64
	mu      sync.Mutex
	submits []domain.SubmitRequest
}

// New returns a stub whose defaults complete every task immediately.
func New() *API { return &API{} }

// Submits returns a copy of every submit request seen, in order.
func (a *API) Submits() []domain.SubmitRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.SubmitRequest, len(a.submits))
	copy(out, a.submits)
	return out
}

// Submit records the request and delegates to SubmitFn or the default.
func (a *API) Submit(ctx domain.Context, account domain.Account, req domain.SubmitRequest) (domain.SubmitResult, error) {
	a.mu.Lock()
	a.submits = append(a.submits, req)
	a.mu.Unlock()
	if a.SubmitFn != nil {
		return a.SubmitFn(ctx, account, req)
	}
	return domain.SubmitResult{TaskID: fmt.Sprintf("stub-task-%d", a.seq.Add(1))}, nil
}

// ListPending delegates to PendingFn or returns no pending work.
func (a *API) ListPending(ctx domain.Context, account domain.Account) ([]domain.PendingTask, error) {
	if a.PendingFn != nil {
		return a.PendingFn(ctx, account)
	}
	return nil, nil
}

// WaitForCompletion delegates to WaitFn or reports instant success.
func (a *API) WaitForCompletion(ctx domain.Context, account domain.Account, taskID string, timeout time.Duration) (domain.CompletionResult, error) {
	if a.WaitFn != nil {
		return a.WaitFn(ctx, account, taskID, timeout)
	}
	return domain.CompletionResult{
		Status:       domain.CompletionSuccess,
		DownloadURL:  "http://stub.local/videos/" + taskID + ".mp4",
		VideoID:      "stub-video-" + taskID,
		GenerationID: "stub-gen-" + taskID,
	}, nil
}

// GetCredits delegates to CreditsFn or reports a generous balance.
func (a *API) GetCredits(ctx domain.Context, account domain.Account) (int, error) {
	if a.CreditsFn != nil {
		return a.CreditsFn(ctx, account)
	}
	return 100, nil
}

var _ domain.VideoAPI = (*API)(nil)

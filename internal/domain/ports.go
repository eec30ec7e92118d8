package domain

import "time"

// JobRepository is the durable store for jobs. All mutations must set
// updated_at to now.
type JobRepository interface {
	Create(ctx Context, j Job) (int64, error)
	Get(ctx Context, id int64) (Job, error)
	List(ctx Context, offset, limit int, status JobStatus) ([]Job, error)
	ListByStatuses(ctx Context, statuses ...JobStatus) ([]Job, error)
	ListStale(ctx Context, cutoff time.Time) ([]Job, error)
	CountByStatus(ctx Context) (map[JobStatus]int, error)
	FindByVideoID(ctx Context, videoID string) (Job, error)
	Update(ctx Context, j Job) error
	// UpdateIfStatus persists j only while the stored status still equals
	// expect; false reports a lost race with a concurrent status writer.
	UpdateIfStatus(ctx Context, j Job, expect JobStatus) (bool, error)
	UpdateStatus(ctx Context, id int64, status JobStatus, errMsg *string) error
	UpdateProgress(ctx Context, id int64, percent int) error
	Delete(ctx Context, id int64) error
	BulkDelete(ctx Context, ids []int64) error
	BulkUpdateStatus(ctx Context, ids []int64, status JobStatus) error
}

// AccountRepository is the durable store for platform accounts.
type AccountRepository interface {
	Create(ctx Context, a Account) (int64, error)
	Get(ctx Context, id int64) (Account, error)
	List(ctx Context) ([]Account, error)
	ListEligible(ctx Context, platform string) ([]Account, error)
	Update(ctx Context, a Account) error
	UpdateStatus(ctx Context, id int64, status AccountStatus) error
	UpdateCredits(ctx Context, id int64, credits int, checkedAt time.Time) error
	SetDeviceID(ctx Context, id int64, deviceID string) error
	TouchLastUsed(ctx Context, id int64, t time.Time) error
	CountWithCredits(ctx Context) (total, withCredits int, err error)
}

// SubmitRequest carries the generation parameters to the remote API.
type SubmitRequest struct {
	Prompt      string
	Duration    int
	AspectRatio string
	ImagePath   string
}

// SubmitResult is the remote acknowledgement of an accepted generation.
type SubmitResult struct {
	TaskID string
}

// PendingTask is one in-flight generation reported by the remote API.
type PendingTask struct {
	ID               string
	Prompt           string
	ProgressFraction float64 // [0,1]
}

// CompletionStatus is the remote terminal/pending state of a task.
type CompletionStatus string

// Completion states returned by WaitForCompletion.
const (
	CompletionPending CompletionStatus = "pending"
	CompletionSuccess CompletionStatus = "success"
	CompletionFailed  CompletionStatus = "failed"
)

// CompletionResult is the outcome of WaitForCompletion.
type CompletionResult struct {
	Status       CompletionStatus
	DownloadURL  string
	VideoID      string
	GenerationID string
	Error        string
}

// VideoAPI is the opaque remote video-generation collaborator. Errors from
// Submit are classified into RemoteError by the adapter.
type VideoAPI interface {
	Submit(ctx Context, account Account, req SubmitRequest) (SubmitResult, error)
	ListPending(ctx Context, account Account) ([]PendingTask, error)
	WaitForCompletion(ctx Context, account Account, taskID string, timeout time.Duration) (CompletionResult, error)
	GetCredits(ctx Context, account Account) (int, error)
}

// WatermarkRemover is the best-effort post-processing collaborator. A
// non-empty URL means a clean, watermark-free source is available.
type WatermarkRemover interface {
	CleanURL(ctx Context, account Account, videoID string) (string, error)
}

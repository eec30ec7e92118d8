// Package domain defines the core entities, ports, and error taxonomy for the
// video-generation pipeline. It has no dependencies on adapters; repositories,
// the remote video API, and the watermark collaborator are expressed as
// interfaces implemented under internal/adapter.
package domain

import (
	"context"
	"strings"
	"time"
)

// Allowed generation parameters.
var (
	AllowedDurations    = []int{5, 10, 15}
	AllowedAspectRatios = []string{"16:9", "9:16", "1:1"}
)

// JobSpec is the immutable part of a job, fixed at creation time.
type JobSpec struct {
	Prompt      string
	Duration    int
	AspectRatio string
	ImagePath   string
}

// Validate checks the spec against the allowed parameter sets.
func (s JobSpec) Validate() error {
	if strings.TrimSpace(s.Prompt) == "" {
		return WrapInvalid("prompt must not be empty")
	}
	ok := false
	for _, d := range AllowedDurations {
		if s.Duration == d {
			ok = true
			break
		}
	}
	if !ok {
		return WrapInvalid("duration must be one of 5, 10, 15")
	}
	ok = false
	for _, ar := range AllowedAspectRatios {
		if s.AspectRatio == ar {
			ok = true
			break
		}
	}
	if !ok {
		return WrapInvalid("aspect_ratio must be one of 16:9, 9:16, 1:1")
	}
	return nil
}

// DefaultMaxRetries is the default user-facing retry budget per job.
const DefaultMaxRetries = 3

// Job is the aggregate root persisted by the JobRepository.
type Job struct {
	ID   int64
	Spec JobSpec

	Status       JobStatus
	Percent      int
	ErrorMessage string
	// RetryCount counts user-initiated retries of a terminal job; once it
	// reaches MaxRetries further retries are refused. Pipeline-internal
	// retries are tracked per error class in the task input instead.
	RetryCount int
	MaxRetries int

	VideoURL     string
	VideoID      string
	GenerationID string
	LocalPath    string

	AccountID int64
	TaskState TaskState

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccountStatus enumerates account health states.
type AccountStatus string

// Account states. Only live accounts with credits are eligible for leasing.
const (
	AccountLive          AccountStatus = "live"
	AccountCooldown      AccountStatus = "cooldown"
	AccountExpired       AccountStatus = "expired"
	AccountPhoneRequired AccountStatus = "phone_required"
	AccountDisabled      AccountStatus = "disabled"
)

// Account is a remote-platform user account the pipeline drives.
// Password is stored sealed (see internal/service/secrets).
type Account struct {
	ID       int64
	Platform string
	Email    string
	Password string

	AccessToken string
	DeviceID    string
	UserAgent   string
	Cookies     string

	CreditsRemaining   int
	CreditsLastChecked time.Time
	CreditsResetAt     time.Time

	Status   AccountStatus
	LastUsed time.Time
}

// Eligible reports whether the account may be leased, ignoring the lease bit
// which is tracked by the AccountPool.
func (a Account) Eligible() bool {
	return a.Status == AccountLive && a.CreditsRemaining > 0
}

// Context is an alias so ports read cleanly without importing std context at
// every call site.
type Context = context.Context

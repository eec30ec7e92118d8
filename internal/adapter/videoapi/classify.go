package videoapi

import (
	"strings"

	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
)

// Classify maps a raw remote error string to the closed RemoteErrorCode enum.
// String matching happens only here, at the adapter boundary; the pipeline
// dispatches on the tagged code.
func Classify(msg string) domain.RemoteErrorCode {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "heavy load") || strings.Contains(m, "heavy_load"):
		return domain.RemoteHeavyLoad
	case strings.Contains(m, "too many") && strings.Contains(m, "task"):
		return domain.RemoteTooManyTasks
	case strings.Contains(m, "concurrent"):
		return domain.RemoteTooManyTasks
	case strings.Contains(m, "phone"):
		return domain.RemotePhoneRequired
	case strings.Contains(m, "quota") || strings.Contains(m, "credit"):
		return domain.RemoteNoCredits
	case strings.Contains(m, "unauthorized") || strings.Contains(m, "token") || strings.Contains(m, "401"):
		return domain.RemoteUnauthorized
	default:
		return domain.RemoteTransient
	}
}

// classifyErr wraps a raw remote message into a typed RemoteError.
func classifyErr(msg string) *domain.RemoteError {
	return &domain.RemoteError{Code: Classify(msg), Msg: msg}
}

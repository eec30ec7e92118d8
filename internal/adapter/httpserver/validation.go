package httpserver

import (
	"strconv"

	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of a request-parameter validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidatePagination validates offset/limit query parameters.
func ValidatePagination(offset, limit string) ValidationResult {
	var errs []ValidationError
	if offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			errs = append(errs, ValidationError{
				Field:   "offset",
				Code:    "INVALID_FORMAT",
				Message: "Offset must be a non-negative integer",
			})
		}
	}
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 || n > 200 {
			errs = append(errs, ValidationError{
				Field:   "limit",
				Code:    "INVALID_FORMAT",
				Message: "Limit must be between 1 and 200",
			})
		}
	}
	if len(errs) > 0 {
		return ValidationResult{Valid: false, Errors: errs}
	}
	return ValidationResult{Valid: true}
}

// ValidateStatus validates a job status filter against the known lifecycle
// states.
func ValidateStatus(status string) ValidationResult {
	if status == "" || domain.JobStatus(status).Valid() {
		return ValidationResult{Valid: true}
	}
	return ValidationResult{
		Valid: false,
		Errors: []ValidationError{{
			Field:   "status",
			Code:    "INVALID_VALUE",
			Message: "Status must be one of: draft, pending, processing, generating, download, done, failed, cancelled",
		}},
	}
}

package types

import (
	"errors"
	"fmt"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants. Engine and repository code MUST use
// these constants instead of hardcoded strings so that outcomes can be
// classified consistently (configuration vs transient vs conflict).
const (
	// Configuration (schedule create/update time)
	ErrCodeConfigNoTracks           ErrorCode = "config_no_metric_tracks"
	ErrCodeConfigInvalidInterval    ErrorCode = "config_invalid_interval"
	ErrCodeConfigInvalidMetricKind  ErrorCode = "config_invalid_metric_kind"
	ErrCodeConfigDuplicateTrack     ErrorCode = "config_duplicate_metric_track"
	ErrCodeConfigIncompleteTemplate ErrorCode = "config_incomplete_template"
	ErrCodeConfigInvalidCombinator  ErrorCode = "config_invalid_combinator"

	// Generation-time
	ErrCodeGenerationTechnician ErrorCode = "generation_invalid_technician"

	// Not found
	ErrCodeNotFoundSchedule ErrorCode = "not_found_schedule"
	ErrCodeNotFoundAsset    ErrorCode = "not_found_asset"

	// Conflict
	ErrCodeConflictLeaseHeld  ErrorCode = "conflict_lease_held"
	ErrCodeConflictDuplicate  ErrorCode = "conflict_duplicate_cycle"
	ErrCodeConflictConcurrent ErrorCode = "conflict_concurrent_modification"

	// Internal / transient
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeInternalTimeout    ErrorCode = "internal_worker_timeout"

	// Upstream collaborators
	ErrCodeUpstreamReadings     ErrorCode = "upstream_readings_unavailable"
	ErrCodeUpstreamNotifier     ErrorCode = "upstream_notifier_unavailable"
	ErrCodeUpstreamArchiveStore ErrorCode = "upstream_archive_store_unavailable"
	ErrCodeUpstreamUnavailable  ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited  ErrorCode = "upstream_rate_limited"
)

// IsConfigError reports whether the code denotes a schedule-configuration
// problem. Configuration errors flag the schedule needs_attention rather
// than being retried as transient failures.
func (c ErrorCode) IsConfigError() bool {
	switch c {
	case ErrCodeConfigNoTracks,
		ErrCodeConfigInvalidInterval,
		ErrCodeConfigInvalidMetricKind,
		ErrCodeConfigDuplicateTrack,
		ErrCodeConfigIncompleteTemplate,
		ErrCodeConfigInvalidCombinator:
		return true
	}
	return false
}

// AppError is the standard application error type used throughout the
// engine. All domain and repository errors should be expressed as
// AppError to enable consistent classification and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// CodeOf extracts the ErrorCode from an error chain. Returns
// ErrCodeInternalUnexpected when the chain contains no AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}

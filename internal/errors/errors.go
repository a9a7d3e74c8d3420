// Package errors provides the error taxonomy shared across the ranking engine.
package errors

import "fmt"

// ErrorCode identifies a class of failure that callers can branch on.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Database errors
	ErrDatabase   ErrorCode = "DATABASE_ERROR"
	ErrMigration  ErrorCode = "MIGRATION_FAILED"
	ErrConstraint ErrorCode = "CONSTRAINT_VIOLATION"

	// Comparison ledger errors
	ErrInvalidComparison ErrorCode = "INVALID_COMPARISON"
	ErrDuplicatePair     ErrorCode = "DUPLICATE_PAIR"

	// Ranking errors
	ErrNoRatedBooks    ErrorCode = "NO_RATED_BOOKS"
	ErrRatingBounds    ErrorCode = "RATING_OUT_OF_BOUNDS"
	ErrSnapshotCorrupt ErrorCode = "SNAPSHOT_CORRUPT"

	// Sync errors
	ErrSyncNotConfigured ErrorCode = "SYNC_NOT_CONFIGURED"
	ErrSyncFailed        ErrorCode = "SYNC_FAILED"
	ErrSyncOffline       ErrorCode = "SYNC_OFFLINE"
	ErrSyncAuthFailed    ErrorCode = "SYNC_AUTH_FAILED"
	ErrSyncTransient     ErrorCode = "SYNC_TRANSIENT"
	ErrRemoteNotFound    ErrorCode = "REMOTE_NOT_FOUND"
	ErrQueueFull         ErrorCode = "QUEUE_FULL"
)

// AppError is an error with a stable code, a human message and an optional
// wrapped cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of an error, unwrapping as needed.
// Non-AppError values map to ErrInternal.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ErrInternal
}

// Retryable reports whether a failed remote write should be retried by the
// sync queue. Only transient conditions (network, 5xx) qualify; auth and
// validation failures never do.
func Retryable(err error) bool {
	return Is(err, ErrSyncTransient)
}

package async

import (
	"context"

	"github.com/teranos/scribe/errors"
)

// ErrorCode classifies why a job failed.
type ErrorCode string

const (
	ErrorCodeInput        ErrorCode = "input_error"
	ErrorCodeIO           ErrorCode = "io_error"
	ErrorCodeNetwork      ErrorCode = "transient_remote"
	ErrorCodeRejected     ErrorCode = "provider_rejection"
	ErrorCodeVerification ErrorCode = "verification_error"
	ErrorCodeCancelled    ErrorCode = "cancelled"
	ErrorCodeInternal     ErrorCode = "internal_error"
	ErrorCodeUnknown      ErrorCode = "unknown"
)

// ErrorContext provides structured error information for job failures
type ErrorContext struct {
	Stage     string    // Where the error occurred
	Code      ErrorCode // Error classification
	Message   string    // Human-readable message
	Retryable bool      // Can another attempt succeed?
}

// errPanic marks an executor panic turned into a job failure.
var errPanic = errors.New("executor panic")

// ClassifyError maps an error to its category using the marks producers
// attach, falling back to retryable for anything unrecognised.
func ClassifyError(stage string, err error) ErrorContext {
	if err == nil {
		return ErrorContext{
			Stage:   stage,
			Code:    ErrorCodeUnknown,
			Message: "unknown error",
		}
	}

	ctx := ErrorContext{
		Stage:   stage,
		Message: err.Error(),
	}

	switch {
	case errors.Is(err, context.Canceled):
		ctx.Code = ErrorCodeCancelled
		ctx.Retryable = false

	case errors.Is(err, errors.ErrInput):
		ctx.Code = ErrorCodeInput
		ctx.Retryable = false

	case errors.Is(err, errors.ErrProviderRejection):
		ctx.Code = ErrorCodeRejected
		ctx.Retryable = false

	case errors.Is(err, errors.ErrIO):
		ctx.Code = ErrorCodeIO
		ctx.Retryable = true

	case errors.Is(err, errors.ErrTransientRemote), errors.Is(err, context.DeadlineExceeded):
		ctx.Code = ErrorCodeNetwork
		ctx.Retryable = true

	case errors.Is(err, errors.ErrVerification):
		ctx.Code = ErrorCodeVerification
		ctx.Retryable = true

	case errors.Is(err, errPanic):
		ctx.Code = ErrorCodeInternal
		ctx.Retryable = true

	default:
		ctx.Code = ErrorCodeUnknown
		ctx.Retryable = true
	}

	return ctx
}

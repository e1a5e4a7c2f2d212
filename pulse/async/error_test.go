package async

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/scribe/errors"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      ErrorCode
		retryable bool
	}{
		{"missing input", errors.NewInputError("no such file"), ErrorCodeInput, false},
		{"local io", errors.Mark(errors.New("disk full"), errors.ErrIO), ErrorCodeIO, true},
		{"transient remote", errors.Wrap(errors.Mark(errors.New("503"), errors.ErrTransientRemote), "submit"), ErrorCodeNetwork, true},
		{"provider rejection", errors.Mark(errors.New("422"), errors.ErrProviderRejection), ErrorCodeRejected, false},
		{"bad transcript", errors.Mark(errors.New("empty"), errors.ErrVerification), ErrorCodeVerification, true},
		{"deadline", errors.Wrap(context.DeadlineExceeded, "poll"), ErrorCodeNetwork, true},
		{"cancel", errors.Wrap(context.Canceled, "upload"), ErrorCodeCancelled, false},
		{"panic", errors.Mark(errors.New("boom"), errPanic), ErrorCodeInternal, true},
		{"unknown", errors.New("something odd"), ErrorCodeUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := ClassifyError("upload", tt.err)
			assert.Equal(t, "upload", ec.Stage)
			assert.Equal(t, tt.code, ec.Code)
			assert.Equal(t, tt.retryable, ec.Retryable)
			assert.Equal(t, tt.err.Error(), ec.Message)
		})
	}
}

func TestClassifyNilError(t *testing.T) {
	ec := ClassifyError("hash", nil)
	assert.Equal(t, ErrorCodeUnknown, ec.Code)
	assert.False(t, ec.Retryable)
}

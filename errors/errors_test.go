package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsCause(t *testing.T) {
	cause := New("connection reset")
	err := Wrapf(cause, "GET %s", "/v1/transcriptions/r1")

	assert.Equal(t, "GET /v1/transcriptions/r1: connection reset", err.Error())
	assert.True(t, Is(err, cause))
	assert.False(t, Is(err, New("connection reset")), "Is matches identity, not text")
	assert.NotNil(t, GetStack(err))
}

type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func TestAsFindsTypedCause(t *testing.T) {
	err := Wrap(&exitError{code: 1}, "ffmpeg")

	var target *exitError
	require.True(t, As(err, &target))
	assert.Equal(t, 1, target.code)
}

func TestHintsAndDetails(t *testing.T) {
	err := NewInputError("no audible speech in %s", "hold-music.mp3")
	err = WithDetailf(err, "silence: %.0f%%", 99.0)
	err = WithHintf(err, "lower %s to accept it", "pipeline.max_silence_ratio")
	err = Wrap(err, "silence detection")

	assert.Equal(t, "silence detection: no audible speech in hold-music.mp3", err.Error())
	assert.Equal(t, []string{"lower pipeline.max_silence_ratio to accept it"}, GetAllHints(err))
	assert.Equal(t, []string{"silence: 99%"}, GetAllDetails(err))
	assert.True(t, Is(err, ErrInput))
}

func TestNilStaysNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, Wrapf(nil, "context %d", 1))
	assert.Nil(t, WithStack(nil))
	assert.Nil(t, WithHint(nil, "hint"))
	assert.Nil(t, WithDetail(nil, "detail"))
	assert.Nil(t, Mark(nil, ErrIO))
}

func TestMarkKeepsMessageAndCategory(t *testing.T) {
	base := New("upload failed: 503")
	marked := Mark(base, ErrTransientRemote)
	wrapped := Wrap(marked, "submit")

	assert.Equal(t, "submit: upload failed: 503", wrapped.Error())
	assert.True(t, Is(wrapped, ErrTransientRemote))
	assert.False(t, Is(wrapped, ErrProviderRejection))
	assert.True(t, IsAny(wrapped, ErrInput, ErrTransientRemote))
}

func TestTaxonomyConstructors(t *testing.T) {
	err := NewInputError("file %s is empty", "a.wav")
	assert.True(t, Is(err, ErrInput))
	assert.Equal(t, "file a.wav is empty", err.Error())

	nf := NewNotFoundError("job %s", "j1")
	assert.True(t, IsNotFoundError(Wrap(nf, "cancel")))
	assert.False(t, IsInvalidRequestError(nf))

	bad := NewInvalidRequestError("job %s is %s", "j1", "completed")
	assert.True(t, IsInvalidRequestError(bad))
	assert.False(t, IsNotFoundError(nil))
}

func ExampleMark() {
	err := Wrap(Mark(New("503 Service Unavailable"), ErrTransientRemote), "submit")
	fmt.Println(err, Is(err, ErrTransientRemote))
	// Output: submit: 503 Service Unavailable true
}

package contextutils

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrorCodeInvalidInput, SeverityWarn, "bad request", "")
	assert.Equal(t, "INVALID_INPUT: bad request", err.Error())

	withDetails := NewAppError(ErrorCodeInvalidInput, SeverityWarn, "bad request", "student id must be positive")
	assert.Equal(t, "INVALID_INPUT: bad request - student id must be positive", withDetails.Error())
}

func TestAppError_Is(t *testing.T) {
	err := WrapError(ErrStudentNotFound, "lookup failed")
	assert.True(t, errors.Is(err, ErrStudentNotFound))
	assert.False(t, errors.Is(err, ErrSubjectNotFound))
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := NewAppErrorWithCause(ErrorCodeDatabaseQuery, SeverityError, "query failed", "", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestWrapError_PreservesCode(t *testing.T) {
	wrapped := WrapError(ErrStudentNotFound, "cannot generate sessions")
	require.Error(t, wrapped)

	assert.Equal(t, ErrorCodeStudentNotFound, GetErrorCode(wrapped))
	assert.True(t, IsError(wrapped, ErrStudentNotFound))
	assert.Contains(t, wrapped.Error(), "cannot generate sessions")
}

func TestWrapError_PlainErrorBecomesInternal(t *testing.T) {
	wrapped := WrapError(errors.New("boom"), "operation failed")
	assert.Equal(t, ErrorCodeInternalError, GetErrorCode(wrapped))
	assert.Contains(t, wrapped.Error(), "operation failed")
	assert.Contains(t, wrapped.Error(), "boom")
}

func TestWrapError_NilPassesThrough(t *testing.T) {
	assert.NoError(t, WrapError(nil, "no-op"))
	assert.NoError(t, WrapErrorf(nil, "no-op %d", 1))
}

func TestWrapErrorf_FormatsContext(t *testing.T) {
	wrapped := WrapErrorf(ErrNoQuestionsAvailable, "subject %d selection failed", 3)
	assert.True(t, IsError(wrapped, ErrNoQuestionsAvailable))
	assert.Contains(t, wrapped.Error(), "subject 3 selection failed")
}

func TestWrapErrorf_SupportsWrapVerb(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := WrapErrorf(cause, "write failed: %w", cause)
	assert.Contains(t, wrapped.Error(), "disk full")
	assert.Equal(t, ErrorCodeInternalError, GetErrorCode(wrapped))
}

func TestGetErrorSeverity(t *testing.T) {
	assert.Equal(t, SeverityWarn, GetErrorSeverity(ErrStudentNotFound))
	assert.Equal(t, SeverityError, GetErrorSeverity(errors.New("plain")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrTimeout))
	assert.True(t, IsRetryable(ErrServiceUnavailable))
	assert.True(t, IsRetryable(ErrDatabaseConnection))
	assert.False(t, IsRetryable(ErrStudentNotFound))
	assert.False(t, IsRetryable(ErrInvalidInput))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestAsError(t *testing.T) {
	var appErr *AppError
	assert.True(t, AsError(ErrCacheMiss, &appErr))
	assert.Equal(t, ErrorCodeCacheMiss, appErr.Code)

	assert.False(t, AsError(errors.New("plain"), &appErr))
}

func TestToJSON(t *testing.T) {
	payload := ErrTimeout.ToJSON()
	assert.Equal(t, "REQUEST_TIMEOUT", payload["code"])
	assert.Equal(t, true, payload["retryable"])
	assert.NotContains(t, payload, "details")
}

func TestStudentIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, 0, GetStudentIDFromContext(ctx))

	ctx = WithStudentID(ctx, 42)
	assert.Equal(t, 42, GetStudentIDFromContext(ctx))
}

package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Message(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "code must be 4 digits", http.StatusBadRequest)
	assert.Equal(t, "INVALID_INPUT: code must be 4 digits", err.Error())
}

func TestAppError_MessageIncludesCause(t *testing.T) {
	cause := errors.New("store unreachable")
	err := WrapError(cause, ErrCodeInternal, "failed to load sessions", http.StatusInternalServerError)

	assert.Contains(t, err.Error(), "store unreachable")
	assert.ErrorIs(t, err, cause)
}

func TestAppError_WithContextChains(t *testing.T) {
	err := NewInvalidInputError("bad pair id").
		WithContext("pair_id", "xyz").
		WithContext("length", 3)

	assert.Equal(t, "xyz", err.Context["pair_id"])
	assert.Equal(t, 3, err.Context["length"])
}

func TestConstructors(t *testing.T) {
	cases := []struct {
		err    *AppError
		code   ErrorCode
		status int
	}{
		{NewInvalidInputError("x"), ErrCodeInvalidInput, http.StatusBadRequest},
		{NewNotFoundError("session"), ErrCodeNotFound, http.StatusNotFound},
		{NewUnauthorizedError("x"), ErrCodeUnauthorized, http.StatusUnauthorized},
		{NewConflictError("x"), ErrCodeConflict, http.StatusConflict},
		{NewInternalError("x"), ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.code, tc.err.Code)
		assert.Equal(t, tc.status, tc.err.HTTPStatus)
	}
}

func TestNewNotFoundError_NamesResource(t *testing.T) {
	err := NewNotFoundError("pending pair")
	assert.Equal(t, "pending pair not found", err.Message)
}

func TestGetAppError(t *testing.T) {
	direct := NewUnauthorizedError("bad token")
	assert.Same(t, direct, GetAppError(direct))

	wrapped := fmt.Errorf("handler: %w", direct)
	require.NotNil(t, GetAppError(wrapped))
	assert.Equal(t, ErrCodeUnauthorized, GetAppError(wrapped).Code)

	assert.Nil(t, GetAppError(errors.New("plain")))
	assert.Nil(t, GetAppError(nil))
}

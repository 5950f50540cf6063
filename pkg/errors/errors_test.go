package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := NewNotFoundError("session")
	assert.Equal(t, "NOT_FOUND: session not found", err.Error())

	wrapped := WrapError(errors.New("dial tcp: refused"), ErrCodeUnavailable, "redis unreachable", http.StatusServiceUnavailable)
	assert.Contains(t, wrapped.Error(), "SERVICE_UNAVAILABLE")
	assert.Contains(t, wrapped.Error(), "dial tcp: refused")
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := WrapError(cause, ErrCodeInternal, "something failed", http.StatusInternalServerError)

	assert.True(t, errors.Is(err, cause))
}

func TestGetAppError(t *testing.T) {
	app := NewConflictError("endpoint already broadcasting")
	chained := fmt.Errorf("start broadcast: %w", app)

	got := GetAppError(chained)
	assert.NotNil(t, got)
	assert.Equal(t, ErrCodeConflict, got.Code)
	assert.Equal(t, http.StatusConflict, got.HTTPStatus)

	assert.Nil(t, GetAppError(errors.New("plain")))
	assert.Nil(t, GetAppError(nil))
}

package torcerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	err := NotFound("workflow not found: %d", 7)
	assert.Equal(t, CodeNotFound, CodeOf(err))
	assert.Equal(t, "workflow not found: 7", err.Error())

	// Code survives wrapping with fmt.Errorf.
	wrapped := fmt.Errorf("loading workflow: %w", err)
	assert.Equal(t, CodeNotFound, CodeOf(wrapped))
	assert.True(t, Is(wrapped, CodeNotFound))

	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
	assert.Equal(t, CodeInternal, CodeOf(nil))
}

func TestWrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(cause, CodeInternal, "writing result for job %d", 3)
	assert.Equal(t, "writing result for job 3: disk full", err.Error())
	assert.ErrorIs(t, err, cause)

	assert.Nil(t, Wrap(nil, CodeInternal, "unused"))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NotFound("x"), http.StatusNotFound},
		{Conflict("x"), http.StatusConflict},
		{InvalidState("x"), http.StatusConflict},
		{InvalidDag("x"), http.StatusBadRequest},
		{InvalidInput("x"), http.StatusBadRequest},
		{RetryableConflict("x"), http.StatusServiceUnavailable},
		{AuthRequired("x"), http.StatusUnauthorized},
		{AuthFailed("x"), http.StatusUnauthorized},
		{Internal("x"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "for %v", tt.err)
	}
}

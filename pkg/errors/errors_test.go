package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsType_WalksNestedAppErrors(t *testing.T) {
	notFound := NewNotFoundError("map")
	loadErr := NewLoadError("m1", notFound)
	wrapped := fmt.Errorf("open session: %w", loadErr)

	assert.True(t, IsLoadFailure(wrapped))
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsValidation(wrapped))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", NewValidationError("bad"), http.StatusBadRequest},
		{"not found", NewNotFoundError("map"), http.StatusNotFound},
		{"write", NewWriteError("nodes", errors.New("boom")), http.StatusServiceUnavailable},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStoreError("list_nodes", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "list_nodes")
	assert.Contains(t, err.Error(), "connection refused")
}

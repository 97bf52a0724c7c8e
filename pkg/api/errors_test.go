package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mecanolabs/jarvis/pkg/services"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"validation error", services.NewValidationError("key_name", "is not allowed"), http.StatusBadRequest},
		{"unauthorized", services.ErrUnauthorized, http.StatusUnauthorized},
		{"wrapped unauthorized", fmt.Errorf("auth: %w", services.ErrUnauthorized), http.StatusUnauthorized},
		{"forbidden", fmt.Errorf("worker w1 is offline: %w", services.ErrForbidden), http.StatusForbidden},
		{"not found", services.ErrNotFound, http.StatusNotFound},
		{"invalid input", services.ErrInvalidInput, http.StatusBadRequest},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapServiceError(tt.err)
			assert.Equal(t, tt.wantCode, he.Code)
		})
	}
}

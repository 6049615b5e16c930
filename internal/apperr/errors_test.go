package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKinds(t *testing.T) {
	cause := errors.New("disk full")

	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"not found", NotFound("registry.get", "collection not found"), ErrNotFound},
		{"validation", Validation("registry.update", "must update at least one attribute"), ErrValidation},
		{"conflict", Conflict("registry.create", "name taken"), ErrConflict},
		{"internal", Internal("registry.create", cause), ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.kind)
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.kind)
		})
	}

	assert.ErrorIs(t, Internal("op", cause), cause)
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "collection not found", PublicMessage(NotFound("op", "collection not found")))
	assert.Equal(t, "internal error", PublicMessage(Internal("op", errors.New("password=secret"))))
	assert.Equal(t, "internal error", PublicMessage(errors.New("raw")))
	assert.Equal(t, "conflict", PublicMessage(&Error{Kind: ErrConflict, Op: "op"}))
}

func TestError_String(t *testing.T) {
	assert.Equal(t, "registry.get: collection not found", NotFound("registry.get", "collection not found").Error())
	assert.Equal(t, "op: internal error: boom", Internal("op", errors.New("boom")).Error())
}

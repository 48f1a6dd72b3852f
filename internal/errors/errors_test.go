package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorWrapping(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrapf(cause, ErrCodeUnavailable, "publish to %s", "report-ready:1")

	assert.Equal(t, "publish to report-ready:1: connection reset", err.Error())
	require.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeUnavailable, GetCode(fmt.Errorf("outer: %w", err)))
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "ignored"))
}

func TestCodePredicates(t *testing.T) {
	tests := []struct {
		err  error
		pred func(error) bool
	}{
		{NotFound("x"), IsNotFound},
		{Conflict("x"), IsConflict},
		{Validation("x"), IsValidation},
		{New(ErrCodeForeignKey, "x"), IsForeignKey},
		{New(ErrCodeTimeout, "x"), IsTimeout},
	}
	for _, tt := range tests {
		assert.True(t, tt.pred(tt.err), tt.err.Error())
		assert.False(t, tt.pred(errors.New("plain")))
	}
}

func TestGetField(t *testing.T) {
	err := &AppError{Code: ErrCodeValidation, Message: "bad", Field: "age"}
	assert.Equal(t, "age", GetField(err))
	assert.Empty(t, GetField(errors.New("plain")))
	assert.Equal(t, "bad", err.Error())
}

package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without cause",
			err:      New(ErrNotFound, "record 7 not found"),
			expected: "[NOT_FOUND] record 7 not found",
		},
		{
			name:     "with cause",
			err:      Wrap(ErrStorageUnavailable, "insert record", stderrors.New("disk I/O error")),
			expected: "[STORAGE_UNAVAILABLE] insert record: disk I/O error",
		},
		{
			name:     "formatted",
			err:      Newf(ErrInvalidTransition, "record %d is %s", 3, "SYNCED"),
			expected: "[INVALID_TRANSITION] record 3 is SYNCED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestIsWalksChain(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := fmt.Errorf("sync pass: %w", Wrap(ErrTransportFailure, "submit batch", cause))

	assert.True(t, Is(err, ErrTransportFailure))
	assert.False(t, Is(err, ErrStorageUnavailable))
	assert.Equal(t, ErrTransportFailure, CodeOf(err))
	assert.ErrorIs(t, err, cause)
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(stderrors.New("plain")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

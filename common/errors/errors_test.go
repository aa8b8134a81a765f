package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorMessage(t *testing.T) {
	err := New(ErrCodeOrderNotFound, "order o-1 not found")
	assert.Equal(t, "[ORDER_NOT_FOUND] order o-1 not found", err.Error())

	wrapped := Wrap(ErrCodeDatabaseError, "failed to update order", fmt.Errorf("connection reset"))
	assert.Equal(t, "[DATABASE_ERROR] failed to update order: connection reset", wrapped.Error())
}

func TestIsWalksWrappedDomainErrors(t *testing.T) {
	inner := Newf(ErrCodeInstanceNotFound, "instance %s is gone", "i-1")
	outer := Wrap(ErrCodeCloudError, "failed to get instance", inner)
	viaFmt := fmt.Errorf("processing: %w", outer)

	assert.True(t, Is(viaFmt, ErrCodeCloudError))
	assert.True(t, Is(viaFmt, ErrCodeInstanceNotFound))
	assert.False(t, Is(viaFmt, ErrCodeOrderNotFound))
	assert.False(t, Is(fmt.Errorf("plain"), ErrCodeCloudError))
	assert.False(t, Is(nil, ErrCodeCloudError))

	code, ok := CodeOf(viaFmt)
	assert.True(t, ok)
	assert.Equal(t, ErrCodeCloudError, code)
}

func TestClassification(t *testing.T) {
	tests := []struct {
		code      ErrorCode
		retryable bool
		business  bool
	}{
		{ErrCodeDatabaseError, true, false},
		{ErrCodeCloudError, true, false},
		{ErrCodeDependencyViolation, false, true},
		{ErrCodeAlreadyInactive, false, true},
		{ErrCodeInternalConsistency, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "x")
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.Equal(t, tt.business, IsBusinessError(err))
		})
	}

	assert.False(t, IsRetryable(fmt.Errorf("plain")))
}

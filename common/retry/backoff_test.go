package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyungseok/federated-broker-go/common/logger"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:        3,
		InitialInterval:    time.Millisecond,
		MaxInterval:        5 * time.Millisecond,
		BackoffCoefficient: 2.0,
		MaxElapsedTime:     time.Second,
	}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), logger.NewTestLogger(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	cause := errors.New("down")
	calls := 0
	err := Do(context.Background(), fastConfig(), logger.NewTestLogger(), func() error {
		calls++
		return cause
	})

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	permanent := errors.New("permanent")
	cfg := fastConfig()
	cfg.ShouldRetry = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	err := Do(context.Background(), cfg, logger.NewTestLogger(), func() error {
		calls++
		return permanent
	})

	assert.Equal(t, permanent, err)
	assert.Equal(t, 1, calls)
}

func TestDoWithResultHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := DoWithResult(ctx, fastConfig(), logger.NewTestLogger(), func() (int, error) {
		return 1, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoWithResultReturnsValue(t *testing.T) {
	v, err := DoWithResult(context.Background(), fastConfig(), logger.NewTestLogger(), func() (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

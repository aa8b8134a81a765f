package worker

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kyungseok/federated-broker-go/common/events"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/metrics"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/repository"
)

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, topic, key string, event interface{}) error {
	return m.Called(ctx, topic, key, event).Error(0)
}

func (m *mockPublisher) Close() error { return nil }

func insertEvent(t *testing.T, outbox repository.OutboxRepository, orderID string) {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"orderId": orderID})
	require.NoError(t, err)
	require.NoError(t, outbox.Insert(context.Background(), &repository.OutboxEvent{
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     string(events.EventOrderStateChanged),
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	}))
}

func newTestOutboxWorker(outbox repository.OutboxRepository, pub *mockPublisher) *OutboxWorker {
	w := NewOutboxWorker(outbox, pub, zap.NewNop(), time.Hour)
	w.retry.InitialInterval = time.Millisecond
	w.retry.MaxInterval = time.Millisecond
	return w
}

func TestOutboxWorkerPublishesKeyedByOrder(t *testing.T) {
	outbox := repository.NewMemoryOutboxRepository()
	insertEvent(t, outbox, "o-1")
	insertEvent(t, outbox, "o-2")

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, string(events.EventOrderStateChanged), "o-1", mock.Anything).Return(nil).Once()
	pub.On("Publish", mock.Anything, string(events.EventOrderStateChanged), "o-2", mock.Anything).Return(nil).Once()

	before := testutil.ToFloat64(metrics.OutboxPublishedCounter)
	sent, err := newTestOutboxWorker(outbox, pub).ProcessOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sent)
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.OutboxPublishedCounter))
	for _, e := range outbox.All() {
		assert.Equal(t, repository.OutboxStatusSent, e.Status)
		assert.NotNil(t, e.SentAt)
	}
	pub.AssertExpectations(t)
}

func TestOutboxWorkerRetriesThenLeavesPending(t *testing.T) {
	outbox := repository.NewMemoryOutboxRepository()
	insertEvent(t, outbox, "o-1")

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything, "o-1", mock.Anything).Return(stderrors.New("broker down"))

	before := testutil.ToFloat64(metrics.OutboxFailedCounter)
	sent, err := newTestOutboxWorker(outbox, pub).ProcessOnce(context.Background())
	require.NoError(t, err)

	assert.Zero(t, sent)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.OutboxFailedCounter))
	pub.AssertNumberOfCalls(t, "Publish", 3)

	pending, err := outbox.FindPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "broker down", pending[0].LastError)
}

func TestOutboxWorkerDeadLettersAfterMaxAttempts(t *testing.T) {
	outbox := repository.NewMemoryOutboxRepository()
	insertEvent(t, outbox, "o-1")

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything, "o-1", mock.Anything).Return(stderrors.New("broker down"))

	w := newTestOutboxWorker(outbox, pub)
	w.retry.MaxAttempts = 1
	for i := 0; i < repository.OutboxMaxAttempts; i++ {
		_, err := w.ProcessOnce(context.Background())
		require.NoError(t, err)
	}

	all := outbox.All()
	require.Len(t, all, 1)
	assert.Equal(t, repository.OutboxStatusDead, all[0].Status)

	// DEAD 이벤트는 더 이상 발행하지 않는다.
	_, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	pub.AssertNumberOfCalls(t, "Publish", repository.OutboxMaxAttempts)
}

func TestOutboxWorkerPurgesSentEvents(t *testing.T) {
	outbox := repository.NewMemoryOutboxRepository()
	insertEvent(t, outbox, "o-1")
	insertEvent(t, outbox, "o-2")

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything, "o-1", mock.Anything).Return(nil)
	pub.On("Publish", mock.Anything, mock.Anything, "o-2", mock.Anything).Return(stderrors.New("broker down"))

	w := newTestOutboxWorker(outbox, pub)
	w.retry.MaxAttempts = 1
	_, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)

	n, err := w.Purge(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	w.retention = -time.Minute
	n, err = w.Purge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	remaining := outbox.All()
	require.Len(t, remaining, 1)
	assert.Equal(t, "o-2", remaining[0].AggregateID)
}

func TestOutboxWorkerRecoversOnRetry(t *testing.T) {
	outbox := repository.NewMemoryOutboxRepository()
	insertEvent(t, outbox, "o-1")

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything, "o-1", mock.Anything).Return(stderrors.New("leader not available")).Once()
	pub.On("Publish", mock.Anything, mock.Anything, "o-1", mock.Anything).Return(nil).Once()

	sent, err := newTestOutboxWorker(outbox, pub).ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	pub.AssertExpectations(t)
}

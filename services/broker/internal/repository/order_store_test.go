package repository

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyungseok/federated-broker-go/common/errors"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/domain"
)

// BROKER_TEST_DB_DSN 이 설정된 경우에만 실행된다.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("BROKER_TEST_DB_DSN")
	if dsn == "" {
		t.Skip("BROKER_TEST_DB_DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db))
	_, err = db.ExecContext(ctx, `TRUNCATE orders, outbox_events`)
	require.NoError(t, err)
	return db
}

func TestPostgresOrderStoreRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := NewPostgresOrderStore(db)

	owner := domain.User{ID: "u-1", Name: "alice", IdentityProvider: "idp"}
	o := domain.NewOrder(domain.ResourceTypeCompute, "m1", "m1", "cloud", owner, domain.Allocation{VCPU: 2, RAM: 1024}, "net-1")
	o.SetState(domain.OrderStateOpen)

	require.NoError(t, store.Add(ctx, o))
	assert.True(t, errors.Is(store.Add(ctx, o), errors.ErrCodeAlreadyActivated))

	o.SetState(domain.OrderStateFulfilled)
	o.SetInstanceID("vm-1")
	o.SetActualAllocation(&domain.Allocation{Instances: 1, VCPU: 2, RAM: 1024})
	require.NoError(t, store.Update(ctx, o))

	orders, err := store.ReadActiveOrders(ctx, domain.OrderStateFulfilled)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	got := orders[0]
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, owner, got.Owner)
	assert.Equal(t, []string{"net-1"}, got.EmbeddedOrderIDs)
	assert.Equal(t, "vm-1", got.InstanceID())
	assert.Equal(t, &domain.Allocation{Instances: 1, VCPU: 2, RAM: 1024}, got.ActualAllocation())

	missing := domain.NewOrder(domain.ResourceTypeNetwork, "m1", "m1", "cloud", owner, domain.Allocation{})
	missing.SetState(domain.OrderStateOpen)
	assert.True(t, errors.Is(store.Update(ctx, missing), errors.ErrCodeOrderNotFound))
}

func TestPostgresOutboxRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	outbox := NewOutboxRepository(db)

	event := &OutboxEvent{
		AggregateType: "order",
		AggregateID:   "o-1",
		EventType:     "order.state_changed.v1",
		Payload:       []byte(`{"orderId":"o-1"}`),
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, outbox.Insert(ctx, event))
	assert.NotZero(t, event.ID)

	pending, err := outbox.FindPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.JSONEq(t, `{"orderId":"o-1"}`, string(pending[0].Payload))

	status, err := outbox.MarkFailed(ctx, event.ID, "leader not available")
	require.NoError(t, err)
	assert.Equal(t, OutboxStatusPending, status)
	pending, err = outbox.FindPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "leader not available", pending[0].LastError)

	require.NoError(t, outbox.MarkSent(ctx, event.ID))
	pending, err = outbox.FindPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Error(t, outbox.MarkSent(ctx, event.ID+1000))

	purged, err := outbox.PurgeSent(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kyungseok/federated-broker-go/common/errors"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/domain"
)

func newOrder(state domain.OrderState) *domain.Order {
	o := domain.NewOrder(domain.ResourceTypeCompute, "m1", "m1", "cloud", domain.User{ID: "u-1"}, domain.Allocation{})
	o.SetState(state)
	return o
}

func emptyRepository(t *testing.T) *OrderRepository {
	t.Helper()
	repo, err := NewOrderRepository(context.Background(), NewMemoryOrderStore(), zap.NewNop())
	require.NoError(t, err)
	return repo
}

// assertAgreement 조회 테이블의 모든 주문이 정확히 하나의 버킷, 자신의 상태 버킷에 있는지 확인
func assertAgreement(t *testing.T, repo *OrderRepository) {
	t.Helper()

	seen := make(map[string]domain.OrderState)
	for _, state := range domain.ActiveStates() {
		bucket, err := repo.BucketFor(state)
		require.NoError(t, err)
		for _, o := range bucket.Snapshot() {
			prev, dup := seen[o.ID]
			assert.False(t, dup, "order %s in both %s and %s", o.ID, prev, state)
			seen[o.ID] = state
			assert.Equal(t, state, o.State())
		}
	}

	orders := repo.Orders()
	assert.Len(t, seen, len(orders))
	for _, o := range orders {
		_, ok := seen[o.ID]
		assert.True(t, ok, "order %s missing from buckets", o.ID)
	}
}

func TestBootstrapRecoversActiveOrders(t *testing.T) {
	spawning := newOrder(domain.OrderStateSpawning)
	fulfilled := newOrder(domain.OrderStateFulfilled)
	closed := newOrder(domain.OrderStateClosed)
	deactivated := newOrder(domain.OrderStateDeactivated)

	store := NewMemoryOrderStore(spawning, fulfilled, closed, deactivated)
	repo, err := NewOrderRepository(context.Background(), store, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 3, repo.Len())
	_, ok := repo.Lookup(deactivated.ID)
	assert.False(t, ok)

	counts := repo.Counts()
	assert.Equal(t, 1, counts[domain.OrderStateSpawning])
	assert.Equal(t, 1, counts[domain.OrderStateFulfilled])
	assert.Equal(t, 1, counts[domain.OrderStateClosed])
	assert.Equal(t, 0, counts[domain.OrderStateDeactivated])
	assertAgreement(t, repo)
}

type failingReader struct{}

func (failingReader) ReadActiveOrders(context.Context, domain.OrderState) ([]*domain.Order, error) {
	return nil, errors.New(errors.ErrCodeDatabaseError, "down")
}

func TestBootstrapFailsWhenStoreFails(t *testing.T) {
	_, err := NewOrderRepository(context.Background(), failingReader{}, zap.NewNop())
	assert.True(t, errors.Is(err, errors.ErrCodeDatabaseError))
}

func TestInsertRejectsDuplicates(t *testing.T) {
	repo := emptyRepository(t)
	o := newOrder(domain.OrderStateOpen)

	require.NoError(t, repo.Insert(o))
	err := repo.Insert(o)
	assert.True(t, errors.Is(err, errors.ErrCodeAlreadyActivated))

	bucket, err := repo.BucketFor(domain.OrderStateOpen)
	require.NoError(t, err)
	assert.Equal(t, 1, bucket.Len())
	assert.Equal(t, 1, repo.Len())
}

func TestInsertRejectsUnsetState(t *testing.T) {
	repo := emptyRepository(t)
	o := domain.NewOrder(domain.ResourceTypeCompute, "m1", "m1", "cloud", domain.User{}, domain.Allocation{})

	err := repo.Insert(o)
	assert.True(t, errors.Is(err, errors.ErrCodeInternalConsistency))
	assert.Equal(t, 0, repo.Len())
}

func TestBucketForInvalidState(t *testing.T) {
	repo := emptyRepository(t)
	_, err := repo.BucketFor(domain.OrderStateUnset)
	assert.True(t, errors.Is(err, errors.ErrCodeInternalConsistency))
	_, err = repo.BucketFor(domain.NumOrderStates)
	assert.True(t, errors.Is(err, errors.ErrCodeInternalConsistency))
}

func TestMove(t *testing.T) {
	repo := emptyRepository(t)
	o := newOrder(domain.OrderStateOpen)
	require.NoError(t, repo.Insert(o))

	origin, err := repo.Move(o, domain.OrderStateSpawning)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStateOpen, origin)
	assert.Equal(t, domain.OrderStateSpawning, o.State())
	assertAgreement(t, repo)

	_, err = repo.Move(o, domain.OrderStateSpawning)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidState))

	_, err = repo.Move(o, domain.OrderStateUnset)
	assert.True(t, errors.Is(err, errors.ErrCodeInternalConsistency))
	assert.Equal(t, domain.OrderStateSpawning, o.State())

	// DEACTIVATED 는 Deactivate 로만 도달한다
	_, err = repo.Move(o, domain.OrderStateDeactivated)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidState))
	assert.Equal(t, domain.OrderStateSpawning, o.State())
	assert.Same(t, o, repo.Orders()[0])
	assertAgreement(t, repo)
}

func TestMoveRejectsOrderNotInRepository(t *testing.T) {
	repo := emptyRepository(t)
	o := newOrder(domain.OrderStateOpen)

	_, err := repo.Move(o, domain.OrderStateClosed)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidState))
	assert.Equal(t, domain.OrderStateOpen, o.State())
}

func TestDeactivate(t *testing.T) {
	repo := emptyRepository(t)
	o := newOrder(domain.OrderStateClosed)
	require.NoError(t, repo.Insert(o))

	require.NoError(t, repo.Deactivate(o))
	assert.Equal(t, domain.OrderStateDeactivated, o.State())
	_, ok := repo.Lookup(o.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, repo.Counts()[domain.OrderStateClosed])

	err := repo.Deactivate(o)
	assert.True(t, errors.Is(err, errors.ErrCodeAlreadyInactive))
}

func TestRemoveTouchesLookupOnly(t *testing.T) {
	repo := emptyRepository(t)
	o := newOrder(domain.OrderStateOpen)
	require.NoError(t, repo.Insert(o))

	repo.Remove(o.ID)
	_, ok := repo.Lookup(o.ID)
	assert.False(t, ok)
	assert.Equal(t, 1, repo.Counts()[domain.OrderStateOpen])
}

func TestConcurrentMovesKeepBucketsConsistent(t *testing.T) {
	repo := emptyRepository(t)
	path := []domain.OrderState{
		domain.OrderStateSelected,
		domain.OrderStateSpawning,
		domain.OrderStateFulfilled,
		domain.OrderStateClosed,
	}

	orders := make([]*domain.Order, 50)
	for i := range orders {
		orders[i] = newOrder(domain.OrderStateOpen)
		require.NoError(t, repo.Insert(orders[i]))
	}

	var torn atomic.Int32
	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			total := 0
			for _, n := range repo.Counts() {
				total += n
			}
			if total != len(orders) {
				torn.Add(1)
			}
			time.Sleep(time.Microsecond)
		}
	}()

	var wg sync.WaitGroup
	for _, o := range orders {
		wg.Add(1)
		go func(o *domain.Order) {
			defer wg.Done()
			for _, s := range path {
				_, err := repo.Move(o, s)
				assert.NoError(t, err)
			}
		}(o)
	}
	wg.Wait()
	close(stop)
	<-readerDone

	assert.Zero(t, torn.Load(), "reader observed a torn bucket count")
	assert.Equal(t, len(orders), repo.Counts()[domain.OrderStateClosed])
	assertAgreement(t, repo)
}

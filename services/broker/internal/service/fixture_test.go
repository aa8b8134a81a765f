package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kyungseok/federated-broker-go/services/broker/internal/cloudconnector"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/domain"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/repository"
)

const (
	localMember  = "member-a"
	remoteMember = "member-b"
	cloudA       = "cloud-a"
)

var (
	alice = domain.User{ID: "u-alice", Name: "alice", IdentityProvider: "idp"}
	bob   = domain.User{ID: "u-bob", Name: "bob", IdentityProvider: "idp"}
)

type mockConnector struct{ mock.Mock }

func (m *mockConnector) RequestInstance(ctx context.Context, o *domain.Order) (string, error) {
	args := m.Called(ctx, o)
	return args.String(0), args.Error(1)
}

func (m *mockConnector) GetInstance(ctx context.Context, o *domain.Order) (*domain.Instance, error) {
	args := m.Called(ctx, o)
	inst, _ := args.Get(0).(*domain.Instance)
	return inst, args.Error(1)
}

func (m *mockConnector) DeleteInstance(ctx context.Context, o *domain.Order) error {
	return m.Called(ctx, o).Error(0)
}

func (m *mockConnector) GetUserQuota(ctx context.Context, owner domain.User, t domain.ResourceType) (*domain.Quota, error) {
	args := m.Called(ctx, owner, t)
	q, _ := args.Get(0).(*domain.Quota)
	return q, args.Error(1)
}

type staticResolver struct{ connector cloudconnector.CloudConnector }

func (r staticResolver) Connector(string, string) (cloudconnector.CloudConnector, error) {
	return r.connector, nil
}

type fixture struct {
	repo         *repository.OrderRepository
	store        *repository.MemoryOrderStore
	outbox       *repository.MemoryOutboxRepository
	tracker      *DependencyTracker
	transitioner StateTransitioner
	controller   OrderController
	cloud        *cloudconnector.EmulatedCloud
	factory      *cloudconnector.Factory
}

// newFixture 에뮬레이션 클라우드를 쓰는 컨트롤러. resolver 가 주어지면 그것을 사용한다.
func newFixture(t *testing.T, resolver ConnectorResolver, cloudOpts ...cloudconnector.EmulatedOption) *fixture {
	t.Helper()

	logger := zap.NewNop()
	store := repository.NewMemoryOrderStore()
	repo, err := repository.NewOrderRepository(context.Background(), store, logger)
	require.NoError(t, err)

	f := &fixture{
		repo:    repo,
		store:   store,
		outbox:  repository.NewMemoryOutboxRepository(),
		tracker: NewDependencyTracker(repo, logger),
		cloud:   cloudconnector.NewEmulatedCloud(cloudOpts...),
	}
	f.factory = cloudconnector.NewFactory(localMember, nil, logger)
	f.factory.RegisterPlugin(cloudA, f.cloud)
	if resolver == nil {
		resolver = f.factory
	}

	f.transitioner = NewStateTransitioner(repo, store, NewOutboxNotifier(f.outbox), localMember, logger)
	f.controller = NewOrderController(repo, store, f.transitioner, f.tracker, resolver, localMember, logger)
	return f
}

func newLocalOrder(t domain.ResourceType, owner domain.User, embedded ...string) *domain.Order {
	return domain.NewOrder(t, localMember, localMember, cloudA, owner, domain.Allocation{Instances: 1}, embedded...)
}

// fulfill 주문을 활성화하고 에뮬레이션 클라우드에 인스턴스를 만든 뒤 FULFILLED 로 전이
func (f *fixture) fulfill(t *testing.T, o *domain.Order) *domain.Order {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.controller.ActivateOrder(ctx, o))
	id, err := f.cloud.RequestInstance(ctx, o)
	require.NoError(t, err)
	o.SetInstanceID(id)
	alloc := o.Requested
	o.SetActualAllocation(&alloc)
	require.NoError(t, f.transitioner.Transition(ctx, o, domain.OrderStateFulfilled))
	return o
}

// assertConsistent 조회 테이블과 버킷의 일치 확인
func (f *fixture) assertConsistent(t *testing.T) {
	t.Helper()

	seen := make(map[string]bool)
	for _, state := range domain.ActiveStates() {
		bucket, err := f.repo.BucketFor(state)
		require.NoError(t, err)
		for _, o := range bucket.Snapshot() {
			require.False(t, seen[o.ID], "order %s in more than one bucket", o.ID)
			seen[o.ID] = true
			require.Equal(t, state, o.State())
			active, ok := f.repo.Lookup(o.ID)
			require.True(t, ok)
			require.Same(t, o, active)
		}
	}
	require.Len(t, seen, f.repo.Len())
}

package federation

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/kyungseok/federated-broker-go/common/errors"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/cloudconnector"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/domain"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/repository"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/service"
)

const (
	requester = "member-a"
	provider  = "member-b"
	cloudB    = "cloud-b"
	bufSize   = 1024 * 1024
)

var alice = domain.User{ID: "u-alice", Name: "alice", IdentityProvider: "idp"}

type providerSide struct {
	repo         *repository.OrderRepository
	outbox       *repository.MemoryOutboxRepository
	cloud        *cloudconnector.EmulatedCloud
	transitioner service.StateTransitioner
	listener     *bufconn.Listener
}

// startProvider 제공자 멤버 스택을 bufconn 위의 gRPC 서버로 띄운다.
func startProvider(t *testing.T) *providerSide {
	t.Helper()

	logger := zap.NewNop()
	store := repository.NewMemoryOrderStore()
	repo, err := repository.NewOrderRepository(context.Background(), store, logger)
	require.NoError(t, err)

	p := &providerSide{
		repo:     repo,
		outbox:   repository.NewMemoryOutboxRepository(),
		cloud:    cloudconnector.NewEmulatedCloud(),
		listener: bufconn.Listen(bufSize),
	}

	factory := cloudconnector.NewFactory(provider, nil, logger)
	factory.RegisterPlugin(cloudB, p.cloud)
	tracker := service.NewDependencyTracker(repo, logger)
	p.transitioner = service.NewStateTransitioner(repo, store, service.NewOutboxNotifier(p.outbox), provider, logger)
	controller := service.NewOrderController(repo, store, p.transitioner, tracker, factory, provider, logger)

	srv := grpc.NewServer()
	RegisterRemoteFacade(srv, NewServer(controller, provider, logger))
	go func() { _ = srv.Serve(p.listener) }()
	t.Cleanup(srv.Stop)
	return p
}

func (p *providerSide) pool(t *testing.T, local string) *Pool {
	t.Helper()
	dialer := func(context.Context, string) (net.Conn, error) { return p.listener.Dial() }
	pool := NewPool(local, map[string]string{provider: "passthrough://bufconn"}, 5*time.Second, zap.NewNop(),
		grpc.WithContextDialer(dialer))
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func (p *providerSide) connector(t *testing.T, local string) cloudconnector.CloudConnector {
	t.Helper()
	c, err := p.pool(t, local).Connector(provider, cloudB)
	require.NoError(t, err)
	return c
}

// fulfill 제공자 측에서 인스턴스를 만들고 FULFILLED 로 전이
func (p *providerSide) fulfill(t *testing.T, orderID string) *domain.Order {
	t.Helper()
	ctx := context.Background()

	o, ok := p.repo.Lookup(orderID)
	require.True(t, ok)
	id, err := p.cloud.RequestInstance(ctx, o)
	require.NoError(t, err)
	o.SetInstanceID(id)
	alloc := o.Requested
	o.SetActualAllocation(&alloc)
	require.NoError(t, p.transitioner.Transition(ctx, o, domain.OrderStateFulfilled))
	return o
}

func newRemoteOrder() *domain.Order {
	return domain.NewOrder(domain.ResourceTypeCompute, requester, provider, cloudB, alice,
		domain.Allocation{Instances: 1, VCPU: 2, RAM: 2048})
}

func TestRemoteActivation(t *testing.T) {
	p := startProvider(t)
	conn := p.connector(t, requester)
	ctx := context.Background()

	o := newRemoteOrder()
	o.SetState(domain.OrderStateSelected)
	o.SetInstanceID("stale")

	id, err := conn.RequestInstance(ctx, o)
	require.NoError(t, err)
	assert.Empty(t, id)

	remote, ok := p.repo.Lookup(o.ID)
	require.True(t, ok)
	assert.Equal(t, domain.OrderStateOpen, remote.State())
	assert.Equal(t, requester, remote.Requester)
	assert.Empty(t, remote.InstanceID())
	assert.Equal(t, o.Requested, remote.Requested)
	assert.True(t, remote.Owner.SameAs(alice))

	_, err = conn.RequestInstance(ctx, o)
	assert.True(t, errors.Is(err, errors.ErrCodeAlreadyActivated), "got %v", err)
}

func TestRemoteActivationRejectsImpersonation(t *testing.T) {
	p := startProvider(t)
	conn := p.connector(t, "member-c")

	_, err := conn.RequestInstance(context.Background(), newRemoteOrder())
	assert.True(t, errors.Is(err, errors.ErrCodeUnauthorized), "got %v", err)
	assert.Zero(t, p.repo.Len())
}

func TestRemoteGetInstance(t *testing.T) {
	p := startProvider(t)
	conn := p.connector(t, requester)
	ctx := context.Background()

	o := newRemoteOrder()
	_, err := conn.RequestInstance(ctx, o)
	require.NoError(t, err)

	_, err = conn.GetInstance(ctx, o)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidState), "got %v", err)

	p.fulfill(t, o.ID)

	instance, err := conn.GetInstance(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, o.ID, instance.ID)
	assert.Equal(t, provider, instance.Provider)
	assert.Equal(t, cloudB, instance.CloudName)
	assert.Equal(t, domain.InstanceStateReady, instance.State)
	require.NotNil(t, instance.Allocation)
	assert.Equal(t, 2, instance.Allocation.VCPU)

	// 원격 요청자에게 상태 변경이 통지된다.
	sent := p.outbox.All()
	require.Len(t, sent, 1)
	assert.Equal(t, o.ID, sent[0].AggregateID)
}

func TestRemoteGetInstanceOfAnotherRequester(t *testing.T) {
	p := startProvider(t)
	ctx := context.Background()

	o := newRemoteOrder()
	_, err := p.connector(t, requester).RequestInstance(ctx, o)
	require.NoError(t, err)

	_, err = p.connector(t, "member-c").GetInstance(ctx, o)
	assert.True(t, errors.Is(err, errors.ErrCodeUnauthorized), "got %v", err)
}

func TestRemoteDeletion(t *testing.T) {
	p := startProvider(t)
	conn := p.connector(t, requester)
	ctx := context.Background()

	o := newRemoteOrder()
	_, err := conn.RequestInstance(ctx, o)
	require.NoError(t, err)
	remote := p.fulfill(t, o.ID)

	require.NoError(t, conn.DeleteInstance(ctx, o))
	assert.Equal(t, domain.OrderStateAssignedForDeletion, remote.State())

	// 이미 진행 중인 삭제는 성공으로 본다.
	assert.NoError(t, conn.DeleteInstance(ctx, o))

	err = conn.DeleteInstance(ctx, newRemoteOrder())
	assert.True(t, errors.Is(err, errors.ErrCodeInstanceNotFound), "got %v", err)
}

func TestRemoteUserQuota(t *testing.T) {
	p := startProvider(t)
	conn := p.connector(t, requester)
	ctx := context.Background()

	o := newRemoteOrder()
	_, err := conn.RequestInstance(ctx, o)
	require.NoError(t, err)
	p.fulfill(t, o.ID)

	quota, err := conn.GetUserQuota(ctx, alice, domain.ResourceTypeCompute)
	require.NoError(t, err)
	assert.Equal(t, cloudconnector.EmulatedQuota, quota.Total)
	assert.Equal(t, 2, quota.Used().VCPU)
}

func TestPoolRejectsUnknownMembers(t *testing.T) {
	pool := NewPool(requester, map[string]string{provider: "passthrough://bufconn"}, time.Second, zap.NewNop())

	_, err := pool.Connector("member-z", cloudB)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidParameter))

	_, err = pool.Connector(requester, cloudB)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidParameter))

	c1, err := pool.Client(provider)
	require.NoError(t, err)
	c2, err := pool.Client(provider)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.NoError(t, pool.Close())
}

func TestStatusConversion(t *testing.T) {
	err := fromStatus(status.Error(codes.Unavailable, "connection refused"), nil)
	assert.True(t, errors.Is(err, errors.ErrCodeNetworkError))

	err = fromStatus(status.Error(codes.DeadlineExceeded, "deadline"), nil)
	assert.True(t, errors.Is(err, errors.ErrCodeTimeoutError))

	err = fromStatus(status.Error(codes.Internal, "boom"), nil)
	assert.True(t, errors.Is(err, errors.ErrCodeUnknownError))

	err = fromStatus(status.Error(codes.NotFound, "order o-1 not found"),
		metadata.Pairs(errorCodeTrailer, string(errors.ErrCodeOrderNotFound)))
	assert.True(t, errors.Is(err, errors.ErrCodeOrderNotFound))
	assert.Contains(t, err.Error(), "order o-1 not found")

	assert.NoError(t, fromStatus(nil, nil))
}

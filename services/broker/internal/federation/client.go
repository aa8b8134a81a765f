package federation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kyungseok/federated-broker-go/common/errors"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/cloudconnector"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/domain"
)

// Client 원격 멤버 RemoteFacade 클라이언트
type Client struct {
	conn         *grpc.ClientConn
	localMember  string
	remoteMember string
	timeout      time.Duration
}

// NewClient 원격 멤버 클라이언트 생성 (연결은 첫 호출 시 맺어진다)
func NewClient(localMember, remoteMember, target string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeNetworkError, "failed to create federation client", err)
	}
	return &Client{
		conn:         conn,
		localMember:  localMember,
		remoteMember: remoteMember,
		timeout:      timeout,
	}, nil
}

// Close 연결 종료
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	ctx = metadata.AppendToOutgoingContext(ctx, memberHeader, c.localMember)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var trailer metadata.MD
	err := c.conn.Invoke(ctx, method, in, out, grpc.Trailer(&trailer))
	return fromStatus(err, trailer)
}

// ActivateOrder 원격 멤버에 주문 활성화 요청
func (c *Client) ActivateOrder(ctx context.Context, rec domain.OrderRecord) error {
	in, err := toStruct(rec)
	if err != nil {
		return err
	}
	return c.invoke(ctx, methodActivateOrder, in, new(emptypb.Empty))
}

// GetInstance 원격 인스턴스 조회
func (c *Client) GetInstance(ctx context.Context, orderID string) (*domain.Instance, error) {
	in, err := toStruct(orderRequest{OrderID: orderID})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, methodGetInstance, in, out); err != nil {
		return nil, err
	}

	var instance domain.Instance
	if err := fromStruct(out, &instance); err != nil {
		return nil, err
	}
	return &instance, nil
}

// DeleteOrder 원격 주문 삭제 예약
func (c *Client) DeleteOrder(ctx context.Context, orderID string) error {
	in, err := toStruct(orderRequest{OrderID: orderID})
	if err != nil {
		return err
	}
	return c.invoke(ctx, methodDeleteOrder, in, new(emptypb.Empty))
}

// GetUserQuota 원격 클라우드의 사용자 쿼터 조회
func (c *Client) GetUserQuota(ctx context.Context, cloudName string, owner domain.User, resourceType domain.ResourceType) (*domain.Quota, error) {
	in, err := toStruct(quotaRequest{CloudName: cloudName, Owner: owner, Type: resourceType})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, methodGetUserQuota, in, out); err != nil {
		return nil, err
	}

	var quota domain.Quota
	if err := fromStruct(out, &quota); err != nil {
		return nil, err
	}
	return &quota, nil
}

// RemoteConnector 원격 멤버의 클라우드 하나를 CloudConnector 로 노출
type RemoteConnector struct {
	client    *Client
	cloudName string
	logger    *zap.Logger
}

// RequestInstance 원격 활성화. 인스턴스 ID 는 이후 상태 변경 이벤트로 전달된다.
func (r *RemoteConnector) RequestInstance(ctx context.Context, order *domain.Order) (string, error) {
	if err := r.client.ActivateOrder(ctx, order.Record()); err != nil {
		return "", err
	}
	r.logger.Info("order forwarded to provider", zap.String("orderId", order.ID))
	return "", nil
}

func (r *RemoteConnector) GetInstance(ctx context.Context, order *domain.Order) (*domain.Instance, error) {
	return r.client.GetInstance(ctx, order.ID)
}

// DeleteInstance 원격 삭제 예약. 원격에 주문이 없으면 INSTANCE_NOT_FOUND.
func (r *RemoteConnector) DeleteInstance(ctx context.Context, order *domain.Order) error {
	err := r.client.DeleteOrder(ctx, order.ID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errors.ErrCodeOrderNotFound), errors.Is(err, errors.ErrCodeAlreadyInactive):
		return errors.Wrap(errors.ErrCodeInstanceNotFound, "remote order is gone", err)
	case errors.Is(err, errors.ErrCodeInvalidState):
		// 원격에서 이미 삭제가 진행 중
		r.logger.Debug("remote deletion already ongoing", zap.String("orderId", order.ID))
		return nil
	default:
		return err
	}
}

func (r *RemoteConnector) GetUserQuota(ctx context.Context, owner domain.User, resourceType domain.ResourceType) (*domain.Quota, error) {
	return r.client.GetUserQuota(ctx, r.cloudName, owner, resourceType)
}

// Pool 멤버별 클라이언트 관리
type Pool struct {
	localMember string
	members     map[string]string
	timeout     time.Duration
	dialOpts    []grpc.DialOption
	logger      *zap.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// NewPool 멤버 ID -> 주소 맵으로 풀 생성
func NewPool(localMember string, members map[string]string, timeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) *Pool {
	return &Pool{
		localMember: localMember,
		members:     members,
		timeout:     timeout,
		dialOpts:    opts,
		logger:      logger,
		clients:     make(map[string]*Client),
	}
}

// Client 멤버 클라이언트 조회 (생성 후 캐시)
func (p *Pool) Client(member string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[member]; ok {
		return c, nil
	}

	target, ok := p.members[member]
	if !ok || member == p.localMember {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "unknown federation member %s", member)
	}

	c, err := NewClient(p.localMember, member, target, p.timeout, p.dialOpts...)
	if err != nil {
		return nil, err
	}
	p.clients[member] = c
	p.logger.Info("federation client created", zap.String("member", member), zap.String("target", target))
	return c, nil
}

// Connector cloudconnector.RemoteConnectorFunc 구현
func (p *Pool) Connector(provider, cloudName string) (cloudconnector.CloudConnector, error) {
	c, err := p.Client(provider)
	if err != nil {
		return nil, err
	}
	return &RemoteConnector{
		client:    c,
		cloudName: cloudName,
		logger:    p.logger.With(zap.String("provider", provider), zap.String("cloud", cloudName)),
	}, nil
}

// Close 모든 연결 종료
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for member, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.clients, member)
	}
	return firstErr
}

var _ cloudconnector.CloudConnector = (*RemoteConnector)(nil)

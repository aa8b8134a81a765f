package federation

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kyungseok/federated-broker-go/common/errors"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/domain"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/service"
)

// Server 원격 요청자를 위한 RemoteFacade 구현
type Server struct {
	controller  service.OrderController
	localMember string
	logger      *zap.Logger
}

// NewServer 페더레이션 서버 생성
func NewServer(controller service.OrderController, localMember string, logger *zap.Logger) *Server {
	return &Server{
		controller:  controller,
		localMember: localMember,
		logger:      logger,
	}
}

func callerOf(ctx context.Context) (string, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	if values := md.Get(memberHeader); len(values) > 0 && values[0] != "" {
		return values[0], nil
	}
	return "", errors.New(errors.ErrCodeUnauthorized, "missing federation member header")
}

// ActivateOrder 원격 요청자의 주문을 로컬 제공자 주문으로 활성화
func (s *Server) ActivateOrder(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	caller, err := callerOf(ctx)
	if err != nil {
		return nil, toStatus(ctx, err)
	}

	var rec domain.OrderRecord
	if err := fromStruct(in, &rec); err != nil {
		return nil, toStatus(ctx, err)
	}
	if rec.Requester != caller {
		return nil, toStatus(ctx, errors.Newf(errors.ErrCodeUnauthorized, "member %s cannot act for requester %s", caller, rec.Requester))
	}
	if rec.Provider != s.localMember {
		return nil, toStatus(ctx, errors.Newf(errors.ErrCodeInvalidParameter, "order %s is not provided by %s", rec.ID, s.localMember))
	}

	// 제공자 측 라이프사이클은 처음부터 시작한다.
	rec.State = domain.OrderStateUnset
	rec.InstanceID = ""
	rec.ActualAllocation = nil
	rec.InstanceState = ""

	if err := s.controller.ActivateOrder(ctx, domain.NewOrderFromRecord(rec)); err != nil {
		return nil, toStatus(ctx, err)
	}

	s.logger.Info("remote order activated",
		zap.String("orderId", rec.ID),
		zap.String("requester", caller))
	return &emptypb.Empty{}, nil
}

// GetInstance 요청자가 소유한 주문의 인스턴스 조회
func (s *Server) GetInstance(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	order, err := s.requestedOrder(ctx, in)
	if err != nil {
		return nil, toStatus(ctx, err)
	}

	instance, err := s.controller.GetResourceInstance(ctx, order)
	if err != nil {
		return nil, toStatus(ctx, err)
	}

	out, err := toStruct(instance)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return out, nil
}

// DeleteOrder 요청자가 소유한 주문 삭제 예약
func (s *Server) DeleteOrder(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	order, err := s.requestedOrder(ctx, in)
	if err != nil {
		return nil, toStatus(ctx, err)
	}

	if err := s.controller.ScheduleDeletion(ctx, order); err != nil {
		return nil, toStatus(ctx, err)
	}

	s.logger.Info("remote order deletion scheduled",
		zap.String("orderId", order.ID),
		zap.String("requester", order.Requester))
	return &emptypb.Empty{}, nil
}

// GetUserQuota 로컬 클라우드의 사용자 쿼터 조회
func (s *Server) GetUserQuota(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if _, err := callerOf(ctx); err != nil {
		return nil, toStatus(ctx, err)
	}

	var req quotaRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, toStatus(ctx, err)
	}

	quota, err := s.controller.GetUserQuota(ctx, s.localMember, req.CloudName, req.Owner, req.Type)
	if err != nil {
		return nil, toStatus(ctx, err)
	}

	out, err := toStruct(quota)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return out, nil
}

func (s *Server) requestedOrder(ctx context.Context, in *structpb.Struct) (*domain.Order, error) {
	caller, err := callerOf(ctx)
	if err != nil {
		return nil, err
	}

	var req orderRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}

	order, err := s.controller.GetOrder(req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Requester != caller {
		return nil, errors.Newf(errors.ErrCodeUnauthorized, "member %s cannot act for requester %s", caller, order.Requester)
	}
	return order, nil
}

var _ RemoteFacade = (*Server)(nil)

// Package federation 멤버 간 주문 요청 전달 (gRPC)
package federation

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kyungseok/federated-broker-go/common/errors"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/domain"
)

const (
	serviceName = "broker.RemoteFacade"

	methodActivateOrder = "/" + serviceName + "/ActivateOrder"
	methodGetInstance   = "/" + serviceName + "/GetInstance"
	methodDeleteOrder   = "/" + serviceName + "/DeleteOrder"
	methodGetUserQuota  = "/" + serviceName + "/GetUserQuota"

	// 호출한 멤버 ID
	memberHeader = "broker-member"
	// 도메인 에러 코드 (trailer)
	errorCodeTrailer = "broker-error-code"
)

// RemoteFacade 다른 멤버가 호출하는 주문 연산
type RemoteFacade interface {
	ActivateOrder(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error)
	GetInstance(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	DeleteOrder(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error)
	GetUserQuota(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type orderRequest struct {
	OrderID string `json:"orderId"`
}

type quotaRequest struct {
	CloudName string              `json:"cloudName"`
	Owner     domain.User         `json:"owner"`
	Type      domain.ResourceType `json:"type"`
}

// RegisterRemoteFacade gRPC 서버에 등록
func RegisterRemoteFacade(s grpc.ServiceRegistrar, facade RemoteFacade) {
	s.RegisterService(&remoteFacadeDesc, facade)
}

var remoteFacadeDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RemoteFacade)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ActivateOrder",
			Handler:    unaryHandler(methodActivateOrder, RemoteFacade.ActivateOrder),
		},
		{
			MethodName: "GetInstance",
			Handler:    unaryHandler(methodGetInstance, RemoteFacade.GetInstance),
		},
		{
			MethodName: "DeleteOrder",
			Handler:    unaryHandler(methodDeleteOrder, RemoteFacade.DeleteOrder),
		},
		{
			MethodName: "GetUserQuota",
			Handler:    unaryHandler(methodGetUserQuota, RemoteFacade.GetUserQuota),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "broker/remote_facade",
}

func unaryHandler[Resp any](
	fullMethod string,
	call func(RemoteFacade, context.Context, *structpb.Struct) (Resp, error),
) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RemoteFacade), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RemoteFacade), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// toStruct JSON 표현을 거쳐 structpb 로 변환
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal message", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSerializationError, "failed to unmarshal message", err)
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSerializationError, "failed to build struct", err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, v any) error {
	raw, err := s.MarshalJSON()
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal struct", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to decode message", err)
	}
	return nil
}

var grpcCodes = map[errors.ErrorCode]codes.Code{
	errors.ErrCodeOrderNotFound:       codes.NotFound,
	errors.ErrCodeInstanceNotFound:    codes.NotFound,
	errors.ErrCodeInvalidState:        codes.FailedPrecondition,
	errors.ErrCodeInvalidParameter:    codes.InvalidArgument,
	errors.ErrCodeDependencyViolation: codes.FailedPrecondition,
	errors.ErrCodeAlreadyActivated:    codes.AlreadyExists,
	errors.ErrCodeAlreadyInactive:     codes.FailedPrecondition,
	errors.ErrCodeUnauthorized:        codes.PermissionDenied,
	errors.ErrCodeNetworkError:        codes.Unavailable,
	errors.ErrCodeTimeoutError:        codes.DeadlineExceeded,
	errors.ErrCodeSerializationError:  codes.InvalidArgument,
}

// toStatus 도메인 에러를 gRPC status 로 변환하고 에러 코드를 trailer 에 싣는다.
func toStatus(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	code, ok := errors.CodeOf(err)
	if !ok {
		code = errors.ErrCodeUnknownError
	}
	_ = grpc.SetTrailer(ctx, metadata.Pairs(errorCodeTrailer, string(code)))

	grpcCode, ok := grpcCodes[code]
	if !ok {
		grpcCode = codes.Internal
	}

	message := err.Error()
	var de *errors.DomainError
	if stderrors.As(err, &de) {
		message = de.Message
	}
	return status.Error(grpcCode, message)
}

// fromStatus gRPC 에러를 도메인 에러로 복원
func fromStatus(err error, trailer metadata.MD) error {
	if err == nil {
		return nil
	}

	st := status.Convert(err)
	if values := trailer.Get(errorCodeTrailer); len(values) > 0 {
		return errors.New(errors.ErrorCode(values[0]), st.Message())
	}

	switch st.Code() {
	case codes.Unavailable, codes.Canceled:
		return errors.Wrap(errors.ErrCodeNetworkError, "federation member unavailable", err)
	case codes.DeadlineExceeded:
		return errors.Wrap(errors.ErrCodeTimeoutError, "federation call timed out", err)
	default:
		return errors.Wrap(errors.ErrCodeUnknownError, "federation call failed", err)
	}
}

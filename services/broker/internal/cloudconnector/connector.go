// Package cloudconnector 주문을 실제 클라우드 자원으로 연결하는 계층.
//
// 로컬 멤버가 제공하는 주문은 클라우드별 Plugin 을 통해, 원격 멤버가 제공하는
// 주문은 페더레이션 클라이언트를 통해 처리된다.
package cloudconnector

import (
	"context"
	stderrors "errors"

	"github.com/kyungseok/federated-broker-go/services/broker/internal/domain"
)

// ErrDeletionPending 삭제 요청은 수락되었으나 완료를 아직 확인할 수 없음
var ErrDeletionPending = stderrors.New("cloudconnector: deletion pending")

// CloudConnector (provider, cloud) 단위 자원 조작 인터페이스
type CloudConnector interface {
	// RequestInstance 자원 생성 요청. 원격 제공자는 빈 인스턴스 ID 를 반환한다.
	RequestInstance(ctx context.Context, order *domain.Order) (string, error)
	GetInstance(ctx context.Context, order *domain.Order) (*domain.Instance, error)
	DeleteInstance(ctx context.Context, order *domain.Order) error
	GetUserQuota(ctx context.Context, owner domain.User, resourceType domain.ResourceType) (*domain.Quota, error)
}

// Plugin 클라우드별 자원 조작
type Plugin interface {
	RequestInstance(ctx context.Context, order *domain.Order) (string, error)
	GetInstance(ctx context.Context, instanceID string, resourceType domain.ResourceType) (*domain.Instance, error)
	DeleteInstance(ctx context.Context, instanceID string, resourceType domain.ResourceType) error
	GetUserQuota(ctx context.Context, owner domain.User, resourceType domain.ResourceType) (*domain.Quota, error)
}

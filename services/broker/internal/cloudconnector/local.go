package cloudconnector

import (
	"context"
	stderrors "errors"

	"go.uber.org/zap"

	"github.com/kyungseok/federated-broker-go/common/errors"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/domain"
)

// LocalCloudConnector 로컬 클라우드 커넥터
type LocalCloudConnector struct {
	memberID  string
	cloudName string
	plugin    Plugin
	logger    *zap.Logger
}

// NewLocalCloudConnector 로컬 커넥터 생성
func NewLocalCloudConnector(memberID, cloudName string, plugin Plugin, logger *zap.Logger) *LocalCloudConnector {
	return &LocalCloudConnector{
		memberID:  memberID,
		cloudName: cloudName,
		plugin:    plugin,
		logger:    logger.With(zap.String("cloud", cloudName)),
	}
}

func (c *LocalCloudConnector) RequestInstance(ctx context.Context, order *domain.Order) (string, error) {
	instanceID, err := c.plugin.RequestInstance(ctx, order)
	if err != nil {
		return "", asCloudError(err, "failed to request instance")
	}

	c.logger.Info("instance requested",
		zap.String("orderId", order.ID),
		zap.String("instanceId", instanceID),
		zap.String("type", string(order.Type)))
	return instanceID, nil
}

// GetInstance 인스턴스 조회
//
// 인스턴스 ID 가 없으면 주문 상태로부터 추론한 스냅샷을 반환한다.
func (c *LocalCloudConnector) GetInstance(ctx context.Context, order *domain.Order) (*domain.Instance, error) {
	instanceID := order.InstanceID()
	if instanceID == "" {
		return &domain.Instance{
			Provider:  c.memberID,
			CloudName: c.cloudName,
			State:     domain.InstanceStateFor(order.State()),
		}, nil
	}

	instance, err := c.plugin.GetInstance(ctx, instanceID, order.Type)
	if err != nil {
		return nil, asCloudError(err, "failed to get instance")
	}
	instance.ID = instanceID
	instance.Provider = c.memberID
	instance.CloudName = c.cloudName
	return instance, nil
}

// DeleteInstance 인스턴스 삭제. 인스턴스가 없으면 아무 것도 하지 않는다.
func (c *LocalCloudConnector) DeleteInstance(ctx context.Context, order *domain.Order) error {
	instanceID := order.InstanceID()
	if instanceID == "" {
		return nil
	}

	err := c.plugin.DeleteInstance(ctx, instanceID, order.Type)
	switch {
	case err == nil:
		c.logger.Info("instance deleted", zap.String("orderId", order.ID), zap.String("instanceId", instanceID))
		return nil
	case stderrors.Is(err, ErrDeletionPending):
		return err
	case errors.Is(err, errors.ErrCodeInstanceNotFound):
		c.logger.Warn("instance already gone", zap.String("orderId", order.ID), zap.String("instanceId", instanceID))
		return nil
	default:
		return asCloudError(err, "failed to delete instance")
	}
}

func (c *LocalCloudConnector) GetUserQuota(ctx context.Context, owner domain.User, resourceType domain.ResourceType) (*domain.Quota, error) {
	quota, err := c.plugin.GetUserQuota(ctx, owner, resourceType)
	if err != nil {
		return nil, asCloudError(err, "failed to get user quota")
	}
	return quota, nil
}

// asCloudError 도메인 에러는 그대로, 나머지는 CLOUD_ERROR 로 래핑
func asCloudError(err error, message string) error {
	if _, ok := errors.CodeOf(err); ok {
		return err
	}
	return errors.Wrap(errors.ErrCodeCloudError, message, err)
}

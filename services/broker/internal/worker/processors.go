package worker

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/kyungseok/federated-broker-go/common/errors"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/cloudconnector"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/domain"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/repository"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/service"
)

// Processors 상태별 주문 처리 로직
type Processors struct {
	repo         *repository.OrderRepository
	transitioner service.StateTransitioner
	controller   service.OrderController
	connectors   service.ConnectorResolver
	localMember  string
	logger       *zap.Logger
}

// NewProcessors 처리 로직 생성
func NewProcessors(
	repo *repository.OrderRepository,
	transitioner service.StateTransitioner,
	controller service.OrderController,
	connectors service.ConnectorResolver,
	localMember string,
	logger *zap.Logger,
) *Processors {
	return &Processors{
		repo:         repo,
		transitioner: transitioner,
		controller:   controller,
		connectors:   connectors,
		localMember:  localMember,
		logger:       logger,
	}
}

// BucketProcessors 폴링 대상 상태마다 하나씩 워커 생성
func (p *Processors) BucketProcessors(sleep time.Duration) []*BucketProcessor {
	handlers := []struct {
		state   domain.OrderState
		process ProcessFunc
	}{
		{domain.OrderStateOpen, p.ProcessOpen},
		{domain.OrderStateSpawning, p.localOnly(p.ProcessSpawning)},
		{domain.OrderStateFulfilled, p.localOnly(p.ProcessFulfilled)},
		{domain.OrderStateUnableToCheckStatus, p.localOnly(p.ProcessUnableToCheckStatus)},
		{domain.OrderStateAssignedForDeletion, p.localOnly(p.ProcessAssignedForDeletion)},
		{domain.OrderStateCheckingDeletion, p.localOnly(p.ProcessCheckingDeletion)},
		{domain.OrderStateClosed, p.ProcessClosed},
	}

	processors := make([]*BucketProcessor, 0, len(handlers))
	for _, h := range handlers {
		processors = append(processors, NewBucketProcessor(h.state, p.repo, h.process, sleep, p.logger))
	}
	return processors
}

// localOnly 원격 제공자 주문은 페더레이션 이벤트로 갱신되므로 건너뛴다.
func (p *Processors) localOnly(fn ProcessFunc) ProcessFunc {
	return func(ctx context.Context, order *domain.Order) error {
		if !order.IsProviderLocal(p.localMember) {
			return nil
		}
		return fn(ctx, order)
	}
}

// ProcessOpen 자원 요청: 로컬은 SPAWNING, 원격은 PENDING, 실패 시 FAILED_ON_REQUEST
func (p *Processors) ProcessOpen(ctx context.Context, order *domain.Order) error {
	if err := p.transitioner.Transition(ctx, order, domain.OrderStateSelected); err != nil {
		return err
	}

	connector, err := p.connectors.Connector(order.Provider, order.CloudName)
	if err != nil {
		p.logger.Error("no connector for order", zap.String("orderId", order.ID), zap.Error(err))
		return p.transitioner.Transition(ctx, order, domain.OrderStateFailedOnRequest)
	}

	instanceID, err := connector.RequestInstance(ctx, order)
	if err != nil && !order.IsProviderLocal(p.localMember) && errors.Is(err, errors.ErrCodeAlreadyActivated) {
		// 이전 시도에서 원격 활성화가 이미 성공했다.
		err = nil
	}
	if err != nil {
		p.logger.Warn("instance request failed",
			zap.String("orderId", order.ID),
			zap.String("provider", order.Provider),
			zap.Error(err))
		return p.transitioner.Transition(ctx, order, domain.OrderStateFailedOnRequest)
	}

	if !order.IsProviderLocal(p.localMember) {
		return p.transitioner.Transition(ctx, order, domain.OrderStatePending)
	}
	order.SetInstanceID(instanceID)
	return p.transitioner.Transition(ctx, order, domain.OrderStateSpawning)
}

// ProcessSpawning READY 면 FULFILLED, 실패면 FAILED_AFTER_SUCCESSFUL_REQUEST
func (p *Processors) ProcessSpawning(ctx context.Context, order *domain.Order) error {
	instance, err := p.getInstance(ctx, order)
	switch {
	case errors.Is(err, errors.ErrCodeInstanceNotFound):
		return p.transitioner.Transition(ctx, order, domain.OrderStateFailedAfterSuccessfulRequest)
	case err != nil:
		return err
	}

	order.SetCachedInstanceState(instance.State)
	switch {
	case instance.State == domain.InstanceStateReady:
		order.SetActualAllocation(instance.Allocation)
		return p.transitioner.Transition(ctx, order, domain.OrderStateFulfilled)
	case instance.State.IsFailed():
		return p.transitioner.Transition(ctx, order, domain.OrderStateFailedAfterSuccessfulRequest)
	}
	return nil
}

// ProcessFulfilled 실패 감지 시 FAILED_AFTER_SUCCESSFUL_REQUEST, 조회 불가 시 UNABLE_TO_CHECK_STATUS
func (p *Processors) ProcessFulfilled(ctx context.Context, order *domain.Order) error {
	instance, err := p.getInstance(ctx, order)
	switch {
	case errors.Is(err, errors.ErrCodeInstanceNotFound):
		return p.transitioner.Transition(ctx, order, domain.OrderStateFailedAfterSuccessfulRequest)
	case err != nil:
		p.logger.Warn("unable to check instance status", zap.String("orderId", order.ID), zap.Error(err))
		return p.transitioner.Transition(ctx, order, domain.OrderStateUnableToCheckStatus)
	}

	order.SetCachedInstanceState(instance.State)
	if instance.State.IsFailed() {
		return p.transitioner.Transition(ctx, order, domain.OrderStateFailedAfterSuccessfulRequest)
	}
	return nil
}

// ProcessUnableToCheckStatus 상태를 다시 확인할 수 있으면 복구
func (p *Processors) ProcessUnableToCheckStatus(ctx context.Context, order *domain.Order) error {
	instance, err := p.getInstance(ctx, order)
	switch {
	case errors.Is(err, errors.ErrCodeInstanceNotFound):
		return p.transitioner.Transition(ctx, order, domain.OrderStateFailedAfterSuccessfulRequest)
	case err != nil:
		return err
	}

	order.SetCachedInstanceState(instance.State)
	switch {
	case instance.State == domain.InstanceStateReady:
		return p.transitioner.Transition(ctx, order, domain.OrderStateFulfilled)
	case instance.State.IsFailed():
		return p.transitioner.Transition(ctx, order, domain.OrderStateFailedAfterSuccessfulRequest)
	}
	return nil
}

// ProcessAssignedForDeletion 인스턴스 삭제 요청 후 CHECKING_DELETION
func (p *Processors) ProcessAssignedForDeletion(ctx context.Context, order *domain.Order) error {
	connector, err := p.connectors.Connector(order.Provider, order.CloudName)
	if err != nil {
		return err
	}

	err = connector.DeleteInstance(ctx, order)
	switch {
	case err == nil,
		stderrors.Is(err, cloudconnector.ErrDeletionPending),
		errors.Is(err, errors.ErrCodeInstanceNotFound):
		return p.transitioner.Transition(ctx, order, domain.OrderStateCheckingDeletion)
	default:
		return err
	}
}

// ProcessCheckingDeletion 인스턴스가 사라졌으면 CLOSED
func (p *Processors) ProcessCheckingDeletion(ctx context.Context, order *domain.Order) error {
	if order.InstanceID() == "" {
		return p.transitioner.Transition(ctx, order, domain.OrderStateClosed)
	}

	_, err := p.getInstance(ctx, order)
	switch {
	case errors.Is(err, errors.ErrCodeInstanceNotFound):
		p.logger.Info("instance deletion confirmed", zap.String("orderId", order.ID))
		return p.transitioner.Transition(ctx, order, domain.OrderStateClosed)
	case err != nil:
		return err
	}
	return nil
}

// ProcessClosed 닫힌 주문 비활성화
func (p *Processors) ProcessClosed(ctx context.Context, order *domain.Order) error {
	return p.controller.DeactivateOrder(ctx, order)
}

func (p *Processors) getInstance(ctx context.Context, order *domain.Order) (*domain.Instance, error) {
	connector, err := p.connectors.Connector(order.Provider, order.CloudName)
	if err != nil {
		return nil, err
	}
	return connector.GetInstance(ctx, order)
}

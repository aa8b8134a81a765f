package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/kyungseok/federated-broker-go/services/broker/internal/domain"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/metrics"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/repository"
)

// StateTransitioner 주문 상태 전이
type StateTransitioner interface {
	Transition(ctx context.Context, order *domain.Order, target domain.OrderState) error
}

type stateTransitioner struct {
	repo        *repository.OrderRepository
	store       repository.OrderStore
	notifier    StateChangeNotifier
	localMember string
	logger      *zap.Logger
}

// NewStateTransitioner 상태 전이기 생성. notifier 는 nil 일 수 있다.
func NewStateTransitioner(
	repo *repository.OrderRepository,
	store repository.OrderStore,
	notifier StateChangeNotifier,
	localMember string,
	logger *zap.Logger,
) StateTransitioner {
	return &stateTransitioner{
		repo:        repo,
		store:       store,
		notifier:    notifier,
		localMember: localMember,
		logger:      logger,
	}
}

// Transition 버킷 이동 후 영속화
//
// 메모리 이동이 기준이며, 저장 실패는 기록만 하고 되돌리지 않는다.
func (t *stateTransitioner) Transition(ctx context.Context, order *domain.Order, target domain.OrderState) error {
	origin, err := t.repo.Move(order, target)
	if err != nil {
		return err
	}

	metrics.TransitionCounter.WithLabelValues(origin.String(), target.String()).Inc()
	t.logger.Debug("order transitioned",
		zap.String("orderId", order.ID),
		zap.Stringer("from", origin),
		zap.Stringer("to", target))

	if err := t.store.Update(ctx, order); err != nil {
		metrics.PersistFailedCounter.Inc()
		t.logger.Error("failed to persist order transition",
			zap.String("orderId", order.ID),
			zap.Stringer("state", target),
			zap.Error(err))
	}

	if t.notifier != nil && order.IsRequesterRemote(t.localMember) && notifiesRequester(target) {
		if err := t.notifier.NotifyStateChange(ctx, order); err != nil {
			t.logger.Error("failed to notify requester",
				zap.String("orderId", order.ID),
				zap.String("requester", order.Requester),
				zap.Stringer("state", target),
				zap.Error(err))
		}
	}

	return nil
}

func notifiesRequester(s domain.OrderState) bool {
	switch s {
	case domain.OrderStateFulfilled,
		domain.OrderStateFailedOnRequest,
		domain.OrderStateFailedAfterSuccessfulRequest,
		domain.OrderStateClosed:
		return true
	}
	return false
}
